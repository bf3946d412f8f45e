package config

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/go-tpm/tpm2"

	"github.com/tpm2-software/tpm2rmd/internal/handle"
	"github.com/tpm2-software/tpm2rmd/internal/jsonutil"
)

const (
	tpmDeviceJSONKey     = "tpm_device"
	listenAddressJSONKey = "listen_address"
	capacityJSONKey      = "handle_map_capacity"
	vhandleBaseJSONKey   = "vhandle_base"
	queueCapJSONKey      = "inbound_queue_capacity"
)

// TypeError reports that a present JSON key held a value of the wrong
// type.
type TypeError struct {
	Key   string
	Value interface{}
}

func (t *TypeError) Error() string {
	return fmt.Sprintf("value of JSON key %s has wrong type %T", t.Key, t.Value)
}

// ParseError reports that a present JSON key's value could not be
// interpreted.
type ParseError struct {
	Key string
	Err error
}

func (p *ParseError) Error() string {
	return fmt.Sprintf("parsing value of JSON key %s failed: %v", p.Key, p.Err)
}

// requiredTags names the struct, via its json tags, whose keys must be
// present for a config to be parseable at all; jsonutil.Tags walks it the
// same way the teacher's config packages check for missing keys before
// attempting to interpret any of them.
type requiredTags struct {
	TPMDevice     string `json:"tpm_device"`
	ListenAddress string `json:"listen_address"`
}

type rawConfig map[string]interface{}

type fieldParser func(rawConfig, *Config) error

var fieldParsers = []fieldParser{
	parseTPMDevice,
	parseListenAddress,
	parseCapacity,
	parseVhandleBase,
	parseQueueCapacity,
}

// JSONParser parses a Config out of a JSON document read from r.
type JSONParser struct {
	r io.Reader
}

// NewJSONParser wraps r as a Parser.
func NewJSONParser(r io.Reader) *JSONParser {
	return &JSONParser{r: r}
}

// Parse implements Parser.
func (p *JSONParser) Parse() (*Config, error) {
	blob, err := io.ReadAll(p.r)
	if err != nil {
		return nil, err
	}

	var raw rawConfig
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, err
	}

	for _, tag := range jsonutil.Tags(&requiredTags{}) {
		if _, ok := raw[tag]; !ok {
			return nil, fmt.Errorf("missing required json key %q", tag)
		}
	}

	cfg := &Config{
		HandleMapCapacity: DefaultCapacity,
		VhandleBase:       handle.Base,
	}

	for _, parse := range fieldParsers {
		if err := parse(raw, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func parseTPMDevice(r rawConfig, c *Config) error {
	val, ok := r[tpmDeviceJSONKey].(string)
	if !ok {
		return &TypeError{tpmDeviceJSONKey, r[tpmDeviceJSONKey]}
	}

	c.TPMDevice = val

	return nil
}

func parseListenAddress(r rawConfig, c *Config) error {
	val, ok := r[listenAddressJSONKey].(string)
	if !ok {
		return &TypeError{listenAddressJSONKey, r[listenAddressJSONKey]}
	}

	c.ListenAddress = val

	return nil
}

func parseCapacity(r rawConfig, c *Config) error {
	val, found := r[capacityJSONKey]
	if !found {
		return nil
	}

	n, ok := val.(float64)
	if !ok {
		return &TypeError{capacityJSONKey, val}
	}

	c.HandleMapCapacity = int(n)

	return nil
}

func parseVhandleBase(r rawConfig, c *Config) error {
	val, found := r[vhandleBaseJSONKey]
	if !found {
		return nil
	}

	n, ok := val.(float64)
	if !ok {
		return &TypeError{vhandleBaseJSONKey, val}
	}

	c.VhandleBase = tpm2.TPMHandle(uint32(n))

	return nil
}

func parseQueueCapacity(r rawConfig, c *Config) error {
	val, found := r[queueCapJSONKey]
	if !found {
		return nil
	}

	n, ok := val.(float64)
	if !ok {
		return &TypeError{queueCapJSONKey, val}
	}

	if n < 0 {
		return &ParseError{queueCapJSONKey, fmt.Errorf("must not be negative")}
	}

	c.InboundQueueCapacity = int(n)

	return nil
}
