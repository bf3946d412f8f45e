// Package config loads the resource manager daemon's JSON configuration:
// the TPM device path, the per-connection handle-map capacity, the
// transient vhandle base, and the listen socket. It follows the
// validator-chain shape used elsewhere in this codebase for JSON-sourced
// configuration: a raw map is walked by an ordered list of field parsers,
// each producing a typed field or a *ParseError/*TypeError, and a final
// validator chain checks cross-field invariants.
package config

import "io"

// InvalidError reports a Config that parsed successfully but fails a
// cross-field invariant.
type InvalidError string

func (e InvalidError) Error() string {
	return string(e)
}

// Parser produces a Config from whatever source it wraps.
type Parser interface {
	Parse() (*Config, error)
}

type validator func(*Config) error

// LoadFromJSON reads and validates a Config from r, using the default
// JSON parser.
func LoadFromJSON(r io.Reader) (*Config, error) {
	return Load(&JSONParser{r: r})
}

// Load runs p and then every registered validator over the result,
// returning the first validation failure.
func Load(p Parser) (*Config, error) {
	c, err := p.Parse()
	if err != nil {
		return nil, err
	}

	for _, v := range validators {
		if err := v(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}
