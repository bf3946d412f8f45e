package config

import (
	"github.com/google/go-tpm/tpm2"

	"github.com/tpm2-software/tpm2rmd/internal/handle"
)

// DefaultCapacity is the per-connection handle-map capacity used when a
// config omits handle_map_capacity, matching the "typically 27" figure
// transient slots are sized to on real TPMs.
const DefaultCapacity = 27

var (
	ErrMissingTPMDevice  = InvalidError("tpm_device must not be empty")
	ErrMissingListenAddr = InvalidError("listen_address must not be empty")
	ErrNonPositiveCap    = InvalidError("handle_map_capacity must be greater than zero")
	ErrBaseNotTransient  = InvalidError("vhandle_base must fall in the transient handle range")
)

// Config describes everything the resource manager daemon needs to start:
// which device to broker access to, how many transient slots to give each
// connection, where vhandle allocation starts, and where to listen for
// clients.
type Config struct {
	// TPMDevice is either a device path (e.g. /dev/tpmrm0) or a
	// "host:port" simulator address; internal/accessbroker decides
	// which by trying to parse it as the latter first.
	TPMDevice string

	// ListenAddress is the unix domain socket path (or, if it contains
	// no "/", a TCP host:port) the frontend listens on.
	ListenAddress string

	// HandleMapCapacity is the per-connection transient-slot quota N
	// from §3 ("HandleMap"), enforced by the quota gate.
	HandleMapCapacity int

	// VhandleBase is the first vhandle the allocator hands out for
	// each new connection's HandleMap.
	VhandleBase tpm2.TPMHandle

	// InboundQueueCapacity sizes the dispatch worker's buffered
	// inbound channel; 0 means an unbuffered queue.
	InboundQueueCapacity int
}

var validators = []validator{
	checkTPMDevice,
	checkListenAddress,
	checkCapacity,
	checkVhandleBase,
}

func checkTPMDevice(c *Config) error {
	if c.TPMDevice == "" {
		return ErrMissingTPMDevice
	}

	return nil
}

func checkListenAddress(c *Config) error {
	if c.ListenAddress == "" {
		return ErrMissingListenAddr
	}

	return nil
}

func checkCapacity(c *Config) error {
	if c.HandleMapCapacity <= 0 {
		return ErrNonPositiveCap
	}

	return nil
}

func checkVhandleBase(c *Config) error {
	if !handle.IsTransient(c.VhandleBase) {
		return ErrBaseNotTransient
	}

	return nil
}
