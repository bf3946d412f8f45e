// Package quota implements the gate that rejects commands known to create
// a new transient object once a connection's handle map is already full,
// without ever reaching the access broker.
package quota

import (
	"github.com/google/go-tpm/tpm2"

	"github.com/tpm2-software/tpm2rmd/internal/handle"
)

// creating lists the command codes that can produce a new transient
// object, and therefore need a free map slot before they may be
// dispatched.
var creating = map[tpm2.TPMCC]bool{
	tpm2.TPMCCCreatePrimary: true,
	tpm2.TPMCCLoad:          true,
	tpm2.TPMCCLoadExternal:  true,
}

// RequiresSlot reports whether code is one of the commands that would
// consume a new map slot if dispatched.
func RequiresSlot(code tpm2.TPMCC) bool {
	return creating[code]
}

// Check reports whether code may be dispatched against m: false means the
// caller must synthesize a quota-rejection response instead of forwarding
// the command to the access broker.
func Check(m *handle.Map, code tpm2.TPMCC) bool {
	if !RequiresSlot(code) {
		return true
	}

	return !m.IsFull()
}
