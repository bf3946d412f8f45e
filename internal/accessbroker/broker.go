// Package accessbroker defines the thin, thread-safe façade the dispatch
// loop uses to actually talk to a TPM: send a raw command, load a saved
// context back in, and save-and-evict a loaded one.
package accessbroker

import "github.com/google/go-tpm/tpm2"

// Broker is the access-broker contract named in the system overview: a
// thin façade over the device that the virtualizer and dispatch loop are
// the only callers of. Implementations must be safe for concurrent use,
// since the broker may be shared with subsystems outside the resource
// manager's own dispatch loop.
type Broker interface {
	// SendCommand forwards a raw TPM2 command buffer to the device and
	// returns the raw response buffer. A transport-level failure (not a
	// TPM-reported error response) is returned as err; err is nil for
	// any response the TPM itself produced, including failure RCs.
	SendCommand(cmd []byte) (resp []byte, err error)

	// ContextLoad restores a previously saved context blob into the
	// TPM, returning the physical handle the TPM assigned it.
	ContextLoad(blob []byte) (phandle tpm2.TPMHandle, err error)

	// ContextSaveFlush saves phandle's context and evicts it from the
	// TPM in one step, returning the opaque blob to keep for a future
	// ContextLoad.
	ContextSaveFlush(phandle tpm2.TPMHandle) (blob []byte, err error)
}
