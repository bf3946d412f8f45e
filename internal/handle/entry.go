package handle

import (
	"sync"
	"sync/atomic"

	"github.com/google/go-tpm/tpm2"
)

// Entry is the binding of one virtual handle to its current physical
// handle and saved context blob.
//
// Vhandle is immutable once the entry is created. Phandle and the context
// blob are mutable and guarded by mu so that the dispatch goroutine can
// update them while a concurrent connection-teardown path holds a
// reference obtained from Map.Lookup. refs keeps the entry alive across a
// Map.Remove that races with an in-flight command (§5: "entries are
// ref-counted so that an in-flight command may extend an entry's lifetime
// past a concurrent remove").
type Entry struct {
	vhandle tpm2.TPMHandle

	mu      sync.Mutex
	phandle tpm2.TPMHandle
	context []byte

	refs int32
}

// NewEntry constructs an Entry with an initial reference count of one,
// owned by the caller.
func NewEntry(vhandle, phandle tpm2.TPMHandle, context []byte) *Entry {
	return &Entry{
		vhandle: vhandle,
		phandle: phandle,
		context: context,
		refs:    1,
	}
}

// Vhandle returns the entry's immutable virtual handle.
func (e *Entry) Vhandle() tpm2.TPMHandle {
	return e.vhandle
}

// Phandle returns the physical handle currently backing this entry, or
// zero if the context has been saved and evicted.
func (e *Entry) Phandle() tpm2.TPMHandle {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.phandle
}

// SetPhandle updates the physical handle, e.g. after a context load.
func (e *Entry) SetPhandle(p tpm2.TPMHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.phandle = p
}

// Context returns the most recently saved context blob. It is empty for an
// entry that has never been saved (i.e. still loaded from its creating
// command).
func (e *Entry) Context() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.context
}

// SetContext overwrites the saved context blob, always with the most
// recent one for this vhandle.
func (e *Entry) SetContext(blob []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.context = blob
}

// Retain increments the entry's reference count and returns it, so it can
// survive a concurrent Map.Remove for the duration of an in-flight
// command.
func (e *Entry) Retain() *Entry {
	atomic.AddInt32(&e.refs, 1)

	return e
}

// Release drops a reference obtained from NewEntry, Map.Lookup, or
// Retain.
func (e *Entry) Release() {
	atomic.AddInt32(&e.refs, -1)
}
