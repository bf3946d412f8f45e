// Package virt implements the command/response handle rewriting pipeline:
// translating a client's virtual handles to the TPM's physical ones before
// dispatch, translating freshly created physical handles back to virtual
// ones after dispatch, and evicting everything touched back out of the
// TPM once the response is on its way to the client.
package virt

import (
	"github.com/google/go-tpm/tpm2"

	"github.com/tpm2-software/tpm2rmd/internal/accessbroker"
	"github.com/tpm2-software/tpm2rmd/internal/handle"
	"github.com/tpm2-software/tpm2rmd/internal/wire"
	"github.com/tpm2-software/tpm2rmd/stlog"
)

// Virtualizer rewrites handles between the virtual space presented to
// clients and the physical space the TPM operates in, issuing context
// load/save calls through broker as needed.
type Virtualizer struct {
	broker accessbroker.Broker
}

// New constructs a Virtualizer over broker.
func New(broker accessbroker.Broker) *Virtualizer {
	return &Virtualizer{broker: broker}
}

// TranslateCommand rewrites every transient handle in cmd from virtual to
// physical, loading a context back into the TPM when the entry's phandle
// has been evicted. It returns the set of entries touched, which the
// caller must run back through Saveflush once dispatch completes,
// regardless of whether dispatch succeeded.
func (v *Virtualizer) TranslateCommand(m *handle.Map, cmd *wire.Tpm2Command) (loaded []*handle.Entry, err error) {
	for i := 0; i < cmd.HandleCount(); i++ {
		h := cmd.HandleAt(i)
		if !handle.IsTransient(h) {
			continue
		}

		e, ok := m.Lookup(h)
		if !ok {
			// TODO: a missing mapping is intentionally not a hard
			// error here: a client referencing a bare physical
			// handle directly bypasses virtualization. Preserved
			// verbatim rather than rejected.
			continue
		}

		if e.Phandle() == 0 {
			phandle, loadErr := v.broker.ContextLoad(e.Context())
			if loadErr != nil {
				e.Release()
				return loaded, loadErr
			}

			e.SetPhandle(phandle)
		}

		cmd.SetHandleAt(i, e.Phandle())
		loaded = append(loaded, e)
	}

	return loaded, nil
}

// TranslateResponse rewrites a freshly created physical handle in resp
// into a newly allocated virtual one, inserting the backing entry into m.
// It appends the new entry to loaded so the caller's Saveflush pass picks
// it up alongside anything TranslateCommand loaded.
func (v *Virtualizer) TranslateResponse(m *handle.Map, cmdCode tpm2.TPMCC, resp *wire.Tpm2Response, loaded []*handle.Entry) []*handle.Entry {
	if !resp.HasHandle(cmdCode) {
		return loaded
	}

	phandle := resp.Handle()
	if !handle.IsTransient(phandle) {
		return loaded
	}

	vhandle, err := m.NextVhandle()
	if err != nil {
		// vhandle exhaustion is fatal, matching the behavior this
		// resource manager preserves from its source; a hardened
		// deployment should return a per-connection error instead.
		panic(err)
	}

	entry := handle.NewEntry(vhandle, phandle, nil)
	if err := m.Insert(vhandle, entry); err != nil {
		panic(err)
	}

	resp.SetHandle(vhandle)

	// entry's initial reference (from NewEntry) belongs to the map now;
	// retain a second one for this command's own saveflush pass, which
	// will release it below without tearing down the map's own.
	return append(loaded, entry.Retain())
}

// Saveflush evicts every entry in loaded back out of the TPM, saving its
// context for the next use. Failures are logged and the entry is left
// as-is, keeping its non-zero phandle; a later command referencing it
// skips the context load and sends that stale phandle to the TPM, which
// may no longer hold the object.
func (v *Virtualizer) Saveflush(loaded []*handle.Entry) {
	for _, e := range loaded {
		p := e.Phandle()
		if !handle.IsTransient(p) {
			e.Release()
			continue
		}

		blob, err := v.broker.ContextSaveFlush(p)
		if err != nil {
			stlog.Warn("virtualizer: saveflush failed for vhandle %#x: %v", e.Vhandle(), err)
			e.Release()
			continue
		}

		e.SetContext(blob)
		e.SetPhandle(0)
		e.Release()
	}
}
