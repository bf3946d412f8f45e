package accessbroker

import (
	"fmt"
	"sync"

	"github.com/google/go-tpm/tpm2"
)

// FakeBroker is an in-memory Broker double used by the virtualizer and
// dispatch loop tests, standing in for a real TPM device.
type FakeBroker struct {
	mu sync.Mutex

	NextPhandle tpm2.TPMHandle
	loaded      map[tpm2.TPMHandle]bool

	SendCommandFunc func(cmd []byte) ([]byte, error)

	LoadCalls        int
	SaveFlushCalls   int
	sendCommandCalls int
}

// SendCommandFuncCalls returns how many times SendCommand has been
// invoked, regardless of whether SendCommandFunc was configured.
func (f *FakeBroker) SendCommandFuncCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sendCommandCalls
}

// NewFakeBroker constructs a FakeBroker that hands out physical handles
// starting at firstPhandle.
func NewFakeBroker(firstPhandle tpm2.TPMHandle) *FakeBroker {
	return &FakeBroker{
		NextPhandle: firstPhandle,
		loaded:      make(map[tpm2.TPMHandle]bool),
	}
}

func (f *FakeBroker) SendCommand(cmd []byte) ([]byte, error) {
	f.mu.Lock()
	f.sendCommandCalls++
	f.mu.Unlock()

	if f.SendCommandFunc != nil {
		return f.SendCommandFunc(cmd)
	}

	return nil, fmt.Errorf("fake broker: SendCommand not configured")
}

func (f *FakeBroker) ContextLoad(blob []byte) (tpm2.TPMHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.LoadCalls++
	p := f.NextPhandle
	f.NextPhandle++
	f.loaded[p] = true

	return p, nil
}

func (f *FakeBroker) ContextSaveFlush(phandle tpm2.TPMHandle) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SaveFlushCalls++
	delete(f.loaded, phandle)

	return []byte(fmt.Sprintf("ctx:%x", uint32(phandle))), nil
}
