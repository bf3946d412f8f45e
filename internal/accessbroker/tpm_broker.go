package accessbroker

import (
	"net"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/tpm2-software/tpm2rmd/sterror"
	"github.com/tpm2-software/tpm2rmd/stlog"
)

// Scope and operations used for raising Errors of this package.
const (
	ErrScope              sterror.Scope = "AccessBroker"
	ErrOpSendCommand      sterror.Op    = "SendCommand"
	ErrOpContextLoad      sterror.Op    = "ContextLoad"
	ErrOpContextSaveFlush sterror.Op    = "ContextSaveFlush"
	ErrOpOpen             sterror.Op    = "Open"
)

// TPMBroker is the concrete Broker backed by a real or simulated TPM 2.0
// device, reached through google/go-tpm's transport abstraction. Every
// method serializes on mu so the broker can be shared safely with a
// subsystem outside the dispatch loop, independent of the dispatch loop's
// own single-goroutine serialization.
type TPMBroker struct {
	mu  sync.Mutex
	tpm transport.TPMCloser
}

// New wraps an already-open TPM transport. Callers typically obtain tpm
// via transport.OpenTPM (a real device) or transport.FromReadWriteCloser
// wrapping a simulator connection.
func New(tpm transport.TPMCloser) *TPMBroker {
	return &TPMBroker{tpm: tpm}
}

// Close releases the underlying device handle.
func (b *TPMBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.tpm.Close()
}

// SendCommand forwards a raw command buffer to the device as-is. The
// resource manager has already rewritten any virtual handles before this
// is called.
func (b *TPMBroker) SendCommand(cmd []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp, err := b.tpm.Send(cmd)
	if err != nil {
		stlog.Error("access broker: send command failed: %v", err)
		return nil, sterror.E(ErrScope, ErrOpSendCommand, err)
	}

	return resp, nil
}

// ContextLoad restores a saved context blob via TPM2_ContextLoad.
func (b *TPMBroker) ContextLoad(blob []byte) (tpm2.TPMHandle, error) {
	ctx, err := tpm2.Unmarshal[tpm2.TPMSContext](blob)
	if err != nil {
		return 0, sterror.E(ErrScope, ErrOpContextLoad, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rsp, err := tpm2.ContextLoad{Context: *ctx}.Execute(b.tpm)
	if err != nil {
		stlog.Error("access broker: context load failed: %v", err)
		return 0, sterror.E(ErrScope, ErrOpContextLoad, err)
	}

	return rsp.LoadedHandle, nil
}

// ContextSaveFlush saves phandle's context then flushes it from the TPM,
// matching the component's "saveflush" contract: the handle is never left
// loaded after this call succeeds.
func (b *TPMBroker) ContextSaveFlush(phandle tpm2.TPMHandle) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	saveRsp, err := tpm2.ContextSave{SaveHandle: phandle}.Execute(b.tpm)
	if err != nil {
		stlog.Error("access broker: context save failed: %v", err)
		return nil, sterror.E(ErrScope, ErrOpContextSaveFlush, err)
	}

	if _, err := (tpm2.FlushContext{FlushHandle: phandle}).Execute(b.tpm); err != nil {
		stlog.Error("access broker: flush after save failed: %v", err)
		return nil, sterror.E(ErrScope, ErrOpContextSaveFlush, err)
	}

	return tpm2.Marshal(saveRsp.Context), nil
}

// Open connects to addr and wraps it in a TPMBroker: a "host:port" address
// is dialed as a TCP connection to a TPM simulator, anything else is
// opened as a device path via transport.OpenTPM, matching the dual
// device/simulator addressing scheme documented on config.Config.TPMDevice.
func Open(addr string) (*TPMBroker, error) {
	if host, port, err := net.SplitHostPort(addr); err == nil {
		conn, dialErr := net.Dial("tcp", net.JoinHostPort(host, port))
		if dialErr != nil {
			return nil, sterror.E(ErrScope, ErrOpOpen, dialErr)
		}

		return New(transport.FromReadWriteCloser(conn)), nil
	}

	tpm, err := transport.OpenTPM(addr)
	if err != nil {
		return nil, sterror.E(ErrScope, ErrOpOpen, err)
	}

	return New(tpm), nil
}
