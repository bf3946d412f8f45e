// Package dispatch implements the single-consumer worker loop that is the
// sole writer of TPM state on behalf of the resource manager: it dequeues
// commands and control messages, drives the virtualizer and quota gate,
// and enqueues exactly one response per command to the outbound sink.
package dispatch

import (
	"github.com/google/go-tpm/tpm2"

	"github.com/tpm2-software/tpm2rmd/internal/accessbroker"
	"github.com/tpm2-software/tpm2rmd/internal/handle"
	"github.com/tpm2-software/tpm2rmd/internal/quota"
	"github.com/tpm2-software/tpm2rmd/internal/virt"
	"github.com/tpm2-software/tpm2rmd/internal/wire"
	"github.com/tpm2-software/tpm2rmd/sterror"
	"github.com/tpm2-software/tpm2rmd/stlog"
)

// Scope and operations used for raising Errors of this package.
const (
	ErrScope           sterror.Scope = "Dispatch"
	ErrOpHandleCommand sterror.Op    = "handleCommand"
)

// Sink is the downstream the worker enqueues responses to.
type Sink interface {
	Enqueue(item interface{})
}

// Source is implemented by anything that feeds the worker's inbound
// queue; AddSink lets it learn where to send responses.
type Source interface {
	AddSink(sink Sink)
}

// Conn is the subset of a frontend connection the dispatch loop needs: an
// identity for logging and the per-connection handle map every command
// from it is virtualized against.
type Conn interface {
	wire.Connection
	Map() *handle.Map
}

// Worker is the single goroutine that owns all TPM interaction. It reads
// from inbound (many producers, one consumer) and writes responses to
// sink.
type Worker struct {
	broker  accessbroker.Broker
	virt    *virt.Virtualizer
	inbound chan interface{}
	sink    Sink
}

// NewWorker constructs a Worker with an inbound queue of the given
// buffered capacity, driving broker for all TPM access.
func NewWorker(broker accessbroker.Broker, queueCapacity int) *Worker {
	return &Worker{
		broker:  broker,
		virt:    virt.New(broker),
		inbound: make(chan interface{}, queueCapacity),
	}
}

// AddSink implements Source for the frontend package's benefit.
func (w *Worker) AddSink(sink Sink) {
	w.sink = sink
}

// Enqueue implements the Sink contract the frontend's per-connection
// readers and the connection-teardown path enqueue onto.
func (w *Worker) Enqueue(item interface{}) {
	w.inbound <- item
}

// Run drains the inbound queue until a null sentinel or a CHECK_CANCEL
// control message is observed, then returns. It must run on its own
// goroutine; it is the sole writer of TPM state for the lifetime of the
// resource manager.
func (w *Worker) Run() {
	for item := range w.inbound {
		if item == nil {
			return
		}

		switch v := item.(type) {
		case *wire.Tpm2Command:
			w.handleCommand(v)
		case *wire.ControlMessage:
			if w.handleControl(v) {
				return
			}
		default:
			panic(sterror.E(ErrScope, ErrOpHandleCommand, "unrecognized inbound message type"))
		}
	}
}

func (w *Worker) handleControl(msg *wire.ControlMessage) (shutdown bool) {
	switch msg.Code {
	case wire.CheckCancel:
		stlog.Info("dispatch: received shutdown request, draining")
		return true
	case wire.Disconnect:
		w.flushConnection(msg.Conn)
		return false
	default:
		stlog.Warn("dispatch: unrecognized control code %d", msg.Code)
		return false
	}
}

// flushConnection evicts every entry still held by conn's handle map, on
// connection teardown.
func (w *Worker) flushConnection(conn wire.Connection) {
	c, ok := conn.(Conn)
	if !ok {
		return
	}

	entries := c.Map().Clear()
	w.virt.Saveflush(retainForSaveflush(entries))
}

// retainForSaveflush mirrors the reference-counting convention used
// elsewhere: Saveflush always releases one reference per entry it
// processes, so entries handed to it here need one retained first,
// matching the ref Map.Clear already released on the map's behalf.
func retainForSaveflush(entries []*handle.Entry) []*handle.Entry {
	out := make([]*handle.Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Retain()
	}

	return out
}

func (w *Worker) handleCommand(cmd *wire.Tpm2Command) {
	conn, ok := cmd.Conn.(Conn)
	if !ok {
		panic(sterror.E(ErrScope, ErrOpHandleCommand, "command arrived with no connection handle map"))
	}

	m := conn.Map()
	code := cmd.Code()

	if code == tpm2.TPMCCFlushContext {
		w.deliver(cmd.Conn, w.handleFlushContext(m, cmd))
		return
	}

	if !quota.Check(m, code) {
		stlog.Warn("dispatch: quota rejected a %v from %s", code, conn.ID())
		w.deliver(cmd.Conn, wire.NewFailureResponse(wire.RCObjectMemory))
		return
	}

	loaded, err := w.virt.TranslateCommand(m, cmd)
	if err != nil {
		stlog.Error("dispatch: command translation failed for %s: %v", conn.ID(), err)
		w.deliver(cmd.Conn, wire.NewFailureResponse(accessbroker.RCFromError(err)))
		w.virt.Saveflush(loaded)
		return
	}

	raw, err := w.broker.SendCommand(cmd.Raw())
	if err != nil {
		stlog.Error("dispatch: send command failed for %s: %v", conn.ID(), err)
		w.deliver(cmd.Conn, wire.NewFailureResponse(accessbroker.RCFromError(err)))
		w.virt.Saveflush(loaded)
		return
	}

	resp, err := wire.NewTpm2Response(raw)
	if err != nil {
		stlog.Error("dispatch: malformed response from access broker: %v", err)
		w.deliver(cmd.Conn, wire.NewFailureResponse(accessbroker.RCFromError(err)))
		w.virt.Saveflush(loaded)
		return
	}

	loaded = w.virt.TranslateResponse(m, code, resp, loaded)
	w.deliver(cmd.Conn, resp)
	w.virt.Saveflush(loaded)
}

// deliver wraps resp with the connection it answers and hands it to the
// outbound sink, so a sink serving many connections can route it to the
// right client socket.
func (w *Worker) deliver(conn wire.Connection, resp *wire.Tpm2Response) {
	w.sink.Enqueue(&wire.Delivery{Conn: conn, Resp: resp})
}

// handleFlushContext implements §4.6: the flush target lives in the
// command's parameter area, and a transient target is resolved entirely
// against the connection's handle map without ever reaching the TPM.
func (w *Worker) handleFlushContext(m *handle.Map, cmd *wire.Tpm2Command) *wire.Tpm2Response {
	target := cmd.FlushTarget()

	if !handle.IsTransient(target) {
		raw, err := w.broker.SendCommand(cmd.Raw())
		if err != nil {
			stlog.Error("dispatch: flush of non-transient handle failed: %v", err)
			return wire.NewFailureResponse(accessbroker.RCFromError(err))
		}

		resp, err := wire.NewTpm2Response(raw)
		if err != nil {
			return wire.NewFailureResponse(accessbroker.RCFromError(err))
		}

		return resp
	}

	if !m.Remove(target) {
		stlog.Debug("dispatch: flush of unknown vhandle %#x", target)
		return wire.NewFailureResponse(wire.ResmgrErrorLevel | wire.HandleParamError(1))
	}

	return wire.NewFailureResponse(tpm2.TPMRC(0))
}
