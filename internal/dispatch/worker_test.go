package dispatch

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/stretchr/testify/require"

	"github.com/tpm2-software/tpm2rmd/internal/accessbroker"
	"github.com/tpm2-software/tpm2rmd/internal/handle"
	"github.com/tpm2-software/tpm2rmd/internal/wire"
)

type fakeConn struct {
	id string
	m  *handle.Map
}

func (f *fakeConn) ID() string       { return f.id }
func (f *fakeConn) Map() *handle.Map { return f.m }

type fakeSink struct {
	deliveries []*wire.Delivery
}

func (s *fakeSink) Enqueue(item interface{}) {
	if d, ok := item.(*wire.Delivery); ok {
		s.deliveries = append(s.deliveries, d)
	}
}

func buildCommand(t *testing.T, code tpm2.TPMCC, handles ...tpm2.TPMHandle) []byte {
	t.Helper()
	buf := make([]byte, 10+len(handles)*4)
	binary.BigEndian.PutUint32(buf[6:], uint32(code))
	for i, h := range handles {
		binary.BigEndian.PutUint32(buf[10+i*4:], uint32(h))
	}
	return buf
}

func buildResponse(t *testing.T, rc tpm2.TPMRC, handle tpm2.TPMHandle, withHandle bool) []byte {
	t.Helper()
	size := 10
	if withHandle {
		size += 4
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[6:], uint32(rc))
	if withHandle {
		binary.BigEndian.PutUint32(buf[10:], uint32(handle))
	}
	return buf
}

func TestScenarioVirtualizeOnCreate(t *testing.T) {
	broker := accessbroker.NewFakeBroker(0x80000000)
	broker.SendCommandFunc = func(cmd []byte) ([]byte, error) {
		return buildResponse(t, 0, 0x80000000, true), nil
	}

	w := NewWorker(broker, 4)
	sink := &fakeSink{}
	w.AddSink(sink)

	conn := &fakeConn{id: "c1", m: handle.NewMap(4, handle.Base)}
	raw := buildCommand(t, tpm2.TPMCCCreatePrimary, 0x40000001)
	cmd, err := wire.NewTpm2Command(conn, raw)
	require.NoError(t, err)

	w.handleCommand(cmd)

	require.Len(t, sink.deliveries, 1)
	require.Equal(t, handle.Base, sink.deliveries[0].Resp.Handle())
	require.Equal(t, 1, broker.SaveFlushCalls)
	require.Equal(t, 1, conn.m.Count())
}

func TestScenarioReloadOnUse(t *testing.T) {
	broker := accessbroker.NewFakeBroker(0x80000000)
	broker.SendCommandFunc = func(cmd []byte) ([]byte, error) {
		return buildResponse(t, 0, 0, false), nil
	}

	w := NewWorker(broker, 4)
	sink := &fakeSink{}
	w.AddSink(sink)

	conn := &fakeConn{id: "c1", m: handle.NewMap(4, handle.Base)}
	require.NoError(t, conn.m.Insert(handle.Base, handle.NewEntry(handle.Base, 0, []byte("saved"))))

	raw := buildCommand(t, tpm2.TPMCCReadPublic, handle.Base)
	cmd, err := wire.NewTpm2Command(conn, raw)
	require.NoError(t, err)

	w.handleCommand(cmd)

	require.Len(t, sink.deliveries, 1)
	require.Equal(t, 1, broker.LoadCalls)
	require.Equal(t, 1, broker.SaveFlushCalls)
}

func TestScenarioCreatePrimaryFailureNoHandle(t *testing.T) {
	broker := accessbroker.NewFakeBroker(0x80000000)
	broker.SendCommandFunc = func(cmd []byte) ([]byte, error) {
		return buildResponse(t, wire.RCObjectMemory, 0, false), nil
	}

	w := NewWorker(broker, 4)
	sink := &fakeSink{}
	w.AddSink(sink)

	conn := &fakeConn{id: "c1", m: handle.NewMap(4, handle.Base)}
	raw := buildCommand(t, tpm2.TPMCCCreatePrimary, 0x40000001)
	cmd, err := wire.NewTpm2Command(conn, raw)
	require.NoError(t, err)

	w.handleCommand(cmd)

	require.Len(t, sink.deliveries, 1)
	require.Equal(t, wire.RCObjectMemory, sink.deliveries[0].Resp.RC())
	require.Equal(t, 0, conn.m.Count(), "a failing CreatePrimary must not allocate a vhandle")
	require.Equal(t, 0, broker.SaveFlushCalls)
}

func TestScenarioVirtualizeLoadExternal(t *testing.T) {
	broker := accessbroker.NewFakeBroker(0x80000000)
	broker.SendCommandFunc = func(cmd []byte) ([]byte, error) {
		return buildResponse(t, 0, 0x80000000, true), nil
	}

	w := NewWorker(broker, 4)
	sink := &fakeSink{}
	w.AddSink(sink)

	conn := &fakeConn{id: "c1", m: handle.NewMap(4, handle.Base)}
	raw := buildCommand(t, tpm2.TPMCCLoadExternal)
	cmd, err := wire.NewTpm2Command(conn, raw)
	require.NoError(t, err)

	w.handleCommand(cmd)

	require.Len(t, sink.deliveries, 1)
	require.Equal(t, handle.Base, sink.deliveries[0].Resp.Handle())
	require.Equal(t, 1, broker.SaveFlushCalls)
	require.Equal(t, 1, conn.m.Count())
}

func TestScenarioQuotaReject(t *testing.T) {
	broker := accessbroker.NewFakeBroker(0x80000000)
	w := NewWorker(broker, 4)
	sink := &fakeSink{}
	w.AddSink(sink)

	conn := &fakeConn{id: "c1", m: handle.NewMap(2, handle.Base)}
	require.NoError(t, conn.m.Insert(handle.Base, handle.NewEntry(handle.Base, 0x80000001, nil)))
	require.NoError(t, conn.m.Insert(handle.Base+1, handle.NewEntry(handle.Base+1, 0x80000002, nil)))

	raw := buildCommand(t, tpm2.TPMCCLoad)
	cmd, err := wire.NewTpm2Command(conn, raw)
	require.NoError(t, err)

	w.handleCommand(cmd)

	require.Len(t, sink.deliveries, 1)
	require.Equal(t, wire.RCObjectMemory, sink.deliveries[0].Resp.RC())
	require.Equal(t, 0, broker.LoadCalls)
	require.Equal(t, 2, conn.m.Count())
}

func TestScenarioFlushUnknownVhandle(t *testing.T) {
	broker := accessbroker.NewFakeBroker(0x80000000)
	w := NewWorker(broker, 4)
	sink := &fakeSink{}
	w.AddSink(sink)

	conn := &fakeConn{id: "c1", m: handle.NewMap(4, handle.Base)}

	raw := make([]byte, 14)
	binary.BigEndian.PutUint32(raw[6:], uint32(tpm2.TPMCCFlushContext))
	binary.BigEndian.PutUint32(raw[10:], uint32(0x80000042))
	cmd, err := wire.NewTpm2Command(conn, raw)
	require.NoError(t, err)

	w.handleCommand(cmd)

	require.Len(t, sink.deliveries, 1)
	require.Equal(t, wire.ResmgrErrorLevel|wire.HandleParamError(1), sink.deliveries[0].Resp.RC())
	require.Equal(t, 0, broker.SendCommandFuncCalls())
}

func TestScenarioFlushKnownVhandle(t *testing.T) {
	broker := accessbroker.NewFakeBroker(0x80000000)
	w := NewWorker(broker, 4)
	sink := &fakeSink{}
	w.AddSink(sink)

	conn := &fakeConn{id: "c1", m: handle.NewMap(4, handle.Base)}
	require.NoError(t, conn.m.Insert(handle.Base, handle.NewEntry(handle.Base, 0, []byte("ctx"))))

	raw := make([]byte, 14)
	binary.BigEndian.PutUint32(raw[6:], uint32(tpm2.TPMCCFlushContext))
	binary.BigEndian.PutUint32(raw[10:], uint32(handle.Base))
	cmd, err := wire.NewTpm2Command(conn, raw)
	require.NoError(t, err)

	w.handleCommand(cmd)

	require.Len(t, sink.deliveries, 1)
	require.Equal(t, tpm2.TPMRC(0), sink.deliveries[0].Resp.RC())
	require.Equal(t, 0, conn.m.Count())
}

func TestScenarioOrderlyShutdown(t *testing.T) {
	broker := accessbroker.NewFakeBroker(0x80000000)
	broker.SendCommandFunc = func(cmd []byte) ([]byte, error) {
		return buildResponse(t, 0, 0, false), nil
	}

	w := NewWorker(broker, 4)
	sink := &fakeSink{}
	w.AddSink(sink)

	conn := &fakeConn{id: "c1", m: handle.NewMap(4, handle.Base)}
	raw := buildCommand(t, tpm2.TPMCCReadPublic, 0x81000001)
	cmd, err := wire.NewTpm2Command(conn, raw)
	require.NoError(t, err)

	w.Enqueue(cmd)
	w.Enqueue(wire.NewCheckCancel())

	w.Run()

	require.Len(t, sink.deliveries, 1, "the queued command must be processed before shutdown")
}
