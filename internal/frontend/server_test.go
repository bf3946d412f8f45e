package frontend

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/google/go-tpm/tpm2"
	"github.com/stretchr/testify/require"

	"github.com/tpm2-software/tpm2rmd/internal/handle"
	"github.com/tpm2-software/tpm2rmd/internal/wire"
)

type recordingSink struct {
	items chan interface{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{items: make(chan interface{}, 16)}
}

func (s *recordingSink) Enqueue(item interface{}) {
	s.items <- item
}

func buildFramedCommand(code uint32, handles ...uint32) []byte {
	buf := make([]byte, 10+len(handles)*4)
	binary.BigEndian.PutUint16(buf[0:], 0x8001)
	binary.BigEndian.PutUint32(buf[2:], uint32(len(buf)))
	binary.BigEndian.PutUint32(buf[6:], code)

	for i, h := range handles {
		binary.BigEndian.PutUint32(buf[10+i*4:], h)
	}

	return buf
}

func TestServerFramesAndEnqueuesCommands(t *testing.T) {
	sink := newRecordingSink()
	srv := NewServer(sink, 4, handle.Base)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	defer srv.Close()

	addr := srv.lis.Addr().String()

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write(buildFramedCommand(uint32(tpm2.TPMCCReadPublic), 0x81000001))
	require.NoError(t, err)

	select {
	case item := <-sink.items:
		cmd, ok := item.(*wire.Tpm2Command)
		require.True(t, ok)
		require.Equal(t, 0x81000001, int(cmd.HandleAt(0)))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command to be enqueued")
	}
}

func TestServerEnqueuesDisconnectOnClose(t *testing.T) {
	sink := newRecordingSink()
	srv := NewServer(sink, 4, handle.Base)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	defer srv.Close()

	client, err := net.Dial("tcp", srv.lis.Addr().String())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	select {
	case item := <-sink.items:
		_, ok := item.(*wire.ControlMessage)
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect control message")
	}
}

func TestServerRoutesDeliveryBackToConnection(t *testing.T) {
	sink := newRecordingSink()
	srv := NewServer(sink, 4, handle.Base)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	defer srv.Close()

	client, err := net.Dial("tcp", srv.lis.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write(buildFramedCommand(uint32(tpm2.TPMCCReadPublic), 0x81000001))
	require.NoError(t, err)

	item := <-sink.items
	cmd := item.(*wire.Tpm2Command)

	resp := wire.NewFailureResponse(0)
	srv.Enqueue(&wire.Delivery{Conn: cmd.Conn, Resp: resp})

	readBuf := make([]byte, 10)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = client.Read(readBuf)
	require.NoError(t, err)
	require.Equal(t, resp.Raw(), readBuf)
}
