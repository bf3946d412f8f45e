package wire

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ id string }

func (f fakeConn) ID() string { return f.id }

func commandBuf(code tpm2.TPMCC, handles ...tpm2.TPMHandle) []byte {
	buf := make([]byte, headerSize+len(handles)*handleSize)
	buf[1] = 0x01 // tag low byte, arbitrary non-zero
	binary.BigEndian.PutUint32(buf[codeOffset:], uint32(code))

	for i, h := range handles {
		binary.BigEndian.PutUint32(buf[headerSize+i*handleSize:], uint32(h))
	}

	return buf
}

func TestTpm2CommandHandleAccess(t *testing.T) {
	buf := commandBuf(tpm2.TPMCCLoad, 0x80000000)
	cmd, err := NewTpm2Command(fakeConn{"c1"}, buf)
	require.NoError(t, err)

	require.Equal(t, tpm2.TPMCCLoad, cmd.Code())
	require.Equal(t, 1, cmd.HandleCount())
	require.Equal(t, tpm2.TPMHandle(0x80000000), cmd.HandleAt(0))

	cmd.SetHandleAt(0, 0x80000042)
	require.Equal(t, tpm2.TPMHandle(0x80000042), cmd.HandleAt(0))
}

func TestTpm2CommandShortBuffer(t *testing.T) {
	_, err := NewTpm2Command(fakeConn{"c1"}, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestTpm2CommandFlushTarget(t *testing.T) {
	buf := commandBuf(tpm2.TPMCCFlushContext, 0x80000007)
	cmd, err := NewTpm2Command(fakeConn{"c1"}, buf)
	require.NoError(t, err)
	require.Equal(t, tpm2.TPMHandle(0x80000007), cmd.FlushTarget())
}

func TestNewFailureResponse(t *testing.T) {
	resp := NewFailureResponse(RCObjectMemory)
	require.Equal(t, RCObjectMemory, resp.RC())
}

func TestHandleParamError(t *testing.T) {
	rc := HandleParamError(1)
	require.Equal(t, tpm2.TPMRC(0x1cb), rc)
}

func TestResponseHandleRewrite(t *testing.T) {
	raw := make([]byte, headerSize+handleSize)
	resp, err := NewTpm2Response(raw)
	require.NoError(t, err)

	require.True(t, resp.HasHandle(tpm2.TPMCCCreatePrimary))
	require.True(t, resp.HasHandle(tpm2.TPMCCLoadExternal))
	require.False(t, resp.HasHandle(tpm2.TPMCCReadPublic))

	resp.SetHandle(0x80000005)
	require.Equal(t, tpm2.TPMHandle(0x80000005), resp.Handle())
}

func TestResponseHasHandleFalseOnFailure(t *testing.T) {
	raw := make([]byte, headerSize)
	binary.BigEndian.PutUint32(raw[codeOffset:], uint32(RCObjectMemory))
	resp, err := NewTpm2Response(raw)
	require.NoError(t, err)

	require.False(t, resp.HasHandle(tpm2.TPMCCCreatePrimary), "a failing response carries no handle field regardless of command code")
	require.False(t, resp.HasHandle(tpm2.TPMCCLoad))
	require.False(t, resp.HasHandle(tpm2.TPMCCLoadExternal))
}
