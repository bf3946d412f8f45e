// Package wire implements the minimal TPM2 command/response framing this
// resource manager needs: reading the fixed header, walking the handle
// area for the command codes that matter to virtualization, and
// synthesizing failure responses locally.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/google/go-tpm/tpm2"
)

// Header sizes per the TPM2 command/response stream layout: tag (2 bytes),
// size (4 bytes), code (4 bytes).
const (
	headerSize  = 10
	handleSize  = 4
	tagOffset   = 0
	sizeOffset  = 2
	codeOffset  = 6
	handlesBase = headerSize
)

// ErrShortBuffer is returned when a buffer is too small to contain a valid
// TPM2 header.
var ErrShortBuffer = errors.New("buffer shorter than a TPM2 header")

// handleCounts lists, for the command codes this resource manager cares
// about, how many handles appear in the fixed handle area immediately
// following the header. Everything else defaults to zero: this resource
// manager only needs to rewrite handles for the codes that can produce or
// consume transient objects, and passes every other command through
// untouched.
var handleCounts = map[tpm2.TPMCC]int{
	tpm2.TPMCCCreatePrimary: 1,
	tpm2.TPMCCLoad:          1,
	tpm2.TPMCCLoadExternal:  0,
	tpm2.TPMCCReadPublic:    1,
	tpm2.TPMCCFlushContext:  0, // flush target lives in the parameter area, not here
}

// Connection identifies the client a command arrived on or a response is
// destined for. It is kept abstract here so this package has no
// dependency on the socket-facing frontend package.
type Connection interface {
	// ID returns an opaque, log-friendly identifier for the connection.
	ID() string
}

// Tpm2Command is a parsed view over a raw TPM2 command buffer.
type Tpm2Command struct {
	Conn Connection
	raw  []byte
}

// NewTpm2Command wraps a raw command buffer for the given connection. The
// buffer is not copied; callers must not mutate it concurrently.
func NewTpm2Command(conn Connection, raw []byte) (*Tpm2Command, error) {
	if len(raw) < headerSize {
		return nil, ErrShortBuffer
	}

	return &Tpm2Command{Conn: conn, raw: raw}, nil
}

// Code returns the command code from the header.
func (c *Tpm2Command) Code() tpm2.TPMCC {
	return tpm2.TPMCC(binary.BigEndian.Uint32(c.raw[codeOffset:]))
}

// Tag returns the command tag (TPM_ST_NO_SESSIONS or TPM_ST_SESSIONS).
func (c *Tpm2Command) Tag() tpm2.TPMI_ST_COMMAND_TAG {
	return tpm2.TPMI_ST_COMMAND_TAG(binary.BigEndian.Uint16(c.raw[tagOffset:]))
}

// HandleCount returns the number of handles in the fixed handle area for
// this command's code, 0 if the code is not one this resource manager
// tracks.
func (c *Tpm2Command) HandleCount() int {
	return handleCounts[c.Code()]
}

// HandleAt returns the i'th handle in the fixed handle area. The caller
// must ensure i < HandleCount().
func (c *Tpm2Command) HandleAt(i int) tpm2.TPMHandle {
	off := handlesBase + i*handleSize
	return tpm2.TPMHandle(binary.BigEndian.Uint32(c.raw[off:]))
}

// SetHandleAt rewrites the i'th handle in the fixed handle area in place.
func (c *Tpm2Command) SetHandleAt(i int, h tpm2.TPMHandle) {
	off := handlesBase + i*handleSize
	binary.BigEndian.PutUint32(c.raw[off:], uint32(h))
}

// FlushTarget reads the handle TPM2_FlushContext carries in its parameter
// area, immediately after the header. It is the caller's responsibility to
// check Code() == tpm2.TPMCCFlushContext first.
func (c *Tpm2Command) FlushTarget() tpm2.TPMHandle {
	return tpm2.TPMHandle(binary.BigEndian.Uint32(c.raw[headerSize:]))
}

// Raw returns the underlying command buffer, as sent to the access broker.
func (c *Tpm2Command) Raw() []byte {
	return c.raw
}

// Tpm2Response is a parsed view over a raw TPM2 response buffer.
type Tpm2Response struct {
	raw []byte
}

// NewTpm2Response wraps a raw response buffer.
func NewTpm2Response(raw []byte) (*Tpm2Response, error) {
	if len(raw) < headerSize {
		return nil, ErrShortBuffer
	}

	return &Tpm2Response{raw: raw}, nil
}

// RC returns the response code from the header.
func (r *Tpm2Response) RC() tpm2.TPMRC {
	return tpm2.TPMRC(binary.BigEndian.Uint32(r.raw[codeOffset:]))
}

// HasHandle reports whether this response carries a handle field, which is
// only true for the small set of commands that return a freshly created
// object (TPM2_CreatePrimary, TPM2_Load, and TPM2_LoadExternal among the
// codes this resource manager tracks). A response with a failing RC carries
// no parameter area at all, only the 10-byte header, so a failing response
// never has a handle field regardless of command code.
func (r *Tpm2Response) HasHandle(cmdCode tpm2.TPMCC) bool {
	if r.RC() != tpm2.TPMRC(0) {
		return false
	}

	switch cmdCode {
	case tpm2.TPMCCCreatePrimary, tpm2.TPMCCLoad, tpm2.TPMCCLoadExternal:
		return true
	default:
		return false
	}
}

// Handle returns the response's handle field. The caller must check
// HasHandle first.
func (r *Tpm2Response) Handle() tpm2.TPMHandle {
	return tpm2.TPMHandle(binary.BigEndian.Uint32(r.raw[headerSize:]))
}

// SetHandle rewrites the response's handle field in place.
func (r *Tpm2Response) SetHandle(h tpm2.TPMHandle) {
	binary.BigEndian.PutUint32(r.raw[headerSize:], uint32(h))
}

// Raw returns the underlying response buffer, as sent back to the client.
func (r *Tpm2Response) Raw() []byte {
	return r.raw
}

// NewFailureResponse synthesizes a minimal TPM2 response carrying rc and no
// body, for errors this resource manager raises locally without ever
// reaching the TPM (quota rejection, flush of an unknown handle, and the
// like).
func NewFailureResponse(rc tpm2.TPMRC) *Tpm2Response {
	raw := make([]byte, headerSize)
	binary.BigEndian.PutUint16(raw[tagOffset:], uint16(tpm2.TPMSTNoSessions))
	binary.BigEndian.PutUint32(raw[sizeOffset:], headerSize)
	binary.BigEndian.PutUint32(raw[codeOffset:], uint32(rc))

	return &Tpm2Response{raw: raw}
}
