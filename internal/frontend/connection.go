// Package frontend accepts client connections on a unix domain socket,
// demultiplexes their framed TPM command buffers onto the shared inbound
// queue, and routes responses back to the connection that asked for them.
package frontend

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/tpm2-software/tpm2rmd/internal/handle"
)

var nextConnSeq int64

// Connection is one accepted client socket: its handle map, its identity
// for logging, and the peer credentials read off the socket at accept
// time.
type Connection struct {
	id   string
	sock net.Conn
	m    *handle.Map
	pid  int32
	uid  uint32
}

func newConnection(sock net.Conn, m *handle.Map, pid int32, uid uint32) *Connection {
	seq := atomic.AddInt64(&nextConnSeq, 1)
	return &Connection{
		id:   fmt.Sprintf("conn-%d(pid=%d,uid=%d)", seq, pid, uid),
		sock: sock,
		m:    m,
		pid:  pid,
		uid:  uid,
	}
}

// ID implements wire.Connection.
func (c *Connection) ID() string {
	return c.id
}

// Map implements dispatch.Conn.
func (c *Connection) Map() *handle.Map {
	return c.m
}

// PID returns the connecting process's PID, as reported by SO_PEERCRED at
// accept time.
func (c *Connection) PID() int32 {
	return c.pid
}

// UID returns the connecting process's UID, as reported by SO_PEERCRED at
// accept time.
func (c *Connection) UID() uint32 {
	return c.uid
}
