package frontend

import (
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/google/go-tpm/tpm2"

	"github.com/tpm2-software/tpm2rmd/internal/handle"
	"github.com/tpm2-software/tpm2rmd/internal/wire"
	"github.com/tpm2-software/tpm2rmd/sterror"
	"github.com/tpm2-software/tpm2rmd/stlog"
)

// Scope and operations used for raising Errors of this package.
const (
	ErrScope     sterror.Scope = "Frontend"
	ErrOpListen  sterror.Op    = "Listen"
	ErrOpEnqueue sterror.Op    = "Enqueue"
)

// Sink is the subset of dispatch.Worker the front-end feeds: one command
// or control message at a time, from many connections.
type Sink interface {
	Enqueue(item interface{})
}

// Server accepts client sockets, spawns one framing reader goroutine per
// connection, and routes outbound deliveries back to the connection that
// asked for them. It implements Sink itself so a dispatch.Worker can
// AddSink(server) for the response path.
type Server struct {
	lis      net.Listener
	inbound  Sink
	capacity int
	base     tpm2.TPMHandle

	wg sync.WaitGroup
}

// NewServer constructs a Server that will hand off parsed commands to
// inbound, sizing every accepted connection's handle map to capacity
// transient slots starting at base.
func NewServer(inbound Sink, capacity int, base tpm2.TPMHandle) *Server {
	return &Server{inbound: inbound, capacity: capacity, base: base}
}

// network picks "unix" for a filesystem path and "tcp" otherwise, matching
// the listen_address convention documented on config.Config.
func network(addr string) string {
	if strings.Contains(addr, "/") {
		return "unix"
	}

	return "tcp"
}

// Listen opens addr and starts accepting connections on a background
// goroutine. It returns once the listener is open; call Close to stop
// accepting. Close does not wait for connection readers to finish.
func (s *Server) Listen(addr string) error {
	lis, err := net.Listen(network(addr), addr)
	if err != nil {
		return sterror.E(ErrScope, ErrOpListen, err)
	}

	s.lis = lis

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Close stops accepting new connections. Reader goroutines for already
// accepted connections exit on their own once their socket is closed or
// reaches EOF.
func (s *Server) Close() error {
	return s.lis.Close()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		sock, err := s.lis.Accept()
		if err != nil {
			stlog.Info("frontend: listener closed: %v", err)
			return
		}

		pid, uid := peerCredentials(sock)
		conn := newConnection(sock, handle.NewMap(s.capacity, s.base), pid, uid)

		stlog.Info("frontend: accepted %s", conn.ID())

		s.wg.Add(1)
		go s.readLoop(conn)
	}
}

// readLoop frames raw TPM command buffers off conn's socket -- a fixed
// 10-byte header whose size field gives the total command length -- and
// enqueues each one onto the shared inbound queue. It is the "many
// producers" side of the MPSC model in §5.
func (s *Server) readLoop(conn *Connection) {
	defer s.wg.Done()
	defer s.teardown(conn)

	header := make([]byte, 10)

	for {
		if _, err := io.ReadFull(conn.sock, header); err != nil {
			if err != io.EOF {
				stlog.Warn("frontend: %s: reading command header: %v", conn.ID(), err)
			}

			return
		}

		size := binary.BigEndian.Uint32(header[2:6])
		if size < 10 {
			stlog.Warn("frontend: %s: command size %d shorter than header", conn.ID(), size)
			return
		}

		raw := make([]byte, size)
		copy(raw, header)

		if _, err := io.ReadFull(conn.sock, raw[10:]); err != nil {
			stlog.Warn("frontend: %s: reading command body: %v", conn.ID(), err)
			return
		}

		cmd, err := wire.NewTpm2Command(conn, raw)
		if err != nil {
			stlog.Warn("frontend: %s: malformed command: %v", conn.ID(), err)
			continue
		}

		s.inbound.Enqueue(cmd)
	}
}

// teardown flushes conn's handle map by routing a Disconnect control
// message through the dispatch worker, rather than racing it from this
// goroutine, and closes the socket.
func (s *Server) teardown(conn *Connection) {
	s.inbound.Enqueue(wire.NewDisconnect(conn))

	if err := conn.sock.Close(); err != nil {
		stlog.Debug("frontend: %s: close: %v", conn.ID(), err)
	}

	stlog.Info("frontend: %s disconnected", conn.ID())
}

// Enqueue implements dispatch.Sink: it routes a *wire.Delivery back to the
// client socket it answers. Anything else arriving here is a programmer
// error in how the worker's sink was wired.
func (s *Server) Enqueue(item interface{}) {
	d, ok := item.(*wire.Delivery)
	if !ok {
		panic(sterror.E(ErrScope, ErrOpEnqueue, "frontend sink received a non-Delivery item"))
	}

	conn, ok := d.Conn.(*Connection)
	if !ok {
		return
	}

	if _, err := conn.sock.Write(d.Resp.Raw()); err != nil {
		stlog.Warn("frontend: %s: writing response: %v", conn.ID(), err)
	}
}

// peerCredentials reads SO_PEERCRED off a unix domain socket so accepted
// connections can be tagged with the client's PID/UID for logging, the
// way the teacher reaches into golang.org/x/sys/unix for platform-level
// socket options the standard library doesn't expose. Non-unix sockets
// (a TCP listen_address) have no peer credentials; both values are zero.
func peerCredentials(sock net.Conn) (pid int32, uid uint32) {
	uc, ok := sock.(*net.UnixConn)
	if !ok {
		return 0, 0
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		stlog.Debug("frontend: peer credentials unavailable: %v", err)
		return 0, 0
	}

	var cred *unix.Ucred

	ctlErr := raw.Control(func(fd uintptr) {
		cred, err = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctlErr != nil || err != nil {
		stlog.Debug("frontend: SO_PEERCRED lookup failed: %v", err)
		return 0, 0
	}

	return cred.Pid, uint32(cred.Uid)
}
