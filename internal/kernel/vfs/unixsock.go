package vfs

import (
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/wait"
)

// UnixAddr is the AF_UNIX address form: a filesystem-style name, matched
// by exact string comparison.
type UnixAddr string

// How values for Shutdown, the POSIX SHUT_* triple.
const (
	ShutRead = iota
	ShutWrite
	ShutReadWrite
)

// UnixStream is the in-kernel (AF_UNIX, SOCK_STREAM) protocol backend: a
// connected pair of sockets joined by two pipes, one per direction. It is
// the loopback-only backend a kernel build registers so local IPC works
// without any network interface tables.
type UnixStream struct {
	mu        sync.Mutex
	listeners map[UnixAddr]*unixListener
}

// NewUnixStream creates the backend with no bound listeners.
func NewUnixStream() *UnixStream {
	return &UnixStream{listeners: make(map[UnixAddr]*unixListener)}
}

type unixListener struct {
	addr    UnixAddr
	backlog chan *Socket
}

// unixConn is a socket's State payload under this backend.
type unixConn struct {
	mu sync.Mutex

	local, peer UnixAddr

	rd, wr *Pipe // nil until connected

	listener *unixListener // non-nil once Listen has run

	shutRead, shutWrite bool

	opts map[[2]int][]byte
}

func connOf(s *Socket) *unixConn {
	c, ok := s.State.(*unixConn)
	if !ok {
		c = &unixConn{opts: make(map[[2]int][]byte)}
		s.State = c
	}

	return c
}

func (*UnixStream) addrOf(addr SockAddr) (UnixAddr, error) {
	switch a := addr.(type) {
	case UnixAddr:
		return a, nil
	case string:
		return UnixAddr(a), nil
	default:
		return "", kerrors.New(kerrors.INVALID_ARGUMENT, "vfs.UnixStream: not a unix address")
	}
}

func (u *UnixStream) Bind(s *Socket, addr SockAddr) error {
	a, err := u.addrOf(addr)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, taken := u.listeners[a]; taken {
		return kerrors.New(kerrors.IN_USE, "vfs.UnixStream.Bind")
	}

	connOf(s).local = a

	return nil
}

func (u *UnixStream) Listen(s *Socket, backlog int) error {
	c := connOf(s)
	if c.local == "" {
		return kerrors.New(kerrors.INVALID_OPERATION, "vfs.UnixStream.Listen: not bound")
	}

	if backlog <= 0 {
		backlog = 8
	}

	l := &unixListener{addr: c.local, backlog: make(chan *Socket, backlog)}

	u.mu.Lock()
	if _, taken := u.listeners[c.local]; taken {
		u.mu.Unlock()
		return kerrors.New(kerrors.IN_USE, "vfs.UnixStream.Listen")
	}

	u.listeners[c.local] = l
	u.mu.Unlock()

	c.listener = l

	return nil
}

// Accept blocks until Connect has queued a peer, then returns the
// server-side socket of the new connection.
func (u *UnixStream) Accept(s *Socket) (*Socket, SockAddr, error) {
	c := connOf(s)
	if c.listener == nil {
		return nil, nil, kerrors.New(kerrors.INVALID_OPERATION, "vfs.UnixStream.Accept: not listening")
	}

	conn, ok := <-c.listener.backlog
	if !ok {
		return nil, nil, kerrors.New(kerrors.ABORTED, "vfs.UnixStream.Accept")
	}

	return conn, connOf(conn).peer, nil
}

// Connect joins s to the listener bound at addr: two pipes are created,
// crossed between the client and a freshly-made server-side socket, and
// the server side is queued for Accept.
func (u *UnixStream) Connect(s *Socket, addr SockAddr) error {
	a, err := u.addrOf(addr)
	if err != nil {
		return err
	}

	u.mu.Lock()
	l := u.listeners[a]
	u.mu.Unlock()

	if l == nil {
		return kerrors.New(kerrors.NOT_FOUND, "vfs.UnixStream.Connect")
	}

	clientToServer := NewPipe(0)
	serverToClient := NewPipe(0)

	c := connOf(s)
	c.peer = a
	c.rd = serverToClient
	c.wr = clientToServer

	server := &Socket{Family: s.Family, Type: s.Type, proto: u}
	sc := connOf(server)
	sc.local = a
	sc.peer = c.local
	sc.rd = clientToServer
	sc.wr = serverToClient

	select {
	case l.backlog <- server:
		return nil
	default:
		return kerrors.New(kerrors.RETRY, "vfs.UnixStream.Connect: backlog full")
	}
}

func (u *UnixStream) Send(s *Socket, buf []byte, flags int) (int, error) {
	c := connOf(s)

	c.mu.Lock()
	shut := c.shutWrite
	wr := c.wr
	c.mu.Unlock()

	if shut || wr == nil {
		return 0, kerrors.New(kerrors.INVALID_OPERATION, "vfs.UnixStream.Send: not connected")
	}

	return wr.Write(buf, false)
}

func (u *UnixStream) Recv(s *Socket, buf []byte, flags int) (int, error) {
	c := connOf(s)

	c.mu.Lock()
	shut := c.shutRead
	rd := c.rd
	c.mu.Unlock()

	if rd == nil {
		return 0, kerrors.New(kerrors.INVALID_OPERATION, "vfs.UnixStream.Recv: not connected")
	}

	if shut {
		return 0, nil
	}

	return rd.Read(buf, false)
}

func (u *UnixStream) GetSockOpt(s *Socket, level, name int) ([]byte, error) {
	c := connOf(s)

	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.opts[[2]int{level, name}]
	if !ok {
		return nil, kerrors.New(kerrors.NOT_FOUND, "vfs.UnixStream.GetSockOpt")
	}

	return v, nil
}

func (u *UnixStream) SetSockOpt(s *Socket, level, name int, value []byte) error {
	c := connOf(s)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.opts[[2]int{level, name}] = append([]byte(nil), value...)

	return nil
}

func (u *UnixStream) SockName(s *Socket) (SockAddr, error) { return connOf(s).local, nil }
func (u *UnixStream) PeerName(s *Socket) (SockAddr, error) { return connOf(s).peer, nil }

func (u *UnixStream) Shutdown(s *Socket, how int) error {
	c := connOf(s)

	c.mu.Lock()
	defer c.mu.Unlock()

	if how == ShutRead || how == ShutReadWrite {
		c.shutRead = true
		if c.rd != nil {
			c.rd.CloseWriter()
		}
	}

	if how == ShutWrite || how == ShutReadWrite {
		c.shutWrite = true
		if c.wr != nil {
			c.wr.CloseWriter()
		}
	}

	if c.listener != nil {
		u.mu.Lock()
		delete(u.listeners, c.listener.addr)
		u.mu.Unlock()

		close(c.listener.backlog)
		c.listener = nil
	}

	return nil
}

// Ready implements the poll readiness scan for this backend: readable when
// inbound data is queued (or the read side is shut, so a Recv returns
// immediately), writable while the outbound pipe has room.
func (u *UnixStream) Ready(s *Socket) (readable, writable bool) {
	c := connOf(s)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener != nil {
		return len(c.listener.backlog) > 0, false
	}

	readable = c.shutRead || (c.rd != nil && wait.Signaled(c.rd.DataAvailable))
	writable = !c.shutWrite && c.wr != nil && wait.Signaled(c.wr.SpaceAvailable)

	return readable, writable
}
