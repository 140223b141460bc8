package vfs

import "github.com/obos-dev/kernel/internal/kernel/kerrors"

// Family and SockType select a socket protocol backend; this package
// defines only the dispatch surface. Actual protocol state machines
// (TCP retransmission, UDP datagram queuing, routing) are out of scope
// here and live behind whatever Protocol implementation a driver
// registers.
type Family int

const (
	AF_UNSPEC Family = iota
	AF_UNIX
	AF_INET
	AF_INET6
)

type SockType int

const (
	SOCK_STREAM SockType = iota
	SOCK_DGRAM
	SOCK_RAW
)

// SockAddr is an opaque, family-specific address; concrete protocol
// backends type-assert it to their own address struct.
type SockAddr any

// Protocol is the per (family, type) backend a socket's operations
// dispatch to. Registered once per supported combination; selecting one
// that has no registered Protocol fails with INVALID_OPERATION.
type Protocol interface {
	Bind(s *Socket, addr SockAddr) error
	Listen(s *Socket, backlog int) error
	Accept(s *Socket) (*Socket, SockAddr, error)
	Connect(s *Socket, addr SockAddr) error
	Send(s *Socket, buf []byte, flags int) (int, error)
	Recv(s *Socket, buf []byte, flags int) (int, error)
	GetSockOpt(s *Socket, level, name int) ([]byte, error)
	SetSockOpt(s *Socket, level, name int, value []byte) error
	SockName(s *Socket) (SockAddr, error)
	PeerName(s *Socket) (SockAddr, error)
	Shutdown(s *Socket, how int) error
}

// Socket is a vnode's tagged payload for Kind == Socket: the (family,
// type) pair plus whatever state-ful handle the registered Protocol
// attaches.
type Socket struct {
	Family Family
	Type   SockType

	proto Protocol
	State any // opaque, owned by proto
}

// Registry maps (family, type) to the Protocol backend that serves it.
// A kernel build registers concrete backends (e.g. a loopback-only UNIX
// stream implementation) at boot; none are wired in by this package.
type Registry struct {
	backends map[protoKey]Protocol
}

type protoKey struct {
	family Family
	typ    SockType
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[protoKey]Protocol)}
}

func (r *Registry) Register(family Family, typ SockType, proto Protocol) {
	r.backends[protoKey{family, typ}] = proto
}

// NewSocket creates a Socket bound to whatever Protocol the registry has
// for (family, typ), failing if none is registered.
func (r *Registry) NewSocket(family Family, typ SockType) (*Socket, error) {
	proto, ok := r.backends[protoKey{family, typ}]
	if !ok {
		return nil, kerrors.New(kerrors.INVALID_OPERATION, "vfs.Registry.NewSocket: no backend for family/type")
	}

	return &Socket{Family: family, Type: typ, proto: proto}, nil
}

func (s *Socket) Bind(addr SockAddr) error                 { return s.proto.Bind(s, addr) }
func (s *Socket) Listen(backlog int) error                 { return s.proto.Listen(s, backlog) }
func (s *Socket) Accept() (*Socket, SockAddr, error)        { return s.proto.Accept(s) }
func (s *Socket) Connect(addr SockAddr) error               { return s.proto.Connect(s, addr) }
func (s *Socket) Send(buf []byte, flags int) (int, error)   { return s.proto.Send(s, buf, flags) }
func (s *Socket) Recv(buf []byte, flags int) (int, error)   { return s.proto.Recv(s, buf, flags) }
func (s *Socket) SockName() (SockAddr, error)               { return s.proto.SockName(s) }
func (s *Socket) PeerName() (SockAddr, error)               { return s.proto.PeerName(s) }
func (s *Socket) Shutdown(how int) error                    { return s.proto.Shutdown(s, how) }

// readinessReporter is optionally implemented by protocol backends that
// can answer a poll-style readiness query without blocking.
type readinessReporter interface {
	Ready(s *Socket) (readable, writable bool)
}

// Ready reports poll readiness. Backends that cannot answer are treated
// as always ready, so a poll degrades to the caller's own blocking I/O
// rather than wedging.
func (s *Socket) Ready() (readable, writable bool) {
	if r, ok := s.proto.(readinessReporter); ok {
		return r.Ready(s)
	}

	return true, true
}

func (s *Socket) GetSockOpt(level, name int) ([]byte, error) {
	return s.proto.GetSockOpt(s, level, name)
}

func (s *Socket) SetSockOpt(level, name int, value []byte) error {
	return s.proto.SetSockOpt(s, level, name, value)
}
