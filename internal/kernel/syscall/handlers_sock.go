package syscall

import (
	"github.com/obos-dev/kernel/internal/kernel/handle"
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
)

func socketHandler(registry *vfs.Registry) HandlerFunc {
	return func(c *Call) (uintptr, error) {
		if registry == nil {
			return 0, kerrors.Wrap(kerrors.UNIMPLEMENTED, "syscall.Socket", nil)
		}

		s, err := registry.NewSocket(vfs.Family(c.Args[0]), vfs.SockType(c.Args[1]))
		if err != nil {
			return 0, err
		}

		return uintptr(c.Handles.Open(handle.TypeSocket, s)), nil
	}
}

// sockAddrArg reads a user address argument as a NUL-terminated name, the
// only address form the in-kernel backends use.
func (c *Call) sockAddrArg(uaddr uintptr) (vfs.SockAddr, error) {
	name, err := c.copyInString(uaddr)
	if err != nil {
		return nil, err
	}

	return vfs.UnixAddr(name), nil
}

func sysBind(c *Call) (uintptr, error) {
	s, err := c.lookupSocket(c.Args[0])
	if err != nil {
		return 0, err
	}

	addr, err := c.sockAddrArg(c.Args[1])
	if err != nil {
		return 0, err
	}

	return 0, s.Bind(addr)
}

func sysConnect(c *Call) (uintptr, error) {
	s, err := c.lookupSocket(c.Args[0])
	if err != nil {
		return 0, err
	}

	addr, err := c.sockAddrArg(c.Args[1])
	if err != nil {
		return 0, err
	}

	return 0, s.Connect(addr)
}

func sysListen(c *Call) (uintptr, error) {
	s, err := c.lookupSocket(c.Args[0])
	if err != nil {
		return 0, err
	}

	return 0, s.Listen(int(c.Args[1]))
}

func sysAccept(c *Call) (uintptr, error) {
	s, err := c.lookupSocket(c.Args[0])
	if err != nil {
		return 0, err
	}

	conn, _, err := s.Accept()
	if err != nil {
		return 0, err
	}

	return uintptr(c.Handles.Open(handle.TypeSocket, conn)), nil
}

func sysSendTo(c *Call) (uintptr, error) {
	s, err := c.lookupSocket(c.Args[0])
	if err != nil {
		return 0, err
	}

	buf, err := c.CopyIn(c.Args[1], int(c.Args[2]))
	if err != nil {
		return 0, err
	}

	n, err := s.Send(buf, int(c.Args[3]))

	return uintptr(n), err
}

func sysRecvFrom(c *Call) (uintptr, error) {
	s, err := c.lookupSocket(c.Args[0])
	if err != nil {
		return 0, err
	}

	buf := make([]byte, int(c.Args[2]))

	n, err := s.Recv(buf, int(c.Args[3]))
	if err != nil {
		return uintptr(n), err
	}

	return uintptr(n), c.CopyOut(c.Args[1], buf[:n])
}

func sysSockShutdown(c *Call) (uintptr, error) {
	s, err := c.lookupSocket(c.Args[0])
	if err != nil {
		return 0, err
	}

	return 0, s.Shutdown(int(c.Args[1]))
}

func sysGetSockOpt(c *Call) (uintptr, error) {
	s, err := c.lookupSocket(c.Args[0])
	if err != nil {
		return 0, err
	}

	value, err := s.GetSockOpt(int(c.Args[1]), int(c.Args[2]))
	if err != nil {
		return 0, err
	}

	return uintptr(len(value)), c.CopyOut(c.Args[3], value)
}

// sysSetSockOpt reads a fixed 8-byte option value, the word-sized option
// shape every in-kernel backend uses.
func sysSetSockOpt(c *Call) (uintptr, error) {
	s, err := c.lookupSocket(c.Args[0])
	if err != nil {
		return 0, err
	}

	value, err := c.CopyIn(c.Args[3], 8)
	if err != nil {
		return 0, err
	}

	return 0, s.SetSockOpt(int(c.Args[1]), int(c.Args[2]), value)
}

func (c *Call) sockNameOut(addr vfs.SockAddr, uaddr uintptr) (uintptr, error) {
	name, ok := addr.(vfs.UnixAddr)
	if !ok {
		return 0, kerrors.InvalidArgument
	}

	out := append([]byte(name), 0)

	return uintptr(len(name)), c.CopyOut(uaddr, out)
}

func sysSockName(c *Call) (uintptr, error) {
	s, err := c.lookupSocket(c.Args[0])
	if err != nil {
		return 0, err
	}

	addr, err := s.SockName()
	if err != nil {
		return 0, err
	}

	return c.sockNameOut(addr, c.Args[1])
}

func sysPeerName(c *Call) (uintptr, error) {
	s, err := c.lookupSocket(c.Args[0])
	if err != nil {
		return 0, err
	}

	addr, err := s.PeerName()
	if err != nil {
		return 0, err
	}

	return c.sockNameOut(addr, c.Args[1])
}
