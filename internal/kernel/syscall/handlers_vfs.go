package syscall

import (
	"encoding/binary"

	"github.com/obos-dev/kernel/internal/kernel/driver"
	"github.com/obos-dev/kernel/internal/kernel/handle"
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/timer"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
	"github.com/obos-dev/kernel/internal/kernel/wait"
)

// fcntl command numbers, the F_* subset this core implements.
const (
	fcntlDupFD = iota
	fcntlGetFL
	fcntlSetFL
)

// Poll event bits, mirroring POLLIN/POLLOUT.
const (
	pollIn  = 0x1
	pollOut = 0x4
)

// cwdVnode resolves the calling process's working directory, falling back
// to the root when none has been set.
func (c *Call) cwdVnode() (*vfs.VNode, error) {
	cwd := c.Process.Cwd
	if cwd == "" {
		return c.VFS.Root, nil
	}

	return c.VFS.Resolve(cwd, c.VFS.Root, 0)
}

// startVnode resolves an *At syscall's directory argument: handle.Current
// selects the caller's cwd, anything else must be an open directory
// descriptor.
func (c *Call) startVnode(dirfd uintptr) (*vfs.VNode, error) {
	if handle.Handle(dirfd) == handle.Current {
		return c.cwdVnode()
	}

	fd, err := c.lookupFD(dirfd)
	if err != nil {
		return nil, err
	}

	return fd.VNode, nil
}

func (c *Call) openAt(start *vfs.VNode, path string, flags vfs.OFlag) (uintptr, error) {
	creds := c.Process.Credentials

	fd, err := c.VFS.FdOpen(start, path, flags, creds.EUID, creds.EGID, creds.HasGroup)
	if err != nil {
		return 0, err
	}

	return uintptr(c.Handles.Open(handle.TypeFile, fd)), nil
}

func sysFdOpenAt(c *Call) (uintptr, error) {
	start, err := c.startVnode(c.Args[0])
	if err != nil {
		return 0, err
	}

	path, err := c.copyInString(c.Args[1])
	if err != nil {
		return 0, err
	}

	return c.openAt(start, path, vfs.OFlag(c.Args[2]))
}

func sysFdCreat(c *Call) (uintptr, error) {
	path, err := c.copyInString(c.Args[0])
	if err != nil {
		return 0, err
	}

	start, err := c.cwdVnode()
	if err != nil {
		return 0, err
	}

	return c.openAt(start, path, vfs.OWrite|vfs.OCreate|vfs.OTrunc)
}

func sysFdPRead(c *Call) (uintptr, error) {
	fd, err := c.lookupFD(c.Args[0])
	if err != nil {
		return 0, err
	}

	buf := make([]byte, int(c.Args[2]))

	read, err := fd.ReadAt(buf, int64(c.Args[3]))
	if err != nil {
		return uintptr(read), err
	}

	return uintptr(read), c.CopyOut(c.Args[1], buf[:read])
}

func sysFdPWrite(c *Call) (uintptr, error) {
	fd, err := c.lookupFD(c.Args[0])
	if err != nil {
		return 0, err
	}

	buf, err := c.CopyIn(c.Args[1], int(c.Args[2]))
	if err != nil {
		return 0, err
	}

	n, err := fd.WriteAt(buf, int64(c.Args[3]))

	return uintptr(n), err
}

func sysFdTellOff(c *Call) (uintptr, error) {
	fd, err := c.lookupFD(c.Args[0])
	if err != nil {
		return 0, err
	}

	return uintptr(fd.Tell()), nil
}

func sysFcntl(c *Call) (uintptr, error) {
	fd, err := c.lookupFD(c.Args[0])
	if err != nil {
		return 0, err
	}

	switch c.Args[1] {
	case fcntlDupFD:
		return uintptr(c.Handles.Open(handle.TypeFile, fd.Dup())), nil
	case fcntlGetFL:
		return uintptr(fd.Flags), nil
	case fcntlSetFL:
		fd.SetStatusFlags(vfs.OFlag(c.Args[2]))
		return 0, nil
	default:
		return 0, kerrors.New(kerrors.INVALID_ARGUMENT, "syscall.Fcntl")
	}
}

func sysStat(c *Call) (uintptr, error) {
	path, err := c.copyInString(c.Args[0])
	if err != nil {
		return 0, err
	}

	start, err := c.cwdVnode()
	if err != nil {
		return 0, err
	}

	vn, err := c.VFS.Resolve(path, start, 0)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, 40)
	binary.LittleEndian.PutUint64(buf[0:], uint64(vn.Kind))
	binary.LittleEndian.PutUint64(buf[8:], uint64(vn.Perm))
	binary.LittleEndian.PutUint64(buf[16:], uint64(vn.UID))
	binary.LittleEndian.PutUint64(buf[24:], uint64(vn.GID))
	binary.LittleEndian.PutUint64(buf[32:], uint64(vn.Size))

	return 0, c.CopyOut(c.Args[1], buf)
}

func sysReadLinkAt(c *Call) (uintptr, error) {
	start, err := c.startVnode(c.Args[0])
	if err != nil {
		return 0, err
	}

	path, err := c.copyInString(c.Args[1])
	if err != nil {
		return 0, err
	}

	target, err := c.VFS.ReadLink(start, path)
	if err != nil {
		return 0, err
	}

	out := append([]byte(target), 0)

	return uintptr(len(target)), c.CopyOut(c.Args[2], out)
}

func sysUnlinkAt(c *Call) (uintptr, error) {
	start, err := c.startVnode(c.Args[0])
	if err != nil {
		return 0, err
	}

	path, err := c.copyInString(c.Args[1])
	if err != nil {
		return 0, err
	}

	return 0, c.VFS.Unlink(start, path)
}

func sysMkdirAt(c *Call) (uintptr, error) {
	start, err := c.startVnode(c.Args[0])
	if err != nil {
		return 0, err
	}

	path, err := c.copyInString(c.Args[1])
	if err != nil {
		return 0, err
	}

	_, err = c.VFS.Mkdir(start, path, vfs.Perm(c.Args[2]))

	return 0, err
}

func sysSymLinkAt(c *Call) (uintptr, error) {
	target, err := c.copyInString(c.Args[0])
	if err != nil {
		return 0, err
	}

	start, err := c.startVnode(c.Args[1])
	if err != nil {
		return 0, err
	}

	linkPath, err := c.copyInString(c.Args[2])
	if err != nil {
		return 0, err
	}

	return 0, c.VFS.Symlink(start, target, linkPath)
}

func sysOpenDir(c *Call) (uintptr, error) {
	path, err := c.copyInString(c.Args[0])
	if err != nil {
		return 0, err
	}

	start, err := c.cwdVnode()
	if err != nil {
		return 0, err
	}

	vn, err := c.VFS.Resolve(path, start, 0)
	if err != nil {
		return 0, err
	}

	if vn.Kind != vfs.Dir {
		return 0, kerrors.New(kerrors.INVALID_FILE, "syscall.OpenDir")
	}

	return c.openAt(start, path, vfs.ORead)
}

// sysReadEntries fills the user buffer with NUL-terminated names, as many
// whole names as fit, returning the byte count written.
func sysReadEntries(c *Call) (uintptr, error) {
	fd, err := c.lookupFD(c.Args[0])
	if err != nil {
		return 0, err
	}

	names, err := c.VFS.ListDir(fd.VNode)
	if err != nil {
		return 0, err
	}

	limit := int(c.Args[2])

	var out []byte
	for _, name := range names {
		if len(out)+len(name)+1 > limit {
			break
		}

		out = append(out, name...)
		out = append(out, 0)
	}

	if len(out) == 0 {
		return 0, nil
	}

	return uintptr(len(out)), c.CopyOut(c.Args[1], out)
}

// sysMkPipe writes the read and write handles as two little-endian
// uint32s at the out pointer.
func sysMkPipe(c *Call) (uintptr, error) {
	rfd, wfd := vfs.MkPipe(int(c.Args[1]))

	rh := c.Handles.Open(handle.TypeFile, rfd)
	wh := c.Handles.Open(handle.TypeFile, wfd)

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], uint32(rh))
	binary.LittleEndian.PutUint32(buf[4:], uint32(wh))

	if err := c.CopyOut(c.Args[0], buf); err != nil {
		_ = c.Handles.Close(rh)
		_ = c.Handles.Close(wh)

		return 0, err
	}

	return 0, nil
}

func sysGetCWD(c *Call) (uintptr, error) {
	cwd := c.Process.Cwd
	if cwd == "" {
		cwd = "/"
	}

	limit := int(c.Args[1])
	out := append([]byte(cwd), 0)
	if len(out) > limit {
		return 0, kerrors.New(kerrors.INVALID_ARGUMENT, "syscall.GetCWD: buffer too small")
	}

	return uintptr(len(cwd)), c.CopyOut(c.Args[0], out)
}

func mountHandler(loader *driver.Loader, drivers *driver.Registry) HandlerFunc {
	return func(c *Call) (uintptr, error) {
		if loader == nil || drivers == nil {
			return 0, kerrors.Wrap(kerrors.UNIMPLEMENTED, "syscall.Mount", nil)
		}

		path, err := c.copyInString(c.Args[0])
		if err != nil {
			return 0, err
		}

		name, err := c.copyInString(c.Args[1])
		if err != nil {
			return 0, err
		}

		factory, err := drivers.Lookup(name)
		if err != nil {
			return 0, err
		}

		hdr, drv, entry := factory()

		inst, err := loader.Load(hdr, drv, nil, entry)
		if err != nil {
			return 0, err
		}

		fsRoot := vfs.NewVNode(vfs.Dir, name, vfs.PermOwnerRead|vfs.PermOwnerWrite|vfs.PermOwnerExec)
		fsRoot.Driver = inst.Driver

		return 0, c.VFS.Mount(path, fsRoot)
	}
}

func sysUnmount(c *Call) (uintptr, error) {
	path, err := c.copyInString(c.Args[0])
	if err != nil {
		return 0, err
	}

	return 0, c.VFS.Unmount(path)
}

// IRP family.

func sysIRPCreate(c *Call) (uintptr, error) {
	fd, err := c.lookupFD(c.Args[0])
	if err != nil {
		return 0, err
	}

	op := vfs.IRPOp(c.Args[1])
	if op != vfs.IRPRead && op != vfs.IRPWrite {
		return 0, kerrors.InvalidArgument
	}

	blkSize := uint64(1)
	if fd.VNode.Driver != nil {
		if sz, err := fd.VNode.Driver.GetBlkSize(fd.VNode); err == nil && sz > 0 {
			blkSize = sz
		}
	}

	blkCount := uint64(c.Args[3])

	irp := vfs.NewIRP(op, make([]byte, blkCount*blkSize), uint64(c.Args[2]), blkCount)
	irp.VNode = fd.VNode
	irp.DevDesc = fd.VNode.DevDesc

	return uintptr(c.Handles.Open(handle.TypeIRP, irp)), nil
}

func sysIRPSubmit(c *Call) (uintptr, error) {
	irp, err := c.lookupIRP(c.Args[0])
	if err != nil {
		return 0, err
	}

	if irp.VNode == nil || irp.VNode.Driver == nil {
		return 0, kerrors.InvalidOperation
	}

	return 0, vfs.Submit(irp.VNode.Driver, irp)
}

func sysIRPWait(c *Call) (uintptr, error) {
	irp, err := c.lookupIRP(c.Args[0])
	if err != nil {
		return 0, err
	}

	if irp.VNode == nil || irp.VNode.Driver == nil {
		return 0, kerrors.InvalidOperation
	}

	if err := vfs.Wait(irp.VNode.Driver, irp); err != nil {
		return uintptr(irp.NBlkDone), err
	}

	return uintptr(irp.NBlkDone), nil
}

func sysIRPQueryState(c *Call) (uintptr, error) {
	irp, err := c.lookupIRP(c.Args[0])
	if err != nil {
		return 0, err
	}

	if irp.Evnt == nil || wait.Signaled(irp.Evnt) {
		return 1, nil
	}

	return 0, nil
}

func sysIRPGetBuffer(c *Call) (uintptr, error) {
	irp, err := c.lookupIRP(c.Args[0])
	if err != nil {
		return 0, err
	}

	n := int(c.Args[2])
	if n > len(irp.Buff) {
		n = len(irp.Buff)
	}

	return uintptr(n), c.CopyOut(c.Args[1], irp.Buff[:n])
}

func sysIRPGetStatus(c *Call) (uintptr, error) {
	irp, err := c.lookupIRP(c.Args[0])
	if err != nil {
		return 0, err
	}

	return uintptr(kerrors.Of(irp.Status)), nil
}

// Select/poll.

// fdReady answers the readiness scan for one handle, accepting file and
// socket handles alike.
func (c *Call) fdReady(h uintptr) (readable, writable bool, err error) {
	if s, serr := c.lookupSocket(h); serr == nil {
		readable, writable = s.Ready()
		return readable, writable, nil
	}

	fd, err := c.lookupFD(h)
	if err != nil {
		return false, false, err
	}

	vn := fd.VNode

	switch vn.Kind {
	case vfs.Fifo:
		return wait.Signaled(vn.Pipe.DataAvailable), wait.Signaled(vn.Pipe.SpaceAvailable), nil
	case vfs.Char:
		if vn.TTY != nil {
			return vn.TTY.ReadyRead(), true, nil
		}

		return true, true, nil
	default:
		return true, true, nil
	}
}

// pollWait runs scan until it reports progress, the timeout expires, or a
// signal becomes deliverable. timeout is in clock ticks; 0 means a single
// non-blocking scan, all-ones means no timeout.
func (c *Call) pollWait(clock *timer.Source, timeout uintptr, scan func() (int, error)) (uintptr, error) {
	var deadline timer.Ticks

	infinite := timeout == ^uintptr(0)
	if !infinite && clock != nil {
		deadline = clock.Ticks() + timer.Ticks(timeout)
	}

	for {
		n, err := scan()
		if err != nil {
			return 0, err
		}

		if n > 0 || timeout == 0 {
			return uintptr(n), nil
		}

		if s := c.Thread.Signals; s != nil {
			if _, ok := s.Deliverable(); ok {
				return 0, kerrors.New(kerrors.ABORTED, "syscall.poll")
			}
		}

		if !infinite {
			if clock == nil || clock.Ticks() >= deadline {
				return 0, nil
			}
		}

		c.Sched.Yield(c.CPU)
	}
}

// withSigMask applies mask for the duration of fn, the pselect/ppoll
// atomic-mask-swap contract; a zero mask argument means "leave the mask
// alone".
func (c *Call) withSigMask(mask uintptr, haveMask bool, fn func() (uintptr, error)) (uintptr, error) {
	s := c.Thread.Signals
	if !haveMask || s == nil {
		return fn()
	}

	old := s.Mask()
	s.SetMask(uint64(mask))
	defer s.SetMask(old)

	return fn()
}

// ppollHandler reads an array of {handle u32, events u16, revents u16}
// entries, scans readiness, writes revents back, and returns the number
// of entries with any revents set.
func ppollHandler(clock *timer.Source) HandlerFunc {
	return func(c *Call) (uintptr, error) {
		nfds := int(c.Args[1])
		if nfds < 0 || nfds > 256 {
			return 0, kerrors.InvalidArgument
		}

		entries, err := c.CopyIn(c.Args[0], nfds*8)
		if err != nil {
			return 0, err
		}

		scan := func() (int, error) {
			ready := 0

			for i := 0; i < nfds; i++ {
				e := entries[i*8:]
				h := uintptr(binary.LittleEndian.Uint32(e[0:]))
				events := binary.LittleEndian.Uint16(e[4:])

				r, w, err := c.fdReady(h)
				if err != nil {
					return 0, err
				}

				var revents uint16
				if events&pollIn != 0 && r {
					revents |= pollIn
				}

				if events&pollOut != 0 && w {
					revents |= pollOut
				}

				binary.LittleEndian.PutUint16(e[6:], revents)

				if revents != 0 {
					ready++
				}
			}

			return ready, nil
		}

		return c.withSigMask(c.Args[3], c.Args[3] != 0, func() (uintptr, error) {
			n, err := c.pollWait(clock, c.Args[2], scan)
			if err != nil {
				return 0, err
			}

			return n, c.CopyOut(c.Args[0], entries)
		})
	}
}

// pselectHandler treats the read and write sets as 64-bit masks of file
// handle-table slots, the fd_set shape narrowed to one word.
func pselectHandler(clock *timer.Source) HandlerFunc {
	return func(c *Call) (uintptr, error) {
		nfds := int(c.Args[0])
		if nfds < 0 || nfds > 64 {
			return 0, kerrors.InvalidArgument
		}

		readSet, writeSet, err := c.readFdSets(c.Args[1], c.Args[2])
		if err != nil {
			return 0, err
		}

		var outRead, outWrite uint64

		scan := func() (int, error) {
			outRead, outWrite = 0, 0
			ready := 0

			for slot := 0; slot < nfds; slot++ {
				bit := uint64(1) << uint(slot)
				if readSet&bit == 0 && writeSet&bit == 0 {
					continue
				}

				h := uintptr(handle.ForSlot(handle.TypeFile, uint32(slot)))

				r, w, err := c.fdReady(h)
				if err != nil {
					return 0, err
				}

				hit := false
				if readSet&bit != 0 && r {
					outRead |= bit
					hit = true
				}

				if writeSet&bit != 0 && w {
					outWrite |= bit
					hit = true
				}

				if hit {
					ready++
				}
			}

			return ready, nil
		}

		return c.withSigMask(c.Args[4], c.Args[4] != 0, func() (uintptr, error) {
			n, err := c.pollWait(clock, c.Args[3], scan)
			if err != nil {
				return 0, err
			}

			return n, c.writeFdSets(c.Args[1], outRead, c.Args[2], outWrite)
		})
	}
}

func (c *Call) readFdSets(readPtr, writePtr uintptr) (readSet, writeSet uint64, err error) {
	if readPtr != 0 {
		buf, err := c.CopyIn(readPtr, 8)
		if err != nil {
			return 0, 0, err
		}

		readSet = binary.LittleEndian.Uint64(buf)
	}

	if writePtr != 0 {
		buf, err := c.CopyIn(writePtr, 8)
		if err != nil {
			return 0, 0, err
		}

		writeSet = binary.LittleEndian.Uint64(buf)
	}

	return readSet, writeSet, nil
}

func (c *Call) writeFdSets(readPtr uintptr, readSet uint64, writePtr uintptr, writeSet uint64) error {
	buf := make([]byte, 8)

	if readPtr != 0 {
		binary.LittleEndian.PutUint64(buf, readSet)
		if err := c.CopyOut(readPtr, buf); err != nil {
			return err
		}
	}

	if writePtr != 0 {
		binary.LittleEndian.PutUint64(buf, writeSet)
		if err := c.CopyOut(writePtr, buf); err != nil {
			return err
		}
	}

	return nil
}
