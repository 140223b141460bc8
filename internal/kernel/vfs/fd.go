package vfs

import (
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
)

// FileDescriptor is one open instance of a vnode: the seek offset and
// open flags are per-open, while the vnode (and its page cache) are
// shared across every descriptor open on it.
type FileDescriptor struct {
	mu     sync.Mutex
	VNode  *VNode
	Flags  OFlag
	offset int64
}

// FdOpen resolves path against start (root for absolute, start for
// relative), checks the requested access against the caller's
// credentials, and returns a fresh descriptor positioned at offset 0 (or
// at size, for OAppend).
//
// hasGroup reports whether gid is among the caller's supplementary
// groups; pass nil if the caller has none.
func (fs *VFS) FdOpen(start *VNode, path string, flags OFlag, uid, gid uint32, hasGroup func(uint32) bool) (*FileDescriptor, error) {
	vn, err := fs.Resolve(path, start, 0)

	if err != nil {
		if kerrors.Of(err) == kerrors.NOT_FOUND && flags&OCreate != 0 {
			vn, err = fs.create(path, start)
		}

		if err != nil {
			return nil, err
		}
	}

	// checkPerm treats want as the low-3-bit r/w/x triple (the "other"
	// bit positions) and shifts the owner/group bits down to match.
	want := Perm(0)
	if flags&ORead != 0 {
		want |= PermOtherRead
	}

	if flags&OWrite != 0 {
		want |= PermOtherWrite
	}

	if flags&OExec != 0 {
		want |= PermOtherExec
	}

	if err := checkPerm(vn, uid, gid, hasGroup, want); err != nil {
		return nil, err
	}

	if flags&OTrunc != 0 && vn.Kind == Regular {
		vn.mu.Lock()
		vn.Size = 0
		vn.mu.Unlock()
	}

	fd := &FileDescriptor{VNode: vn, Flags: flags}

	if flags&OAppend != 0 {
		fd.offset = vn.Size
	}

	vn.Ref()

	if vn.Driver != nil {
		if err := vn.Driver.ReferenceDevice(vn); err != nil {
			return nil, err
		}
	}

	return fd, nil
}

func (fs *VFS) create(path string, start *VNode) (*VNode, error) {
	idx := len(path)
	for idx > 0 && path[idx-1] != '/' {
		idx--
	}

	dirPath, name := path[:idx], path[idx:]
	if dirPath == "" {
		dirPath = "."
	}

	dir, err := fs.Resolve(dirPath, start, 0)
	if err != nil {
		return nil, err
	}

	if dir.Driver == nil {
		return nil, kerrors.New(kerrors.INVALID_OPERATION, "vfs.create: directory has no backing driver")
	}

	vn, err := dir.Driver.MkFile(dir, name, Regular, PermOwnerRead|PermOwnerWrite)
	if err != nil {
		return nil, err
	}

	dir.addChild(vn)

	return vn, nil
}

// Close releases the descriptor's reference on its vnode, marking the
// matching pipe end closed for fifos so the other side observes EOF or a
// broken pipe.
func (fd *FileDescriptor) Close() error {
	fd.VNode.Unref()

	if fd.VNode.Kind == Fifo && fd.VNode.Pipe != nil {
		if fd.Flags&OWrite != 0 {
			fd.VNode.Pipe.CloseWriter()
		} else {
			fd.VNode.Pipe.CloseReader()
		}
	}

	if fd.VNode.Driver != nil {
		return fd.VNode.Driver.UnreferenceDevice(fd.VNode)
	}

	return nil
}

// Read dispatches to the vnode kind's native transfer path: the page
// cache (faulted in via the driver's ReadSync) for regular files, the
// driver directly for character/block devices, or the tagged Pipe/TTY
// payload.
func (fd *FileDescriptor) Read(p []byte) (int, error) {
	vn := fd.VNode

	switch vn.Kind {
	case Fifo:
		return vn.Pipe.Read(p, fd.Flags&ONonblock != 0)
	case Char:
		if vn.TTY != nil {
			line := vn.TTY.Read()
			n := copy(p, line)

			return n, nil
		}

		fallthrough
	case Block:
		if vn.Driver == nil {
			return 0, kerrors.New(kerrors.INVALID_OPERATION, "vfs.FileDescriptor.Read: no driver")
		}

		fd.mu.Lock()
		off := fd.offset
		fd.mu.Unlock()

		n, err := vn.Driver.ReadSync(vn, p, uint64(off))
		if err == nil {
			fd.mu.Lock()
			fd.offset += int64(n)
			fd.mu.Unlock()
		}

		return n, err
	case Regular:
		return fd.readCached(p)
	default:
		return 0, kerrors.New(kerrors.INVALID_OPERATION, "vfs.FileDescriptor.Read: unsupported vnode kind")
	}
}

func (fd *FileDescriptor) readCached(p []byte) (int, error) {
	fd.mu.Lock()
	off := fd.offset
	fd.mu.Unlock()

	n, newOff, err := fd.readCachedAt(p, off)
	if err == nil {
		fd.mu.Lock()
		fd.offset = newOff
		fd.mu.Unlock()
	}

	return n, err
}

// ReadAt reads from a regular file at an explicit offset without moving
// the descriptor's seek position, the pread path.
func (fd *FileDescriptor) ReadAt(p []byte, off int64) (int, error) {
	if fd.VNode.Kind != Regular {
		return 0, kerrors.New(kerrors.INVALID_OPERATION, "vfs.FileDescriptor.ReadAt")
	}

	n, _, err := fd.readCachedAt(p, off)

	return n, err
}

func (fd *FileDescriptor) readCachedAt(p []byte, off int64) (int, int64, error) {
	vn := fd.VNode

	if off >= vn.Size {
		return 0, off, nil // EOF
	}

	total := 0

	for total < len(p) && off < vn.Size {
		page, err := vn.Cache.Get(off, func(pageOffset int64, dst []byte) error {
			if vn.Driver == nil {
				return nil
			}

			_, err := vn.Driver.ReadSync(vn, dst, uint64(pageOffset))

			return err
		})
		if err != nil {
			return total, off, err
		}

		pageRel := off % pageCachePageSize
		n := copy(p[total:], page[pageRel:])
		if int64(n) > vn.Size-off {
			n = int(vn.Size - off)
		}

		total += n
		off += int64(n)

		if n == 0 {
			break
		}
	}

	return total, off, nil
}

// Write dispatches analogously to Read, marking touched page-cache
// regions dirty for regular files rather than writing through
// synchronously.
func (fd *FileDescriptor) Write(p []byte) (int, error) {
	vn := fd.VNode

	switch vn.Kind {
	case Fifo:
		return vn.Pipe.Write(p, fd.Flags&ONonblock != 0)
	case Char:
		if vn.TTY != nil {
			return vn.TTY.Drain(p)
		}

		fallthrough
	case Block:
		if vn.Driver == nil {
			return 0, kerrors.New(kerrors.INVALID_OPERATION, "vfs.FileDescriptor.Write: no driver")
		}

		fd.mu.Lock()
		off := fd.offset
		fd.mu.Unlock()

		n, err := vn.Driver.WriteSync(vn, p, uint64(off))
		if err == nil {
			fd.mu.Lock()
			fd.offset += int64(n)
			fd.mu.Unlock()
		}

		return n, err
	case Regular:
		return fd.writeCached(p)
	default:
		return 0, kerrors.New(kerrors.INVALID_OPERATION, "vfs.FileDescriptor.Write: unsupported vnode kind")
	}
}

func (fd *FileDescriptor) writeCached(p []byte) (int, error) {
	fd.mu.Lock()
	off := fd.offset
	fd.mu.Unlock()

	n, newOff, err := fd.writeCachedAt(p, off)
	if err == nil {
		fd.mu.Lock()
		fd.offset = newOff
		fd.mu.Unlock()
	}

	return n, err
}

// WriteAt writes a regular file at an explicit offset without moving the
// descriptor's seek position, the pwrite path.
func (fd *FileDescriptor) WriteAt(p []byte, off int64) (int, error) {
	if fd.VNode.Kind != Regular {
		return 0, kerrors.New(kerrors.INVALID_OPERATION, "vfs.FileDescriptor.WriteAt")
	}

	n, _, err := fd.writeCachedAt(p, off)

	return n, err
}

func (fd *FileDescriptor) writeCachedAt(p []byte, off int64) (int, int64, error) {
	vn := fd.VNode

	total := 0

	for total < len(p) {
		page, err := vn.Cache.Get(off, func(pageOffset int64, dst []byte) error {
			if vn.Driver == nil || pageOffset >= vn.Size {
				return nil
			}

			_, err := vn.Driver.ReadSync(vn, dst, uint64(pageOffset))

			return err
		})
		if err != nil {
			return total, off, err
		}

		pageRel := off % pageCachePageSize
		n := copy(page[pageRel:], p[total:])

		vn.Cache.DirtyRegionCreate(off-off%pageCachePageSize+pageRel, n)

		total += n
		off += int64(n)

		vn.mu.Lock()
		if off > vn.Size {
			vn.Size = off
		}
		vn.mu.Unlock()
	}

	return total, off, nil
}

// Seek repositions the descriptor's offset. whence follows the POSIX
// SEEK_SET/SEEK_CUR/SEEK_END convention (0/1/2).
func (fd *FileDescriptor) Seek(delta int64, whence int) (int64, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	switch whence {
	case 0:
		fd.offset = delta
	case 1:
		fd.offset += delta
	case 2:
		fd.offset = fd.VNode.Size + delta
	default:
		return 0, kerrors.New(kerrors.INVALID_ARGUMENT, "vfs.FileDescriptor.Seek: bad whence")
	}

	if fd.offset < 0 {
		fd.offset = 0

		return 0, kerrors.New(kerrors.INVALID_ARGUMENT, "vfs.FileDescriptor.Seek: negative offset")
	}

	return fd.offset, nil
}

// Tell reports the descriptor's current seek offset.
func (fd *FileDescriptor) Tell() int64 {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.offset
}

// Dup returns a new descriptor on the same vnode with the same flags and
// offset, taking its own vnode reference.
func (fd *FileDescriptor) Dup() *FileDescriptor {
	fd.mu.Lock()
	dup := &FileDescriptor{VNode: fd.VNode, Flags: fd.Flags, offset: fd.offset}
	fd.mu.Unlock()

	dup.VNode.Ref()

	return dup
}

// SetStatusFlags replaces the descriptor's mutable status flags (append,
// nonblocking, uncached), the fcntl F_SETFL subset; access-mode bits are
// fixed at open and preserved.
func (fd *FileDescriptor) SetStatusFlags(flags OFlag) {
	const mutable = OAppend | ONonblock | OUncached

	fd.mu.Lock()
	fd.Flags = fd.Flags&^mutable | flags&mutable
	fd.mu.Unlock()
}

// Flush pushes every dirty page-cache region of a regular file's
// descriptor back through the driver's WriteSync.
func (fd *FileDescriptor) Flush() error {
	vn := fd.VNode
	if vn.Kind != Regular || vn.Cache == nil {
		return nil
	}

	return vn.Cache.Flush(func(pageOffset int64, region []byte, regionOffset int64) error {
		if vn.Driver == nil {
			return nil
		}

		_, err := vn.Driver.WriteSync(vn, region, uint64(pageOffset+regionOffset))

		return err
	})
}
