package driver

import (
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
)

// RAMFS is the built-in memory-backed filesystem driver: the root
// filesystem for boots without a disk image, and the mountable backing
// for /tmp-style scratch mounts. File contents live in a per-vnode byte
// slice hung off the vnode's DevDesc cookie; directories are plain
// dirent-tree nodes.
type RAMFS struct {
	Base
}

var _ vfs.Driver = (*RAMFS)(nil)

// ramFile is the per-regular-file DevDesc payload.
type ramFile struct {
	mu   sync.Mutex
	data []byte
}

// NewRAMFS creates a RAMFS driver instance.
func NewRAMFS() *RAMFS { return &RAMFS{} }

// RAMFSHeader returns the driver header a loaded RAMFS presents,
// equivalent to the obos.driver.header section a relocatable binary
// would carry.
func RAMFSHeader() Header {
	h := Header{
		Magic:   Magic,
		Flags:   FlagHasStandardInterfaces | FlagHasVersion,
		Version: 1,
	}
	copy(h.DriverName[:], "ramfs")

	return h
}

func fileOf(vn *vfs.VNode) (*ramFile, error) {
	f, ok := vn.DevDesc.(*ramFile)
	if !ok {
		return nil, kerrors.New(kerrors.INVALID_FILE, "driver.RAMFS: vnode has no ram file")
	}

	return f, nil
}

func (*RAMFS) MkFile(dir *vfs.VNode, name string, kind vfs.Kind, perm vfs.Perm) (*vfs.VNode, error) {
	switch kind {
	case vfs.Regular, vfs.Dir, vfs.Fifo, vfs.Symlink:
	default:
		return nil, kerrors.New(kerrors.INVALID_ARGUMENT, "driver.RAMFS.MkFile")
	}

	vn := vfs.NewVNode(kind, name, perm)
	vn.Driver = dirDriver(dir)

	if kind == vfs.Regular {
		vn.DevDesc = &ramFile{}
	}

	return vn, nil
}

// dirDriver propagates the hosting driver down to created children so
// every vnode of one RAMFS instance answers to the same vtable.
func dirDriver(dir *vfs.VNode) vfs.Driver { return dir.Driver }

func (*RAMFS) RemoveFile(dir *vfs.VNode, name string) error {
	// Contents are reclaimed with the vnode; the dirent-tree removal the
	// VFS performs is the whole of the on-"disk" deletion.
	return nil
}

// ReadSync and WriteSync transfer bytes at a 1-byte block size, so
// blkOffset is simply the byte offset; the page cache above issues
// page-sized transfers through these.
func (*RAMFS) ReadSync(vn *vfs.VNode, buf []byte, blkOffset uint64) (int, error) {
	f, err := fileOf(vn)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if blkOffset >= uint64(len(f.data)) {
		return 0, nil
	}

	return copy(buf, f.data[blkOffset:]), nil
}

func (*RAMFS) WriteSync(vn *vfs.VNode, buf []byte, blkOffset uint64) (int, error) {
	f, err := fileOf(vn)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if need := blkOffset + uint64(len(buf)); need > uint64(len(f.data)) {
		grown := make([]byte, need)
		copy(grown, f.data)
		f.data = grown
	}

	copy(f.data[blkOffset:], buf)

	if int64(blkOffset)+int64(len(buf)) > vn.Size {
		vn.Size = int64(blkOffset) + int64(len(buf))
	}

	return len(buf), nil
}

func (*RAMFS) GetBlkSize(*vfs.VNode) (uint64, error) { return 1, nil }

func (*RAMFS) GetMaxBlkCount(vn *vfs.VNode) (uint64, error) {
	f, err := fileOf(vn)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return uint64(len(f.data)), nil
}

// SubmitIRP completes every request synchronously: the transfer happens
// here and Evnt stays nil, the "already complete" case the IRP contract
// allows. A dry-run reports the transferable block count without moving
// any data.
func (d *RAMFS) SubmitIRP(irp *vfs.IRP) error {
	if irp.VNode == nil {
		return kerrors.New(kerrors.INVALID_ARGUMENT, "driver.RAMFS.SubmitIRP")
	}

	if irp.DryOp {
		irp.NBlkDone = irp.BlkCount
		irp.Status = nil

		return nil
	}

	var (
		n   int
		err error
	)

	switch irp.Op {
	case vfs.IRPRead:
		n, err = d.ReadSync(irp.VNode, irp.Buff[:irp.BlkCount], irp.BlkOffset)
	case vfs.IRPWrite:
		n, err = d.WriteSync(irp.VNode, irp.Buff[:irp.BlkCount], irp.BlkOffset)
	default:
		err = kerrors.New(kerrors.INVALID_OPERATION, "driver.RAMFS.SubmitIRP")
	}

	irp.NBlkDone = uint64(n)
	irp.Status = err

	return nil
}

// FinalizeIRP has nothing left to do: SubmitIRP filled the result fields
// when it completed the transfer in-line.
func (*RAMFS) FinalizeIRP(*vfs.IRP) error { return nil }

func (*RAMFS) GetFilePerms(vn *vfs.VNode) (vfs.Perm, error) { return vn.Perm, nil }

func (*RAMFS) SetFilePerms(vn *vfs.VNode, p vfs.Perm) error {
	vn.Perm = p

	return nil
}

func (*RAMFS) QueryUserReadableName(*vfs.VNode) (string, error) {
	return "memory-backed filesystem", nil
}

// ListDir reports no names of its own: every RAMFS object lives in the
// in-memory dirent tree the VFS already walks.
func (*RAMFS) ListDir(*vfs.VNode) ([]string, error) { return nil, nil }
