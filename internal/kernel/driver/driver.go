// Package driver implements the dynamic driver interface: the on-disk
// driver header, a kernel symbol table undefined references resolve
// against, the loader that installs a driver's vtable and invokes its
// entry point, and PCI device-ID based autodetection. Base gives every
// driver an UNIMPLEMENTED default for whichever vfs.Driver methods it
// doesn't itself need to override.
package driver

import (
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
)

// Base implements every vfs.Driver method, returning UNIMPLEMENTED for
// anything a concrete driver doesn't override, and a harmless default
// for the handful of methods where "not supported" isn't the right
// answer (Cleanup/Probe/OnSuspend/OnWake succeed trivially; GetBlkSize
// assumes a byte-addressable device).
type Base struct{}

var _ vfs.Driver = Base{}

func (Base) Cleanup() error   { return nil }
func (Base) Probe() error     { return nil }
func (Base) OnSuspend() error { return nil }
func (Base) OnWake() error    { return nil }

func (Base) GetBlkSize(*vfs.VNode) (uint64, error) { return 1, nil }

func (Base) Ioctl(*vfs.VNode, uint64, uintptr) (uintptr, error) {
	return 0, kerrors.Unimplemented
}

func (Base) IoctlVar(*vfs.VNode, uint64, []uintptr) (uintptr, error) {
	return 0, kerrors.Unimplemented
}

func (Base) GetMaxBlkCount(*vfs.VNode) (uint64, error) { return 0, kerrors.Unimplemented }

func (Base) ReadSync(*vfs.VNode, []byte, uint64) (int, error) {
	return 0, kerrors.Unimplemented
}

func (Base) WriteSync(*vfs.VNode, []byte, uint64) (int, error) {
	return 0, kerrors.Unimplemented
}

func (Base) SubmitIRP(*vfs.IRP) error   { return kerrors.Unimplemented }
func (Base) FinalizeIRP(*vfs.IRP) error { return kerrors.Unimplemented }

func (Base) ReferenceDevice(*vfs.VNode) error   { return nil }
func (Base) UnreferenceDevice(*vfs.VNode) error { return nil }

func (Base) QueryUserReadableName(*vfs.VNode) (string, error) {
	return "", kerrors.Unimplemented
}

func (Base) ForeachDevice(func(*vfs.VNode) bool) error { return kerrors.Unimplemented }
func (Base) QueryPath(*vfs.VNode) (string, error)      { return "", kerrors.Unimplemented }

func (Base) PathSearch(*vfs.VNode, string) (*vfs.VNode, error) {
	return nil, kerrors.Unimplemented
}

func (Base) GetLinkedDesc(*vfs.VNode) (any, error) { return nil, kerrors.Unimplemented }

func (Base) MoveDescTo(*vfs.VNode, *vfs.VNode, string) error { return kerrors.Unimplemented }

func (Base) MkFile(*vfs.VNode, string, vfs.Kind, vfs.Perm) (*vfs.VNode, error) {
	return nil, kerrors.Unimplemented
}

func (Base) RemoveFile(*vfs.VNode, string) error { return kerrors.Unimplemented }

func (Base) GetFilePerms(*vfs.VNode) (vfs.Perm, error) { return 0, kerrors.Unimplemented }
func (Base) SetFilePerms(*vfs.VNode, vfs.Perm) error   { return kerrors.Unimplemented }

func (Base) GetFileType(vn *vfs.VNode) (vfs.Kind, error) { return vn.Kind, nil }

func (Base) ListDir(*vfs.VNode) ([]string, error) { return nil, kerrors.Unimplemented }
