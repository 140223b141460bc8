// Package vfs implements the unified virtual file system: a dirent tree
// rooted at "/", mount points, file descriptors, a per-vnode page cache,
// the IRP async-I/O framework, pipes, TTYs, and the socket vtable. Driver
// polymorphism collapses to one Driver interface; drivers that don't
// implement a given method embed a base that returns UNIMPLEMENTED.
package vfs

import (
	"strings"
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
)

// Kind is a vnode's type tag, replacing the kind-specific polymorphism of
// a traditional inode hierarchy with one tagged variant.
type Kind int

const (
	Regular Kind = iota
	Dir
	Block
	Char
	Fifo
	Symlink
	SockFile
	EventDev
)

// Perm is a permission triple's bits, owner/group/other x r/w/x, the same
// bit layout as POSIX mode bits 0-8.
type Perm uint16

const (
	PermOtherExec Perm = 1 << iota
	PermOtherWrite
	PermOtherRead
	PermGroupExec
	PermGroupWrite
	PermGroupRead
	PermOwnerExec
	PermOwnerWrite
	PermOwnerRead
)

// OFlag is an FdOpen open-flags bit.
type OFlag uint32

const (
	ORead OFlag = 1 << iota
	OWrite
	OExec
	OAppend
	OCreate
	OTrunc
	OUncached
	ONonblock
)

// Driver is the 24-method vtable every driver implements, replacing the
// original's function-pointer struct with a Go interface. Concrete drivers
// embed driver.Base (defined in the driver package) to inherit an
// UNIMPLEMENTED default for any method they don't override.
type Driver interface {
	Cleanup() error
	Ioctl(vn *VNode, request uint64, arg uintptr) (uintptr, error)
	IoctlVar(vn *VNode, request uint64, args []uintptr) (uintptr, error)
	GetBlkSize(vn *VNode) (uint64, error)
	GetMaxBlkCount(vn *VNode) (uint64, error)
	ReadSync(vn *VNode, buf []byte, blkOffset uint64) (int, error)
	WriteSync(vn *VNode, buf []byte, blkOffset uint64) (int, error)
	SubmitIRP(irp *IRP) error
	FinalizeIRP(irp *IRP) error
	ReferenceDevice(vn *VNode) error
	UnreferenceDevice(vn *VNode) error
	QueryUserReadableName(vn *VNode) (string, error)
	ForeachDevice(fn func(vn *VNode) bool) error
	QueryPath(vn *VNode) (string, error)
	PathSearch(dir *VNode, name string) (*VNode, error)
	GetLinkedDesc(vn *VNode) (any, error)
	MoveDescTo(vn *VNode, newParent *VNode, newName string) error
	MkFile(dir *VNode, name string, kind Kind, perm Perm) (*VNode, error)
	RemoveFile(dir *VNode, name string) error
	GetFilePerms(vn *VNode) (Perm, error)
	SetFilePerms(vn *VNode, p Perm) error
	GetFileType(vn *VNode) (Kind, error)
	ListDir(dir *VNode) ([]string, error)
	Probe() error
	OnSuspend() error
	OnWake() error
}

// VNode is a filesystem object: exactly one per underlying file, whatever
// driver or mount hosts it.
type VNode struct {
	Kind Kind
	Name string

	Perm    Perm
	UID     uint32
	GID     uint32
	Size    int64
	refs    int32

	Driver  Driver
	DevDesc any // opaque per-driver cookie

	IsMountPoint  bool
	Mounted       *VNode // the mounted filesystem's root, when IsMountPoint
	SymlinkTarget string // absolute or relative path, when Kind == Symlink

	Cache *PageCache

	// Tagged payload: at most one of these is non-nil, selected by Kind.
	Pipe   *Pipe
	TTY    *TTY
	Socket *Socket

	mu       sync.Mutex
	parent   *VNode
	children map[string]*VNode
}

// NewVNode creates a vnode of the given kind, with an empty page cache for
// regular files.
func NewVNode(kind Kind, name string, perm Perm) *VNode {
	v := &VNode{Kind: kind, Name: name, Perm: perm}

	if kind == Regular {
		v.Cache = NewPageCache()
	}

	if kind == Dir {
		v.children = make(map[string]*VNode)
	}

	return v
}

// Ref and Unref implement the vnode reference count; Unref does not itself
// free anything in this model since Go's GC reclaims unreachable vnodes,
// but the count is kept for driver Reference/UnreferenceDevice
// bookkeeping and diagnostics.
func (v *VNode) Ref()   { v.mu.Lock(); v.refs++; v.mu.Unlock() }
func (v *VNode) Unref() { v.mu.Lock(); v.refs--; v.mu.Unlock() }
func (v *VNode) Refs() int32 {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.refs
}

// lookupChild finds name directly under v, following a mount point
// transparently if v is one.
func (v *VNode) lookupChild(name string) (*VNode, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.children[name]

	return c, ok
}

func (v *VNode) addChild(c *VNode) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.children == nil {
		v.children = make(map[string]*VNode)
	}

	c.parent = v
	v.children[c.Name] = c
}

func (v *VNode) removeChild(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.children, name)
}

// effectiveRoot follows a mount point to the mounted filesystem's root;
// call on every vnode encountered during path resolution.
func effectiveRoot(v *VNode) *VNode {
	for v.IsMountPoint && v.Mounted != nil {
		v = v.Mounted
	}

	return v
}

// VFS is the kernel-wide filesystem state: the dirent tree root and the
// mount table.
type VFS struct {
	Root *VNode

	mu     sync.Mutex
	mounts map[string]*VNode
}

// New creates a VFS with an empty root directory.
func New() *VFS {
	return &VFS{
		Root:   NewVNode(Dir, "/", PermOwnerRead|PermOwnerWrite|PermOwnerExec|PermGroupRead|PermGroupExec|PermOtherRead|PermOtherExec),
		mounts: make(map[string]*VNode),
	}
}

// Mount grafts fsRoot (the root vnode of a filesystem instance served by
// drv) onto the dirent tree at the existing directory found by path.
func (fs *VFS) Mount(path string, fsRoot *VNode) error {
	target, err := fs.Resolve(path, fs.Root, 0)
	if err != nil {
		return err
	}

	if target.Kind != Dir {
		return kerrors.New(kerrors.INVALID_ARGUMENT, "vfs.Mount")
	}

	target.mu.Lock()
	target.IsMountPoint = true
	target.Mounted = fsRoot
	target.mu.Unlock()

	fs.mu.Lock()
	fs.mounts[cleanPath(path)] = fsRoot
	fs.mu.Unlock()

	return nil
}

func cleanPath(p string) string {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "/"
	}

	return p
}
