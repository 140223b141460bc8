package vfs

import (
	"testing"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/ksignal"
)

// memDriver is an in-memory filesystem driver for tests: MkFile creates a
// vnode backed by a growable byte slice kept in DevDesc, PathSearch and
// ReadSync/WriteSync operate on it directly with no real block device.
type memDriver struct{ base }

// base implements every Driver method as UNIMPLEMENTED so memDriver only
// needs to override what the tests exercise, mirroring how a real driver
// embeds driver.Base.
type base struct{}

func (base) Cleanup() error                                           { return nil }
func (base) Ioctl(*VNode, uint64, uintptr) (uintptr, error)            { return 0, kerrors.Unimplemented }
func (base) IoctlVar(*VNode, uint64, []uintptr) (uintptr, error)       { return 0, kerrors.Unimplemented }
func (base) GetBlkSize(*VNode) (uint64, error)                         { return 1, nil }
func (base) GetMaxBlkCount(*VNode) (uint64, error)                     { return 0, kerrors.Unimplemented }
func (base) SubmitIRP(*IRP) error                                      { return kerrors.Unimplemented }
func (base) FinalizeIRP(*IRP) error                                    { return kerrors.Unimplemented }
func (base) ReferenceDevice(*VNode) error                              { return nil }
func (base) UnreferenceDevice(*VNode) error                            { return nil }
func (base) QueryUserReadableName(*VNode) (string, error)              { return "", kerrors.Unimplemented }
func (base) ForeachDevice(func(*VNode) bool) error                     { return kerrors.Unimplemented }
func (base) QueryPath(*VNode) (string, error)                          { return "", kerrors.Unimplemented }
func (base) GetLinkedDesc(*VNode) (any, error)                         { return nil, kerrors.Unimplemented }
func (base) MoveDescTo(*VNode, *VNode, string) error                   { return kerrors.Unimplemented }
func (base) RemoveFile(*VNode, string) error                           { return kerrors.Unimplemented }
func (base) GetFilePerms(*VNode) (Perm, error)                         { return 0, kerrors.Unimplemented }
func (base) SetFilePerms(*VNode, Perm) error                           { return kerrors.Unimplemented }
func (base) GetFileType(vn *VNode) (Kind, error)                       { return vn.Kind, nil }
func (base) ListDir(*VNode) ([]string, error)                          { return nil, kerrors.Unimplemented }
func (base) Probe() error                                              { return nil }
func (base) OnSuspend() error                                          { return nil }
func (base) OnWake() error                                             { return nil }
func (base) ReadSync(*VNode, []byte, uint64) (int, error)              { return 0, kerrors.Unimplemented }
func (base) WriteSync(*VNode, []byte, uint64) (int, error)             { return 0, kerrors.Unimplemented }
func (base) PathSearch(*VNode, string) (*VNode, error)                 { return nil, kerrors.Unimplemented }
func (base) MkFile(*VNode, string, Kind, Perm) (*VNode, error)         { return nil, kerrors.Unimplemented }

func (memDriver) ReadSync(vn *VNode, buf []byte, blkOffset uint64) (int, error) {
	data, _ := vn.DevDesc.([]byte)
	if blkOffset >= uint64(len(data)) {
		return 0, nil
	}

	n := copy(buf, data[blkOffset:])

	return n, nil
}

func (memDriver) WriteSync(vn *VNode, buf []byte, blkOffset uint64) (int, error) {
	data, _ := vn.DevDesc.([]byte)

	end := blkOffset + uint64(len(buf))
	if end > uint64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}

	copy(data[blkOffset:], buf)
	vn.DevDesc = data

	return len(buf), nil
}

func (memDriver) MkFile(dir *VNode, name string, kind Kind, perm Perm) (*VNode, error) {
	vn := NewVNode(kind, name, perm)
	vn.Driver = memDriver{}
	vn.DevDesc = []byte{}

	return vn, nil
}

func newTestFS() *VFS {
	fs := New()
	fs.Root.Driver = memDriver{}

	return fs
}

func TestResolveWalksDotDotAndNestedDirs(t *testing.T) {
	fs := newTestFS()

	sub := NewVNode(Dir, "sub", PermOwnerRead|PermOwnerWrite|PermOwnerExec)
	sub.Driver = memDriver{}
	fs.Root.addChild(sub)

	leaf := NewVNode(Regular, "leaf", PermOwnerRead|PermOwnerWrite)
	leaf.Driver = memDriver{}
	sub.addChild(leaf)

	vn, err := fs.Resolve("/sub/leaf", fs.Root, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if vn != leaf {
		t.Fatalf("expected to resolve leaf vnode")
	}

	back, err := fs.Resolve("/sub/../sub/leaf", fs.Root, 0)
	if err != nil || back != leaf {
		t.Fatalf("Resolve with ..: got %v, %v", back, err)
	}
}

func TestFdOpenCreatesAndWritesThenReadsBack(t *testing.T) {
	fs := newTestFS()

	fd, err := fs.FdOpen(fs.Root, "/newfile", ORead|OWrite|OCreate, 0, 0, nil)
	if err != nil {
		t.Fatalf("FdOpen: %v", err)
	}

	if _, err := fd.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := fd.Seek(0, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	buf := make([]byte, 32)

	n, err := fd.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if string(buf[:n]) != "hello world" {
		t.Fatalf("got %q, want %q", buf[:n], "hello world")
	}
}

func TestFdOpenDeniesAccessWithoutPermission(t *testing.T) {
	fs := newTestFS()

	vn := NewVNode(Regular, "locked", PermOwnerRead|PermOwnerWrite)
	vn.UID = 1
	vn.Driver = memDriver{}
	vn.DevDesc = []byte{}
	fs.Root.addChild(vn)

	if _, err := fs.FdOpen(fs.Root, "/locked", ORead, 2, 2, nil); err == nil {
		t.Fatalf("expected access denied for non-owner read")
	}
}

func TestPipeRoundTripsAndRespectsPipeBufAtomicity(t *testing.T) {
	p := NewPipe(0)
	writeErr := make(chan error, 1)

	go func() {
		_, err := p.Write([]byte("chunk"), false)
		writeErr <- err
	}()

	buf := make([]byte, 16)

	n, err := p.Read(buf, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if string(buf[:n]) != "chunk" {
		t.Fatalf("got %q", buf[:n])
	}

	if err := <-writeErr; err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestPipeReadReturnsEOFAfterWriterCloses(t *testing.T) {
	p := NewPipe(0)
	p.CloseWriter()

	buf := make([]byte, 8)

	n, err := p.Read(buf, false)
	if err != nil || n != 0 {
		t.Fatalf("expected clean EOF, got n=%d err=%v", n, err)
	}
}

func TestTTYCanonicalModeBuffersUntilNewline(t *testing.T) {
	tty := NewTTY()

	for _, b := range []byte("hi\n") {
		tty.Input(b)
	}

	line := tty.Read()
	if string(line) != "hi\n" {
		t.Fatalf("got %q, want %q", line, "hi\n")
	}
}

func TestTTYEraseRemovesLastByte(t *testing.T) {
	tty := NewTTY()

	for _, b := range []byte("hix") {
		tty.Input(b)
	}

	tty.Input(tty.Termios.VERASE)
	tty.Input('\n')

	line := tty.Read()
	if string(line) != "hi\n" {
		t.Fatalf("got %q, want %q", line, "hi\n")
	}
}

func TestTTYInterruptRaisesSIGINTAgainstForegroundGroup(t *testing.T) {
	tty := NewTTY()

	var gotPG any
	var gotSig ksignal.Sig

	tty.Foreground = "the-foreground-group"
	tty.RaiseSignal = func(pg any, sig ksignal.Sig) {
		gotPG = pg
		gotSig = sig
	}

	tty.Input(tty.Termios.VINTR)

	if gotSig != ksignal.SIGINT {
		t.Fatalf("got signal %v, want SIGINT", gotSig)
	}

	if gotPG != "the-foreground-group" {
		t.Fatalf("signal delivered to wrong group: %v", gotPG)
	}
}

func TestRegistryNewSocketFailsWithoutBackend(t *testing.T) {
	r := NewRegistry()

	if _, err := r.NewSocket(AF_INET, SOCK_STREAM); err == nil {
		t.Fatalf("expected error for unregistered family/type")
	}
}
