package vfs

import (
	"testing"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
)

func TestMkdirAllCreatesIntermediateDirs(t *testing.T) {
	fs := New()

	leaf, err := fs.MkdirAll("/a/b/c", PermOwnerRead|PermOwnerWrite|PermOwnerExec)
	if err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	got, err := fs.Resolve("/a/b/c", fs.Root, 0)
	if err != nil {
		t.Fatalf("Resolve after MkdirAll: %v", err)
	}

	if got != leaf {
		t.Fatal("Resolve found a different vnode than MkdirAll returned")
	}
}

func TestAddDeviceGraftsUnderNewDirectory(t *testing.T) {
	fs := New()

	dev := NewVNode(Char, "", PermOwnerRead|PermOwnerWrite)
	if err := fs.AddDevice("/dev/console", dev); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	got, err := fs.Resolve("/dev/console", fs.Root, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if got != dev {
		t.Fatal("resolved vnode is not the grafted device")
	}

	if got.Name != "console" {
		t.Fatalf("device name = %q, want %q", got.Name, "console")
	}

	if err := fs.AddDevice("/dev/console", NewVNode(Char, "", 0)); kerrors.Of(err) != kerrors.IN_USE {
		t.Fatalf("second AddDevice = %v, want IN_USE", err)
	}
}

func TestSymlinkReadLinkAndResolution(t *testing.T) {
	fs := newTestFS()

	if _, err := fs.MkdirAll("/data", PermOwnerRead|PermOwnerWrite|PermOwnerExec); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := fs.Symlink(fs.Root, "/data", "/d"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	target, err := fs.ReadLink(fs.Root, "/d")
	if err != nil {
		t.Fatalf("ReadLink: %v", err)
	}

	if target != "/data" {
		t.Fatalf("ReadLink = %q, want %q", target, "/data")
	}

	vn, err := fs.Resolve("/d", fs.Root, 0)
	if err != nil {
		t.Fatalf("Resolve through symlink: %v", err)
	}

	if vn.Kind != Dir {
		t.Fatalf("resolved kind = %v, want Dir", vn.Kind)
	}
}

func TestUnlinkRemovesFileButNotNonEmptyDir(t *testing.T) {
	fs := newTestFS()

	if _, err := fs.FdOpen(fs.Root, "/victim", OWrite|OCreate, 0, 0, nil); err != nil {
		t.Fatalf("creating file: %v", err)
	}

	if err := fs.Unlink(fs.Root, "/victim"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	if _, err := fs.Resolve("/victim", fs.Root, 0); kerrors.Of(err) != kerrors.NOT_FOUND {
		t.Fatalf("Resolve after Unlink = %v, want NOT_FOUND", err)
	}

	if _, err := fs.MkdirAll("/full/child", PermOwnerRead|PermOwnerWrite|PermOwnerExec); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := fs.Unlink(fs.Root, "/full"); kerrors.Of(err) != kerrors.IN_USE {
		t.Fatalf("Unlink of non-empty dir = %v, want IN_USE", err)
	}
}

func TestListDirReturnsSortedNames(t *testing.T) {
	fs := newTestFS()

	for _, name := range []string{"/zeta", "/alpha", "/mid"} {
		if _, err := fs.FdOpen(fs.Root, name, OWrite|OCreate, 0, 0, nil); err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
	}

	names, err := fs.ListDir(fs.Root)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}

	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("ListDir = %v, want %v", names, want)
	}

	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ListDir = %v, want %v", names, want)
		}
	}
}

func TestMountAndUnmountRoundTrip(t *testing.T) {
	fs := newTestFS()

	if _, err := fs.MkdirAll("/mnt", PermOwnerRead|PermOwnerWrite|PermOwnerExec); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	fsRoot := NewVNode(Dir, "other", PermOwnerRead|PermOwnerWrite|PermOwnerExec)
	inner := NewVNode(Regular, "inside", PermOwnerRead)
	fsRoot.addChild(inner)

	if err := fs.Mount("/mnt", fsRoot); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	vn, err := fs.Resolve("/mnt/inside", fs.Root, 0)
	if err != nil || vn != inner {
		t.Fatalf("Resolve through mount: got %v, %v", vn, err)
	}

	if err := fs.Unmount("/mnt"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}

	if _, err := fs.Resolve("/mnt/inside", fs.Root, 0); err == nil {
		t.Fatal("mount contents still resolvable after Unmount")
	}

	if err := fs.Unmount("/mnt"); kerrors.Of(err) != kerrors.NOT_FOUND {
		t.Fatalf("second Unmount = %v, want NOT_FOUND", err)
	}
}

func TestFileDescriptorReadAtDoesNotMoveOffset(t *testing.T) {
	fs := newTestFS()

	fd, err := fs.FdOpen(fs.Root, "/pread", ORead|OWrite|OCreate, 0, 0, nil)
	if err != nil {
		t.Fatalf("FdOpen: %v", err)
	}

	if _, err := fd.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 4)

	n, err := fd.ReadAt(buf, 3)
	if err != nil || n != 4 {
		t.Fatalf("ReadAt: n=%d err=%v", n, err)
	}

	if string(buf) != "3456" {
		t.Fatalf("ReadAt = %q, want %q", buf, "3456")
	}

	if fd.Tell() != 10 {
		t.Fatalf("offset moved to %d by ReadAt, want 10", fd.Tell())
	}

	if _, err := fd.WriteAt([]byte("xx"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	if _, err := fd.ReadAt(buf[:2], 0); err != nil {
		t.Fatalf("ReadAt after WriteAt: %v", err)
	}

	if string(buf[:2]) != "xx" {
		t.Fatalf("WriteAt not visible: got %q", buf[:2])
	}
}

func TestDupSharesVnodeButNotOffsetMutation(t *testing.T) {
	fs := newTestFS()

	fd, err := fs.FdOpen(fs.Root, "/dupme", ORead|OWrite|OCreate, 0, 0, nil)
	if err != nil {
		t.Fatalf("FdOpen: %v", err)
	}

	if _, err := fd.Write([]byte("abcd")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dup := fd.Dup()
	if dup.VNode != fd.VNode {
		t.Fatal("Dup returned a descriptor on a different vnode")
	}

	if dup.Tell() != fd.Tell() {
		t.Fatal("Dup did not carry the offset")
	}

	if _, err := fd.Seek(0, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if dup.Tell() == 0 {
		t.Fatal("seeking the original moved the dup's offset")
	}
}
