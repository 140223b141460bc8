package vfs

import (
	"sort"
	"strings"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
)

// splitDir separates path into its directory part and final component.
func splitDir(path string) (dir, name string) {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ".", path
	}

	if idx == 0 {
		return "/", path[1:]
	}

	return path[:idx], path[idx+1:]
}

// Mkdir creates a directory at path. When the parent is hosted by a
// driver, the driver's MkFile performs the creation; a purely in-memory
// parent gets a plain dirent-tree child.
func (fs *VFS) Mkdir(start *VNode, path string, perm Perm) (*VNode, error) {
	dirPath, name := splitDir(path)
	if name == "" {
		return nil, kerrors.New(kerrors.INVALID_ARGUMENT, "vfs.Mkdir")
	}

	dir, err := fs.Resolve(dirPath, start, 0)
	if err != nil {
		return nil, err
	}

	if _, ok := dir.lookupChild(name); ok {
		return nil, kerrors.New(kerrors.IN_USE, "vfs.Mkdir")
	}

	if dir.Driver != nil {
		vn, err := dir.Driver.MkFile(dir, name, Dir, perm)
		if err != nil {
			return nil, err
		}

		dir.addChild(vn)

		return vn, nil
	}

	vn := NewVNode(Dir, name, perm)
	dir.addChild(vn)

	return vn, nil
}

// MkdirAll creates every missing component of path as a directory and
// returns the final one.
func (fs *VFS) MkdirAll(path string, perm Perm) (*VNode, error) {
	cur := fs.Root

	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}

		next, err := fs.lookupOne(cur, part)
		if kerrors.Of(err) == kerrors.NOT_FOUND {
			next, err = fs.Mkdir(cur, part, perm)
		}

		if err != nil {
			return nil, err
		}

		cur = effectiveRoot(next)
	}

	return cur, nil
}

// AddDevice grafts a device vnode into the dirent tree at path, creating
// missing intermediate directories. This is how boot publishes built-in
// devices (the console TTY, the boot disk) under /dev.
func (fs *VFS) AddDevice(path string, vn *VNode) error {
	dirPath, name := splitDir(path)
	if name == "" {
		return kerrors.New(kerrors.INVALID_ARGUMENT, "vfs.AddDevice")
	}

	dir, err := fs.MkdirAll(dirPath, PermOwnerRead|PermOwnerWrite|PermOwnerExec|PermGroupRead|PermGroupExec|PermOtherRead|PermOtherExec)
	if err != nil {
		return err
	}

	if _, ok := dir.lookupChild(name); ok {
		return kerrors.New(kerrors.IN_USE, "vfs.AddDevice")
	}

	vn.Name = name
	dir.addChild(vn)

	return nil
}

// Symlink creates a symbolic link at linkPath pointing at target. The
// link itself is a dirent-tree node; the target is not required to exist.
func (fs *VFS) Symlink(start *VNode, target, linkPath string) error {
	dirPath, name := splitDir(linkPath)
	if name == "" {
		return kerrors.New(kerrors.INVALID_ARGUMENT, "vfs.Symlink")
	}

	dir, err := fs.Resolve(dirPath, start, 0)
	if err != nil {
		return err
	}

	if _, ok := dir.lookupChild(name); ok {
		return kerrors.New(kerrors.IN_USE, "vfs.Symlink")
	}

	vn := NewVNode(Symlink, name, PermOwnerRead|PermGroupRead|PermOtherRead)
	vn.SymlinkTarget = target
	dir.addChild(vn)

	return nil
}

// ReadLink resolves path up to, but not through, its final component and
// returns that component's symlink target.
func (fs *VFS) ReadLink(start *VNode, path string) (string, error) {
	dirPath, name := splitDir(path)

	dir, err := fs.Resolve(dirPath, start, 0)
	if err != nil {
		return "", err
	}

	vn, err := fs.lookupOne(dir, name)
	if err != nil {
		return "", err
	}

	if vn.Kind != Symlink {
		return "", kerrors.New(kerrors.INVALID_FILE, "vfs.ReadLink")
	}

	return vn.SymlinkTarget, nil
}

// Unlink removes the file or empty directory named by path, asking the
// hosting driver to remove its backing object first when one exists.
func (fs *VFS) Unlink(start *VNode, path string) error {
	dirPath, name := splitDir(path)

	dir, err := fs.Resolve(dirPath, start, 0)
	if err != nil {
		return err
	}

	vn, err := fs.lookupOne(dir, name)
	if err != nil {
		return err
	}

	if vn.IsMountPoint {
		return kerrors.New(kerrors.IN_USE, "vfs.Unlink")
	}

	vn.mu.Lock()
	nChildren := len(vn.children)
	vn.mu.Unlock()

	if vn.Kind == Dir && nChildren > 0 {
		return kerrors.New(kerrors.IN_USE, "vfs.Unlink")
	}

	if dir.Driver != nil {
		if err := dir.Driver.RemoveFile(dir, name); err != nil && kerrors.Of(err) != kerrors.UNIMPLEMENTED {
			return err
		}
	}

	dir.removeChild(name)

	return nil
}

// ListDir returns the names under the directory vnode dir, merging the
// in-memory dirent children with whatever the hosting driver reports.
func (fs *VFS) ListDir(dir *VNode) ([]string, error) {
	dir = effectiveRoot(dir)
	if dir.Kind != Dir {
		return nil, kerrors.New(kerrors.INVALID_FILE, "vfs.ListDir")
	}

	seen := make(map[string]bool)

	dir.mu.Lock()
	for name := range dir.children {
		seen[name] = true
	}
	dir.mu.Unlock()

	if dir.Driver != nil {
		names, err := dir.Driver.ListDir(dir)
		if err != nil && kerrors.Of(err) != kerrors.UNIMPLEMENTED {
			return nil, err
		}

		for _, name := range names {
			seen[name] = true
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}

	sort.Strings(out)

	return out, nil
}

// Unmount detaches the filesystem mounted at path, failing with NOT_FOUND
// if path is not a mount point.
func (fs *VFS) Unmount(path string) error {
	fs.mu.Lock()
	_, ok := fs.mounts[cleanPath(path)]
	if ok {
		delete(fs.mounts, cleanPath(path))
	}
	fs.mu.Unlock()

	if !ok {
		return kerrors.New(kerrors.NOT_FOUND, "vfs.Unmount")
	}

	fs.clearMountPoint(path)

	return nil
}

// clearMountPoint finds the dirent covered by the mount at path (without
// following the mount itself) and clears its mount-point marker.
func (fs *VFS) clearMountPoint(path string) {
	cur := fs.Root

	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}

		next, ok := cur.lookupChild(part)
		if !ok {
			return
		}

		cur = next
	}

	cur.mu.Lock()
	cur.IsMountPoint = false
	cur.Mounted = nil
	cur.mu.Unlock()
}
