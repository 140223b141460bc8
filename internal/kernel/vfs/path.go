package vfs

import (
	"strings"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
)

// maxSymlinkHops bounds symlink resolution so a cycle (or a very deep
// chain) fails with an error instead of looping forever.
const maxSymlinkHops = 16

// Resolve walks path component by component starting at start (the root
// for an absolute path, or the caller's cwd vnode for a relative one),
// transparently following mount points and, up to maxSymlinkHops times,
// symlinks. Each component lookup first checks the in-memory dirent tree;
// on a cache miss it calls the hosting driver's PathSearch.
func (fs *VFS) Resolve(path string, start *VNode, hops int) (*VNode, error) {
	if hops > maxSymlinkHops {
		return nil, kerrors.New(kerrors.INVALID_FILE, "vfs.Resolve: too many symlink hops")
	}

	cur := fs.Root
	if !strings.HasPrefix(path, "/") {
		cur = start
	}

	cur = effectiveRoot(cur)

	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}

		if part == ".." {
			if cur.parent != nil {
				cur = cur.parent
			}

			continue
		}

		next, err := fs.lookupOne(cur, part)
		if err != nil {
			return nil, err
		}

		next = effectiveRoot(next)

		if next.Kind == Symlink {
			target, err := fs.Resolve(next.SymlinkTarget, cur, hops+1)
			if err != nil {
				return nil, err
			}

			next = target
		}

		cur = next
	}

	return cur, nil
}

func (fs *VFS) lookupOne(dir *VNode, name string) (*VNode, error) {
	if dir.Kind != Dir {
		return nil, kerrors.New(kerrors.INVALID_FILE, "vfs.lookupOne")
	}

	if c, ok := dir.lookupChild(name); ok {
		return c, nil
	}

	if dir.Driver != nil {
		vn, err := dir.Driver.PathSearch(dir, name)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.NOT_FOUND, "vfs.lookupOne", err)
		}

		dir.addChild(vn)

		return vn, nil
	}

	return nil, kerrors.New(kerrors.NOT_FOUND, "vfs.lookupOne")
}

// checkPerm validates one of the read/write/execute bits of vn's
// permission triple against the calling credentials' uid/euid, gid/egid
// (and supplementary groups, via hasGroup).
func checkPerm(vn *VNode, uid, gid uint32, hasGroup func(uint32) bool, want Perm) error {
	var bits Perm

	switch {
	case vn.UID == uid:
		bits = Perm(uint16(vn.Perm) >> 6 & 0x7)
	case vn.GID == gid || (hasGroup != nil && hasGroup(vn.GID)):
		bits = Perm(uint16(vn.Perm) >> 3 & 0x7)
	default:
		bits = Perm(uint16(vn.Perm) & 0x7)
	}

	need := uint16(want) & 0x7

	if uint16(bits)&need != need {
		return kerrors.New(kerrors.ACCESS_DENIED, "vfs.checkPerm")
	}

	return nil
}
