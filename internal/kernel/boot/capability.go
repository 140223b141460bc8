package boot

import (
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/proc"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
)

// DefaultPermPrefix is the directory capability files live under, matching
// the OBOS_PERM_PREFIX the original kernel reads.
const DefaultPermPrefix = "/etc/obos/perms"

// Capability names one named permission, e.g. "mount" or "load_driver".
type Capability string

// CheckCapability decides whether creds may exercise cap, reading the
// capability database (a directory of regular files under prefix, dogfooding
// the VFS for kernel-internal policy) per the rule: each file's
// {owner uid, group gid, owner-exec, group-exec, other-exec} bits encode
// {owner, group, allow_user, allow_group, allow_other}. A missing file
// permits root and denies everyone else; an existing file is checked
// against the calling credentials' euid/egid/supplementary groups, honoring
// the file's default-allow-other bit.
func CheckCapability(fs *vfs.VFS, prefix string, cap Capability, creds proc.Credentials) error {
	vn, err := fs.Resolve(prefix+"/"+string(cap), fs.Root, 0)
	if err != nil {
		if creds.EUID == 0 {
			return nil
		}

		return kerrors.AccessDenied
	}

	allowUser := vn.Perm&vfs.PermOwnerExec != 0
	allowGroup := vn.Perm&vfs.PermGroupExec != 0
	allowOther := vn.Perm&vfs.PermOtherExec != 0

	switch {
	case allowUser && creds.EUID == vn.UID:
		return nil
	case allowGroup && creds.HasGroup(vn.GID):
		return nil
	case allowOther:
		return nil
	default:
		return kerrors.AccessDenied
	}
}
