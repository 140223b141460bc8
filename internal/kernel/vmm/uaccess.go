package vmm

import (
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/pmm"
)

// CopyIn copies len(dst) bytes from ctx's user address space starting at
// uaddr into dst, faulting in each page as needed. It is the software
// stand-in for MapViewOfUserMemory followed by a memcpy: the syscall layer
// uses it instead of a real temporary kernel mapping because this core has
// no separate kernel/user address space split to map across.
func (m *Manager) CopyIn(ctx *Context, uaddr uintptr, dst []byte) error {
	return m.copyUser(ctx, uaddr, dst, false)
}

// CopyOut copies src into ctx's user address space at uaddr, faulting in
// (and, for read-only ranges, copy-on-writing) each destination page as
// needed.
func (m *Manager) CopyOut(ctx *Context, uaddr uintptr, src []byte) error {
	return m.copyUser(ctx, uaddr, src, true)
}

func (m *Manager) copyUser(ctx *Context, uaddr uintptr, buf []byte, write bool) error {
	access := AccessUser | AccessRead
	if write {
		access = AccessUser | AccessWrite
	}

	for off := 0; off < len(buf); {
		addr := uaddr + uintptr(off)

		if err := m.PageFault(ctx, addr, access); err != nil {
			return kerrors.Wrap(kerrors.PAGE_FAULT, "vmm.copyUser", err)
		}

		ctx.mu.Lock()
		r := ctx.rangeAtLocked(addr)
		if r == nil {
			ctx.mu.Unlock()
			return kerrors.New(kerrors.PAGE_FAULT, "vmm.copyUser")
		}

		p := r.pages[pageNumber(addr)]
		meta := m.metaFor(p.frame)
		ctx.mu.Unlock()

		pageOff := addr % PageSize

		chunk := int(PageSize - pageOff)
		if chunk > len(buf)-off {
			chunk = len(buf) - off
		}

		if write {
			copy(meta.data[pageOff:pageOff+uintptr(chunk)], buf[off:off+chunk])
			meta.dirty = true
		} else {
			copy(buf[off:off+chunk], meta.data[pageOff:pageOff+uintptr(chunk)])
		}

		off += chunk
	}

	return nil
}

// PinUser faults in the page at uaddr and returns the physical frame and
// in-page byte offset backing it, the software stand-in for a real
// kernel's "pin this user page so its physical address is stable for a
// futex wait." The frame is not actually wired against eviction here
// (there is no preemptive working-set thread racing this call), but the
// interface matches what a real implementation would need to lock.
func (m *Manager) PinUser(ctx *Context, uaddr uintptr) (pmm.Frame, uint32, error) {
	if err := m.PageFault(ctx, uaddr, AccessUser|AccessRead); err != nil {
		return 0, 0, kerrors.Wrap(kerrors.PAGE_FAULT, "vmm.PinUser", err)
	}

	ctx.mu.Lock()
	r := ctx.rangeAtLocked(uaddr)
	if r == nil {
		ctx.mu.Unlock()
		return 0, 0, kerrors.New(kerrors.PAGE_FAULT, "vmm.PinUser")
	}

	p := r.pages[pageNumber(uaddr)]
	ctx.mu.Unlock()

	return p.frame, uint32(uaddr % PageSize), nil
}
