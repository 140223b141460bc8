package vmm

import (
	"sync/atomic"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/pmm"
)

var (
	softFaults atomic.Uint64
	hardFaults atomic.Uint64
)

// FaultStats reports global soft/hard page fault counters.
func FaultStats() (soft, hard uint64) {
	return softFaults.Load(), hardFaults.Load()
}

func pageNumber(addr uintptr) uintptr { return addr - addr%PageSize }

// allocFrame takes one fresh, zeroed frame from the PMM and registers its
// metadata with refcount 1.
func (m *Manager) allocFrame() (*frameMeta, pmm.Frame, error) {
	f, err := m.pmm.Allocate(1, 1)
	if err != nil {
		return nil, 0, kerrors.Wrap(kerrors.NOT_ENOUGH_MEMORY, "vmm.allocFrame", err)
	}

	meta := &frameMeta{refcount: 1}

	m.mu.Lock()
	m.frames[f] = meta
	m.mu.Unlock()

	return meta, pmm.Frame(f), nil
}

func (m *Manager) metaFor(f pmm.Frame) *frameMeta {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.frames[f]
}

// refFrame increments a frame's sharer count, used when a CoW fork adds a
// second owner.
func (m *Manager) refFrame(f pmm.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if meta := m.frames[f]; meta != nil {
		meta.refcount++
	}
}

// derefFrame drops a frame's sharer count, returning it to the PMM once the
// last owner releases it.
func (m *Manager) derefFrame(f pmm.Frame) {
	m.mu.Lock()
	meta := m.frames[f]
	if meta == nil {
		m.mu.Unlock()
		return
	}

	meta.refcount--
	dead := meta.refcount <= 0

	if dead {
		delete(m.frames, f)
	}
	m.mu.Unlock()

	if dead {
		_ = m.pmm.Free(f, 1)
	}
}

// dropSharer removes p from f's symmetric-CoW sharer list. If exactly one
// sharer then remains on a no-longer-shared frame, that sibling's mapping
// is restored to writable in place, so it takes no further CoW fault.
func (m *Manager) dropSharer(f pmm.Frame, p *pte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta := m.frames[f]
	if meta == nil {
		return
	}

	for i, s := range meta.sharers {
		if s == p {
			meta.sharers = append(meta.sharers[:i], meta.sharers[i+1:]...)
			break
		}
	}

	if meta.cow == cowSymmetric && meta.refcount == 1 && len(meta.sharers) == 1 {
		meta.sharers[0].writable = true
		meta.sharers = nil
		meta.cow = cowNone
	}
}

// releasePTE tears down one page-table entry, releasing whatever resource
// (frame or swap slot) it refers to.
func (m *Manager) releasePTE(p *pte) {
	if p.present {
		f := p.frame
		m.derefFrame(f)
		m.dropSharer(f, p)
	}

	if p.isSwap && p.swap != nil {
		p.swap.refcount--
		if p.swap.refcount <= 0 {
			p.swap.provider.Free(p.swap.id)
		}
	}
}

// populate makes va present in r, allocating a frame and filling it from
// r.Backing (if any) or with zeroes. ctx.mu must already be held by the
// caller.
func (m *Manager) populate(ctx *Context, r *Range, va uintptr) (*pte, error) {
	if p, ok := r.pages[va]; ok && p.present {
		return p, nil
	}

	meta, f, err := m.allocFrame()
	if err != nil {
		return nil, err
	}

	if r.Backing != nil {
		off := r.FileOffset + uint64(va-r.Base)
		if err := r.Backing.ReadPage(off, meta.data[:]); err != nil {
			m.derefFrame(f)
			return nil, kerrors.Wrap(kerrors.INTERNAL_ERROR, "vmm.populate", err)
		}

		meta.backing = r.Backing

		hardFaults.Add(1)
	} else {
		softFaults.Add(1)
	}

	p := &pte{frame: f, present: true, writable: r.Prot&ProtWrite != 0}
	r.pages[va] = p

	ctx.stat.Committed += PageSize
	ctx.touchLRULocked(va)

	return p, nil
}

// copyOnWriteLocked duplicates the frame backing p because a write landed on
// a shared, non-writable page. If p's frame is no longer shared (the fork
// sibling already dropped its own reference), the existing frame is simply
// marked writable in place instead of being copied.
func (m *Manager) copyOnWriteLocked(ctx *Context, p *pte) error {
	m.mu.Lock()
	meta := m.frames[p.frame]
	shared := meta != nil && meta.refcount > 1
	m.mu.Unlock()

	if !shared {
		if meta != nil {
			m.mu.Lock()
			meta.cow = cowNone
			meta.sharers = nil
			m.mu.Unlock()
		}

		p.writable = true

		return nil
	}

	newMeta, newFrame, err := m.allocFrame()
	if err != nil {
		return err
	}

	newMeta.data = meta.data

	oldFrame := p.frame
	m.derefFrame(oldFrame)

	p.frame = newFrame
	p.writable = true

	// If the writer was one of two symmetric-CoW sharers, the remaining
	// sibling owns the old frame alone now and gets its writable mapping
	// back without waiting for its own fault.
	m.dropSharer(oldFrame, p)

	return nil
}

// PageFault handles a fault at addr on behalf of ctx. access describes the
// kind of access that triggered it. An unmapped address or a true
// protection violation delivers SIGSEGV via ctx.mgr.DeliverSIGSEGV (if set)
// and returns a PAGE_FAULT status; all other cases are resolved in place.
func (m *Manager) PageFault(ctx *Context, addr uintptr, access AccessType) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	r := ctx.rangeAtLocked(addr)
	if r == nil {
		m.segv(ctx)
		return kerrors.New(kerrors.PAGE_FAULT, "vmm.PageFault")
	}

	if access&AccessWrite != 0 && r.Prot&ProtWrite == 0 {
		m.segv(ctx)
		return kerrors.New(kerrors.ACCESS_DENIED, "vmm.PageFault")
	}

	if access&AccessExecute != 0 && r.Prot&ProtExec == 0 {
		m.segv(ctx)
		return kerrors.New(kerrors.ACCESS_DENIED, "vmm.PageFault")
	}

	va := pageNumber(addr)

	p, ok := r.pages[va]
	if ok && !p.present && !p.isSwap {
		// A file-backed page that eviction wrote to its Backing is read
		// back in from there.
		ctx.stat.Paged -= PageSize
		ok = false
	}

	if !ok {
		_, err := m.populate(ctx, r, va)
		return err
	}

	if p.isSwap {
		if err := m.faultInFromSwap(ctx, r, va, p); err != nil {
			return err
		}

		hardFaults.Add(1)
	}

	ctx.touchLRULocked(va)

	if access&AccessWrite != 0 && p.present && !p.writable {
		return m.copyOnWriteLocked(ctx, p)
	}

	return nil
}

func (m *Manager) faultInFromSwap(ctx *Context, r *Range, va uintptr, p *pte) error {
	meta, f, err := m.allocFrame()
	if err != nil {
		return err
	}

	if err := p.swap.provider.Read(p.swap.id, meta.data[:]); err != nil {
		m.derefFrame(f)
		return kerrors.Wrap(kerrors.INTERNAL_ERROR, "vmm.faultInFromSwap", err)
	}

	p.swap.refcount--
	if p.swap.refcount <= 0 {
		p.swap.provider.Free(p.swap.id)
	}

	p.isSwap = false
	p.swap = nil
	p.frame = f
	p.present = true
	p.writable = r.Prot&ProtWrite != 0

	ctx.stat.Committed += PageSize
	ctx.stat.Paged -= PageSize

	return nil
}

func (m *Manager) segv(ctx *Context) {
	if m.DeliverSIGSEGV != nil {
		m.DeliverSIGSEGV(ctx.Owner)
	}
}
