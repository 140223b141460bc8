package vmm

// EnforceWorkingSet evicts least-recently-used pageable pages from ctx
// until its committed bytes fall back within its working-set limit (or no
// further candidate remains). The replacement policy is plain LRU over the
// access order touchLRULocked maintains; LRU was chosen over clock/aging
// because it needs no extra per-page accessed bit simulated by a timer
// tick, which this hosted model has no cheap way to drive.
func (m *Manager) EnforceWorkingSet(ctx *Context) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	for ctx.stat.Committed > ctx.workingSetLimit && len(ctx.lru) > 0 {
		va := ctx.lru[0]

		r := ctx.rangeAtLocked(va)
		if r == nil {
			ctx.lru = ctx.lru[1:]
			continue
		}

		p := r.pages[va]
		if p == nil || !p.present || !r.Pageable {
			ctx.lru = ctx.lru[1:]
			continue
		}

		if err := m.evictPageLocked(ctx, r, va, p); err != nil {
			return err
		}
	}

	return nil
}

// evictPageLocked writes a present page out (a file-backed page to its
// Backing, an anonymous page to swap) and clears its frame.
func (m *Manager) evictPageLocked(ctx *Context, r *Range, va uintptr, p *pte) error {
	meta := m.metaFor(p.frame)
	if meta == nil {
		return nil
	}

	if r.Backing != nil {
		off := r.FileOffset + uint64(va-r.Base)
		if err := r.Backing.WritePage(off, meta.data[:]); err != nil {
			return err
		}
	} else {
		id, err := m.swap.Reserve()
		if err != nil {
			return err
		}

		if err := m.swap.Write(id, meta.data[:]); err != nil {
			return err
		}

		p.swap = &swapEntry{provider: m.swap, id: id, refcount: 1}
		p.isSwap = true
	}

	f := p.frame
	m.derefFrame(f)
	m.dropSharer(f, p)

	p.present = false
	p.frame = 0

	ctx.stat.Committed -= PageSize
	ctx.stat.Paged += PageSize
	ctx.removeFromLRULocked(va)

	return nil
}
