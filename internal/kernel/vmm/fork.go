package vmm

import "github.com/obos-dev/kernel/internal/kernel/pmm"

// Fork populates dst, a freshly created empty Context, with a copy of every
// forkable range in src: ranges created with FlagNoFork are dropped, and
// every present writable frame becomes copy-on-write shared between the two
// address spaces rather than duplicated up front. This matches the
// concrete scenario of a parent writing a page, forking, the child
// observing the parent's write, and each side then diverging onto its own
// frame on its first subsequent write.
func (m *Manager) Fork(dst, src *Context) error {
	src.mu.Lock()
	defer src.mu.Unlock()

	dst.mu.Lock()
	defer dst.mu.Unlock()

	for _, r := range src.ranges {
		if !r.CanFork {
			continue
		}

		nr := &Range{
			Base:        r.Base,
			Size:        r.Size,
			Prot:        r.Prot,
			Backing:     r.Backing,
			FileOffset:  r.FileOffset,
			Pageable:    r.Pageable,
			CanFork:     r.CanFork,
			Reservation: r.Reservation,
			pages:       make(map[uintptr]*pte),
		}

		for va, p := range r.pages {
			switch {
			case p.present:
				m.shareFrameLocked(r, p)

				clone := &pte{frame: p.frame, present: true, writable: p.writable}
				m.registerSharers(p.frame, p, clone)

				nr.pages[va] = clone
			case p.isSwap:
				p.swap.refcount++
				nr.pages[va] = &pte{isSwap: true, swap: p.swap}
			}
		}

		dst.insertLocked(nr)
		dst.accountAllocLocked(nr)
		dst.stat.Committed += committedBytes(nr)

		if nr.end() > dst.lastAllocEnd {
			dst.lastAllocEnd = nr.end()
		}
	}

	return nil
}

// shareFrameLocked marks a present, writable frame copy-on-write across both
// the original pte (still owned by src) and the new one about to be handed
// to dst, and bumps the frame's sharer count.
func (m *Manager) shareFrameLocked(r *Range, p *pte) {
	m.refFrame(p.frame)

	if p.writable && r.Prot&ProtWrite != 0 {
		p.writable = false

		m.mu.Lock()
		if meta := m.frames[p.frame]; meta != nil {
			meta.cow = cowSymmetric
		}
		m.mu.Unlock()
	}
}

// registerSharers records the PTEs holding f read-only under symmetric CoW,
// so the last remaining sharer can be restored to writable once the frame
// stops being shared. Read-only frames shared without CoW are skipped:
// there is no writable state to restore.
func (m *Manager) registerSharers(f pmm.Frame, ptes ...*pte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta := m.frames[f]
	if meta == nil || meta.cow != cowSymmetric {
		return
	}

	for _, p := range ptes {
		known := false

		for _, s := range meta.sharers {
			if s == p {
				known = true
				break
			}
		}

		if !known {
			meta.sharers = append(meta.sharers, p)
		}
	}
}
