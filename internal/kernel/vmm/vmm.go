// Package vmm implements the virtual memory manager: address spaces, a
// page-range tree per address space, protection, copy-on-write fork, and
// anonymous/file-backed demand-paged mappings over a software model of
// physical memory.
//
// The platform's real page tables and TLB are out of scope (they belong to
// arch code); here they are modelled as a per-context map from virtual page
// number to page-table entry, which plays the same role a real multi-level
// page table would for the purposes of this package's algorithms.
package vmm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/pmm"
	"github.com/obos-dev/kernel/internal/log"
)

const PageSize = pmm.PageSize

// Prot is a page range's protection bits.
type Prot uint32

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
	ProtUser
	ProtCacheDisable
	ProtCopyOnWrite
	ProtHuge
)

// Flags select VirtualMemoryAlloc behavior.
type Flags uint32

const (
	FlagHuge Flags = 1 << iota
	FlagGuardBefore
	FlagGuardAfter
	FlagBitmask32
	FlagHint
	FlagNonPaged
	FlagPrivate
	FlagPrefault
	FlagBitmask32Phys
	FlagNoFork
	FlagFramebuffer
	FlagPosixCompat
	FlagKernelStack = FlagNonPaged | FlagGuardBefore | FlagGuardAfter
)

// AccessType describes the kind of memory access that faulted.
type AccessType uint32

const (
	AccessRead AccessType = 1 << iota
	AccessWrite
	AccessExecute
	AccessUser
)

// Backing is implemented by the VFS layer for file-backed mappings; it
// reads and writes whole pages so the VMM never needs to know about byte
// offsets within the backing file beyond the page boundary.
type Backing interface {
	ReadPage(fileOffset uint64, dst []byte) error
	WritePage(fileOffset uint64, src []byte) error
}

// cowState mirrors the frame flag of the same name in the data model.
type cowState int

const (
	cowNone cowState = iota
	cowSymmetric
	cowAsymmetric
)

// frameMeta is the global, refcounted metadata for one physical frame. All
// pages reachable from more than one address space live here so that
// RefPage/DerefPage can be the single place a frame is returned to the PMM.
type frameMeta struct {
	refcount int32
	cow      cowState
	data     [PageSize]byte
	backing  Backing // non-nil for file-backed frames, used to flush dirty pages
	dirty    bool

	// sharers lists the PTEs mapping this frame read-only under symmetric
	// CoW, so that when all but one sharer have diverged or released, the
	// last one can be made writable again without taking a fault.
	sharers []*pte
}

// Manager is the kernel-wide VMM: the frame allocator, the global refcounted
// frame table, and the registry of swap providers.
type Manager struct {
	pmm *pmm.Manager

	mu     sync.Mutex
	frames map[pmm.Frame]*frameMeta

	swap Provider

	// DeliverSIGSEGV is invoked by the page fault handler on an unhandled
	// or protection-violating fault; it is injected by the signal/process
	// layer to avoid an import cycle.
	DeliverSIGSEGV func(owner any)

	log *log.Logger
}

// New creates a Manager backed by pm for frame allocation and the given
// default swap provider (see NewRAMSwap for a provider that needs no
// backing store).
func New(pm *pmm.Manager, swap Provider) *Manager {
	return &Manager{
		pmm:    pm,
		frames: make(map[pmm.Frame]*frameMeta),
		swap:   swap,
		log:    log.DefaultLogger(),
	}
}

// pte is one virtual page's page-table entry.
type pte struct {
	frame   pmm.Frame
	present bool
	writable bool

	isSwap bool
	swap   *swapEntry
}

// Range is a page range: a contiguous, uniformly-protected run of virtual
// addresses owned by exactly one Context.
type Range struct {
	Base       uintptr
	Size       uintptr
	Prot       Prot
	Backing    Backing
	FileOffset uint64
	Pageable   bool
	CanFork    bool
	Reservation bool

	pages map[uintptr]*pte // page-aligned virtual address -> pte
}

func (r *Range) end() uintptr { return r.Base + r.Size }

func (r *Range) String() string {
	return fmt.Sprintf("range[%#x,%#x) prot=%#x", r.Base, r.end(), r.Prot)
}

// Stat reports an address space's memory-usage counters.
type Stat struct {
	Committed uint64 // bytes backed by a present frame
	Pageable  uint64 // bytes that may be swapped out
	NonPaged  uint64 // bytes that must remain resident
	Paged     uint64 // bytes currently swapped out
}

// Context is one address space: a process's (or the kernel's) page-range
// tree plus its memory-usage counters.
type Context struct {
	mgr *Manager

	mu     sync.Mutex
	ranges []*Range // kept sorted by Base; ranges never overlap

	stat            Stat
	workingSetLimit uint64
	lastAllocEnd    uintptr

	lru []uintptr // page-aligned virtual addresses in least-recently-used order, front = LRU

	Owner any // the owning process, typed any to avoid an import cycle
}

// NewContext creates an empty address space starting allocation at
// startAddr (the bottom of user space, or wherever the caller's layout
// begins).
func (m *Manager) NewContext(startAddr uintptr, workingSetLimit uint64) *Context {
	return &Context{mgr: m, lastAllocEnd: startAddr, workingSetLimit: workingSetLimit}
}

// Stat returns a snapshot of the context's memory-usage counters.
func (c *Context) Stat() Stat {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stat
}

// RangeInfo is the QueryPageInfo view of one page range.
type RangeInfo struct {
	Base     uintptr
	Size     uintptr
	Prot     Prot
	Pageable bool
}

// QueryPageInfo reports the page range containing addr.
func (c *Context) QueryPageInfo(addr uintptr) (RangeInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.rangeAtLocked(addr)
	if r == nil {
		return RangeInfo{}, kerrors.New(kerrors.NOT_FOUND, "vmm.QueryPageInfo")
	}

	return RangeInfo{Base: r.Base, Size: r.Size, Prot: r.Prot, Pageable: r.Pageable}, nil
}

// findIndexLocked returns the index of the first range whose base is >= addr.
func (c *Context) findIndexLocked(addr uintptr) int {
	return sort.Search(len(c.ranges), func(i int) bool { return c.ranges[i].Base >= addr })
}

// rangeAtLocked returns the range containing addr, or nil.
func (c *Context) rangeAtLocked(addr uintptr) *Range {
	i := c.findIndexLocked(addr + 1)
	if i == 0 {
		return nil
	}

	r := c.ranges[i-1]
	if addr >= r.Base && addr < r.end() {
		return r
	}

	return nil
}

// overlapsLocked reports whether [base, base+size) intersects any existing
// range.
func (c *Context) overlapsLocked(base, size uintptr) bool {
	end := base + size

	for _, r := range c.ranges {
		if base < r.end() && end > r.Base {
			return true
		}
	}

	return false
}

// VirtualMemoryAlloc reserves a new page range. If FlagHint is not set, or
// hint is 0, the context's bump allocator chooses the next free base above
// the last allocation. Returns NOT_ENOUGH_MEMORY if no placement can be
// found (in this model: only when an explicit hint collides).
func (c *Context) VirtualMemoryAlloc(hint uintptr, size uintptr, prot Prot, flags Flags, backing Backing, offset uint64) (uintptr, error) {
	if size == 0 {
		return 0, kerrors.New(kerrors.INVALID_ARGUMENT, "vmm.VirtualMemoryAlloc")
	}

	size = roundUp(size, PageSize)

	c.mu.Lock()
	defer c.mu.Unlock()

	var base uintptr

	if flags&FlagHint != 0 && hint != 0 {
		if c.overlapsLocked(hint, size) {
			return 0, kerrors.New(kerrors.NOT_ENOUGH_MEMORY, "vmm.VirtualMemoryAlloc")
		}

		base = hint
	} else {
		base = roundUp(c.lastAllocEnd, PageSize)
		for c.overlapsLocked(base, size) {
			base += PageSize
		}
	}

	r := &Range{
		Base:        base,
		Size:        size,
		Prot:        prot,
		Backing:     backing,
		FileOffset:  offset,
		Pageable:    flags&FlagNonPaged == 0,
		CanFork:     flags&FlagNoFork == 0,
		Reservation: false,
		pages:       make(map[uintptr]*pte),
	}

	c.insertLocked(r)

	if base+size > c.lastAllocEnd {
		c.lastAllocEnd = base + size
	}

	if flags&FlagPrefault != 0 {
		for va := base; va < base+size; va += PageSize {
			if _, err := c.mgr.populate(c, r, va); err != nil {
				return 0, err
			}
		}
	}

	c.accountAllocLocked(r)

	return base, nil
}

func (c *Context) insertLocked(r *Range) {
	i := c.findIndexLocked(r.Base)
	c.ranges = append(c.ranges, nil)
	copy(c.ranges[i+1:], c.ranges[i:])
	c.ranges[i] = r
}

func (c *Context) removeLocked(i int) {
	c.ranges = append(c.ranges[:i], c.ranges[i+1:]...)
}

func (c *Context) accountAllocLocked(r *Range) {
	if r.Pageable {
		c.stat.Pageable += uint64(r.Size)
	} else {
		c.stat.NonPaged += uint64(r.Size)
	}
}

// VirtualMemoryFree releases a range exactly matching [base, base+size),
// dereferencing every present frame (possibly freeing it to the PMM) and
// removing the range from the tree.
func (c *Context) VirtualMemoryFree(base, size uintptr) error {
	size = roundUp(size, PageSize)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, r := range c.ranges {
		if r.Base == base && r.Size == size {
			for va, p := range r.pages {
				c.mgr.releasePTE(p)
				c.removeFromLRULocked(va)
			}

			if r.Pageable {
				c.stat.Pageable -= uint64(r.Size)
			} else {
				c.stat.NonPaged -= uint64(r.Size)
			}

			c.stat.Committed -= committedBytes(r)

			c.removeLocked(i)

			return nil
		}
	}

	return kerrors.New(kerrors.NOT_FOUND, "vmm.VirtualMemoryFree")
}

func committedBytes(r *Range) uint64 {
	n := 0
	for _, p := range r.pages {
		if p.present {
			n++
		}
	}

	return uint64(n) * PageSize
}

// PageableOp selects how VirtualMemoryProtect's pageableOp argument affects
// a range's Pageable flag: Clear forces it false, Set forces it true,
// Preserve leaves it unchanged.
type PageableOp int

const (
	PageableClear PageableOp = iota
	PageableSet
	PageablePreserve
)

// VirtualMemoryProtect changes protection (and optionally pageability) over
// [base, base+size). The affected region is split out of any range it
// partially overlaps so that ranges remain non-overlapping and uniformly
// protected; applying the same Protect twice is therefore a no-op the
// second time, matching the "protection idempotence" property.
func (c *Context) VirtualMemoryProtect(base, size uintptr, newProt Prot, pageableOp PageableOp) error {
	size = roundUp(size, PageSize)
	end := base + size

	c.mu.Lock()
	defer c.mu.Unlock()

	i := 0
	for i < len(c.ranges) {
		r := c.ranges[i]
		if r.end() <= base || r.Base >= end {
			i++
			continue
		}

		newPageable := r.Pageable
		switch pageableOp {
		case PageableSet:
			newPageable = true
		case PageableClear:
			newPageable = false
		}

		if r.Base == base && r.end() == end {
			if r.Prot == newProt && r.Pageable == newPageable {
				return nil // already exactly this: idempotent no-op
			}

			r.Prot = newProt
			r.Pageable = newPageable

			return nil
		}

		// Split: carve [max(base,r.Base), min(end,r.end())) out of r.
		lo := maxUintptr(base, r.Base)
		hi := minUintptr(end, r.end())

		before, middle, after := splitRange(r, lo, hi)
		middle.Prot = newProt
		middle.Pageable = newPageable

		c.removeLocked(i)

		n := i
		if before != nil {
			c.ranges = append(c.ranges, nil)
			copy(c.ranges[n+1:], c.ranges[n:])
			c.ranges[n] = before
			n++
		}

		c.ranges = append(c.ranges, nil)
		copy(c.ranges[n+1:], c.ranges[n:])
		c.ranges[n] = middle
		n++

		if after != nil {
			c.ranges = append(c.ranges, nil)
			copy(c.ranges[n+1:], c.ranges[n:])
			c.ranges[n] = after
			n++
		}

		i = n // skip past the range(s) just spliced in; the middle one already carries newProt
	}

	return nil
}

func splitRange(r *Range, lo, hi uintptr) (before, middle, after *Range) {
	mkRange := func(base, end uintptr) *Range {
		nr := &Range{
			Base: base, Size: end - base, Prot: r.Prot, Backing: r.Backing,
			FileOffset: r.FileOffset + uint64(base-r.Base),
			Pageable:   r.Pageable, CanFork: r.CanFork, Reservation: r.Reservation,
			pages: make(map[uintptr]*pte),
		}
		for va, p := range r.pages {
			if va >= base && va < end {
				nr.pages[va] = p
			}
		}

		return nr
	}

	if r.Base < lo {
		before = mkRange(r.Base, lo)
	}

	middle = mkRange(lo, hi)

	if r.end() > hi {
		after = mkRange(hi, r.end())
	}

	return before, middle, after
}

func maxUintptr(a, b uintptr) uintptr {
	if a > b {
		return a
	}

	return b
}

func minUintptr(a, b uintptr) uintptr {
	if a < b {
		return a
	}

	return b
}

func roundUp(v, align uintptr) uintptr {
	if v%align == 0 {
		return v
	}

	return v + (align - v%align)
}

func (c *Context) removeFromLRULocked(va uintptr) {
	for i, v := range c.lru {
		if v == va {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			return
		}
	}
}

func (c *Context) touchLRULocked(va uintptr) {
	c.removeFromLRULocked(va)
	c.lru = append(c.lru, va)
}
