package vfs

import (
	"sort"
	"sync"
)

const pageCachePageSize = 4096

// dirtyRegion is one coalesced byte range within a cached page that has
// been written but not yet flushed.
type dirtyRegion struct {
	start, end int64 // [start, end) within the page
}

type cachedPage struct {
	data  []byte
	dirty []dirtyRegion
}

// PageCache is a per-vnode arena of fixed-size pages, faulted in on demand
// by Get and flushed back through a caller-supplied writer.
type PageCache struct {
	mu    sync.Mutex
	pages map[int64]*cachedPage // key: page-aligned offset
}

// NewPageCache creates an empty page cache.
func NewPageCache() *PageCache {
	return &PageCache{pages: make(map[int64]*cachedPage)}
}

// Get returns the page covering offset, faulting it in via fill (typically
// a call down to the filesystem's block-device read) if it is not already
// resident.
func (pc *PageCache) Get(offset int64, fill func(pageOffset int64, dst []byte) error) ([]byte, error) {
	pageOff := offset - offset%pageCachePageSize

	pc.mu.Lock()
	p, ok := pc.pages[pageOff]
	pc.mu.Unlock()

	if ok {
		return p.data, nil
	}

	data := make([]byte, pageCachePageSize)
	if fill != nil {
		if err := fill(pageOff, data); err != nil {
			return nil, err
		}
	}

	p = &cachedPage{data: data}

	pc.mu.Lock()
	pc.pages[pageOff] = p
	pc.mu.Unlock()

	return p.data, nil
}

// DirtyRegionCreate records [offset, offset+n) as dirty within its page,
// coalescing with any existing overlapping or adjacent dirty region.
func (pc *PageCache) DirtyRegionCreate(offset int64, n int) {
	pageOff := offset - offset%pageCachePageSize
	lo := offset - pageOff
	hi := lo + int64(n)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	p, ok := pc.pages[pageOff]
	if !ok {
		return
	}

	var merged []dirtyRegion

	for _, r := range p.dirty {
		if hi < r.start || lo > r.end {
			merged = append(merged, r)
			continue
		}

		if r.start < lo {
			lo = r.start
		}

		if r.end > hi {
			hi = r.end
		}
	}

	merged = append(merged, dirtyRegion{start: lo, end: hi})
	p.dirty = merged
}

// Flush walks every dirty region, in page then offset order, calling
// write(pageOffset, region-relative bytes) for each, then clears the
// dirty list for pages that flushed without error.
func (pc *PageCache) Flush(write func(pageOffset int64, region []byte, regionOffset int64) error) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	offsets := make([]int64, 0, len(pc.pages))
	for pageOff := range pc.pages {
		offsets = append(offsets, pageOff)
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	for _, pageOff := range offsets {
		p := pc.pages[pageOff]

		dirty := append([]dirtyRegion(nil), p.dirty...)
		sort.Slice(dirty, func(i, j int) bool { return dirty[i].start < dirty[j].start })

		for _, r := range dirty {
			if err := write(pageOff, p.data[r.start:r.end], r.start); err != nil {
				return err
			}
		}

		p.dirty = nil
	}

	return nil
}
