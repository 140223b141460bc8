package ksync

import (
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/wait"
)

// FutexKey identifies the physical backing of a futex word. In a real
// kernel this is the pinned physical frame and byte offset; callers
// (typically the VMM) are responsible for resolving a user virtual address
// to a FutexKey so that two processes sharing a mapping futex on the same
// key even though their virtual addresses differ.
type FutexKey struct {
	Frame  uint64
	Offset uint32
}

// FutexTable is the kernel's single futex registry: one waitable header per
// physical word that currently has waiters.
type FutexTable struct {
	mu     sync.Mutex
	tables map[FutexKey]*wait.Header
}

// NewFutexTable creates an empty futex registry.
func NewFutexTable() *FutexTable {
	return &FutexTable{tables: make(map[FutexKey]*wait.Header)}
}

func (t *FutexTable) headerFor(key FutexKey) *wait.Header {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.tables[key]
	if !ok {
		h = wait.NewHeader(false)
		t.tables[key] = h
	}

	return h
}

// Wait compares the current value at key (read via readWord, which the
// caller supplies already holding whatever page-table lock is needed to
// read it safely) against expect; if they differ, it returns immediately
// with WOULD_BLOCK -- the value has already changed, so there is nothing to
// wait for. Otherwise the caller blocks until woken by Wake.
//
// The compare and the enqueue onto the waiter list happen atomically under
// the futex's wait.Header lock (via WaitOneIf), so a concurrent Wake can
// never land in the gap between them and wake nobody.
func (t *FutexTable) Wait(key FutexKey, expect uint32, readWord func() uint32) error {
	h := t.headerFor(key)

	return wait.WaitOneIf(h, func() bool { return readWord() == expect })
}

// Wake wakes up to n waiters on key's futex. If n < 0, every waiter is
// woken. It returns the number of waiters woken: n, or the number queued
// before the wake when that is fewer (FUTEX_WAKE's return value in POSIX
// terms).
func (t *FutexTable) Wake(key FutexKey, n int) int {
	t.mu.Lock()
	h, ok := t.tables[key]
	t.mu.Unlock()

	if !ok {
		return 0
	}

	queued := wait.NumWaiters(h)

	if n < 0 || n >= queued {
		wait.Signal(h, true, false)
		return queued
	}

	for i := 0; i < n; i++ {
		wait.Signal(h, false, false)
	}

	return n
}
