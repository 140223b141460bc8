// Package spinlock implements the kernel's base mutual-exclusion primitive: a
// single atomic flag combined with an IRQL raise. In this hosted build the
// higher-level synchronization primitives (mutex, semaphore, event,
// waitable header) are built on Go's sync.Mutex, not on a Spinlock.
package spinlock

import (
	"runtime"
	"sync/atomic"

	"github.com/obos-dev/kernel/internal/kernel/irql"
)

// Spinlock is an IRQL-aware mutual exclusion lock. It must never be held
// across a blocking wait: callers that need to block must drop the lock
// first, exactly as spec'd in the concurrency model.
type Spinlock struct {
	flag atomic.Bool

	// callerPC records the program counter of the caller of the last
	// successful AcquireAt, to aid deadlock diagnosis.
	callerPC uintptr
}

// New creates an unlocked Spinlock.
func New() *Spinlock { return &Spinlock{} }

// AcquireAt raises the CPU's IRQL to level, then spins on a compare-and-swap
// until the lock is acquired. It returns the IRQL the caller was at before
// the raise, to be passed to Release.
func (s *Spinlock) AcquireAt(reg *irql.Register, level irql.Level) irql.Level {
	old := reg.Raise(level)

	for !s.flag.CompareAndSwap(false, true) {
		runtime.Gosched()
	}

	if pc, _, _, ok := runtime.Caller(1); ok {
		s.callerPC = pc
	}

	return old
}

// Release clears the lock and restores the IRQL to oldIRQL. If that crosses
// below DISPATCH, the CPU's DPC queue is drained as a side effect of
// Register.Lower.
func (s *Spinlock) Release(reg *irql.Register, oldIRQL irql.Level) {
	s.flag.Store(false)
	reg.Lower(oldIRQL)
}

// TryAcquireAt attempts a single non-blocking CAS at the given IRQL. It
// raises the IRQL regardless of success so the caller always has a
// consistent IRQL to restore; on failure the caller restores it with
// reg.Lower(old) rather than Release, which would clear the holder's flag.
func (s *Spinlock) TryAcquireAt(reg *irql.Register, level irql.Level) (old irql.Level, ok bool) {
	old = reg.Raise(level)
	ok = s.flag.CompareAndSwap(false, true)

	return old, ok
}

// CallerPC returns the program counter recorded by the most recent
// successful Acquire, for debug tooling.
func (s *Spinlock) CallerPC() uintptr { return s.callerPC }
