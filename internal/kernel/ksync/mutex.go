package ksync

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/wait"
)

// spinAttempts bounds the optimistic spin before a Mutex falls back to a
// full wait.
const spinAttempts = 64

// Mutex is a waitable, exclusive lock that rejects recursive acquisition by
// the same owner.
type Mutex struct {
	hdr   *wait.Header
	owner atomic.Value // holds the current owner token, or nil
	mu    sync.Mutex   // guards owner transitions against concurrent Acquire/Release
}

// NewMutex creates an unlocked Mutex.
func NewMutex() *Mutex {
	m := &Mutex{hdr: wait.NewHeader(true)}
	m.owner.Store(ownerBox{})

	return m
}

// ownerBox wraps the owner token so atomic.Value always sees a consistent
// concrete type, even when the token itself is nil.
type ownerBox struct{ v any }

// Acquire locks the mutex for owner, blocking if another owner holds it.
// Acquiring a mutex the caller already holds returns RECURSIVE_LOCK instead
// of deadlocking.
func (m *Mutex) Acquire(owner any) error {
	if cur := m.owner.Load().(ownerBox).v; cur != nil && cur == owner {
		return kerrors.New(kerrors.RECURSIVE_LOCK, "ksync.Mutex.Acquire")
	}

	for i := 0; i < spinAttempts; i++ {
		if m.tryAcquire(owner) {
			return nil
		}

		runtime.Gosched()
	}

	for {
		if m.tryAcquire(owner) {
			return nil
		}

		if err := wait.WaitOne(m.hdr); err != nil {
			return err
		}
		// Woken because the mutex was released; the waitable header has
		// already auto-cleared its signaled bit inside Release below, so
		// loop and race the other wakers for ownership.
	}
}

func (m *Mutex) tryAcquire(owner any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner.Load().(ownerBox).v != nil {
		return false
	}

	m.owner.Store(ownerBox{v: owner})

	return true
}

// Release unlocks the mutex, waking one waiter if any are queued. Releasing
// a mutex the caller does not own returns INVALID_OPERATION.
func (m *Mutex) Release(owner any) error {
	m.mu.Lock()

	if m.owner.Load().(ownerBox).v != owner {
		m.mu.Unlock()
		return kerrors.New(kerrors.INVALID_OPERATION, "ksync.Mutex.Release")
	}

	m.owner.Store(ownerBox{})
	m.mu.Unlock()

	wait.Signal(m.hdr, false, true)
	wait.Clear(m.hdr) // auto-reset: each release admits exactly one new owner

	return nil
}

// Owner returns the current owner token, or nil if unlocked.
func (m *Mutex) Owner() any { return m.owner.Load().(ownerBox).v }
