package ksync

import (
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/wait"
)

// Semaphore is a counting waitable object. It never uses the signaled fast
// path: every Acquire on a zero-valued semaphore queues.
type Semaphore struct {
	hdr   *wait.Header
	mu    sync.Mutex
	count int64
}

// NewSemaphore creates a Semaphore with the given initial count.
func NewSemaphore(initial int64) *Semaphore {
	return &Semaphore{hdr: wait.NewHeader(false), count: initial}
}

// Acquire decrements the count, blocking until it is positive.
func (s *Semaphore) Acquire() error {
	for {
		s.mu.Lock()
		if s.count > 0 {
			s.count--
			s.mu.Unlock()

			return nil
		}
		s.mu.Unlock()

		if err := wait.WaitOne(s.hdr); err != nil {
			return err
		}
	}
}

// Release increments the count and wakes one waiter.
func (s *Semaphore) Release() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()

	wait.Signal(s.hdr, false, false)
}

// Count returns the current count, for diagnostics and tests.
func (s *Semaphore) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}
