// Package ksync implements the kernel's higher-level synchronization
// primitives -- mutex, semaphore, event, push lock (reader-preferring RW
// lock), and futex -- all built atop the wait package's waitable header.
package ksync

import (
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/wait"
)

// EventMode selects an Event's wake semantics.
type EventMode int

const (
	// Notification events wake every waiter on Signal; the signaled bit
	// latches until an explicit Clear.
	Notification EventMode = iota

	// Sync events wake exactly one waiter on Signal; the signaled bit
	// auto-clears the moment a waiter consumes it (whether that happens
	// synchronously, because a waiter was already blocked, or later, when
	// the next WaitOne call finds the bit set).
	Sync
)

// Event is a waitable, boolean-valued kernel object.
type Event struct {
	hdr  *wait.Header
	mode EventMode
	mu   sync.Mutex
}

// NewEvent creates an Event in the given mode, initially unsignaled.
func NewEvent(mode EventMode) *Event {
	return &Event{hdr: wait.NewHeader(true), mode: mode}
}

// Wait blocks until the event is signaled. For a Sync event, the signaled
// bit is atomically consumed: at most one waiter sees it set per Signal.
func (e *Event) Wait() error {
	if e.mode == Sync {
		e.mu.Lock()
		if wait.Signaled(e.hdr) {
			wait.Clear(e.hdr)
			e.mu.Unlock()

			return nil
		}
		e.mu.Unlock()
	}

	return wait.WaitOne(e.hdr)
}

// Signal sets the event. Notification events wake every waiter and stay
// signaled until Clear; Sync events wake one waiter (or, if none are
// waiting, leave the bit set for the very next Wait to consume and clear).
func (e *Event) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.mode {
	case Notification:
		wait.Signal(e.hdr, true, false)
	case Sync:
		if wait.NumWaiters(e.hdr) > 0 {
			wait.Signal(e.hdr, false, false)
			wait.Clear(e.hdr)
		} else {
			wait.Signal(e.hdr, false, false) // latches signaled; no waiters to wake
		}
	}
}

// Clear resets the signaled bit without waking anyone.
func (e *Event) Clear() { wait.Clear(e.hdr) }

// Signaled reports the event's current state.
func (e *Event) Signaled() bool { return wait.Signaled(e.hdr) }

// Header exposes the underlying waitable header, for use in WaitMany calls
// that mix events with other waitable objects.
func (e *Event) Header() *wait.Header { return e.hdr }

// Abort interrupts every current waiter; see wait.Abort.
func (e *Event) Abort() { wait.Abort(e.hdr) }
