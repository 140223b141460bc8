// Package timer implements software deadline and interval timers scheduled
// atop a single hardware tick source. A per-CPU sorted list orders pending
// timers; the timer IRQ (Tick) enqueues a DPC that fires each expired
// timer's handler with its user argument.
package timer

import (
	"container/list"
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/dpc"
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/log"
)

// Ticks counts monotonic timer ticks since boot.
type Ticks uint64

// HandlerFunc runs when a timer expires. arg is the opaque argument supplied
// at arm time.
type HandlerFunc func(arg any)

// Kind distinguishes a one-shot deadline timer from a recurring interval
// timer.
type Kind int

const (
	Deadline Kind = iota
	Interval
)

// Timer is one pending software timer.
type Timer struct {
	kind     Kind
	deadline Ticks
	period   Ticks // in ticks, not microseconds, for Interval timers; re-armed on each fire
	handler  HandlerFunc
	arg      any
	fired    bool
	cancel   bool

	elem *list.Element // list.Element holding this timer, or nil if unlinked
}

// Source periodically advances the tick counter; in tests this is driven
// manually rather than by a real hardware timer.
type Source struct {
	mu             sync.Mutex
	ticks          Ticks
	lastTimeTicked Ticks

	pending *list.List // sorted by deadline ascending

	dpcQueue *dpc.Queue
	fireDPC  *dpc.DPC

	log *log.Logger
}

// NewSource creates a timer source that enqueues expired-timer work onto q.
func NewSource(q *dpc.Queue) *Source {
	s := &Source{
		pending:  list.New(),
		dpcQueue: q,
		log:      log.DefaultLogger(),
	}
	s.fireDPC = dpc.New(func(any) { s.fireExpired() })

	return s
}

// Ticks returns the current monotonic tick count.
func (s *Source) Ticks() Ticks {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ticks
}

// LastTicked returns the tick count as of the most recent Tick call, letting
// consumers detect missed ticks by comparing against Ticks().
func (s *Source) LastTicked() Ticks {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastTimeTicked
}

// Tick is invoked by the platform's timer IRQ handler once per hardware
// tick. It advances the tick counter and, if any timer has expired, enqueues
// a DPC to run their handlers at DISPATCH.
func (s *Source) Tick() {
	s.mu.Lock()
	s.ticks++
	s.lastTimeTicked = s.ticks

	anyExpired := s.pending.Front() != nil && s.pending.Front().Value.(*Timer).deadline <= s.ticks
	s.mu.Unlock()

	if anyExpired && s.dpcQueue != nil {
		_ = s.dpcQueue.Enqueue(s.fireDPC, nil)
	}
}

func (s *Source) fireExpired() {
	for {
		s.mu.Lock()

		front := s.pending.Front()
		if front == nil {
			s.mu.Unlock()
			return
		}

		tm := front.Value.(*Timer)
		if tm.deadline > s.ticks {
			s.mu.Unlock()
			return
		}

		s.pending.Remove(front)
		tm.elem = nil
		tm.fired = true
		cancelled := tm.cancel

		s.mu.Unlock()

		if !cancelled {
			tm.handler(tm.arg)
		}

		if tm.kind == Interval && !cancelled {
			s.rearm(tm)
		}
	}
}

func (s *Source) rearm(tm *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tm.fired = false
	tm.deadline = s.ticks + tm.period
	s.insertLocked(tm)
}

// ArmDeadline schedules handler to run once, at absolute tick deadline.
func (s *Source) ArmDeadline(deadline Ticks, handler HandlerFunc, arg any) *Timer {
	tm := &Timer{kind: Deadline, deadline: deadline, handler: handler, arg: arg}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertLocked(tm)

	return tm
}

// ArmInterval schedules handler to run every period ticks, starting at
// now+period, until Cancel is called.
func (s *Source) ArmInterval(period Ticks, handler HandlerFunc, arg any) *Timer {
	if period == 0 {
		period = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tm := &Timer{kind: Interval, period: period, deadline: s.ticks + period, handler: handler, arg: arg}
	s.insertLocked(tm)

	return tm
}

func (s *Source) insertLocked(tm *Timer) {
	for e := s.pending.Front(); e != nil; e = e.Next() {
		if e.Value.(*Timer).deadline > tm.deadline {
			tm.elem = s.pending.InsertBefore(tm, e)
			return
		}
	}

	tm.elem = s.pending.PushBack(tm)
}

// Cancel unlinks a pending timer. If the timer has already fired, Cancel is
// a no-op returning SUCCESS.
func (s *Source) Cancel(tm *Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tm.fired {
		return nil
	}

	tm.cancel = true

	if tm.elem != nil {
		s.pending.Remove(tm.elem)
		tm.elem = nil
	}

	return nil
}

// Pending reports how many timers are currently armed, for diagnostics and
// tests.
func (s *Source) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending.Len()
}

var errCancelled = kerrors.New(kerrors.ABORTED, "timer.Cancel")

// ErrCancelled is returned by a handler that chooses to treat cancellation
// as failure; Source itself never returns it, since Cancel always succeeds
// per spec.
func ErrCancelled() error { return errCancelled }
