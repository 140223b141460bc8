// Package sched implements the kernel's per-CPU priority-list scheduler:
// round-robin within a priority, quantum rotation, affinity, blocking and
// waking, and the thread lifecycle state machine.
package sched

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/obos-dev/kernel/internal/kernel/dpc"
	"github.com/obos-dev/kernel/internal/kernel/irql"
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/wait"
	"github.com/obos-dev/kernel/internal/log"
)

// Priority is a thread's scheduling priority, 0 (Idle) through 5
// (RealTime).
type Priority int

const (
	Idle Priority = iota
	Low
	Normal
	High
	Highest
	RealTime

	NumPriority = int(RealTime) + 1
)

func (p Priority) String() string {
	switch p {
	case Idle:
		return "Idle"
	case Low:
		return "Low"
	case Normal:
		return "Normal"
	case High:
		return "High"
	case Highest:
		return "Highest"
	case RealTime:
		return "RealTime"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// quantums is the number of ticks each priority runs before a full
// reschedule is forced. RealTime threads have no forced quantum: they
// preempt only voluntarily.
var quantums = [NumPriority]uint64{2, 4, 8, 12, 12, 1<<63 - 1}

// State is a thread's position in the lifecycle state machine.
type State int32

const (
	Ready State = iota
	Running
	Blocked
	Dead
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Blocked:
		return "BLOCKED"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// ThreadID uniquely identifies a thread for the lifetime of the kernel.
type ThreadID uint64

// StackFreeFunc releases a thread's kernel stack when it dies. Supplied by
// the VMM, which owns kernel-stack allocation; injected here to avoid an
// import cycle.
type StackFreeFunc func(t *Thread)

// Thread is a schedulable execution entity.
type Thread struct {
	ID       ThreadID
	Priority Priority
	Affinity uint64 // bitmask over CPU indices; 0 means "any CPU"
	Owner    any    // the owning process; typed `any` to avoid an import cycle with proc

	state   atomic.Int32
	quantum atomic.Uint64
	boosted atomic.Bool
	kill    atomic.Bool
	grace   atomic.Bool // one grace Yield is allowed after Kill before DEAD

	cpu  *CPU // nil if not currently linked into any CPU's priority lists
	elem *list.Element

	exited *wait.Header // signaled when the thread reaches DEAD; processes wait on this for join/zombie reaping
	park   *wait.Header // rendezvous for the explicit ThreadBlock/ThreadReady protocol

	mu sync.Mutex
}

// State returns the thread's current lifecycle state.
func (t *Thread) State() State { return State(t.state.Load()) }

// Exited returns the waitable header that is signaled when this thread
// dies, for use by process-exit / thread-join style waits.
func (t *Thread) Exited() *wait.Header { return t.exited }

// ParkHeader returns the header Park blocks on, so callers can register
// it for signal interruption before parking.
func (t *Thread) ParkHeader() *wait.Header { return t.park }

// Kill marks the thread for termination. It does not terminate the thread
// immediately; the next Yield, after one grace yield, transitions it to
// DEAD.
func (t *Thread) Kill() { t.kill.Store(true) }

// CPU models one of the N symmetric CPUs the scheduler manages. Each owns
// its own priority lists, IRQL register and DPC queue.
type CPU struct {
	ID int

	lists  [NumPriority]*list.List
	idle   *Thread
	cur    *Thread
	curPri Priority

	ticks atomic.Uint64

	IRQL *irql.Register
	DPC  *dpc.Queue

	mu sync.Mutex
}

func newCPU(id int, idle *Thread) *CPU {
	c := &CPU{ID: id, idle: idle, cur: idle, curPri: RealTime}

	for i := range c.lists {
		c.lists[i] = list.New()
	}

	c.DPC = dpc.NewQueue()
	c.IRQL = irql.New(nil, c.DPC.Drain)

	return c
}

// Ticks returns this CPU's scheduler tick counter.
func (c *CPU) Ticks() uint64 { return c.ticks.Load() }

// Current returns the thread currently assigned to run on this CPU.
func (c *CPU) Current() *Thread {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cur
}

// Scheduler owns every CPU and serializes cross-CPU priority-list edits
// behind a single global lock; per-CPU state is touched locklessly only
// by its owning CPU.
type Scheduler struct {
	cpus []*CPU

	globalMu sync.Mutex
	suspend  atomic.Bool

	nextID    atomic.Uint64
	stackFree StackFreeFunc

	log *log.Logger
}

// New creates a Scheduler with n CPUs, each given its own idle thread.
func New(n int, stackFree StackFreeFunc) *Scheduler {
	s := &Scheduler{stackFree: stackFree, log: log.DefaultLogger()}

	for i := 0; i < n; i++ {
		idle := s.newThreadLocked(Idle, 0, nil)
		idle.state.Store(int32(Running))
		s.cpus = append(s.cpus, newCPU(i, idle))
	}

	return s
}

// NumCPU returns the number of CPUs the scheduler manages.
func (s *Scheduler) NumCPU() int { return len(s.cpus) }

// CPU returns the CPU with the given index.
func (s *Scheduler) CPU(i int) *CPU { return s.cpus[i] }

func (s *Scheduler) newThreadLocked(pri Priority, affinity uint64, owner any) *Thread {
	t := &Thread{
		ID:       ThreadID(s.nextID.Add(1)),
		Priority: pri,
		Affinity: affinity,
		Owner:    owner,
		exited:   wait.NewHeader(true),
		park:     wait.NewHeader(true),
	}
	t.state.Store(int32(Ready))

	return t
}

// NewThreadInactive creates a thread without enqueueing it anywhere: the
// caller readies it later via Ready, matching the two-step
// ThreadCreate/ThreadReady syscall protocol.
func (s *Scheduler) NewThreadInactive(pri Priority, affinity uint64, owner any) *Thread {
	return s.newThreadLocked(pri, affinity, owner)
}

// NewThread creates a new thread in the READY state and enqueues it on an
// eligible CPU, preferring the least-loaded one allowed by affinity.
func (s *Scheduler) NewThread(pri Priority, affinity uint64, owner any) (*Thread, error) {
	t := s.newThreadLocked(pri, affinity, owner)
	if err := s.Ready(t); err != nil {
		return nil, err
	}

	return t, nil
}

// eligible reports whether a thread with the given affinity mask may run on
// cpu i.
func eligible(affinity uint64, i int) bool {
	if affinity == 0 {
		return true
	}

	if i >= 64 {
		return false
	}

	return affinity&(1<<uint(i)) != 0
}

// Ready transitions a thread to READY and links it onto the tail of its
// priority's list on the least-loaded eligible CPU. Used both for brand new
// threads and for threads waking from a block.
func (s *Scheduler) Ready(t *Thread) error {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	best := -1
	bestLoad := -1

	for i, c := range s.cpus {
		if !eligible(t.Affinity, i) {
			continue
		}

		c.mu.Lock()
		load := 0
		for _, l := range c.lists {
			load += l.Len()
		}
		c.mu.Unlock()

		if best == -1 || load < bestLoad {
			best, bestLoad = i, load
		}
	}

	if best == -1 {
		return kerrors.New(kerrors.INVALID_AFFINITY, "sched.Ready")
	}

	t.state.Store(int32(Ready))

	cpu := s.cpus[best]
	cpu.mu.Lock()
	t.cpu = cpu
	t.elem = cpu.lists[t.Priority].PushBack(t)
	cpu.mu.Unlock()

	return nil
}

// dequeue removes a thread from whatever CPU priority list it is currently
// linked into. Safe to call on an unlinked thread.
func (s *Scheduler) dequeue(t *Thread) {
	if t.cpu == nil {
		return
	}

	t.cpu.mu.Lock()
	if t.elem != nil {
		t.cpu.lists[t.Priority].Remove(t.elem)
		t.elem = nil
	}
	t.cpu.mu.Unlock()
	t.cpu = nil
}

// Block transitions the calling thread to BLOCKED, removes it from its
// CPU's ready lists, and waits on h. When woken, the thread transitions back
// to READY and is re-queued, boosted one level if either the blocking
// caller requested it or the releasing Signal did.
func (s *Scheduler) Block(t *Thread, h *wait.Header, boost bool) error {
	s.globalMu.Lock()
	t.state.Store(int32(Blocked))
	s.dequeue(t)
	s.globalMu.Unlock()

	boosted, err := wait.WaitOneBoosted(h)

	if (boost || boosted) && t.Priority < RealTime {
		t.boosted.Store(true)
	}

	if rerr := s.Ready(t); rerr != nil {
		return rerr
	}

	return err
}

// Park blocks t on its own park header until another thread calls Unpark,
// the waitable behind the explicit ThreadBlock syscall. The header is
// cleared after the wait returns, giving the park/unpark pair auto-reset
// semantics: an Unpark that raced ahead of the Park still satisfies it,
// and each Unpark satisfies at most one Park.
func (s *Scheduler) Park(t *Thread) error {
	err := s.Block(t, t.park, false)
	wait.Clear(t.park)

	return err
}

// Unpark wakes a thread parked via Park. Calling it on a thread that is
// not parked latches the park header, so an Unpark racing ahead of the
// matching Park is not lost.
func (s *Scheduler) Unpark(t *Thread) {
	wait.Signal(t.park, false, true)
}

// SetPriority moves t to a new priority, relinking it into the matching
// priority list if it is currently queued on a CPU.
func (s *Scheduler) SetPriority(t *Thread, pri Priority) error {
	if pri < Idle || pri > RealTime {
		return kerrors.New(kerrors.INVALID_ARGUMENT, "sched.SetPriority")
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	queued := t.cpu != nil && t.elem != nil
	s.dequeue(t)
	t.Priority = pri

	if !queued {
		return nil
	}

	t.state.Store(int32(Ready))

	cpu := s.leastLoadedLocked(t.Affinity)
	if cpu == nil {
		return kerrors.New(kerrors.INVALID_AFFINITY, "sched.SetPriority")
	}

	cpu.mu.Lock()
	t.cpu = cpu
	t.elem = cpu.lists[t.Priority].PushBack(t)
	cpu.mu.Unlock()

	return nil
}

// SetAffinity changes t's CPU eligibility mask. A queued thread is
// migrated (dequeue + enqueue under the scheduler lock, per the explicit
// migration rule) if its current CPU is no longer eligible.
func (s *Scheduler) SetAffinity(t *Thread, affinity uint64) error {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	if s.leastLoadedLocked(affinity) == nil {
		return kerrors.New(kerrors.INVALID_AFFINITY, "sched.SetAffinity")
	}

	old := t.cpu
	t.Affinity = affinity

	if old == nil || t.elem == nil || eligible(affinity, old.ID) {
		return nil
	}

	s.dequeue(t)

	cpu := s.leastLoadedLocked(affinity)
	cpu.mu.Lock()
	t.cpu = cpu
	t.elem = cpu.lists[t.Priority].PushBack(t)
	cpu.mu.Unlock()

	return nil
}

// leastLoadedLocked returns the eligible CPU with the fewest queued
// threads, or nil if the affinity mask excludes every CPU. Caller holds
// globalMu.
func (s *Scheduler) leastLoadedLocked(affinity uint64) *CPU {
	var best *CPU
	bestLoad := -1

	for i, c := range s.cpus {
		if !eligible(affinity, i) {
			continue
		}

		c.mu.Lock()
		load := 0
		for _, l := range c.lists {
			load += l.Len()
		}
		c.mu.Unlock()

		if best == nil || load < bestLoad {
			best, bestLoad = c, load
		}
	}

	return best
}

// Select runs one CPU's reschedule algorithm: prefer the current thread's
// successor in its own priority list; otherwise descend from the current
// priority list downward, wrapping, for the first non-empty list; otherwise
// run the idle thread.
func (c *CPU) Select() *Thread {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil && c.cur != c.idle && c.cur.elem != nil {
		if next := c.cur.elem.Next(); next != nil {
			return next.Value.(*Thread)
		}
	}

	for i := 0; i < NumPriority; i++ {
		pl := int(c.curPri) - i
		if pl < 0 {
			pl += NumPriority
		}

		l := c.lists[pl]
		if l.Len() > 0 {
			return l.Front().Value.(*Thread)
		}
	}

	return c.idle
}

// Reschedule performs a full context switch on cpu: it demotes the current
// thread back to READY (unless it just blocked or died), selects the next
// thread per Select, and promotes it to RUNNING. It must run at IRQL
// DISPATCH.
func (s *Scheduler) Reschedule(c *CPU) *Thread {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	prev := c.cur

	if prev != nil && prev != c.idle && prev.State() == Running {
		prev.state.Store(int32(Ready))
	}

	next := c.Select()

	c.mu.Lock()
	c.cur = next
	c.curPri = next.Priority
	c.mu.Unlock()

	next.state.Store(int32(Running))

	if next.boosted.Load() {
		next.boosted.Store(false)
	}

	c.ticks.Add(1)

	return next
}

// Yield is called by the currently running thread to voluntarily give up
// the CPU. It increments the thread's quantum counter; only once the
// quantum reaches its priority's threshold -- or the thread is about to die
// -- does a full Reschedule run. RealTime threads never hit a forced
// quantum and so only yield voluntarily.
func (s *Scheduler) Yield(c *CPU) *Thread {
	cur := c.Current()

	if cur.kill.Load() {
		if !cur.grace.Load() {
			cur.grace.Store(true)
		} else {
			s.exit(c, cur)
			return s.Reschedule(c)
		}
	}

	q := cur.quantum.Add(1)
	if q < quantums[cur.Priority] {
		return cur
	}

	cur.quantum.Store(0)

	return s.Reschedule(c)
}

// exit transitions a thread to DEAD, signals its exited header for
// waiters, frees its kernel stack, and removes it from scheduling.
func (s *Scheduler) exit(c *CPU, t *Thread) {
	t.state.Store(int32(Dead))
	s.dequeue(t)
	wait.Signal(t.exited, true, false)

	if s.stackFree != nil {
		s.stackFree(t)
	}
}

// Exit is called by a thread to terminate itself immediately (e.g. from a
// syscall), bypassing the grace-yield Kill protocol.
func (s *Scheduler) Exit(c *CPU, t *Thread) {
	s.globalMu.Lock()
	s.exit(c, t)
	s.globalMu.Unlock()
}

// Suspend freezes scheduling on every CPU; the power subsystem calls it
// before sleep. Resume clears the bit. CPUs are expected to spin
// at MASKED while this bit is set; this package exposes the bit but the
// spin loop itself lives in the platform glue that drives each CPU.
func (s *Scheduler) Suspend()   { s.suspend.Store(true) }
func (s *Scheduler) Resume()    { s.suspend.Store(false) }
func (s *Scheduler) Suspended() bool { return s.suspend.Load() }
