package sched

import (
	"runtime"
	"testing"

	"github.com/obos-dev/kernel/internal/kernel/wait"
)

// TestSingleThreadQuantumRotation: a single NORMAL-priority thread runs
// continuously; after 8 ticks (Normal's
// quantum) the scheduler re-selects it, and no other thread ever runs.
func TestSingleThreadQuantumRotation(t *testing.T) {
	s := New(1, nil)
	cpu := s.CPU(0)

	th, err := s.NewThread(Normal, 0, nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}

	s.Reschedule(cpu) // idle -> th, since th is the only non-idle ready thread

	if cpu.Current() != th {
		t.Fatalf("current = %v, want the new thread", cpu.Current())
	}

	before := cpu.Ticks() // the setup Reschedule above already counted once

	for i := 0; i < int(quantums[Normal])-1; i++ {
		got := s.Yield(cpu)
		if got != th {
			t.Fatalf("yield %d: current changed early to %v", i, got)
		}
	}

	got := s.Yield(cpu)
	if got != th {
		t.Errorf("after full quantum, current = %v, want same thread re-selected", got)
	}

	if got := cpu.Ticks() - before; got != 1 {
		t.Errorf("schedulerTicks advanced by %d over the quantum, want 1 reschedule", got)
	}
}

func TestReadyPicksLeastLoadedEligibleCPU(t *testing.T) {
	s := New(2, nil)

	// Load CPU 0 up with threads restricted to it.
	for i := 0; i < 3; i++ {
		if _, err := s.NewThread(Normal, 1<<0, nil); err != nil {
			t.Fatalf("new thread: %v", err)
		}
	}

	th, err := s.NewThread(Normal, 0, nil) // no affinity restriction
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}

	if th.cpu.ID != 1 {
		t.Errorf("thread landed on CPU %d, want the less-loaded CPU 1", th.cpu.ID)
	}
}

func TestBlockAndWake(t *testing.T) {
	s := New(1, nil)
	cpu := s.CPU(0)

	th, err := s.NewThread(Normal, 0, nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}

	s.Reschedule(cpu)

	h := wait.NewHeader(true)

	blockDone := make(chan error, 1)

	go func() {
		blockDone <- s.Block(th, h, true)
	}()

	// Give Block time to dequeue and start waiting.
	for th.State() != Blocked {
		runtime.Gosched()
	}

	wait.Signal(h, false, false)

	if err := <-blockDone; err != nil {
		t.Fatalf("block: %v", err)
	}

	if th.State() != Ready {
		t.Errorf("state after wake = %s, want READY", th.State())
	}

	if !th.boosted.Load() {
		t.Error("expected priority boost to be set after a boosted wake")
	}
}

func TestParkBlocksUntilUnpark(t *testing.T) {
	s := New(1, nil)

	th, err := s.NewThread(Normal, 0, nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}

	parkDone := make(chan error, 1)

	go func() {
		parkDone <- s.Park(th)
	}()

	for th.State() != Blocked {
		runtime.Gosched()
	}

	s.Unpark(th)

	if err := <-parkDone; err != nil {
		t.Fatalf("park: %v", err)
	}

	if th.State() != Ready {
		t.Errorf("state after unpark = %s, want READY", th.State())
	}
}

func TestUnparkBeforeParkIsNotLost(t *testing.T) {
	s := New(1, nil)

	th, err := s.NewThread(Normal, 0, nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}

	s.Unpark(th)

	// The earlier Unpark latched the park header, so this Park returns
	// without ever blocking.
	if err := s.Park(th); err != nil {
		t.Fatalf("park: %v", err)
	}

	if wait.Signaled(th.ParkHeader()) {
		t.Error("park header still latched after Park consumed the unpark")
	}
}

func TestSetPriorityRelinksQueuedThread(t *testing.T) {
	s := New(1, nil)
	cpu := s.CPU(0)

	th, err := s.NewThread(Low, 0, nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}

	if err := s.SetPriority(th, High); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}

	if th.Priority != High {
		t.Fatalf("priority = %v, want High", th.Priority)
	}

	cpu.mu.Lock()
	inHigh := cpu.lists[High].Len()
	inLow := cpu.lists[Low].Len()
	cpu.mu.Unlock()

	if inHigh != 1 || inLow != 0 {
		t.Errorf("lists after SetPriority: high=%d low=%d, want 1/0", inHigh, inLow)
	}
}

func TestSetAffinityMigratesOffExcludedCPU(t *testing.T) {
	s := New(2, nil)

	th, err := s.NewThread(Normal, 1<<0, nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}

	if th.cpu.ID != 0 {
		t.Fatalf("thread landed on CPU %d, want 0", th.cpu.ID)
	}

	if err := s.SetAffinity(th, 1<<1); err != nil {
		t.Fatalf("SetAffinity: %v", err)
	}

	if th.cpu.ID != 1 {
		t.Errorf("thread still on CPU %d after affinity change, want 1", th.cpu.ID)
	}
}

func TestSetAffinityRejectsEmptyEligibleSet(t *testing.T) {
	s := New(1, nil)

	th, err := s.NewThread(Normal, 0, nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}

	if err := s.SetAffinity(th, 1<<5); err == nil {
		t.Fatal("SetAffinity with no eligible CPU: want INVALID_AFFINITY, got nil")
	}
}

func TestKillTerminatesAfterGraceYield(t *testing.T) {
	s := New(1, nil)
	cpu := s.CPU(0)

	th, err := s.NewThread(Normal, 0, nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}

	s.Reschedule(cpu)
	th.Kill()

	s.Yield(cpu) // grace yield: still alive
	if th.State() == Dead {
		t.Fatal("thread died before its grace yield")
	}

	s.Yield(cpu) // now it should die
	if th.State() != Dead {
		t.Errorf("state = %s, want DEAD", th.State())
	}
}

func TestSignalRequestedBoostAppliesOnWake(t *testing.T) {
	s := New(1, nil)

	th, err := s.NewThread(Normal, 0, nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}

	h := wait.NewHeader(true)
	blockDone := make(chan error, 1)

	go func() {
		blockDone <- s.Block(th, h, false)
	}()

	for th.State() != Blocked {
		runtime.Gosched()
	}

	// The blocking side asked for no boost; the signaling side does.
	wait.Signal(h, false, true)

	if err := <-blockDone; err != nil {
		t.Fatalf("block: %v", err)
	}

	if !th.boosted.Load() {
		t.Error("boost requested by Signal was not applied to the woken thread")
	}
}
