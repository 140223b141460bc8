package ksync

import (
	"sync"
	"testing"
	"time"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
)

// TestMutexHandoff exercises the basic handoff: A acquires,
// B blocks on Acquire, A releases, B's Acquire returns with A's writes
// observable.
func TestMutexHandoff(t *testing.T) {
	m := NewMutex()

	threadA, threadB := "A", "B"

	shared := 0

	if err := m.Acquire(threadA); err != nil {
		t.Fatalf("A acquire: %v", err)
	}

	bDone := make(chan error, 1)

	go func() {
		bDone <- m.Acquire(threadB)
	}()

	time.Sleep(10 * time.Millisecond)
	shared = 42

	if err := m.Release(threadA); err != nil {
		t.Fatalf("A release: %v", err)
	}

	if err := <-bDone; err != nil {
		t.Fatalf("B acquire: %v", err)
	}

	if shared != 42 {
		t.Errorf("shared = %d, want 42 (release/acquire must establish happens-before)", shared)
	}

	if err := m.Release(threadB); err != nil {
		t.Fatalf("B release: %v", err)
	}
}

func TestMutexRecursiveAcquireRejected(t *testing.T) {
	m := NewMutex()
	owner := "thread"

	if err := m.Acquire(owner); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	err := m.Acquire(owner)
	if kerrors.Of(err) != kerrors.RECURSIVE_LOCK {
		t.Errorf("recursive acquire = %v, want RECURSIVE_LOCK", err)
	}
}

func TestMutexReleaseByNonOwnerRejected(t *testing.T) {
	m := NewMutex()

	if err := m.Acquire("A"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := m.Release("B"); err == nil {
		t.Error("expected error releasing a mutex not owned by caller")
	}
}

func TestSemaphoreBlocksAtZero(t *testing.T) {
	s := NewSemaphore(0)

	acquired := make(chan struct{})

	go func() {
		_ = s.Acquire()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("acquired a zero-count semaphore")
	case <-time.After(20 * time.Millisecond):
	}

	s.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("semaphore never woke after release")
	}
}

func TestPushLockReadersDoNotBlockEachOther(t *testing.T) {
	p := NewPushLock()

	p.RLock()
	p.RLock()

	done := make(chan struct{})
	go func() {
		p.RUnlock()
		p.RUnlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("concurrent readers deadlocked")
	}
}

func TestPushLockWriterExcludesReaders(t *testing.T) {
	p := NewPushLock()
	p.Lock()

	rdone := make(chan struct{})

	go func() {
		p.RLock()
		close(rdone)
		p.RUnlock()
	}()

	select {
	case <-rdone:
		t.Fatal("reader acquired lock while writer held it")
	case <-time.After(20 * time.Millisecond):
	}

	p.Unlock()

	select {
	case <-rdone:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired lock after writer released")
	}
}

func TestEventNotificationWakesAll(t *testing.T) {
	e := NewEvent(Notification)

	var wg sync.WaitGroup
	woken := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := e.Wait(); err == nil {
				woken <- struct{}{}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	e.Signal()
	wg.Wait()

	if len(woken) != 3 {
		t.Errorf("woken = %d, want 3", len(woken))
	}
}

func TestEventSyncAutoClearsOnWake(t *testing.T) {
	e := NewEvent(Sync)
	e.Signal()

	if err := e.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if e.Signaled() {
		t.Error("sync event should auto-clear after a waiter consumes it")
	}
}

func TestFutexWakeMatchingValue(t *testing.T) {
	ft := NewFutexTable()
	key := FutexKey{Frame: 1, Offset: 0}

	word := uint32(0)
	read := func() uint32 { return word }

	waiterDone := make(chan error, 1)

	go func() {
		waiterDone <- ft.Wait(key, 0, read)
	}()

	time.Sleep(20 * time.Millisecond)
	word = 1
	ft.Wake(key, 1)

	select {
	case err := <-waiterDone:
		if err != nil {
			t.Errorf("futex wait returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("futex waiter never woke")
	}
}

func TestFutexWaitReturnsImmediatelyOnMismatch(t *testing.T) {
	ft := NewFutexTable()
	key := FutexKey{Frame: 2, Offset: 4}

	err := ft.Wait(key, 5, func() uint32 { return 6 })
	if kerrors.Of(err) != kerrors.WOULD_BLOCK {
		t.Errorf("err = %v, want WOULD_BLOCK", err)
	}
}

// TestFutexWaitWakeRaceDoesNotLoseWakeup hammers Wait and Wake against each
// other with no sleep-based ordering between them, so the waiter's compare
// and its join of the waiter list must be atomic (wait.WaitOneIf) or some
// iteration's Wake lands in the gap and that iteration's waiter hangs,
// failing the test via the timeout below.
func TestFutexWaitWakeRaceDoesNotLoseWakeup(t *testing.T) {
	ft := NewFutexTable()

	const iterations = 200

	for i := 0; i < iterations; i++ {
		key := FutexKey{Frame: uint64(i), Offset: 0}

		var mu sync.Mutex
		word := uint32(0)
		read := func() uint32 {
			mu.Lock()
			defer mu.Unlock()
			return word
		}

		waiterDone := make(chan error, 1)

		go func() {
			waiterDone <- ft.Wait(key, 0, read)
		}()

		go func() {
			mu.Lock()
			word = 1
			mu.Unlock()
			ft.Wake(key, 1)
		}()

		select {
		case err := <-waiterDone:
			// WOULD_BLOCK is the correct outcome when the waker changed the
			// word before the waiter's compare ran.
			if err != nil && kerrors.Of(err) != kerrors.WOULD_BLOCK {
				t.Fatalf("iteration %d: futex wait returned error: %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: futex waiter never woke (lost wakeup)", i)
		}
	}
}
