package wait

import (
	"sync"
	"testing"
	"time"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
)

func TestSignalWakesOneFIFO(t *testing.T) {
	h := NewHeader(true)

	var (
		order   []int
		orderMu sync.Mutex
		wg      sync.WaitGroup
	)

	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := WaitOne(h); err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}

			orderMu.Lock()
			order = append(order, i)
			orderMu.Unlock()
		}()

		// Give each goroutine a chance to enqueue before the next is
		// started, so FIFO order is deterministic.
		for NumWaiters(h) <= i {
			time.Sleep(time.Millisecond)
		}
	}

	Signal(h, false, false)
	time.Sleep(10 * time.Millisecond)

	orderMu.Lock()
	got := append([]int(nil), order...)
	orderMu.Unlock()

	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("expected only waiter 0 woken, got %v", got)
	}

	Signal(h, false, false)

	// Let waiter 1 record itself before waiter 2 is released, so the
	// recorded order is the wake order.
	for {
		orderMu.Lock()
		n := len(order)
		orderMu.Unlock()

		if n >= 2 {
			break
		}

		time.Sleep(time.Millisecond)
	}

	Signal(h, false, false)
	wg.Wait()

	orderMu.Lock()
	got = append([]int(nil), order...)
	orderMu.Unlock()

	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Errorf("FIFO order violated: got %v", got)
	}
}

func TestWaitManyRequiresAllSignals(t *testing.T) {
	e1 := NewHeader(true)
	e2 := NewHeader(true)

	done := make(chan error, 1)

	go func() {
		done <- WaitMany([]*Header{e1, e2})
	}()

	time.Sleep(10 * time.Millisecond)

	select {
	case <-done:
		t.Fatal("waiter returned before both events signaled")
	default:
	}

	Signal(e1, true, false)
	time.Sleep(10 * time.Millisecond)

	select {
	case <-done:
		t.Fatal("waiter returned after only one of two events signaled")
	default:
	}

	Signal(e2, true, false)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitMany returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke after both events signaled")
	}

	// A third signal on either event should not cause any extra wake; there
	// is nothing else to observe here beyond the absence of a panic or a
	// double-close, which would already have failed the test.
	Signal(e1, true, false)
}

func TestAbortWakesAllWaitersWithError(t *testing.T) {
	h := NewHeader(true)

	results := make(chan error, 2)

	for i := 0; i < 2; i++ {
		go func() { results <- WaitOne(h) }()
	}

	for NumWaiters(h) < 2 {
		time.Sleep(time.Millisecond)
	}

	Abort(h)

	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			t.Error("expected ABORTED error after Abort")
		}
	}
}

func TestUseSignaledFastPath(t *testing.T) {
	h := NewHeader(true)
	Signal(h, true, false)

	if err := WaitOne(h); err != nil {
		t.Errorf("WaitOne on already-signaled header returned error: %v", err)
	}
}

func TestWaitOneIfFailsFastWithoutQueueingOnMismatch(t *testing.T) {
	h := NewHeader(false)

	err := WaitOneIf(h, func() bool { return false })
	if kerrors.Of(err) != kerrors.WOULD_BLOCK {
		t.Errorf("err = %v, want WOULD_BLOCK", err)
	}

	if NumWaiters(h) != 0 {
		t.Errorf("NumWaiters = %d, want 0 after a failed predicate", NumWaiters(h))
	}
}

// TestWaitOneIfChecksPredicateAtomicallyWithEnqueue hammers WaitOneIf against
// a concurrent Signal with no ordering between them. cond's read of word and
// the enqueue onto h's waiter list happen under the same h.mu acquisition, so
// every iteration's Signal either observes the waiter already queued or is
// observed by cond first; neither side of that race can fail to wake the
// other.
func TestWaitOneIfChecksPredicateAtomicallyWithEnqueue(t *testing.T) {
	const iterations = 200

	for i := 0; i < iterations; i++ {
		h := NewHeader(false)

		var mu sync.Mutex
		word := 0
		cond := func() bool {
			mu.Lock()
			defer mu.Unlock()
			return word == 0
		}

		done := make(chan error, 1)

		go func() { done <- WaitOneIf(h, cond) }()

		go func() {
			mu.Lock()
			word = 1
			mu.Unlock()
			Signal(h, false, false)
		}()

		select {
		case err := <-done:
			if err != nil && kerrors.Of(err) != kerrors.WOULD_BLOCK {
				t.Fatalf("iteration %d: unexpected error: %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: WaitOneIf never returned (lost wakeup)", i)
		}
	}
}

func TestClearResetsSignaled(t *testing.T) {
	h := NewHeader(true)
	Signal(h, true, false)
	Clear(h)

	if Signaled(h) {
		t.Error("expected signaled to be false after Clear")
	}
}

func TestSignalBoostSurfacesToWaiter(t *testing.T) {
	h := NewHeader(true)

	type result struct {
		boosted bool
		err     error
	}

	done := make(chan result, 1)

	go func() {
		boosted, err := WaitOneBoosted(h)
		done <- result{boosted, err}
	}()

	for NumWaiters(h) == 0 {
		time.Sleep(time.Millisecond)
	}

	Signal(h, false, true)

	r := <-done
	if r.err != nil {
		t.Fatalf("WaitOneBoosted: %v", r.err)
	}

	if !r.boosted {
		t.Fatal("Signal with boost did not surface on the woken waiter")
	}

	// The already-signaled fast path never reports a boost: no Signal
	// released this wait.
	boosted, err := WaitOneBoosted(h)
	if err != nil || boosted {
		t.Fatalf("fast-path wait: boosted=%v err=%v, want false/nil", boosted, err)
	}
}
