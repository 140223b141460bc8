package dpc

import (
	"sync"
	"testing"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
)

func TestEnqueueDrainRunsInFIFOOrder(t *testing.T) {
	q := NewQueue()

	var got []int
	for i := 0; i < 3; i++ {
		i := i
		if err := q.Enqueue(New(func(arg any) { got = append(got, arg.(int)) }), i); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	q.Drain()

	want := []int{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	if !q.Empty() {
		t.Error("Empty: want true after Drain")
	}
}

func TestEnqueueRejectsAlreadyQueued(t *testing.T) {
	q := NewQueue()
	d := New(func(any) {})

	if err := q.Enqueue(d, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := q.Enqueue(d, nil); kerrors.Of(err) != kerrors.DPC_ALREADY_ENQUEUED {
		t.Fatalf("Enqueue of already-queued DPC = %v, want DPC_ALREADY_ENQUEUED", err)
	}
}

func TestDrainRecoversPanickingCallback(t *testing.T) {
	q := NewQueue()

	if err := q.Enqueue(New(func(any) { panic("boom") }), nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ran := false
	if err := q.Enqueue(New(func(any) { ran = true }), nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	q.Drain()

	if !ran {
		t.Error("Drain: want remaining DPCs to run after a panicking callback")
	}
}

func TestDPCCanBeReenqueuedAfterRunning(t *testing.T) {
	q := NewQueue()

	var mu sync.Mutex
	runs := 0
	d := New(func(any) {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	if err := q.Enqueue(d, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q.Drain()

	if err := q.Enqueue(d, nil); err != nil {
		t.Fatalf("re-Enqueue after Drain: %v", err)
	}
	q.Drain()

	if runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}
}
