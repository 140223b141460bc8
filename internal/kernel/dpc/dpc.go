// Package dpc implements deferred procedure calls: work items queued by
// interrupt handlers (or any code running at or above DISPATCH) and run
// later, at IRQL DISPATCH, once the CPU's IRQL drops back down. This keeps
// interrupt handlers themselves short while letting their follow-up work run
// with interrupts enabled up to DISPATCH.
package dpc

import (
	"container/list"
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/log"
)

// Func is a deferred callback. arg is the opaque argument supplied at
// enqueue time.
type Func func(arg any)

// DPC is one queued deferred procedure call.
type DPC struct {
	fn       Func
	arg      any
	enqueued bool
}

// New creates a DPC bound to fn. It may be enqueued repeatedly once it has
// run to completion and is no longer enqueued.
func New(fn Func) *DPC {
	return &DPC{fn: fn}
}

// Queue is a single CPU's list of pending DPCs.
type Queue struct {
	mu   sync.Mutex
	list list.List // of *DPC

	log *log.Logger
}

// NewQueue creates an empty per-CPU DPC queue.
func NewQueue() *Queue {
	return &Queue{log: log.DefaultLogger()}
}

// Enqueue appends a DPC to the tail of the queue. Re-enqueuing a DPC that is
// already queued is rejected with DPC_ALREADY_ENQUEUED.
func (q *Queue) Enqueue(d *DPC, arg any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if d.enqueued {
		return kerrors.New(kerrors.DPC_ALREADY_ENQUEUED, "dpc.Enqueue")
	}

	d.arg = arg
	d.enqueued = true
	q.list.PushBack(d)

	return nil
}

// Drain pops and runs every queued DPC, in FIFO order, until the queue is
// empty. Each callback is expected to run at IRQL DISPATCH; the caller (the
// irql package's Lower path) is responsible for that invariant.
func (q *Queue) Drain() {
	for {
		q.mu.Lock()

		front := q.list.Front()
		if front == nil {
			q.mu.Unlock()
			return
		}

		q.list.Remove(front)
		d := front.Value.(*DPC)
		d.enqueued = false

		q.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					q.log.Error("dpc: callback panicked", "recover", r)
				}
			}()

			d.fn(d.arg)
		}()
	}
}

// Empty reports whether the queue currently has no pending DPCs.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.list.Len() == 0
}
