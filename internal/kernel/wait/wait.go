// Package wait implements the waitable-object header shared by every
// synchronizable kernel object -- mutexes, semaphores, events, pushlocks,
// futexes, sockets, pipes, and zombie-process status. It is the single
// rendezvous primitive the rest of the synchronization stack is built on.
package wait

import (
	"container/list"
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
)

// Header is embedded (by composition, in Go) in every waitable kernel
// object. It holds the waiter list and the object's signaled/interrupted
// bits.
type Header struct {
	mu sync.Mutex

	waiters list.List // of *waiterNode

	signaled    bool
	useSignaled bool // false for objects (e.g. semaphores) that don't use signaled/Clear at all
	interrupted bool
}

// NewHeader creates a Header. useSignaled selects whether the header
// supports the signaled/Clear fast path (true for events and mutexes; false
// for counting semaphores, which always queue).
func NewHeader(useSignaled bool) *Header {
	return &Header{useSignaled: useSignaled}
}

// waiterNode is one thread's membership in one or more headers' waiter
// lists, shared across every header a WaitMany call touches.
type waiterNode struct {
	mu        sync.Mutex
	nWaiting  int
	nSignaled int
	done      chan struct{}
	woken     bool
	aborted   bool
	boosted   bool // a Signal that released this node asked for a priority boost

	elems []*list.Element // elements in each header's list this node was inserted into, paired with headers
	hdrs  []*Header
}

func newWaiterNode(n int) *waiterNode {
	return &waiterNode{nWaiting: n, done: make(chan struct{})}
}

func (w *waiterNode) signalOne(boost bool) (readied bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.woken {
		return false
	}

	if boost {
		w.boosted = true
	}

	w.nSignaled++
	if w.nSignaled >= w.nWaiting {
		w.woken = true
		close(w.done)

		return true
	}

	return false
}

func (w *waiterNode) abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.woken {
		return
	}

	w.woken = true
	w.aborted = true
	close(w.done)
}

// unlinkAllExcept removes this node from every header's waiter list it was
// inserted into, except skip (the header whose Signal or Abort has already
// removed it).
func (w *waiterNode) unlinkAllExcept(skip *Header) {
	for i, h := range w.hdrs {
		if h == skip {
			continue
		}

		h.mu.Lock()
		h.waiters.Remove(w.elems[i])
		h.mu.Unlock()
	}
}

// WaitOne blocks the calling goroutine -- standing in for a kernel thread --
// until obj is signaled. If the header already satisfies use-signaled
// semantics, WaitOne returns immediately without queueing. Returns ABORTED
// if the object (or the wait itself) is interrupted before being signaled.
func WaitOne(h *Header) error {
	_, err := WaitOneBoosted(h)

	return err
}

// WaitOneBoosted is WaitOne, additionally reporting whether the Signal
// that released the wait asked for a priority boost on the waiter. The
// scheduler's Block uses this to apply the boost when it re-queues the
// woken thread; callers that don't schedule threads use plain WaitOne.
func WaitOneBoosted(h *Header) (boosted bool, err error) {
	h.mu.Lock()

	if h.interrupted {
		h.mu.Unlock()
		return false, kerrors.New(kerrors.ABORTED, "wait.WaitOne")
	}

	if h.useSignaled && h.signaled {
		h.mu.Unlock()
		return false, nil
	}

	node := newWaiterNode(1)
	node.hdrs = []*Header{h}
	elem := h.waiters.PushBack(node)
	node.elems = []*list.Element{elem}

	h.mu.Unlock()

	<-node.done

	if node.aborted {
		return false, kerrors.New(kerrors.ABORTED, "wait.WaitOne")
	}

	return node.boosted, nil
}

// WaitOneIf is WaitOne, except the caller's predicate cond is evaluated
// under h.mu, atomically with the enqueue: cond runs exactly once, with no
// Signal able to land between the check and joining the waiter list. Callers
// that need to compare some external state (e.g. a futex's user-space word)
// against an expected value before blocking must use this instead of
// checking the state themselves and then calling WaitOne -- checking outside
// the lock leaves a window where a concurrent Signal sees no waiters yet and
// wakes nobody, and the waiter then blocks forever. cond returning false
// means the wait is already satisfied; WaitOneIf returns WOULD_BLOCK without
// queueing.
func WaitOneIf(h *Header, cond func() bool) error {
	h.mu.Lock()

	if h.interrupted {
		h.mu.Unlock()
		return kerrors.New(kerrors.ABORTED, "wait.WaitOneIf")
	}

	if h.useSignaled && h.signaled {
		h.mu.Unlock()
		return nil
	}

	if !cond() {
		h.mu.Unlock()
		return kerrors.New(kerrors.WOULD_BLOCK, "wait.WaitOneIf")
	}

	node := newWaiterNode(1)
	node.hdrs = []*Header{h}
	elem := h.waiters.PushBack(node)
	node.elems = []*list.Element{elem}

	h.mu.Unlock()

	<-node.done

	if node.aborted {
		return kerrors.New(kerrors.ABORTED, "wait.WaitOneIf")
	}

	return nil
}

// WaitMany blocks until every header in objs has contributed a signal to the
// same waiter node -- i.e., until all objects have been signaled at least
// once since the wait began. Headers already signaled when WaitMany is
// called count immediately.
func WaitMany(objs []*Header) error {
	already := 0

	for _, h := range objs {
		h.mu.Lock()
		if h.interrupted {
			h.mu.Unlock()
			return kerrors.New(kerrors.ABORTED, "wait.WaitMany")
		}

		if h.useSignaled && h.signaled {
			already++
		}
		h.mu.Unlock()
	}

	nWaiting := len(objs) - already
	if nWaiting <= 0 {
		return nil
	}

	node := newWaiterNode(nWaiting)
	node.hdrs = make([]*Header, 0, len(objs))
	node.elems = make([]*list.Element, 0, len(objs))

	for _, h := range objs {
		h.mu.Lock()

		if h.useSignaled && h.signaled {
			h.mu.Unlock()
			continue
		}

		elem := h.waiters.PushBack(node)
		node.hdrs = append(node.hdrs, h)
		node.elems = append(node.elems, elem)

		h.mu.Unlock()
	}

	<-node.done

	if node.aborted {
		return kerrors.New(kerrors.ABORTED, "wait.WaitMany")
	}

	return nil
}

// Signal wakes waiters on h. If all is false, only the FIFO head of the
// waiter list is signaled -- the classic "wake one" semantics used by
// synchronization events and mutex release. If h.useSignaled, the signaled
// bit latches true regardless of whether any waiter was present. boost
// asks the scheduler to priority-boost each thread this call readies; this
// package does not itself know about thread priority, so the request is
// recorded on the woken waiter node and surfaced to the blocked side
// through WaitOneBoosted, which sched.Block consults when re-queueing the
// thread.
func Signal(h *Header, all bool, boost bool) {
	h.mu.Lock()

	if h.useSignaled {
		h.signaled = true
	}

	var woke []*waiterNode

	if all {
		for e := h.waiters.Front(); e != nil; {
			next := e.Next()
			node := e.Value.(*waiterNode)
			h.waiters.Remove(e)

			woke = append(woke, node)
			e = next
		}
	} else if front := h.waiters.Front(); front != nil {
		node := front.Value.(*waiterNode)
		h.waiters.Remove(front)
		woke = append(woke, node)
	}

	h.mu.Unlock()

	for _, node := range woke {
		// A node waiting on several headers (WaitMany) stays queued on the
		// others until every one of them has signaled it.
		if node.signalOne(boost) {
			node.unlinkAllExcept(h)
		}
	}
}

// Clear resets the signaled bit, used by manual-reset (notification) events.
func Clear(h *Header) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.signaled = false
}

// Signaled reports the current signaled bit without side effects.
func Signaled(h *Header) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.signaled
}

// Abort marks h interrupted and wakes every current waiter with an abort
// indication; their WaitOne/WaitMany calls return ABORTED.
func Abort(h *Header) {
	h.mu.Lock()
	h.interrupted = true

	var all []*waiterNode
	for e := h.waiters.Front(); e != nil; e = e.Next() {
		all = append(all, e.Value.(*waiterNode))
	}
	h.waiters.Init()
	h.mu.Unlock()

	for _, node := range all {
		node.unlinkAllExcept(h)
		node.abort()
	}
}

// Reset clears the interrupted bit, allowing a header to be reused -- e.g.
// when a futex's backing page is remapped.
func Reset(h *Header) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.interrupted = false
}

// NumWaiters reports the number of distinct waiter nodes queued on h, for
// diagnostics and tests.
func NumWaiters(h *Header) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.waiters.Len()
}
