package ksync

import (
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/wait"
)

// PushLock is a reader-preferring read/write lock: readers never wait behind
// a queued writer unless a writer currently holds the lock.
type PushLock struct {
	mu      sync.Mutex
	readers int
	writer  bool

	writerHdr *wait.Header // writers queue here, woken one at a time
	readerHdr *wait.Header // readers park here while a writer holds the lock
}

// NewPushLock creates an unlocked PushLock.
func NewPushLock() *PushLock {
	return &PushLock{
		writerHdr: wait.NewHeader(false),
		readerHdr: wait.NewHeader(true),
	}
}

// RLock acquires the lock for reading. It blocks only while a writer
// currently holds the lock.
func (p *PushLock) RLock() {
	for {
		p.mu.Lock()
		if !p.writer {
			p.readers++
			p.mu.Unlock()

			return
		}
		p.mu.Unlock()

		_ = wait.WaitOne(p.readerHdr)
	}
}

// RUnlock releases a read lock. If this was the last reader and a writer is
// queued, the writer is woken.
func (p *PushLock) RUnlock() {
	p.mu.Lock()
	p.readers--
	woke := p.readers == 0
	p.mu.Unlock()

	if woke {
		wait.Signal(p.writerHdr, false, false)
	}
}

// Lock acquires the lock for writing, blocking until there are no readers
// and no other writer.
func (p *PushLock) Lock() {
	for {
		p.mu.Lock()
		if !p.writer && p.readers == 0 {
			p.writer = true
			p.mu.Unlock()

			return
		}
		p.mu.Unlock()

		_ = wait.WaitOne(p.writerHdr)
	}
}

// Unlock releases the write lock, admitting any readers that queued behind
// it and, if none, letting the next writer race for the lock.
func (p *PushLock) Unlock() {
	p.mu.Lock()
	p.writer = false
	p.mu.Unlock()

	wait.Signal(p.readerHdr, true, false)
	wait.Clear(p.readerHdr)
	wait.Signal(p.writerHdr, false, false)
}
