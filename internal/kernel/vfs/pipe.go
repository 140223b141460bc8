package vfs

import (
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/wait"
)

// PipeBufSize is POSIX's PIPE_BUF: writes at or under this size are
// atomic; larger writes may be interleaved with other writers and are
// split by Write into PipeBufSize-sized chunks.
const PipeBufSize = 512

// Pipe is a fixed-size ring buffer with the two events POSIX pipe
// semantics need: one signaled while data is available to read, one
// signaled while space is available to write.
type Pipe struct {
	mu   sync.Mutex
	buf  []byte
	r, w int
	n    int // bytes currently buffered

	DataAvailable *wait.Header
	SpaceAvailable *wait.Header

	readersClosed bool
	writersClosed bool
}

// NewPipe creates a pipe with the given ring-buffer capacity (0 selects
// the default PipeBufSize).
func NewPipe(capacity int) *Pipe {
	if capacity <= 0 {
		capacity = PipeBufSize
	}

	p := &Pipe{
		buf:            make([]byte, capacity),
		DataAvailable:  wait.NewHeader(true),
		SpaceAvailable: wait.NewHeader(true),
	}
	wait.Signal(p.SpaceAvailable, true, false) // empty pipe starts with room

	return p
}

func (p *Pipe) updateEventsLocked() {
	if p.n > 0 {
		wait.Signal(p.DataAvailable, true, false)
	} else {
		wait.Clear(p.DataAvailable)
	}

	if p.n < len(p.buf) {
		wait.Signal(p.SpaceAvailable, true, false)
	} else {
		wait.Clear(p.SpaceAvailable)
	}
}

// Read copies up to len(dst) bytes out of the ring buffer, blocking (unless
// nonblock) until at least one byte is available or the write side has
// closed.
func (p *Pipe) Read(dst []byte, nonblock bool) (int, error) {
	for {
		p.mu.Lock()

		if p.n > 0 {
			n := 0
			for n < len(dst) && p.n > 0 {
				dst[n] = p.buf[p.r]
				p.r = (p.r + 1) % len(p.buf)
				p.n--
				n++
			}

			p.updateEventsLocked()
			p.mu.Unlock()

			return n, nil
		}

		closed := p.writersClosed
		p.mu.Unlock()

		if closed {
			return 0, nil // EOF
		}

		if nonblock {
			return 0, kerrors.New(kerrors.WOULD_BLOCK, "vfs.Pipe.Read")
		}

		if err := wait.WaitOne(p.DataAvailable); err != nil {
			return 0, err
		}
	}
}

// Write copies src into the ring buffer. Writes of PipeBufSize or fewer
// bytes are performed as one atomic transfer (blocking for room for the
// whole write before copying any of it); larger writes are split into
// PipeBufSize-sized chunks, each individually atomic.
func (p *Pipe) Write(src []byte, nonblock bool) (int, error) {
	written := 0

	for written < len(src) {
		chunk := src[written:]
		if len(chunk) > PipeBufSize {
			chunk = chunk[:PipeBufSize]
		}

		n, err := p.writeAtomic(chunk, nonblock)
		written += n

		if err != nil {
			return written, err
		}

		if n < len(chunk) {
			return written, nil
		}
	}

	return written, nil
}

func (p *Pipe) writeAtomic(chunk []byte, nonblock bool) (int, error) {
	for {
		p.mu.Lock()

		free := len(p.buf) - p.n
		if free >= len(chunk) || p.readersClosed {
			if p.readersClosed {
				p.mu.Unlock()
				return 0, kerrors.New(kerrors.ABORTED, "vfs.Pipe.Write: broken pipe")
			}

			for _, b := range chunk {
				p.buf[p.w] = b
				p.w = (p.w + 1) % len(p.buf)
				p.n++
			}

			p.updateEventsLocked()
			p.mu.Unlock()

			return len(chunk), nil
		}

		p.mu.Unlock()

		if nonblock {
			return 0, kerrors.New(kerrors.WOULD_BLOCK, "vfs.Pipe.Write")
		}

		if err := wait.WaitOne(p.SpaceAvailable); err != nil {
			return 0, err
		}
	}
}

// MkPipe creates a fifo vnode around a fresh pipe and returns the read
// and write descriptors on it, the pipe-syscall shape.
func MkPipe(capacity int) (rfd, wfd *FileDescriptor) {
	vn := NewVNode(Fifo, "pipe", PermOwnerRead|PermOwnerWrite)
	vn.Pipe = NewPipe(capacity)
	vn.Ref()
	vn.Ref()

	return &FileDescriptor{VNode: vn, Flags: ORead}, &FileDescriptor{VNode: vn, Flags: OWrite}
}

// CloseReader and CloseWriter mark one end of the pipe closed, waking the
// other side so its blocking calls can observe EOF / a broken pipe.
func (p *Pipe) CloseReader() {
	p.mu.Lock()
	p.readersClosed = true
	p.mu.Unlock()
	wait.Signal(p.SpaceAvailable, true, false)
}

func (p *Pipe) CloseWriter() {
	p.mu.Lock()
	p.writersClosed = true
	p.mu.Unlock()
	wait.Signal(p.DataAvailable, true, false)
}
