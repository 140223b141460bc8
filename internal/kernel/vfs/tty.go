package vfs

import (
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/ksignal"
)

// Termios mirrors the POSIX control-character table and the handful of
// input-mode flags this line discipline understands.
type Termios struct {
	Canonical bool // ICANON
	Echo      bool // ECHO
	ISIG      bool // deliver INT/QUIT/TSTP on their control characters
	IXON      bool // enable output flow control (XOFF pauses writes)
	IXOFF     bool // enable input flow control

	VEOF  byte
	VERASE byte
	VKILL byte
	VINTR byte
	VQUIT byte
	VSUSP byte
}

// DefaultTermios matches common defaults: Ctrl-D EOF, Backspace erase,
// Ctrl-U kill-line, Ctrl-C interrupt, Ctrl-\ quit, Ctrl-Z suspend.
func DefaultTermios() Termios {
	return Termios{
		Canonical: true, Echo: true, ISIG: true,
		VEOF: 0x04, VERASE: 0x7F, VKILL: 0x15, VINTR: 0x03, VQUIT: 0x1C, VSUSP: 0x1A,
	}
}

// TTY is a vnode's tagged payload for character terminals: the line
// discipline (canonical/raw mode), flow control, and the foreground
// job/session a control character's signal is delivered to.
type TTY struct {
	mu sync.Mutex

	Termios Termios

	line    []byte // the in-progress canonical-mode input line
	readyCh chan []byte

	xoffed bool

	// Foreground is the process group control characters signal;
	// Session is the controlling session, both typed any to avoid an
	// import cycle with proc.
	Foreground any
	Session    any

	// RaiseSignal delivers sig to every thread in Foreground; injected by
	// the process layer so this package never imports proc or ksignal's
	// thread-walking logic directly.
	RaiseSignal func(pg any, sig ksignal.Sig)

	// Write sends raw bytes to the underlying device (or host terminal);
	// injected so this package has no hostio dependency.
	Write func([]byte) (int, error)
}

// NewTTY creates a TTY in canonical mode with the default control
// characters.
func NewTTY() *TTY {
	return &TTY{Termios: DefaultTermios(), readyCh: make(chan []byte, 64)}
}

// Input feeds one byte of raw terminal input through the line discipline.
// In canonical mode it buffers until a newline or VEOF, applying
// VERASE/VKILL editing and echoing as configured; in raw mode every byte
// is delivered immediately. ISIG control characters raise the matching
// signal against the foreground process group rather than being buffered.
func (t *TTY) Input(b byte) {
	t.mu.Lock()

	if t.Termios.IXON {
		switch b {
		case 0x13: // Ctrl-S
			t.xoffed = true
			t.mu.Unlock()

			return
		case 0x11: // Ctrl-Q
			t.xoffed = false
			t.mu.Unlock()

			return
		}
	}

	if t.Termios.ISIG {
		var sig ksignal.Sig

		switch b {
		case t.Termios.VINTR:
			sig = ksignal.SIGINT
		case t.Termios.VQUIT:
			sig = ksignal.SIGQUIT
		case t.Termios.VSUSP:
			sig = ksignal.SIGTSTP
		}

		if sig != 0 {
			t.mu.Unlock()

			if t.RaiseSignal != nil && t.Foreground != nil {
				t.RaiseSignal(t.Foreground, sig)
			}

			return
		}
	}

	if !t.Termios.Canonical {
		t.mu.Unlock()
		t.deliver([]byte{b})

		return
	}

	switch {
	case b == t.Termios.VERASE:
		if len(t.line) > 0 {
			t.line = t.line[:len(t.line)-1]
		}
	case b == t.Termios.VKILL:
		t.line = t.line[:0]
	case b == '\n' || b == t.Termios.VEOF:
		line := append(t.line, b)
		t.line = nil
		t.mu.Unlock()
		t.deliver(line)

		return
	default:
		t.line = append(t.line, b)
	}

	t.mu.Unlock()
}

func (t *TTY) deliver(line []byte) {
	select {
	case t.readyCh <- line:
	default:
		// Reader isn't keeping up; drop rather than block the input path,
		// matching a bounded tty input queue.
	}
}

// Read returns the next complete canonical-mode line (or, in raw mode, the
// next delivered chunk), blocking until one is available.
func (t *TTY) Read() []byte {
	return <-t.readyCh
}

// ReadyRead reports whether a Read would return without blocking, for the
// poll/select readiness scan.
func (t *TTY) ReadyRead() bool {
	return len(t.readyCh) > 0
}

// SetRawMode toggles canonical mode off/on.
func (t *TTY) SetRawMode(raw bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Termios.Canonical = !raw
}

// Drain writes out directly to the underlying device, respecting XOFF flow
// control by blocking (busy-polling, in this hosted model) while paused.
func (t *TTY) Drain(p []byte) (int, error) {
	for {
		t.mu.Lock()
		paused := t.xoffed
		t.mu.Unlock()

		if !paused {
			break
		}
	}

	if t.Write == nil {
		return len(p), nil
	}

	return t.Write(p)
}
