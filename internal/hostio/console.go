package hostio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/obos-dev/kernel/internal/kernel/vfs"
)

// ErrNoTTY is returned by NewConsole when standard input is not a terminal.
var ErrNoTTY = errors.New("hostio: not a TTY")

// Console bridges a real host terminal to a vfs.TTY vnode: raw-mode
// switching and ioctl termios plumbing via golang.org/x/term and
// golang.org/x/sys/unix, feeding the host's keystrokes into the TTY's
// line discipline.
type Console struct {
	fd    int
	in    *os.File
	out   *term.Terminal
	state *term.State

	tty *vfs.TTY

	mu   sync.Mutex
	done bool
}

// NewConsole wraps sin/sout as a Console driving tty. It puts the terminal
// into raw mode immediately; callers must call Restore to return it to its
// original state.
func NewConsole(sin, sout *os.File, tty *vfs.TTY) (*Console, error) {
	fd := int(sin.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoTTY, err)
	}

	c := &Console{
		fd:    fd,
		in:    sin,
		out:   term.NewTerminal(sout, ""),
		state: saved,
		tty:   tty,
	}

	if err := c.setTerminalParams(1, 0); err != nil {
		_ = term.Restore(fd, saved)
		return nil, err
	}

	tty.Write = func(p []byte) (int, error) { return c.out.Write(p) }

	return c, nil
}

// Run pumps host keystrokes into the TTY's line discipline until ctx is
// canceled or the input stream returns an error, then restores the
// terminal. It is meant to run in its own goroutine.
func (c *Console) Run(ctx context.Context) {
	defer c.Restore()

	buf := bufio.NewReader(c.in)

	_ = syscall.SetNonblock(c.fd, false)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := buf.ReadByte()
		if err != nil {
			return
		}

		c.tty.Input(b)
	}
}

// Restore returns the terminal to its original state. Safe to call more
// than once.
func (c *Console) Restore() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return
	}

	c.done = true

	_ = c.in.SetReadDeadline(time.Now())
	_ = term.Restore(c.fd, c.state)
}

func (c *Console) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(c.fd, true)

	termIO, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(c.fd, setTermiosIoctl, termIO); err != nil {
		return err
	}

	_ = c.in.SetReadDeadline(time.Time{})

	return nil
}
