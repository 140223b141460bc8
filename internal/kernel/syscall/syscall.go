// Package syscall implements the numbered syscall dispatch table (L15):
// each entry maps a syscall number to an argument count and a function
// pointer. User
// pointer arguments are copied in and out through the VMM's CopyIn/CopyOut,
// the software stand-in for MapViewOfUserMemory followed by a memcpy, and
// every copy failure becomes a PAGE_FAULT status returned to the caller
// rather than a crash.
package syscall

import (
	"fmt"
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/handle"
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/proc"
	"github.com/obos-dev/kernel/internal/kernel/sched"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
	"github.com/obos-dev/kernel/internal/kernel/vmm"
	"github.com/obos-dev/kernel/internal/log"
)

// Number identifies one syscall. The concrete assignment lives in
// numbers_gen.go, generated by tools/syscallgen from the declarative list
// in that tool's source so the number, name, and argc tables can never
// drift out of sync with each other.
type Number uint32

// Args is the syscall ABI's argument-register file: up to five arguments,
// each either an integer value or (for pointer arguments) a user-space
// virtual address the handler must CopyIn/CopyOut through Call.
type Args [5]uintptr

// HandlerFunc implements one syscall. It returns the value to place in the
// primary return register and an error, which Dispatch translates to a
// kerrors.Kind for the caller.
type HandlerFunc func(call *Call) (uintptr, error)

// Call bundles everything a handler needs: the calling thread/process, its
// address space and handle table, and the raw argument registers.
type Call struct {
	Process   *proc.Process
	Thread    *proc.Thread
	ProcTable *proc.Table
	CPU       *sched.CPU
	Sched     *sched.Scheduler
	Mem       *vmm.Manager
	Ctx       *vmm.Context
	VFS       *vfs.VFS
	Handles   *handle.Table

	Args Args
}

// CopyIn copies n bytes from the user-space address uaddr into a
// freshly-allocated kernel buffer, going through the VMM rather than
// dereferencing the pointer directly so a bad user address surfaces as
// PAGE_FAULT instead of corrupting or crashing the kernel.
func (c *Call) CopyIn(uaddr uintptr, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := c.Mem.CopyIn(c.Ctx, uaddr, buf); err != nil {
		return nil, kerrors.Wrap(kerrors.PAGE_FAULT, "syscall.CopyIn", err)
	}

	return buf, nil
}

// CopyOut copies src to the user-space address uaddr.
func (c *Call) CopyOut(uaddr uintptr, src []byte) error {
	if err := c.Mem.CopyOut(c.Ctx, uaddr, src); err != nil {
		return kerrors.Wrap(kerrors.PAGE_FAULT, "syscall.CopyOut", err)
	}

	return nil
}

// entry is one row of the dispatch table.
type entry struct {
	name string
	argc int
	fn   HandlerFunc
}

// Table is the kernel's syscall dispatch table, indexed by Number.
type Table struct {
	mu      sync.RWMutex
	entries map[Number]*entry
	log     *log.Logger
}

// NewTable creates an empty dispatch table.
func NewTable() *Table {
	return &Table{entries: make(map[Number]*entry), log: log.DefaultLogger()}
}

// Register installs the handler for num. It panics on a duplicate
// registration: two handlers claiming the same syscall number is a build
// error, not a runtime condition to recover from.
func (t *Table) Register(num Number, name string, argc int, fn HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[num]; exists {
		panic(fmt.Sprintf("syscall: number %d already registered", num))
	}

	t.entries[num] = &entry{name: name, argc: argc, fn: fn}
}

// Lookup returns the registered name and argc for num, for diagnostics and
// argument-count validation ahead of Dispatch.
func (t *Table) Lookup(num Number) (name string, argc int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[num]
	if !ok {
		return "", 0, false
	}

	return e.name, e.argc, true
}

// Dispatch runs the handler registered for num with call, translating an
// unregistered number to UNIMPLEMENTED so the syscall trap handler has a
// single uniform path back to user mode.
func (t *Table) Dispatch(num Number, call *Call) (uintptr, error) {
	t.mu.RLock()
	e, ok := t.entries[num]
	t.mu.RUnlock()

	if !ok {
		return 0, kerrors.New(kerrors.UNIMPLEMENTED, "syscall.Dispatch")
	}

	ret, err := e.fn(call)
	if err != nil {
		t.log.Debug("syscall failed", "syscall", e.name, "err", err)
	}

	return ret, err
}
