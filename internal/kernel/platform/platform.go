// Package platform models the L0 layer the core's arch code would normally
// provide: page-table edits, TLB shootdown, the hardware timer, end-of-
// interrupt, a per-CPU pointer, kernel/user stack switch, and I/O fences.
// Since this core runs hosted rather than on bare metal, each of these is a
// small in-process model rather than a real MMU/APIC driver.
package platform

import "sync"

// CPU is the platform's view of one physical CPU: a slot for whatever the
// CPU-local data structure currently running on it wants to stash (mirrors
// a real architecture's GS-base/TPIDR per-CPU pointer), plus an interrupt-
// enabled flag standing in for the hardware interrupt mask.
type CPU struct {
	ID int

	mu      sync.Mutex
	local   any
	enabled bool
}

// Local returns whatever value was last stored with SetLocal -- the
// per-CPU pointer a real arch's GS-base/TPIDR register would hold.
func (c *CPU) Local() any {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.local
}

// SetLocal installs the CPU-local pointer, typically a *sched.CPU.
func (c *CPU) SetLocal(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.local = v
}

// EnableInterrupts and DisableInterrupts model the hardware interrupt-enable
// flag (EFLAGS.IF, DAIF, ...) that irql.Register's HardwareMask sits above.
func (c *CPU) EnableInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = true
}

func (c *CPU) DisableInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = false
}

func (c *CPU) InterruptsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.enabled
}

// EOI acknowledges the currently-in-service interrupt to the (modelled)
// interrupt controller. A real platform would write to the APIC/PIC; here
// it is a hook so tests can assert an EOI was sent for every IRQ delivered.
type EOI func(vector int)

// Set is the fixed collection of CPUs the kernel boots with. NumCPU mirrors
// how many symmetric cores the scheduler (L6) was told to manage.
type Set struct {
	cpus []*CPU
}

// NewSet creates n CPUs, numbered 0..n-1.
func NewSet(n int) *Set {
	s := &Set{cpus: make([]*CPU, n)}
	for i := range s.cpus {
		s.cpus[i] = &CPU{ID: i}
	}

	return s
}

func (s *Set) NumCPU() int    { return len(s.cpus) }
func (s *Set) CPU(i int) *CPU { return s.cpus[i] }

// IOFence is a full read/write memory barrier, the software stand-in for
// the platform's fence/mfence instruction. Go's memory model gives atomic
// and mutex operations sequential-consistency already, so this exists
// purely as a named call site for ordering-sensitive device paths --
// code that needs ordering uses sync/atomic directly.
func IOFence() {}

// StackSwitch is implemented by the per-architecture trampoline that moves
// execution onto a new kernel or user stack (thread creation, signal
// delivery onto an altstack, sysret to user mode). The core only calls it.
type StackSwitch interface {
	SwitchTo(stackTop uintptr, entry func())
}
