// Package irql implements the kernel's software interrupt-priority level.
//
// Every CPU maintains its own IRQL, 0 (PASSIVE) through 15 (MASKED). Raising
// the level requires a matching hardware mask change; lowering past DISPATCH
// drains that CPU's DPC queue before returning. The level is a software
// register: a single mutable value guarded by explicit, ordered
// transitions rather than a lock.
package irql

import (
	"fmt"
	"sync/atomic"
)

// Level is a software interrupt priority, 0..15.
type Level uint8

const (
	PASSIVE  Level = 0
	APC      Level = 1
	DISPATCH Level = 2
	DEVICE0  Level = 3
	DEVICE1  Level = 4
	DEVICE2  Level = 5
	CLOCK    Level = 13
	POWER    Level = 14
	MASKED   Level = 15
)

func (l Level) String() string {
	switch l {
	case PASSIVE:
		return "PASSIVE"
	case APC:
		return "APC"
	case DISPATCH:
		return "DISPATCH"
	case CLOCK:
		return "CLOCK"
	case POWER:
		return "POWER"
	case MASKED:
		return "MASKED"
	default:
		return fmt.Sprintf("IRQL(%d)", uint8(l))
	}
}

// HardwareMask is implemented by the platform shim (L0) to raise or lower the
// CPU's real interrupt mask to match a software IRQL. It is provided by arch
// code; the core only calls it.
type HardwareMask interface {
	// Mask configures the hardware so that only interrupts at priority > to
	// are delivered.
	Mask(to Level)
}

// Drain is called whenever the IRQL drops below DISPATCH; it should run
// every pending deferred procedure call. The caller passes it to New (for
// example a dpc.Queue's Drain), so this package never imports dpc.
type Drain func()

// Register is a per-CPU software IRQL register.
type Register struct {
	level atomic.Uint32
	hw    HardwareMask
	drain Drain
}

// New creates a Register starting at PASSIVE.
func New(hw HardwareMask, drain Drain) *Register {
	r := &Register{hw: hw, drain: drain}
	r.level.Store(uint32(PASSIVE))

	return r
}

// Current returns the CPU's current IRQL.
func (r *Register) Current() Level {
	return Level(r.level.Load())
}

// Raise elevates the IRQL to "to", returning the previous level so the caller
// can later restore it with Lower. Raising below the current level panics:
// it is a kernel bug, not a recoverable runtime condition, exactly as a real
// IRQL violation would corrupt control flow rather than fail gracefully.
func (r *Register) Raise(to Level) Level {
	old := Level(r.level.Load())

	if to < old {
		panic(fmt.Sprintf("irql: raise target %s below current %s", to, old))
	}

	r.level.Store(uint32(to))

	if r.hw != nil {
		r.hw.Mask(to)
	}

	return old
}

// Lower restores the IRQL to "to". Lowering above the current level panics.
// If the new level is below DISPATCH, the CPU's DPC queue is drained before
// Lower returns.
func (r *Register) Lower(to Level) {
	old := Level(r.level.Load())

	if to > old {
		panic(fmt.Sprintf("irql: lower target %s above current %s", to, old))
	}

	r.level.Store(uint32(to))

	if r.hw != nil {
		r.hw.Mask(to)
	}

	if to < DISPATCH && old >= DISPATCH && r.drain != nil {
		r.drain()
	}
}

// At runs fn with the IRQL raised to "to", then lowers it back to whatever it
// was before. It is a convenience for the extremely common
// raise/work/lower pattern used throughout the core (spinlocks, DPC
// dispatch, timer callbacks).
func (r *Register) At(to Level, fn func()) {
	old := r.Raise(to)
	defer r.Lower(old)

	fn()
}
