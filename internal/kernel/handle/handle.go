// Package handle implements the per-process handle table: a dense,
// type-tagged array addressable by a single integer handle, with released
// slots recycled through a free list.
package handle

import (
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
)

// Type tags the kind of object a handle refers to, so a lookup can reject a
// handle used against the wrong kind of syscall.
type Type uint32

const (
	TypeInvalid Type = iota
	TypeThread
	TypeProcess
	TypeFile
	TypeVMContext
	TypeEvent
	TypeMutex
	TypeSemaphore
	TypePushLock
	TypeIRP
	TypeSocket
	TypeDriver
	typeCount
)

func (t Type) String() string {
	names := [...]string{
		"INVALID", "THREAD", "PROCESS", "FILE", "VM_CONTEXT",
		"EVENT", "MUTEX", "SEMAPHORE", "PUSHLOCK", "IRP", "SOCKET", "DRIVER",
	}

	if int(t) < len(names) {
		return names[t]
	}

	return "UNKNOWN"
}

// Handle is the single integer a syscall receives: the high byte names the
// type, the rest of the word is the slot index, matching
// `(type << 24) | slot`.
type Handle uint32

const (
	typeShift = 24
	slotMask  = (1 << typeShift) - 1

	// Invalid never names a live object; a zeroed Handle always misses.
	//
	// Current names the calling thread without a table lookup. Table
	// itself has no notion of "the caller" -- the substitution happens in
	// the handle-resolution helpers in package syscall (see
	// Call.lookupThread), which check for Current before ever calling
	// Lookup.
	Invalid Handle = 0
	Current Handle = 0xFFFF_FFFE
)

func make_(t Type, slot uint32) Handle { return Handle(uint32(t)<<typeShift | (slot & slotMask)) }

// ForSlot builds the handle value naming slot under type t, for callers
// (select-style syscalls) that address slots positionally.
func ForSlot(t Type, slot uint32) Handle { return make_(t, slot) }

func (h Handle) Type() Type { return Type(uint32(h) >> typeShift) }
func (h Handle) slot() uint32 { return uint32(h) & slotMask }

// entry is one occupied or free slot in the table.
type entry struct {
	typ    Type
	object any
	nextFree int32 // index+1 of the next free slot, or 0 if this is the list tail; only meaningful when typ == TypeInvalid
}

// Table is one process's handle table.
type Table struct {
	mu      sync.Mutex
	entries []entry
	freeHd  int32 // 1-based index of the first free slot, 0 if none
}

// New creates an empty handle table.
func New() *Table { return &Table{} }

// Open installs obj under type t and returns the handle that refers to it.
func (tbl *Table) Open(t Type, obj any) Handle {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	if tbl.freeHd != 0 {
		slot := tbl.freeHd - 1
		tbl.freeHd = tbl.entries[slot].nextFree
		tbl.entries[slot] = entry{typ: t, object: obj}

		return make_(t, uint32(slot))
	}

	tbl.entries = append(tbl.entries, entry{typ: t, object: obj})

	return make_(t, uint32(len(tbl.entries)-1))
}

// Lookup resolves h, validating that it names an object of type want (pass
// TypeInvalid to accept any type). Lookup only understands the dense array;
// it has no notion of the special Current handle, so a caller that wants to
// accept Current must check for it and substitute the caller's own object
// before ever calling Lookup.
func (tbl *Table) Lookup(h Handle, want Type) (any, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	slot := int(h.slot())
	if slot < 0 || slot >= len(tbl.entries) {
		return nil, kerrors.New(kerrors.NOT_FOUND, "handle.Table.Lookup")
	}

	e := tbl.entries[slot]
	if e.typ == TypeInvalid {
		return nil, kerrors.New(kerrors.NOT_FOUND, "handle.Table.Lookup")
	}

	if want != TypeInvalid && e.typ != want {
		return nil, kerrors.New(kerrors.INVALID_ARGUMENT, "handle.Table.Lookup")
	}

	if h.Type() != e.typ {
		return nil, kerrors.New(kerrors.INVALID_ARGUMENT, "handle.Table.Lookup")
	}

	return e.object, nil
}

// Close releases h, returning its slot to the free list.
func (tbl *Table) Close(h Handle) error {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	slot := int(h.slot())
	if slot < 0 || slot >= len(tbl.entries) || tbl.entries[slot].typ == TypeInvalid {
		return kerrors.New(kerrors.NOT_FOUND, "handle.Table.Close")
	}

	if tbl.entries[slot].typ != h.Type() {
		return kerrors.New(kerrors.INVALID_ARGUMENT, "handle.Table.Close")
	}

	tbl.entries[slot] = entry{nextFree: tbl.freeHd}
	tbl.freeHd = int32(slot) + 1

	return nil
}

// Clone returns a new table with the same occupied slots (and the same
// free list shape) as tbl, for use by fork: the child inherits the
// parent's open handles at the same slot numbers.
func (tbl *Table) Clone() *Table {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	out := &Table{
		entries: make([]entry, len(tbl.entries)),
		freeHd:  tbl.freeHd,
	}
	copy(out.entries, tbl.entries)

	return out
}

// Len reports the number of slots ever allocated (occupied or freed), for
// diagnostics.
func (tbl *Table) Len() int {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	return len(tbl.entries)
}
