package driver

import (
	"strings"
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
)

// Symbol is one entry a driver's undefined references can resolve
// against: a kernel function, global, or other exported value, keyed by
// name in the kernel's symbol table.
type Symbol struct {
	Name  string
	Value any
}

// SymbolTable is the kernel's exported-symbol tree, keyed by name. A
// map stands in for the tree the original links against; lookup and
// iteration order don't matter here, only name-keyed resolution.
type SymbolTable struct {
	mu   sync.RWMutex
	syms map[string]Symbol
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{syms: make(map[string]Symbol)}
}

// Export registers name so future driver loads can resolve it.
func (t *SymbolTable) Export(name string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.syms[name] = Symbol{Name: name, Value: value}
}

// Resolve looks up name, as a driver's relocation step would against
// the kernel's linker.
func (t *SymbolTable) Resolve(name string) (Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.syms[name]

	return s, ok
}

// EntryFunc is a driver's OBOS_DriverEntry equivalent: it receives the
// now-installed Instance and reports whether it failed, and whether
// that failure is fatal (a non-fatal failure still leaves the driver
// loaded so higher layers may retry or degrade).
type EntryFunc func(inst *Instance) (status error, fatal bool)

// Instance is one loaded driver: its parsed header, the name extracted
// from it, the vfs.Driver vtable it presents, and whether the loader
// still considers it installed.
type Instance struct {
	Header Header
	Name   string
	Driver vfs.Driver

	loaded bool
}

// Loader resolves undefined symbols, "relocates" (a no-op in this
// hosted model, since there is no machine code to patch), installs a
// driver into the global list, and invokes its entry point.
type Loader struct {
	mu      sync.Mutex
	symbols *SymbolTable
	drivers []*Instance
}

func NewLoader(symbols *SymbolTable) *Loader {
	return &Loader{symbols: symbols}
}

// Load resolves every name in undefined against the loader's symbol
// table, failing the whole load if any is missing, then installs drv
// under hdr and invokes entry. A fatal non-success return from entry
// unloads the driver immediately rather than leaving it installed.
func (l *Loader) Load(hdr Header, drv vfs.Driver, undefined []string, entry EntryFunc) (*Instance, error) {
	for _, name := range undefined {
		if _, ok := l.symbols.Resolve(name); !ok {
			return nil, kerrors.New(kerrors.NOT_FOUND, "driver.Loader.Load: unresolved symbol "+name)
		}
	}

	inst := &Instance{
		Header: hdr,
		Name:   strings.TrimRight(string(hdr.DriverName[:]), "\x00"),
		Driver: drv,
	}

	l.mu.Lock()
	inst.loaded = true
	l.drivers = append(l.drivers, inst)
	l.mu.Unlock()

	status, fatal := entry(inst)
	if status != nil && fatal {
		_ = l.Unload(inst)

		return nil, status
	}

	return inst, status
}

// Unload removes inst from the global list and calls its driver's
// Cleanup.
func (l *Loader) Unload(inst *Instance) error {
	l.mu.Lock()

	for i, d := range l.drivers {
		if d == inst {
			l.drivers = append(l.drivers[:i], l.drivers[i+1:]...)

			break
		}
	}

	inst.loaded = false
	l.mu.Unlock()

	return inst.Driver.Cleanup()
}

// ForEach calls fn for every installed driver, stopping early if fn
// returns false.
func (l *Loader) ForEach(fn func(*Instance) bool) {
	l.mu.Lock()
	snapshot := append([]*Instance(nil), l.drivers...)
	l.mu.Unlock()

	for _, inst := range snapshot {
		if !fn(inst) {
			return
		}
	}
}

// Loaded reports whether inst is still in the installed list.
func (inst *Instance) Loaded() bool { return inst.loaded }
