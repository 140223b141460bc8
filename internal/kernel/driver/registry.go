package driver

import (
	"sync"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
)

// Factory produces a fresh, unstarted driver: its header, its vtable,
// and its entry point. The registry exists because this hosted model has
// no machine code to relocate: a driver "binary" on disk carries the
// real header, and the registry supplies the code the header names, the
// way a statically-linked builtin module does in a conventional kernel.
type Factory func() (Header, vfs.Driver, EntryFunc)

// Registry maps a driver name (the header's DriverName field) to its
// Factory.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Factory)}
}

// Register installs factory under name, replacing any previous entry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byName[name] = factory
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.byName[name]
	if !ok {
		return nil, kerrors.New(kerrors.NOT_FOUND, "driver.Registry.Lookup: "+name)
	}

	return f, nil
}

// Builtins returns a registry pre-populated with every driver compiled
// into the kernel itself.
func Builtins() *Registry {
	r := NewRegistry()

	r.Register("ramfs", func() (Header, vfs.Driver, EntryFunc) {
		return RAMFSHeader(), NewRAMFS(), func(*Instance) (error, bool) { return nil, false }
	})

	return r
}
