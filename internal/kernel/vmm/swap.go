package vmm

import "sync"

// SwapID identifies one reserved slot with a swap Provider.
type SwapID uint64

// Provider is the pluggable backing store for pages evicted from the
// working set. The default RAMSwap needs no real device; a platform may
// supply one backed by a dedicated swap partition or file instead.
type Provider interface {
	Reserve() (SwapID, error)
	Free(id SwapID)
	Read(id SwapID, dst []byte) error
	Write(id SwapID, src []byte) error
}

// swapEntry is the refcounted handle a pte holds while its page lives in
// swap rather than in RAM; CoW-shared anonymous pages that get evicted
// share one entry the same way a resident frame's frameMeta is shared.
type swapEntry struct {
	provider Provider
	id       SwapID
	refcount int32
}

// RAMSwap is a Provider that keeps "swapped" pages in ordinary heap memory.
// It exists so the working-set eviction path is exercised without requiring
// a real backing device; it is the default Provider passed to New.
type RAMSwap struct {
	mu     sync.Mutex
	pages  map[SwapID][]byte
	nextID SwapID
}

// NewRAMSwap creates an empty in-memory swap provider.
func NewRAMSwap() *RAMSwap {
	return &RAMSwap{pages: make(map[SwapID][]byte)}
}

func (s *RAMSwap) Reserve() (SwapID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.pages[id] = make([]byte, PageSize)

	return id, nil
}

func (s *RAMSwap) Free(id SwapID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pages, id)
}

func (s *RAMSwap) Read(id SwapID, dst []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy(dst, s.pages[id])

	return nil
}

func (s *RAMSwap) Write(id SwapID, src []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, PageSize)
	copy(buf, src)
	s.pages[id] = buf

	return nil
}
