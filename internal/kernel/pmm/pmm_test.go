package pmm

import "testing"

// TestAllocateFreeRoundTrip: two 256-frame allocations, a free, then a
// third allocation that reuses the freed run.
func TestAllocateFreeRoundTrip(t *testing.T) {
	const poolFrames = 512 // 2 MiB, room for two 256-frame runs

	// The pool starts at frame 1: frame 0 is never handed out, so a pool
	// seeded at frame 0 would hold only 511 usable frames.
	m := New(1, poolFrames)

	b1, err := m.Allocate(256, 1)
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}

	if stat := m.Stat(); stat.Used != 256 {
		t.Errorf("used = %d, want 256", stat.Used)
	}

	b2, err := m.Allocate(256, 1)
	if err != nil {
		t.Fatalf("second allocate: %v", err)
	}

	if b2 != b1+256 {
		t.Errorf("second base = %s, want %s", b2, b1+256)
	}

	if err := m.Free(b1, 256); err != nil {
		t.Fatalf("free: %v", err)
	}

	if stat := m.Stat(); stat.Used != 256 {
		t.Errorf("used after free = %d, want 256", stat.Used)
	}

	b3, err := m.Allocate(256, 1)
	if err != nil {
		t.Fatalf("third allocate: %v", err)
	}

	if b3 != b1 {
		t.Errorf("third base = %s, want %s (reused freed run)", b3, b1)
	}

	if stat := m.Stat(); stat.Used != 512 {
		t.Errorf("used = %d, want 512", stat.Used)
	}
}

func TestAllocateNeverReturnsFrameZero(t *testing.T) {
	m := New(0, 4)

	f, err := m.Allocate(1, 1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if f == 0 {
		t.Error("allocate returned frame 0")
	}
}

func TestAllocateAlignment(t *testing.T) {
	m := New(0, 64)

	// Consume one frame to offset the free list so alignment must skip.
	if _, err := m.Allocate(1, 1); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	f, err := m.Allocate(4, 4)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if uint64(f)%4 != 0 {
		t.Errorf("frame %s not aligned to 4", f)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	m := New(1, 4) // frames 1..4; frame 0 would never be handed out

	if _, err := m.Allocate(4, 1); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if _, err := m.Allocate(1, 1); err == nil {
		t.Error("expected NOT_ENOUGH_MEMORY, got nil")
	}
}

func TestAllocate32RestrictsToLow4GiB(t *testing.T) {
	// Seed a pool that straddles the 4 GiB boundary.
	m := New(FourGiB-2, 4)

	f, err := m.Allocate32(2, 1)
	if err != nil {
		t.Fatalf("allocate32: %v", err)
	}

	if f+2 > FourGiB {
		t.Errorf("allocate32 returned frames above 4 GiB: base=%s", f)
	}

	if _, err := m.Allocate32(4, 1); err == nil {
		t.Error("expected NOT_ENOUGH_MEMORY when only frames above 4 GiB remain")
	}
}
