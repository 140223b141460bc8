package spinlock

import (
	"sync"
	"testing"

	"github.com/obos-dev/kernel/internal/kernel/irql"
)

func TestAcquireReleaseSerializes(t *testing.T) {
	reg := irql.New(nil, nil)
	lock := New()

	counter := 0
	const goroutines = 32
	const perGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()

			for j := 0; j < perGoroutine; j++ {
				old := lock.AcquireAt(reg, irql.DISPATCH)
				counter++
				lock.Release(reg, old)
			}
		}()
	}

	wg.Wait()

	if counter != goroutines*perGoroutine {
		t.Errorf("counter = %d, want %d", counter, goroutines*perGoroutine)
	}

	if reg.Current() != irql.PASSIVE {
		t.Errorf("final IRQL = %s, want PASSIVE", reg.Current())
	}
}

func TestAcquireDrainsDPCOnRelease(t *testing.T) {
	drained := false
	reg := irql.New(nil, func() { drained = true })
	lock := New()

	old := lock.AcquireAt(reg, irql.DEVICE0)
	lock.Release(reg, old)

	if !drained {
		t.Error("expected DPC drain on release crossing below DISPATCH")
	}
}
