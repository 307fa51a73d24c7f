package state

import (
	"sync"
	"testing"
)

func TestLocksSerializePerID(t *testing.T) {
	t.Parallel()

	locks := NewLocks()
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("conv-1")
			counter++
			locks.Unlock("conv-1")
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
	if len(locks.entries) != 0 {
		t.Fatalf("entries = %d, want drained map", len(locks.entries))
	}
}

func TestLocksUnlockUnheldPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("unlock of an unheld lock did not panic")
		}
	}()
	NewLocks().Unlock("conv-1")
}
