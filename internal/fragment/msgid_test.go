package fragment

import (
	"sync"
	"testing"
)

func TestIDAllocatorStartsAtOne(t *testing.T) {
	a := NewIDAllocator()
	for want := uint16(1); want <= 5; want++ {
		if got := a.Next(); got != want {
			t.Fatalf("Next() = %d, want %d", got, want)
		}
	}
}

// TestIDAllocatorWraparound verifies 0xFFFF is followed by 1, never 0.
func TestIDAllocatorWraparound(t *testing.T) {
	a := NewIDAllocatorAfter(0xFFFE)
	if got := a.Next(); got != 0xFFFF {
		t.Fatalf("Next() = %#x, want 0xffff", got)
	}
	if got := a.Next(); got != 1 {
		t.Fatalf("Next() after 0xffff = %d, want 1", got)
	}
}

func TestIDAllocatorNeverReturnsZero(t *testing.T) {
	a := NewIDAllocator()
	for i := 0; i < 3*0xFFFF; i++ {
		if a.Next() == 0 {
			t.Fatalf("Next() returned 0 on call %d", i)
		}
	}
}

// TestIDAllocatorConcurrent verifies that concurrent callers never receive
// the same identifier within one cycle.
func TestIDAllocatorConcurrent(t *testing.T) {
	const workers, perWorker = 8, 1000

	a := NewIDAllocator()
	var mu sync.Mutex
	seen := make(map[uint16]bool)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := a.Next()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("got %d distinct ids, want %d", len(seen), workers*perWorker)
	}
}
