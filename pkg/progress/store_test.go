package progress

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStoreSetGetDelete(t *testing.T) {
	s := NewStore(time.Minute)

	s.Set("telegram:1", Snapshot{Phase: PhaseDownloading, Percent: 40})
	snap, ok := s.Get("telegram:1")
	if !ok {
		t.Fatal("snapshot missing")
	}
	if snap.Percent != 40 {
		t.Fatalf("percent = %v, want 40", snap.Percent)
	}
	if snap.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt should be stamped on Set")
	}

	s.Delete("telegram:1")
	if _, ok := s.Get("telegram:1"); ok {
		t.Fatal("snapshot should be gone after Delete")
	}
}

func TestListActiveExcludesAndPrunesStale(t *testing.T) {
	s := NewStore(time.Minute)

	s.Set("fresh", Snapshot{Phase: PhaseDownloading, Percent: 10})
	s.Set("stale", Snapshot{
		Phase:     PhaseDownloading,
		Percent:   90,
		UpdatedAt: time.Now().Add(-2 * time.Minute),
	})

	active := s.ListActive()
	if _, ok := active["stale"]; ok {
		t.Fatal("stale snapshot should not be listed")
	}
	if _, ok := active["fresh"]; !ok {
		t.Fatal("fresh snapshot should be listed")
	}

	// Pruned from the store itself, not only from the listing.
	if _, ok := s.Get("stale"); ok {
		t.Fatal("stale snapshot should be removed from store")
	}
}

func TestListActivePrunesRegardlessOfPhase(t *testing.T) {
	s := NewStore(time.Minute)
	s.Set("done", Snapshot{
		Phase:     PhaseFinished,
		UpdatedAt: time.Now().Add(-time.Hour),
	})

	s.ListActive()
	if s.Len() != 0 {
		t.Fatalf("store length = %d, want 0", s.Len())
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("chat:%d", n)
			for p := 0; p <= 100; p++ {
				s.Set(key, Snapshot{Phase: PhaseDownloading, Percent: float64(p)})
				s.ListActive()
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 8 {
		t.Fatalf("store length = %d, want 8", s.Len())
	}
}
