package progress

import (
	"sync"
	"time"
)

type Phase string

const (
	PhaseStarting    Phase = "starting"
	PhaseDownloading Phase = "downloading"
	PhaseFinished    Phase = "finished"
)

// Snapshot is the latest known progress of one job. Percent is numeric for
// bar rendering; Speed and ETA are opaque display strings passed through
// from the fetch tool.
type Snapshot struct {
	Phase      Phase
	Percent    float64
	PercentRaw string
	Speed      string
	ETA        string
	UpdatedAt  time.Time
}

// Store maps a session key to the latest Snapshot. Writers (one fetch worker
// per job) replace whole values; readers (reporter, delivery) always see a
// complete snapshot. Entries not refreshed within staleAfter are treated as
// abandoned.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]Snapshot
	staleAfter time.Duration
}

const DefaultStaleAfter = 5 * time.Minute

func NewStore(staleAfter time.Duration) *Store {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Store{
		entries:    make(map[string]Snapshot),
		staleAfter: staleAfter,
	}
}

// Set replaces the snapshot for key, stamping UpdatedAt when the caller left
// it zero. Safe to call after the owning job ended; the subsequent Delete
// wins.
func (s *Store) Set(key string, snap Snapshot) {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	s.entries[key] = snap
	s.mu.Unlock()
}

func (s *Store) Get(key string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.entries[key]
	return snap, ok
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// ListActive returns a copy of all fresh snapshots and prunes entries older
// than the staleness window, whatever phase they report.
func (s *Store) ListActive() map[string]Snapshot {
	cutoff := time.Now().Add(-s.staleAfter)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Snapshot, len(s.entries))
	for key, snap := range s.entries {
		if snap.UpdatedAt.Before(cutoff) {
			delete(s.entries, key)
			continue
		}
		out[key] = snap
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
