package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/heymatch/heymatch-api/internal/clock"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest counted event leaves the window.
	ResetAt time.Time
}

// Store counts events in sliding windows. Implementations are process-wide;
// the memory store suits single-process deployments, the redis store shares
// counters across processes.
type Store interface {
	// Allow admits the event iff fewer than limit events fall inside
	// [now-window, now], recording it when admitted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	// Peek reports the decision without recording an event.
	Peek(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// MemStore is the in-memory sliding-window store. Old timestamps are
// compacted on every check and by the periodic sweeper.
type MemStore struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	clock clock.Clock
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(clk clock.Clock) *MemStore {
	return &MemStore{hits: make(map[string][]time.Time), clock: clk}
}

func (m *MemStore) decide(key string, limit int, window time.Duration, record bool) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	cutoff := now.Add(-window)

	// Lazy truncation: drop everything that slid out of the window.
	kept := m.hits[key][:0]
	for _, ts := range m.hits[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	d := Decision{Limit: limit}
	if len(kept) < limit {
		d.Allowed = true
		if record {
			kept = append(kept, now)
		}
	}
	d.Remaining = limit - len(kept)
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if len(kept) > 0 {
		d.ResetAt = kept[0].Add(window)
	} else {
		d.ResetAt = now
	}

	if len(kept) == 0 {
		delete(m.hits, key)
	} else {
		m.hits[key] = kept
	}
	return d
}

func (m *MemStore) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	return m.decide(key, limit, window, true), nil
}

func (m *MemStore) Peek(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	return m.decide(key, limit, window, false), nil
}

// Sweep drops keys whose events all predate the horizon, capping memory.
func (m *MemStore) Sweep(horizon time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-horizon)
	n := 0
	for key, hits := range m.hits {
		stale := true
		for _, ts := range hits {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(m.hits, key)
			n++
		}
	}
	return n
}

// RunSweeper sweeps periodically until ctx is done.
func (m *MemStore) RunSweeper(ctx context.Context, interval, horizon time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(horizon)
		}
	}
}
