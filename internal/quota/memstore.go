package quota

import (
	"context"
	"sync"
	"time"
)

type bucketKey struct {
	userID int64
	action Action
	hour   time.Time
}

// MemStore holds counters in memory behind one mutex, which makes
// check-and-increment trivially atomic. Used by tests and DB-less runs.
type MemStore struct {
	mu     sync.Mutex
	counts map[bucketKey]int
}

func NewMemStore() *MemStore {
	return &MemStore{counts: make(map[bucketKey]int)}
}

// Consume increments the hour bucket by n unless that would break a cap.
// On denial the returned usage carries the totals the increment would have
// produced and the counter is left unchanged.
func (s *MemStore) Consume(_ context.Context, userID int64, action Action, now time.Time, n int, lim Limit) (Usage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hour := hourBucket(now)
	day := dayBucket(now)
	key := bucketKey{userID: userID, action: action, hour: hour}

	next := Usage{Hour: s.counts[key] + n, Day: s.dayTotalLocked(userID, action, day) + n}
	if _, over := next.Exceeds(lim); over {
		return next, true, nil
	}
	s.counts[key] = next.Hour
	return next, false, nil
}

func (s *MemStore) Totals(_ context.Context, userID int64, action Action, now time.Time) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bucketKey{userID: userID, action: action, hour: hourBucket(now)}
	return Usage{Hour: s.counts[key], Day: s.dayTotalLocked(userID, action, dayBucket(now))}, nil
}

func (s *MemStore) dayTotalLocked(userID int64, action Action, day string) int {
	total := 0
	for key, count := range s.counts {
		if key.userID == userID && key.action == action && dayBucket(key.hour) == day {
			total += count
		}
	}
	return total
}

// Sweep drops buckets older than keep, to cap memory on long runs.
func (s *MemStore) Sweep(now time.Time, keep time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-keep)
	n := 0
	for key := range s.counts {
		if key.hour.Before(cutoff) {
			delete(s.counts, key)
			n++
		}
	}
	return n
}
