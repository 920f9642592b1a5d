package membership

import (
	"context"
	"sync"
	"time"
)

// MemStore keeps membership rows in memory. Used by tests and by deployments
// without a database.
type MemStore struct {
	mu   sync.Mutex
	rows map[int64]Membership
}

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[int64]Membership)}
}

func (s *MemStore) Get(_ context.Context, userID int64, now time.Time) (Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[userID]
	if !ok {
		m = Membership{UserID: userID, Tier: TierFree, StartDate: now, Active: true}
		s.rows[userID] = m
	}
	return m, nil
}

func (s *MemStore) Extend(_ context.Context, userID int64, days int, now time.Time) (Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[userID]
	if !ok {
		m = Membership{UserID: userID, Tier: TierFree, StartDate: now, Active: true}
	}
	base := now
	if m.EndDate != nil && m.EndDate.After(base) {
		base = *m.EndDate
	}
	end := base.Add(time.Duration(days) * 24 * time.Hour)
	m.Tier = TierPaid
	m.EndDate = &end
	m.Active = true
	s.rows[userID] = m
	return m, nil
}

func (s *MemStore) Downgrade(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[userID]
	if !ok {
		return nil
	}
	m.Tier = TierFree
	m.EndDate = nil
	s.rows[userID] = m
	return nil
}

func (s *MemStore) ExpiredPaid(_ context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id, m := range s.rows {
		if m.Tier == TierPaid && m.EndDate != nil && !m.EndDate.After(now) {
			out = append(out, id)
		}
	}
	return out, nil
}
