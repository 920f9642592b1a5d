package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore keeps orders in memory. Used by tests and DB-less runs.
type MemStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

func NewMemStore() *MemStore {
	return &MemStore{orders: make(map[string]Order)}
}

func (s *MemStore) Insert(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *MemStore) Get(_ context.Context, orderID string) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	return o, ok, nil
}

func (s *MemStore) MarkPaid(_ context.Context, orderID, providerTxnID string, now time.Time) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != StatusPending {
		return Order{}, false, nil
	}
	o.Status = StatusPaid
	o.ProviderTxnID = &providerTxnID
	paidAt := now
	o.PaidAt = &paidAt
	s.orders[orderID] = o
	return o, true, nil
}

func (s *MemStore) MarkStatus(_ context.Context, orderID string, from, to OrderStatus) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != from {
		return Order{}, false, nil
	}
	o.Status = to
	s.orders[orderID] = o
	return o, true, nil
}

func (s *MemStore) ListByUser(_ context.Context, userID int64) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) ExpirePending(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, o := range s.orders {
		if o.Status == StatusPending && !o.ExpiresAt.After(now) {
			o.Status = StatusExpired
			s.orders[id] = o
			n++
		}
	}
	return n, nil
}
