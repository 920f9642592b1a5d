package swipe

import (
	"context"
	"sort"
	"sync"

	"github.com/heymatch/heymatch-api/internal/apperr"
)

type pair struct {
	swiper int64
	target int64
}

// MemStore keeps swipes in memory. Used by tests and DB-less runs.
type MemStore struct {
	mu     sync.Mutex
	swipes map[pair]Swipe
}

func NewMemStore() *MemStore {
	return &MemStore{swipes: make(map[pair]Swipe)}
}

func (s *MemStore) Insert(_ context.Context, sw Swipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pair{swiper: sw.SwiperID, target: sw.TargetID}
	if _, ok := s.swipes[key]; ok {
		return apperr.Conflict("already swiped on this user")
	}
	s.swipes[key] = sw
	return nil
}

func (s *MemStore) Overwrite(_ context.Context, sw Swipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swipes[pair{swiper: sw.SwiperID, target: sw.TargetID}] = sw
	return nil
}

func (s *MemStore) Get(_ context.Context, swiperID, targetID int64) (Swipe, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.swipes[pair{swiper: swiperID, target: targetID}]
	return sw, ok, nil
}

func (s *MemStore) MutualPairs(_ context.Context, userID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for key, sw := range s.swipes {
		if key.swiper != userID || !sw.Direction.positive() {
			continue
		}
		if rev, ok := s.swipes[pair{swiper: key.target, target: userID}]; ok && rev.Direction.positive() {
			out = append(out, key.target)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemStore) Viewed(_ context.Context, userID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for key := range s.swipes {
		if key.swiper == userID {
			out = append(out, key.target)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
