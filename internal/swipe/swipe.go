// Package swipe stores directional swipes and detects mutual likes.
package swipe

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/clock"
)

// Direction of a swipe.
type Direction string

const (
	DirectionLike      Direction = "like"
	DirectionDislike   Direction = "dislike"
	DirectionSuperLike Direction = "super_like"
)

func (d Direction) valid() bool {
	switch d {
	case DirectionLike, DirectionDislike, DirectionSuperLike:
		return true
	}
	return false
}

// positive reports whether the direction expresses interest. A super_like is
// an emphatic like: it feeds mutual detection and the greeting gate.
func (d Direction) positive() bool {
	return d == DirectionLike || d == DirectionSuperLike
}

// Swipe is one directed (swiper, target) edge. The pair is unique.
type Swipe struct {
	SwiperID  int64     `json:"swiper_id"`
	TargetID  int64     `json:"target_id"`
	Direction Direction `json:"direction"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists swipes.
type Store interface {
	// Insert records a new swipe; a second swipe on the same pair fails with
	// Conflict and leaves the original untouched.
	Insert(ctx context.Context, s Swipe) error
	// Overwrite replaces the direction of an existing pair, inserting when absent.
	Overwrite(ctx context.Context, s Swipe) error
	Get(ctx context.Context, swiperID, targetID int64) (Swipe, bool, error)
	// MutualPairs lists users v where both directions carry a like or
	// super_like.
	MutualPairs(ctx context.Context, userID int64) ([]int64, error)
	// Viewed lists every target the user has already swiped on.
	Viewed(ctx context.Context, userID int64) ([]int64, error)
}

// Result reports whether the swipe completed a mutual like.
type Result struct {
	Swipe  Swipe `json:"swipe"`
	Mutual bool  `json:"mutual"`
}

// Service validates and records swipes. Quota admission happens in the
// HTTP layer before the service is reached.
type Service struct {
	store Store
	clock clock.Clock
}

func NewService(store Store, clk clock.Clock) *Service {
	return &Service{store: store, clock: clk}
}

// Swipe records a directional swipe. Duplicates on the same (swiper, target)
// pair are rejected; an existing reverse like turns a like into a mutual.
func (s *Service) Swipe(ctx context.Context, swiperID, targetID int64, dir Direction) (Result, error) {
	if swiperID == targetID {
		return Result{}, apperr.Invalid("cannot swipe yourself")
	}
	if !dir.valid() {
		return Result{}, apperr.Invalid("direction must be like, dislike or super_like")
	}

	sw := Swipe{SwiperID: swiperID, TargetID: targetID, Direction: dir, CreatedAt: s.clock.Now()}
	if err := s.store.Insert(ctx, sw); err != nil {
		return Result{}, err
	}

	mutual := false
	if dir.positive() {
		reverse, ok, err := s.store.Get(ctx, targetID, swiperID)
		if err != nil {
			return Result{}, apperr.Internal(err)
		}
		mutual = ok && reverse.Direction.positive()
		if mutual {
			log.Info().Int64("userA", swiperID).Int64("userB", targetID).Msg("mutual like")
		}
	}
	return Result{Swipe: sw, Mutual: mutual}, nil
}

// AdminOverwrite force-sets the direction of a pair, for support tooling.
func (s *Service) AdminOverwrite(ctx context.Context, swiperID, targetID int64, dir Direction) error {
	if swiperID == targetID {
		return apperr.Invalid("cannot swipe yourself")
	}
	if !dir.valid() {
		return apperr.Invalid("direction must be like, dislike or super_like")
	}
	sw := Swipe{SwiperID: swiperID, TargetID: targetID, Direction: dir, CreatedAt: s.clock.Now()}
	if err := s.store.Overwrite(ctx, sw); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Liked reports whether swiper has an existing like or super_like on target.
func (s *Service) Liked(ctx context.Context, swiperID, targetID int64) (bool, error) {
	sw, ok, err := s.store.Get(ctx, swiperID, targetID)
	if err != nil {
		return false, apperr.Internal(err)
	}
	return ok && sw.Direction.positive(), nil
}

// MutualPairs lists the user's mutual likes.
func (s *Service) MutualPairs(ctx context.Context, userID int64) ([]int64, error) {
	pairs, err := s.store.MutualPairs(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return pairs, nil
}

// Viewed returns target IDs to exclude from future recommendations.
func (s *Service) Viewed(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := s.store.Viewed(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return ids, nil
}
