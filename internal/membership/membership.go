// Package membership is the tier ledger: one row per user, paid standing
// derived from end_date so expiry needs no sweeper to be correct.
package membership

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/clock"
)

// Tier is the membership level.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Membership is one user's row.
type Membership struct {
	UserID    int64      `json:"user_id"`
	Tier      Tier       `json:"tier"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Active    bool       `json:"active"`
}

// Store persists membership rows.
type Store interface {
	// Get returns the user's row, lazily creating a free one.
	Get(ctx context.Context, userID int64, now time.Time) (Membership, error)
	// Extend sets end_date = max(now, end_date) + days and tier = paid.
	Extend(ctx context.Context, userID int64, days int, now time.Time) (Membership, error)
	// Downgrade clears end_date and sets tier = free.
	Downgrade(ctx context.Context, userID int64) error
	// ExpiredPaid lists paid users whose end_date has passed.
	ExpiredPaid(ctx context.Context, now time.Time) ([]int64, error)
}

// Ledger exposes tier queries and mutations.
type Ledger struct {
	store Store
	clock clock.Clock
}

func NewLedger(store Store, clk clock.Clock) *Ledger {
	return &Ledger{store: store, clock: clk}
}

// Derive returns the effective tier of a row at now. A paid row whose
// end_date has passed counts as free regardless of what is stored.
func Derive(m Membership, now time.Time) Tier {
	if m.Tier != TierPaid {
		return TierFree
	}
	if m.EndDate != nil && !m.EndDate.After(now) {
		return TierFree
	}
	return TierPaid
}

// TierOf resolves the user's effective tier.
func (l *Ledger) TierOf(ctx context.Context, userID int64) (Tier, error) {
	m, err := l.store.Get(ctx, userID, l.clock.Now())
	if err != nil {
		return TierFree, apperr.Internal(err)
	}
	return Derive(m, l.clock.Now()), nil
}

// Get returns the user's row with the derived tier applied.
func (l *Ledger) Get(ctx context.Context, userID int64) (Membership, error) {
	now := l.clock.Now()
	m, err := l.store.Get(ctx, userID, now)
	if err != nil {
		return Membership{}, apperr.Internal(err)
	}
	m.Tier = Derive(m, now)
	return m, nil
}

// Extend adds purchased days onto max(now, end_date).
func (l *Ledger) Extend(ctx context.Context, userID int64, days int) (Membership, error) {
	if days <= 0 {
		return Membership{}, apperr.Invalid("days must be positive")
	}
	m, err := l.store.Extend(ctx, userID, days, l.clock.Now())
	if err != nil {
		return Membership{}, apperr.Internal(err)
	}
	log.Info().Int64("userId", userID).Int("days", days).Time("endDate", *m.EndDate).Msg("membership extended")
	return m, nil
}

// Downgrade forces the user back to the free tier.
func (l *Ledger) Downgrade(ctx context.Context, userID int64) error {
	if err := l.store.Downgrade(ctx, userID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// SweepExpired downgrades users whose paid window has lapsed. Derivation at
// read time already treats them as free; this keeps stored rows tidy.
func (l *Ledger) SweepExpired(ctx context.Context) int {
	expired, err := l.store.ExpiredPaid(ctx, l.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("membership sweep query failed")
		return 0
	}
	n := 0
	for _, userID := range expired {
		if err := l.store.Downgrade(ctx, userID); err != nil {
			log.Error().Err(err).Int64("userId", userID).Msg("membership downgrade failed")
			continue
		}
		n++
	}
	if n > 0 {
		log.Info().Int("downgraded", n).Msg("membership sweep")
	}
	return n
}

// RunSweeper sweeps periodically until ctx is done.
func (l *Ledger) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.SweepExpired(ctx)
		}
	}
}
