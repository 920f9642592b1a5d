// Package quota enforces tiered per-user action caps on hour and day buckets.
// Counters live on (user, action, hour_bucket) rows; the day total is the sum
// of a day's hour rows, so consumption only ever touches one row.
package quota

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/clock"
	"github.com/heymatch/heymatch-api/internal/membership"
)

// Action is a quota-metered action kind.
type Action string

const (
	ActionSwipe      Action = "swipe"
	ActionCardCreate Action = "card_create"
)

// Actions lists every metered kind, for stats snapshots.
var Actions = []Action{ActionSwipe, ActionCardCreate}

// Limit caps an action per bucket; zero means unlimited on that bucket.
type Limit struct {
	PerHour int `json:"per_hour,omitempty"`
	PerDay  int `json:"per_day,omitempty"`
}

// LimitsFor returns the cap matrix entry for a tier and action. Paid swiping
// trades the daily cap for an hourly anti-bot guard.
func LimitsFor(tier membership.Tier, action Action) Limit {
	switch action {
	case ActionSwipe:
		if tier == membership.TierPaid {
			return Limit{PerHour: 30}
		}
		return Limit{PerDay: 30}
	case ActionCardCreate:
		if tier == membership.TierPaid {
			return Limit{PerDay: 10}
		}
		return Limit{PerDay: 3}
	}
	return Limit{}
}

// Usage is the post-increment (or current) totals for one action.
type Usage struct {
	Hour int `json:"hour"`
	Day  int `json:"day"`
}

// Exceeds reports which cap the usage breaks, if any.
func (u Usage) Exceeds(lim Limit) (string, bool) {
	if lim.PerHour > 0 && u.Hour > lim.PerHour {
		return "hourly limit reached", true
	}
	if lim.PerDay > 0 && u.Day > lim.PerDay {
		return "daily limit reached", true
	}
	return "", false
}

// CounterStore is the persistence contract. Consume must be atomic: the
// increment and the cap check happen as one read-modify-write, and a breached
// cap leaves the counter untouched.
type CounterStore interface {
	Consume(ctx context.Context, userID int64, action Action, now time.Time, n int, lim Limit) (Usage, bool, error)
	Totals(ctx context.Context, userID int64, action Action, now time.Time) (Usage, error)
}

// Buckets in UTC so the daily reset is midnight UTC everywhere.
func hourBucket(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour)
}

func dayBucket(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// Verdict is a quota decision.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Usage   Usage  `json:"usage"`
	Limit   Limit  `json:"limit"`
}

// Engine resolves the caller's tier and applies the cap matrix.
type Engine struct {
	counters   CounterStore
	membership *membership.Ledger
	clock      clock.Clock
}

func NewEngine(counters CounterStore, ledger *membership.Ledger, clk clock.Clock) *Engine {
	return &Engine{counters: counters, membership: ledger, clock: clk}
}

// Check reports whether one more unit of action would be admitted. It never
// mutates; the authoritative decision is Consume's.
func (e *Engine) Check(ctx context.Context, userID int64, action Action) (Verdict, error) {
	tier, err := e.membership.TierOf(ctx, userID)
	if err != nil {
		return Verdict{}, err
	}
	lim := LimitsFor(tier, action)
	usage, err := e.counters.Totals(ctx, userID, action, e.clock.Now())
	if err != nil {
		return Verdict{}, apperr.Internal(err)
	}
	next := Usage{Hour: usage.Hour + 1, Day: usage.Day + 1}
	if reason, over := next.Exceeds(lim); over {
		return Verdict{Allowed: false, Reason: reason, Usage: usage, Limit: lim}, nil
	}
	return Verdict{Allowed: true, Usage: usage, Limit: lim}, nil
}

// Consume atomically increments the caller's counter by n. On denial the
// counter is unchanged and the returned error is QuotaDenied.
func (e *Engine) Consume(ctx context.Context, userID int64, action Action, n int) (Verdict, error) {
	if n <= 0 {
		return Verdict{}, apperr.Invalid("n must be positive")
	}
	tier, err := e.membership.TierOf(ctx, userID)
	if err != nil {
		return Verdict{}, err
	}
	lim := LimitsFor(tier, action)
	usage, exceeded, err := e.counters.Consume(ctx, userID, action, e.clock.Now(), n, lim)
	if err != nil {
		return Verdict{}, apperr.Internal(err)
	}
	if exceeded {
		reason, _ := usage.Exceeds(lim)
		log.Info().Int64("userId", userID).Str("action", string(action)).Str("reason", reason).Msg("quota denied")
		return Verdict{Allowed: false, Reason: reason, Usage: usage, Limit: lim},
			apperr.QuotaDenied(reason)
	}
	return Verdict{Allowed: true, Usage: usage, Limit: lim}, nil
}

// ActionStats pairs usage with the cap that applies to the user's tier.
type ActionStats struct {
	Usage Usage `json:"usage"`
	Limit Limit `json:"limit"`
}

// Stats is the full usage snapshot for one user.
type Stats struct {
	Tier    membership.Tier        `json:"tier"`
	Actions map[Action]ActionStats `json:"actions"`
}

// Stats returns current usage across every metered action.
func (e *Engine) Stats(ctx context.Context, userID int64) (Stats, error) {
	tier, err := e.membership.TierOf(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{Tier: tier, Actions: make(map[Action]ActionStats, len(Actions))}
	now := e.clock.Now()
	for _, action := range Actions {
		usage, err := e.counters.Totals(ctx, userID, action, now)
		if err != nil {
			return Stats{}, apperr.Internal(err)
		}
		out.Actions[action] = ActionStats{Usage: usage, Limit: LimitsFor(tier, action)}
	}
	return out, nil
}
