package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Limiter combines the policy matrix, the window store and the blocklist.
type Limiter struct {
	store     Store
	blocklist Blocklist
	matrix    Matrix
}

// NewLimiter wires a limiter.
func NewLimiter(store Store, blocklist Blocklist, matrix Matrix) *Limiter {
	return &Limiter{store: store, blocklist: blocklist, matrix: matrix}
}

// Policy returns the rule for a class; zero Policy when unknown.
func (l *Limiter) Policy(class Class) Policy {
	return l.matrix[class]
}

// Allow runs one admission check for class with the given key. Unknown
// classes admit everything (fail open on configuration gaps).
func (l *Limiter) Allow(ctx context.Context, class Class, key string) (Decision, error) {
	p, ok := l.matrix[class]
	if !ok || p.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	d, err := l.store.Allow(ctx, string(class)+":"+key, p.Limit, p.Window)
	if err != nil {
		// A broken limiter store must not take the API down.
		log.Error().Err(err).Str("class", string(class)).Msg("rate limit store failure, admitting")
		return Decision{Allowed: true, Limit: p.Limit}, nil
	}
	return d, nil
}

// Peek reports the current standing without consuming.
func (l *Limiter) Peek(ctx context.Context, class Class, key string) (Decision, error) {
	p, ok := l.matrix[class]
	if !ok || p.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	return l.store.Peek(ctx, string(class)+":"+key, p.Limit, p.Window)
}

// BlockIP records an IP block for the given trigger duration.
func (l *Limiter) BlockIP(ctx context.Context, ip string, d time.Duration, reason string) {
	if err := l.blocklist.Block(ctx, ip, d, reason); err != nil {
		log.Error().Err(err).Str("ip", ip).Msg("failed to record ip block")
	}
}

// BlockedUntil consults the blocklist.
func (l *Limiter) BlockedUntil(ctx context.Context, ip string) (time.Time, bool) {
	until, blocked, err := l.blocklist.BlockedUntil(ctx, ip)
	if err != nil {
		log.Error().Err(err).Str("ip", ip).Msg("blocklist read failed, admitting")
		return time.Time{}, false
	}
	return until, blocked
}
