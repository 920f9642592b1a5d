// Package token is the refresh-token ledger: long-lived opaque credentials
// stored by hash, rotated on every use, revocable, with replay detection
// that revokes the whole rotation chain.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/clock"
)

// RefreshToken is one ledger row. The raw token value exists only in flight;
// the ledger holds its SHA-256.
type RefreshToken struct {
	ID          int64
	TokenHash   string
	UserID      int64
	Device      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastUsed    *time.Time
	Revoked     bool
	ParentToken *int64
}

// Store is the persistence contract for the ledger.
type Store interface {
	// Insert stores a new row and returns it with ID assigned.
	Insert(ctx context.Context, t RefreshToken) (RefreshToken, error)
	// ByHash returns the row for a token hash regardless of revocation.
	ByHash(ctx context.Context, hash string) (RefreshToken, error)
	// Rotate atomically revokes oldID and inserts next with parent=oldID.
	// The revocation must fail if oldID is already revoked (one winner on
	// concurrent rotation).
	Rotate(ctx context.Context, oldID int64, next RefreshToken, now time.Time) (RefreshToken, error)
	// Revoke marks one row revoked.
	Revoke(ctx context.Context, id int64) error
	// RevokeChain revokes the full rotation chain the row belongs to,
	// following parent_token links both up and down.
	RevokeChain(ctx context.Context, id int64) (int, error)
	// RevokeAllForUser revokes every live token of a user (logout-all).
	RevokeAllForUser(ctx context.Context, userID int64) (int, error)
}

// Config tunes the ledger.
type Config struct {
	TTL time.Duration // default 30 days
}

// Ledger issues, rotates and revokes refresh tokens.
type Ledger struct {
	store Store
	clock clock.Clock
	ttl   time.Duration
}

var audit = log.With().Bool("audit", true).Logger()

// NewLedger wires the ledger.
func NewLedger(store Store, clk clock.Clock, cfg Config) *Ledger {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Ledger{store: store, clock: clk, ttl: ttl}
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// newRawToken draws 256 bits from crypto/rand, hex encoded.
func newRawToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func errTokenInvalid() error {
	return apperr.Unauthorized("invalid refresh token").WithCode("TOKEN_INVALID")
}

// Issue mints a fresh refresh token for a user, returning the raw value.
func (l *Ledger) Issue(ctx context.Context, userID int64, device string) (string, RefreshToken, error) {
	raw, err := newRawToken()
	if err != nil {
		return "", RefreshToken{}, apperr.Internal(err)
	}
	now := l.clock.Now()
	row, err := l.store.Insert(ctx, RefreshToken{
		TokenHash: hashToken(raw),
		UserID:    userID,
		Device:    device,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	})
	if err != nil {
		return "", RefreshToken{}, apperr.Internal(err)
	}
	return raw, row, nil
}

// Rotate exchanges a presented refresh token for a new one. A presented
// token that was already rotated is a replay: the entire parent chain is
// revoked and the call fails.
func (l *Ledger) Rotate(ctx context.Context, raw string) (string, RefreshToken, error) {
	now := l.clock.Now()

	row, err := l.store.ByHash(ctx, hashToken(raw))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return "", RefreshToken{}, errTokenInvalid()
		}
		return "", RefreshToken{}, apperr.Internal(err)
	}

	if row.Revoked {
		// Replay of a rotated token: burn everything descending from it.
		n, rerr := l.store.RevokeChain(ctx, row.ID)
		if rerr != nil {
			return "", RefreshToken{}, apperr.Internal(rerr)
		}
		audit.Warn().Int64("userId", row.UserID).Int("revoked", n).Msg("refresh token replay detected, chain revoked")
		return "", RefreshToken{}, errTokenInvalid()
	}
	if !row.ExpiresAt.After(now) {
		return "", RefreshToken{}, errTokenInvalid()
	}

	nextRaw, err := newRawToken()
	if err != nil {
		return "", RefreshToken{}, apperr.Internal(err)
	}
	parent := row.ID
	next, err := l.store.Rotate(ctx, row.ID, RefreshToken{
		TokenHash:   hashToken(nextRaw),
		UserID:      row.UserID,
		Device:      row.Device,
		CreatedAt:   now,
		ExpiresAt:   now.Add(l.ttl),
		ParentToken: &parent,
	}, now)
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			// Lost a concurrent rotation race; treat like a replay.
			return "", RefreshToken{}, errTokenInvalid()
		}
		return "", RefreshToken{}, apperr.Internal(err)
	}

	return nextRaw, next, nil
}

// Revoke invalidates a presented token (logout). Unknown tokens are a no-op
// so logout is idempotent.
func (l *Ledger) Revoke(ctx context.Context, raw string) error {
	row, err := l.store.ByHash(ctx, hashToken(raw))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return apperr.Internal(err)
	}
	if err := l.store.Revoke(ctx, row.ID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// RevokeAllForUser invalidates every live token of a user.
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID int64) error {
	n, err := l.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return apperr.Internal(err)
	}
	audit.Info().Int64("userId", userID).Int("revoked", n).Msg("all refresh tokens revoked")
	return nil
}
