package token

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heymatch/heymatch-api/internal/apperr"
)

// PGStore persists the ledger in Postgres.
type PGStore struct {
	DB *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{DB: db} }

func (s *PGStore) Insert(ctx context.Context, t RefreshToken) (RefreshToken, error) {
	err := s.DB.QueryRow(ctx, `
		INSERT INTO refresh_tokens (token_hash, user_id, device_descriptor, created_at, expires_at, revoked, parent_token)
		VALUES ($1, $2, $3, $4, $5, false, $6)
		RETURNING id
	`, t.TokenHash, t.UserID, t.Device, t.CreatedAt, t.ExpiresAt, t.ParentToken).Scan(&t.ID)
	return t, err
}

func (s *PGStore) ByHash(ctx context.Context, hash string) (RefreshToken, error) {
	var t RefreshToken
	var lastUsed sql.NullTime
	var parent sql.NullInt64
	err := s.DB.QueryRow(ctx, `
		SELECT id, token_hash, user_id, device_descriptor, created_at, expires_at, last_used, revoked, parent_token
		FROM refresh_tokens WHERE token_hash = $1
	`, hash).Scan(&t.ID, &t.TokenHash, &t.UserID, &t.Device, &t.CreatedAt, &t.ExpiresAt, &lastUsed, &t.Revoked, &parent)
	if err == pgx.ErrNoRows {
		return RefreshToken{}, apperr.NotFound("no such token")
	}
	if err != nil {
		return RefreshToken{}, err
	}
	if lastUsed.Valid {
		u := lastUsed.Time
		t.LastUsed = &u
	}
	if parent.Valid {
		p := parent.Int64
		t.ParentToken = &p
	}
	return t, nil
}

func (s *PGStore) Rotate(ctx context.Context, oldID int64, next RefreshToken, now time.Time) (RefreshToken, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return RefreshToken{}, err
	}
	defer tx.Rollback(ctx)

	// Conditional revoke: exactly one concurrent rotation can win.
	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true, last_used = $2
		WHERE id = $1 AND revoked = false
	`, oldID, now)
	if err != nil {
		return RefreshToken{}, err
	}
	if tag.RowsAffected() == 0 {
		return RefreshToken{}, apperr.Conflict("token already rotated")
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO refresh_tokens (token_hash, user_id, device_descriptor, created_at, expires_at, revoked, parent_token)
		VALUES ($1, $2, $3, $4, $5, false, $6)
		RETURNING id
	`, next.TokenHash, next.UserID, next.Device, next.CreatedAt, next.ExpiresAt, next.ParentToken).Scan(&next.ID)
	if err != nil {
		return RefreshToken{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RefreshToken{}, err
	}
	return next, nil
}

func (s *PGStore) Revoke(ctx context.Context, id int64) error {
	_, err := s.DB.Exec(ctx, `UPDATE refresh_tokens SET revoked = true WHERE id = $1`, id)
	return err
}

func (s *PGStore) RevokeChain(ctx context.Context, id int64) (int, error) {
	// Walk parent links to the chain root, then revoke the root and all of
	// its descendants in one statement.
	tag, err := s.DB.Exec(ctx, `
		WITH RECURSIVE up AS (
			SELECT id, parent_token FROM refresh_tokens WHERE id = $1
			UNION ALL
			SELECT t.id, t.parent_token FROM refresh_tokens t
			JOIN up ON t.id = up.parent_token
		), chain AS (
			SELECT id FROM up
			UNION
			SELECT t.id FROM refresh_tokens t
			JOIN chain ON t.parent_token = chain.id
		)
		UPDATE refresh_tokens SET revoked = true
		WHERE id IN (SELECT id FROM chain) AND revoked = false
	`, id)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) RevokeAllForUser(ctx context.Context, userID int64) (int, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false
	`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
