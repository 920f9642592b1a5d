package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heymatch/heymatch-api/internal/apperr"
)

// PGStore persists identities and codes in Postgres.
type PGStore struct {
	DB *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{DB: db} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PGStore) CreateUserWithBinding(ctx context.Context, name string, b Binding, now time.Time) (User, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback(ctx)

	var userID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO users (display_name, status, created_at, last_active)
		VALUES ($1, 'active', $2, $2)
		RETURNING user_id
	`, name, now).Scan(&userID)
	if err != nil {
		return User{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO auth_bindings
			(user_id, provider, provider_id, password_hash, is_verified, is_primary, failed_attempts)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, 0)
	`, userID, b.Provider, b.ProviderID, b.PasswordHash, b.Verified, b.Primary)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, apperr.Conflict("binding exists")
		}
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return User{ID: userID, DisplayName: name, Status: StatusActive, CreatedAt: now, LastActive: now}, nil
}

func (s *PGStore) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.DB.QueryRow(ctx, `
		SELECT user_id, display_name, status, created_at, last_active
		FROM users WHERE user_id = $1
	`, id).Scan(&u.ID, &u.DisplayName, &u.Status, &u.CreatedAt, &u.LastActive)
	if err == pgx.ErrNoRows {
		return User{}, apperr.NotFound("no such user")
	}
	return u, err
}

func (s *PGStore) SetUserStatus(ctx context.Context, id int64, status UserStatus) error {
	tag, err := s.DB.Exec(ctx, `UPDATE users SET status = $2 WHERE user_id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("no such user")
	}
	return nil
}

func (s *PGStore) TouchLastActive(ctx context.Context, id int64, now time.Time) error {
	_, err := s.DB.Exec(ctx, `UPDATE users SET last_active = $2 WHERE user_id = $1`, id, now)
	return err
}

func (s *PGStore) BindingByProvider(ctx context.Context, p Provider, providerID string) (Binding, error) {
	var b Binding
	var passwordHash sql.NullString
	var lockedUntil, lastLogin sql.NullTime
	err := s.DB.QueryRow(ctx, `
		SELECT user_id, provider, provider_id, password_hash, is_verified, is_primary,
		       failed_attempts, locked_until, last_login
		FROM auth_bindings WHERE provider = $1 AND provider_id = $2
	`, p, providerID).Scan(&b.UserID, &b.Provider, &b.ProviderID, &passwordHash,
		&b.Verified, &b.Primary, &b.FailedAttempts, &lockedUntil, &lastLogin)
	if err == pgx.ErrNoRows {
		return Binding{}, apperr.NotFound("no such binding")
	}
	if err != nil {
		return Binding{}, err
	}
	if passwordHash.Valid {
		b.PasswordHash = passwordHash.String
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		b.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		b.LastLogin = &t
	}
	return b, nil
}

func (s *PGStore) RecordLoginFailure(ctx context.Context, p Provider, providerID string, threshold int, now, lockedUntil time.Time) (int, error) {
	var attempts int
	// Lapsed locks re-arm on the next failure past the threshold.
	err := s.DB.QueryRow(ctx, `
		UPDATE auth_bindings
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= $3
		                         AND (locked_until IS NULL OR locked_until <= $4)
		                        THEN $5 ELSE locked_until END
		WHERE provider = $1 AND provider_id = $2
		RETURNING failed_attempts
	`, p, providerID, threshold, now, lockedUntil).Scan(&attempts)
	if err == pgx.ErrNoRows {
		return 0, apperr.NotFound("no such binding")
	}
	return attempts, err
}

func (s *PGStore) RecordLoginSuccess(ctx context.Context, p Provider, providerID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE auth_bindings
		SET failed_attempts = 0, locked_until = NULL, last_login = $3
		WHERE provider = $1 AND provider_id = $2
	`, p, providerID, now)
	return err
}

func (s *PGStore) ReplaceCode(ctx context.Context, c VerificationCode) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Issuing a new code invalidates the prior unused one for the triple.
	_, err = tx.Exec(ctx, `
		UPDATE verification_codes SET used_at = $4
		WHERE provider = $1 AND provider_id = $2 AND purpose = $3 AND used_at IS NULL
	`, c.Provider, c.ProviderID, c.Purpose, c.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO verification_codes
			(provider, provider_id, code_hash, purpose, created_at, expires_at, attempts, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
	`, c.Provider, c.ProviderID, c.CodeHash, c.Purpose, c.CreatedAt, c.ExpiresAt, c.MaxAttempts)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PGStore) LiveCode(ctx context.Context, p Provider, providerID string, purpose CodePurpose, now time.Time) (VerificationCode, error) {
	var c VerificationCode
	err := s.DB.QueryRow(ctx, `
		SELECT provider, provider_id, code_hash, purpose, created_at, expires_at, attempts, max_attempts
		FROM verification_codes
		WHERE provider = $1 AND provider_id = $2 AND purpose = $3
		  AND used_at IS NULL AND expires_at > $4
	`, p, providerID, purpose, now).Scan(&c.Provider, &c.ProviderID, &c.CodeHash, &c.Purpose,
		&c.CreatedAt, &c.ExpiresAt, &c.Attempts, &c.MaxAttempts)
	if err == pgx.ErrNoRows {
		return VerificationCode{}, apperr.NotFound("no live code")
	}
	return c, err
}

func (s *PGStore) BumpCodeAttempts(ctx context.Context, p Provider, providerID string, purpose CodePurpose, now time.Time) (int, error) {
	var attempts int
	err := s.DB.QueryRow(ctx, `
		UPDATE verification_codes SET attempts = attempts + 1
		WHERE provider = $1 AND provider_id = $2 AND purpose = $3
		  AND used_at IS NULL AND expires_at > $4
		RETURNING attempts
	`, p, providerID, purpose, now).Scan(&attempts)
	if err == pgx.ErrNoRows {
		return 0, apperr.NotFound("no live code")
	}
	return attempts, err
}

func (s *PGStore) MarkCodeUsed(ctx context.Context, p Provider, providerID string, purpose CodePurpose, now time.Time) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE verification_codes SET used_at = $4
		WHERE provider = $1 AND provider_id = $2 AND purpose = $3 AND used_at IS NULL
	`, p, providerID, purpose, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("no live code")
	}
	return nil
}

func (s *PGStore) LastCodeIssuedAt(ctx context.Context, p Provider, providerID string) (*time.Time, error) {
	var t sql.NullTime
	err := s.DB.QueryRow(ctx, `
		SELECT MAX(created_at) FROM verification_codes
		WHERE provider = $1 AND provider_id = $2
	`, p, providerID).Scan(&t)
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	issued := t.Time
	return &issued, nil
}
