package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists membership rows in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, userID int64, now time.Time) (Membership, error) {
	var m Membership
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, tier, start_date, end_date, active
		FROM memberships WHERE user_id = $1
	`, userID).Scan(&m.UserID, &m.Tier, &m.StartDate, &m.EndDate, &m.Active)
	if err == pgx.ErrNoRows {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO memberships (user_id, tier, start_date, active)
			VALUES ($1, 'free', $2, true)
			ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
			RETURNING user_id, tier, start_date, end_date, active
		`, userID, now).Scan(&m.UserID, &m.Tier, &m.StartDate, &m.EndDate, &m.Active)
	}
	if err != nil {
		return Membership{}, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

// Extend is a single upsert so concurrent purchases stack rather than race:
// the new end date is days past whichever of now / current end is later.
func (s *PGStore) Extend(ctx context.Context, userID int64, days int, now time.Time) (Membership, error) {
	var m Membership
	err := s.pool.QueryRow(ctx, `
		INSERT INTO memberships (user_id, tier, start_date, end_date, active)
		VALUES ($1, 'paid', $2, $2 + make_interval(days => $3), true)
		ON CONFLICT (user_id) DO UPDATE SET
			tier = 'paid',
			end_date = GREATEST(COALESCE(memberships.end_date, $2), $2) + make_interval(days => $3),
			active = true
		RETURNING user_id, tier, start_date, end_date, active
	`, userID, now, days).Scan(&m.UserID, &m.Tier, &m.StartDate, &m.EndDate, &m.Active)
	if err != nil {
		return Membership{}, fmt.Errorf("extend membership: %w", err)
	}
	return m, nil
}

func (s *PGStore) Downgrade(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE memberships SET tier = 'free', end_date = NULL WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("downgrade membership: %w", err)
	}
	return nil
}

func (s *PGStore) ExpiredPaid(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM memberships
		WHERE tier = 'paid' AND end_date IS NOT NULL AND end_date <= $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired memberships: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
