package swipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heymatch/heymatch-api/internal/apperr"
)

// PGStore persists swipes in Postgres. The swipes table has a unique key on
// (swiper_id, target_id), which makes duplicate detection a plain insert.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Insert(ctx context.Context, sw Swipe) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO swipes (swiper_id, target_id, direction, created_at)
		VALUES ($1, $2, $3, $4)
	`, sw.SwiperID, sw.TargetID, sw.Direction, sw.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Conflict("already swiped on this user")
		}
		return fmt.Errorf("insert swipe: %w", err)
	}
	return nil
}

func (s *PGStore) Overwrite(ctx context.Context, sw Swipe) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO swipes (swiper_id, target_id, direction, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (swiper_id, target_id) DO UPDATE SET direction = EXCLUDED.direction
	`, sw.SwiperID, sw.TargetID, sw.Direction, sw.CreatedAt)
	if err != nil {
		return fmt.Errorf("overwrite swipe: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, swiperID, targetID int64) (Swipe, bool, error) {
	var sw Swipe
	err := s.pool.QueryRow(ctx, `
		SELECT swiper_id, target_id, direction, created_at
		FROM swipes WHERE swiper_id = $1 AND target_id = $2
	`, swiperID, targetID).Scan(&sw.SwiperID, &sw.TargetID, &sw.Direction, &sw.CreatedAt)
	if err == pgx.ErrNoRows {
		return Swipe{}, false, nil
	}
	if err != nil {
		return Swipe{}, false, fmt.Errorf("get swipe: %w", err)
	}
	return sw, true, nil
}

func (s *PGStore) MutualPairs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.target_id
		FROM swipes a
		JOIN swipes b ON b.swiper_id = a.target_id AND b.target_id = a.swiper_id
		WHERE a.swiper_id = $1
		  AND a.direction IN ('like', 'super_like')
		  AND b.direction IN ('like', 'super_like')
		ORDER BY a.target_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list mutual pairs: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *PGStore) Viewed(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT target_id FROM swipes WHERE swiper_id = $1 ORDER BY target_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list viewed: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows pgx.Rows) ([]int64, error) {
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
