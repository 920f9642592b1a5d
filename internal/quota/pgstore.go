package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps counters in the usage_counters table. Consumption is a
// transactional upsert-with-increment followed by a cap re-check. The hour
// row lock alone is not enough: two transactions in different hour buckets
// of the same day would never conflict, and under READ COMMITTED each day
// SUM would miss the other's uncommitted increment, letting both commit past
// the daily cap. An advisory lock on (user, action, day) serializes the
// whole consume, so every day re-check sees all prior commits. A breached
// cap rolls the transaction back, leaving the counter untouched.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Consume(ctx context.Context, userID int64, action Action, now time.Time, n int, lim Limit) (Usage, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Usage{}, false, fmt.Errorf("begin consume: %w", err)
	}
	defer tx.Rollback(ctx)

	hour := hourBucket(now)
	day := dayBucket(now)

	_, err = tx.Exec(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2 || ':' || $3, 0))
	`, userID, action, day)
	if err != nil {
		return Usage{}, false, fmt.Errorf("lock day bucket: %w", err)
	}

	var usage Usage
	err = tx.QueryRow(ctx, `
		INSERT INTO usage_counters (user_id, action_kind, hour_bucket, day_bucket, count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, action_kind, hour_bucket)
		DO UPDATE SET count = usage_counters.count + $5
		RETURNING count
	`, userID, action, hour, day, n).Scan(&usage.Hour)
	if err != nil {
		return Usage{}, false, fmt.Errorf("increment counter: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(count), 0) FROM usage_counters
		WHERE user_id = $1 AND action_kind = $2 AND day_bucket = $3
	`, userID, action, day).Scan(&usage.Day)
	if err != nil {
		return Usage{}, false, fmt.Errorf("sum day counter: %w", err)
	}

	if _, over := usage.Exceeds(lim); over {
		// Rollback via the deferred call; report the totals we refused.
		return usage, true, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return Usage{}, false, fmt.Errorf("commit consume: %w", err)
	}
	return usage, false, nil
}

func (s *PGStore) Totals(ctx context.Context, userID int64, action Action, now time.Time) (Usage, error) {
	var usage Usage
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(count) FILTER (WHERE hour_bucket = $3), 0),
			COALESCE(SUM(count), 0)
		FROM usage_counters
		WHERE user_id = $1 AND action_kind = $2 AND day_bucket = $4
	`, userID, action, hourBucket(now), dayBucket(now)).Scan(&usage.Hour, &usage.Day)
	if err != nil {
		return Usage{}, fmt.Errorf("read counters: %w", err)
	}
	return usage, nil
}

// DeleteOlderThan drops spent buckets; run from the periodic sweeper.
func (s *PGStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM usage_counters WHERE hour_bucket < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep counters: %w", err)
	}
	return tag.RowsAffected(), nil
}
