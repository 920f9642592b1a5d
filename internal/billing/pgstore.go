package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists orders in Postgres. Settlement flips are conditional
// single-row updates on the status column, so duplicates and races collapse
// to one winner.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const orderColumns = `id, user_id, days, amount_cents, currency, method, status, provider_txn_id, created_at, expires_at, paid_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.Days, &o.AmountCents, &o.Currency, &o.Method,
		&o.Status, &o.ProviderTxnID, &o.CreatedAt, &o.ExpiresAt, &o.PaidAt)
	return o, err
}

func (s *PGStore) Insert(ctx context.Context, o Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_orders (id, user_id, days, amount_cents, currency, method, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, o.ID, o.UserID, o.Days, o.AmountCents, o.Currency, o.Method, o.Status, o.CreatedAt, o.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, orderID string) (Order, bool, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE id = $1`, orderID))
	if err == pgx.ErrNoRows {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, fmt.Errorf("get order: %w", err)
	}
	return o, true, nil
}

func (s *PGStore) MarkPaid(ctx context.Context, orderID, providerTxnID string, now time.Time) (Order, bool, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `
		UPDATE payment_orders
		SET status = 'paid', provider_txn_id = $2, paid_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+orderColumns+`
	`, orderID, providerTxnID, now))
	if err == pgx.ErrNoRows {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, fmt.Errorf("mark order paid: %w", err)
	}
	return o, true, nil
}

func (s *PGStore) MarkStatus(ctx context.Context, orderID string, from, to OrderStatus) (Order, bool, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `
		UPDATE payment_orders SET status = $3 WHERE id = $1 AND status = $2
		RETURNING `+orderColumns+`
	`, orderID, from, to))
	if err == pgx.ErrNoRows {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, fmt.Errorf("mark order status: %w", err)
	}
	return o, true, nil
}

func (s *PGStore) ListByUser(ctx context.Context, userID int64) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM payment_orders
		WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PGStore) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payment_orders SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire orders: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
