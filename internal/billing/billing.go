// Package billing sells membership day packages: order creation, provider
// settlement verification, and the idempotent flip to paid that extends the
// buyer's membership.
package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/clock"
	"github.com/heymatch/heymatch-api/internal/config"
	"github.com/heymatch/heymatch-api/internal/membership"
)

// OrderStatus is the settlement state of an order.
type OrderStatus string

const (
	StatusPending OrderStatus = "pending"
	StatusPaid    OrderStatus = "paid"
	StatusExpired OrderStatus = "expired"
	StatusFailed  OrderStatus = "failed"
)

// OrderTTL is how long an unpaid order stays payable.
const OrderTTL = 24 * time.Hour

// Order is one day-package purchase.
type Order struct {
	ID            string      `json:"order_id"`
	UserID        int64       `json:"user_id"`
	Days          int         `json:"days"`
	AmountCents   int64       `json:"amount_cents"`
	Currency      string      `json:"currency"`
	Method        string      `json:"method"`
	Status        OrderStatus `json:"status"`
	ProviderTxnID *string     `json:"provider_txn_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	ExpiresAt     time.Time   `json:"expires_at"`
	PaidAt        *time.Time  `json:"paid_at,omitempty"`
}

// Store persists orders. MarkPaid must be a conditional flip so that
// concurrent or repeated confirmations have exactly one effect.
type Store interface {
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, orderID string) (Order, bool, error)
	// MarkPaid flips pending→paid, recording the provider transaction;
	// ok=false when the order was not pending.
	MarkPaid(ctx context.Context, orderID, providerTxnID string, now time.Time) (Order, bool, error)
	// MarkStatus flips from→to; ok=false when the order was not in 'from'.
	MarkStatus(ctx context.Context, orderID string, from, to OrderStatus) (Order, bool, error)
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	// ExpirePending flips pending orders past their expiry to expired.
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}

// Notification is the provider's settlement payload.
type Notification struct {
	OrderID       string `json:"order_id"`
	ProviderTxnID string `json:"provider_txn_id"`
	AmountCents   int64  `json:"amount_cents"`
}

// Service runs the order lifecycle.
type Service struct {
	store    Store
	ledger   *membership.Ledger
	pricing  config.Pricing
	verifier Verifier
	clock    clock.Clock
}

func NewService(store Store, ledger *membership.Ledger, pricing config.Pricing, verifier Verifier, clk clock.Clock) *Service {
	return &Service{store: store, ledger: ledger, pricing: pricing, verifier: verifier, clock: clk}
}

var auditPay = log.With().Bool("audit", true).Logger()

// CreateOrder prices a package and opens a pending order payable for 24h.
func (s *Service) CreateOrder(ctx context.Context, userID int64, days int, method string) (Order, error) {
	if method == "" {
		return Order{}, apperr.Invalid("method is required")
	}
	amount, err := AmountCents(s.pricing, days)
	if err != nil {
		return Order{}, err
	}

	now := s.clock.Now()
	o := Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Days:        days,
		AmountCents: amount,
		Currency:    s.pricing.Currency,
		Method:      method,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(OrderTTL),
	}
	if err := s.store.Insert(ctx, o); err != nil {
		return Order{}, apperr.Internal(err)
	}
	auditPay.Info().Str("orderId", o.ID).Int64("userId", userID).Int("days", days).
		Int64("amountCents", amount).Str("method", method).Msg("order created")
	return o, nil
}

// ConfirmPayment settles an order from a provider notification. The payload
// signature is checked first; a verified duplicate is a no-op returning the
// paid order. A bad signature moves a pending order to failed.
func (s *Service) ConfirmPayment(ctx context.Context, method string, payload []byte, signature string) (Order, error) {
	var note Notification
	if verr := s.verifier.Verify(method, payload, signature); verr != nil {
		// Fail the order when the payload still parses enough to name one.
		if json.Unmarshal(payload, &note) == nil && note.OrderID != "" {
			if _, flipped, err := s.store.MarkStatus(ctx, note.OrderID, StatusPending, StatusFailed); err == nil && flipped {
				auditPay.Warn().Str("orderId", note.OrderID).Str("method", method).Msg("order failed on bad signature")
			}
		}
		return Order{}, verr
	}
	if err := json.Unmarshal(payload, &note); err != nil {
		return Order{}, apperr.Invalid("malformed notification payload")
	}
	if note.OrderID == "" || note.ProviderTxnID == "" {
		return Order{}, apperr.Invalid("notification missing order_id or provider_txn_id")
	}

	o, ok, err := s.store.Get(ctx, note.OrderID)
	if err != nil {
		return Order{}, apperr.Internal(err)
	}
	if !ok {
		return Order{}, apperr.NotFound("no such order")
	}
	if o.Method != method {
		return Order{}, apperr.New(apperr.KindPaymentVerifyFailed, "method mismatch")
	}
	if note.AmountCents != 0 && note.AmountCents != o.AmountCents {
		return Order{}, apperr.New(apperr.KindPaymentVerifyFailed, "amount mismatch")
	}

	now := s.clock.Now()
	if o.Status == StatusPaid {
		return o, nil
	}
	if !o.ExpiresAt.After(now) {
		s.store.MarkStatus(ctx, o.ID, StatusPending, StatusExpired)
		return Order{}, apperr.Conflict("order expired").WithCode("STATE_INVALID")
	}

	o, won, err := s.store.MarkPaid(ctx, o.ID, note.ProviderTxnID, now)
	if err != nil {
		return Order{}, apperr.Internal(err)
	}
	if !won {
		// Lost to a concurrent confirmation; report the settled order.
		o, _, err = s.store.Get(ctx, note.OrderID)
		if err != nil {
			return Order{}, apperr.Internal(err)
		}
		if o.Status != StatusPaid {
			return Order{}, apperr.Conflict("order not payable").WithCode("STATE_INVALID")
		}
		return o, nil
	}

	if _, err := s.ledger.Extend(ctx, o.UserID, o.Days); err != nil {
		// The order is paid; membership extension is retried by ops
		// reconciliation rather than unwinding the settlement.
		auditPay.Error().Err(err).Str("orderId", o.ID).Msg("membership extension failed after settlement")
		return o, nil
	}
	auditPay.Info().Str("orderId", o.ID).Int64("userId", o.UserID).Str("txn", note.ProviderTxnID).Msg("order settled")
	return o, nil
}

// GetOrder returns the caller's order.
func (s *Service) GetOrder(ctx context.Context, userID int64, orderID string) (Order, error) {
	o, ok, err := s.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, apperr.Internal(err)
	}
	if !ok || o.UserID != userID {
		return Order{}, apperr.NotFound("no such order")
	}
	return o, nil
}

// ListOrders returns the caller's order history.
func (s *Service) ListOrders(ctx context.Context, userID int64) ([]Order, error) {
	orders, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return orders, nil
}

// SweepExpired flips lapsed pending orders to expired.
func (s *Service) SweepExpired(ctx context.Context) int {
	n, err := s.store.ExpirePending(ctx, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("order expiry sweep failed")
		return 0
	}
	if n > 0 {
		log.Info().Int("expired", n).Msg("order expiry sweep")
	}
	return n
}

// RunSweeper expires orders periodically until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepExpired(ctx)
		}
	}
}
