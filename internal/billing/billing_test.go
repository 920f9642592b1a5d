package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/clock"
	"github.com/heymatch/heymatch-api/internal/config"
	"github.com/heymatch/heymatch-api/internal/membership"
)

const testSecret = "test-webhook-secret"

type fixture struct {
	svc    *Service
	ledger *membership.Ledger
	clk    *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := membership.NewLedger(membership.NewMemStore(), clk)
	verifier := NewHMACVerifier(map[string]string{"mockpay": testSecret})
	svc := NewService(NewMemStore(), ledger, config.DefaultPricing(), verifier, clk)
	return &fixture{svc: svc, ledger: ledger, clk: clk}
}

func sign(t *testing.T, payload []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func notification(t *testing.T, o Order, txn string) []byte {
	t.Helper()
	b, err := json.Marshal(Notification{OrderID: o.ID, ProviderTxnID: txn, AmountCents: o.AmountCents})
	require.NoError(t, err)
	return b
}

func TestAmountCents(t *testing.T) {
	p := config.DefaultPricing()

	cases := []struct {
		days int
		want int64
	}{
		{30, 2999},
		{365, 2999 * 12 * 85 / 100}, // 30589
		{7, 2999 * 7 / 30},          // 699, linear
		{60, 5998},
	}
	for _, tc := range cases {
		got, err := AmountCents(p, tc.days)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "days=%d", tc.days)
	}

	_, err := AmountCents(p, 0)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
	_, err = AmountCents(p, 9999)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	o, err := f.svc.CreateOrder(context.Background(), 1, 30, "mockpay")
	require.NoError(t, err)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, int64(2999), o.AmountCents)
	assert.Equal(t, "USD", o.Currency)
	assert.Equal(t, f.clk.Now().Add(24*time.Hour), o.ExpiresAt)
}

func TestConfirmPaymentExtendsMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, 1, 30, "mockpay")
	require.NoError(t, err)

	payload := notification(t, o, "txn-1")
	settled, err := f.svc.ConfirmPayment(ctx, "mockpay", payload, sign(t, payload))
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, settled.Status)
	require.NotNil(t, settled.ProviderTxnID)
	assert.Equal(t, "txn-1", *settled.ProviderTxnID)

	tier, err := f.ledger.TierOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, membership.TierPaid, tier)
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, 1, 30, "mockpay")
	require.NoError(t, err)

	payload := notification(t, o, "txn-1")
	first, err := f.svc.ConfirmPayment(ctx, "mockpay", payload, sign(t, payload))
	require.NoError(t, err)

	// Duplicate settlement is a no-op: same order back, no double extension.
	second, err := f.svc.ConfirmPayment(ctx, "mockpay", payload, sign(t, payload))
	require.NoError(t, err)
	assert.Equal(t, first.PaidAt, second.PaidAt)

	m, err := f.ledger.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, f.clk.Now().Add(30*24*time.Hour), *m.EndDate)
}

func TestConfirmPaymentBadSignatureFailsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, 1, 30, "mockpay")
	require.NoError(t, err)

	payload := notification(t, o, "txn-1")
	_, err = f.svc.ConfirmPayment(ctx, "mockpay", payload, "deadbeef")
	assert.Equal(t, apperr.KindPaymentVerifyFailed, apperr.KindOf(err))

	got, err := f.svc.GetOrder(ctx, 1, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	tier, _ := f.ledger.TierOf(ctx, 1)
	assert.Equal(t, membership.TierFree, tier)
}

func TestConfirmPaymentUnknownMethod(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ConfirmPayment(context.Background(), "nopay", []byte("{}"), "00")
	assert.Equal(t, apperr.KindPaymentVerifyFailed, apperr.KindOf(err))
}

func TestConfirmPaymentAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, 1, 30, "mockpay")
	require.NoError(t, err)

	b, _ := json.Marshal(Notification{OrderID: o.ID, ProviderTxnID: "txn-1", AmountCents: 1})
	_, err = f.svc.ConfirmPayment(ctx, "mockpay", b, sign(t, b))
	assert.Equal(t, apperr.KindPaymentVerifyFailed, apperr.KindOf(err))
}

func TestConfirmPaymentExpiredOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, 1, 30, "mockpay")
	require.NoError(t, err)

	f.clk.Advance(25 * time.Hour)
	payload := notification(t, o, "txn-late")
	_, err = f.svc.ConfirmPayment(ctx, "mockpay", payload, sign(t, payload))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, _ := f.svc.GetOrder(ctx, 1, o.ID)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestSweepExpiresPendingOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateOrder(ctx, 1, 30, "mockpay")
	require.NoError(t, err)
	paid, err := f.svc.CreateOrder(ctx, 2, 30, "mockpay")
	require.NoError(t, err)
	payload := notification(t, paid, "txn-2")
	_, err = f.svc.ConfirmPayment(ctx, "mockpay", payload, sign(t, payload))
	require.NoError(t, err)

	f.clk.Advance(25 * time.Hour)
	assert.Equal(t, 1, f.svc.SweepExpired(ctx))
}

func TestGetOrderScopedToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, 1, 30, "mockpay")
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, 2, o.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
