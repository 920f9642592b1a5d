package membership

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heymatch/heymatch-api/internal/clock"
)

func newLedger(t *testing.T) (*Ledger, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewLedger(NewMemStore(), clk), clk
}

func TestNewUserIsFree(t *testing.T) {
	l, _ := newLedger(t)
	tier, err := l.TierOf(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, TierFree, tier)
}

func TestExtendStacksOnRemainingDays(t *testing.T) {
	l, clk := newLedger(t)
	ctx := context.Background()

	m, err := l.Extend(ctx, 1, 30)
	require.NoError(t, err)
	require.NotNil(t, m.EndDate)
	assert.Equal(t, clk.Now().Add(30*24*time.Hour), *m.EndDate)

	// Buying again mid-window appends to the current end, not to now.
	clk.Advance(10 * 24 * time.Hour)
	m, err = l.Extend(ctx, 1, 30)
	require.NoError(t, err)
	wantEnd := clk.Now().Add(50 * 24 * time.Hour) // 20 remaining + 30 new
	assert.Equal(t, wantEnd, *m.EndDate)
}

func TestExtendAfterLapseStartsFromNow(t *testing.T) {
	l, clk := newLedger(t)
	ctx := context.Background()

	_, err := l.Extend(ctx, 1, 7)
	require.NoError(t, err)

	clk.Advance(30 * 24 * time.Hour)
	m, err := l.Extend(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(7*24*time.Hour), *m.EndDate)
}

func TestTierDerivedFromEndDate(t *testing.T) {
	l, clk := newLedger(t)
	ctx := context.Background()

	_, err := l.Extend(ctx, 1, 1)
	require.NoError(t, err)

	tier, _ := l.TierOf(ctx, 1)
	assert.Equal(t, TierPaid, tier)

	// Past end_date the user is free even before any sweep runs.
	clk.Advance(25 * time.Hour)
	tier, _ = l.TierOf(ctx, 1)
	assert.Equal(t, TierFree, tier)
}

func TestExtendRejectsNonPositiveDays(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.Extend(context.Background(), 1, 0)
	assert.Error(t, err)
}

func TestSweepDowngradesLapsedRows(t *testing.T) {
	store := NewMemStore()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := NewLedger(store, clk)
	ctx := context.Background()

	_, err := l.Extend(ctx, 1, 1)
	require.NoError(t, err)
	_, err = l.Extend(ctx, 2, 90)
	require.NoError(t, err)

	clk.Advance(48 * time.Hour)
	assert.Equal(t, 1, l.SweepExpired(ctx))

	m, _ := store.Get(ctx, 1, clk.Now())
	assert.Equal(t, TierFree, m.Tier)
	assert.Nil(t, m.EndDate)

	m, _ = store.Get(ctx, 2, clk.Now())
	assert.Equal(t, TierPaid, m.Tier)
}
