package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/clock"
	"github.com/heymatch/heymatch-api/internal/membership"
)

func newEngine(t *testing.T) (*Engine, *membership.Ledger, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := membership.NewLedger(membership.NewMemStore(), clk)
	return NewEngine(NewMemStore(), ledger, clk), ledger, clk
}

func TestFreeSwipeDailyCap(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		v, err := e.Consume(ctx, 1, ActionSwipe, 1)
		require.NoError(t, err, "swipe %d", i+1)
		assert.True(t, v.Allowed)
	}

	// 31st in the same UTC day is denied without touching the counter.
	v, err := e.Consume(ctx, 1, ActionSwipe, 1)
	assert.Equal(t, apperr.KindQuotaDenied, apperr.KindOf(err))
	assert.False(t, v.Allowed)
	assert.Equal(t, "daily limit reached", v.Reason)

	stats, err := e.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 30, stats.Actions[ActionSwipe].Usage.Day)

	// Immediately after midnight UTC the day bucket is fresh.
	clk.Set(time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC))
	v, err = e.Consume(ctx, 1, ActionSwipe, 1)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, 1, v.Usage.Day)
}

func TestPaidSwipeHourlyGuard(t *testing.T) {
	e, ledger, clk := newEngine(t)
	ctx := context.Background()
	_, err := ledger.Extend(ctx, 1, 30)
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		_, err := e.Consume(ctx, 1, ActionSwipe, 1)
		require.NoError(t, err)
	}
	_, err = e.Consume(ctx, 1, ActionSwipe, 1)
	assert.Equal(t, apperr.KindQuotaDenied, apperr.KindOf(err))

	// Next hour the guard resets; no daily cap applies to paid swiping.
	clk.Advance(time.Hour)
	for i := 0; i < 30; i++ {
		_, err := e.Consume(ctx, 1, ActionSwipe, 1)
		require.NoError(t, err, "hour-2 swipe %d", i+1)
	}
}

func TestCardCreateCapsByTier(t *testing.T) {
	e, ledger, _ := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Consume(ctx, 1, ActionCardCreate, 1)
		require.NoError(t, err)
	}
	_, err := e.Consume(ctx, 1, ActionCardCreate, 1)
	assert.Equal(t, apperr.KindQuotaDenied, apperr.KindOf(err))

	// Upgrading raises the cap to 10/day, counting what was already spent.
	_, err = ledger.Extend(ctx, 1, 30)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := e.Consume(ctx, 1, ActionCardCreate, 1)
		require.NoError(t, err, "paid create %d", i+1)
	}
	_, err = e.Consume(ctx, 1, ActionCardCreate, 1)
	assert.Equal(t, apperr.KindQuotaDenied, apperr.KindOf(err))
}

func TestCheckDoesNotMutate(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		v, err := e.Check(ctx, 1, ActionSwipe)
		require.NoError(t, err)
		assert.True(t, v.Allowed)
		assert.Equal(t, 0, v.Usage.Day)
	}
}

func TestCheckAgreesWithConsumeAtTheEdge(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		_, err := e.Consume(ctx, 1, ActionSwipe, 1)
		require.NoError(t, err)
	}
	v, err := e.Check(ctx, 1, ActionSwipe)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, "daily limit reached", v.Reason)
}

func TestConcurrentConsumeNeverExceedsCap(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Consume(ctx, 1, ActionSwipe, 1); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, allowed)
	stats, err := e.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 30, stats.Actions[ActionSwipe].Usage.Day)
}

func TestConcurrentConsumeAcrossHourBucketsHoldsDayCap(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	lim := Limit{PerDay: 30}
	// Two hour buckets of the same UTC day racing on one daily cap.
	hours := []time.Time{
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		now := hours[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, exceeded, err := store.Consume(ctx, 1, ActionSwipe, now, 1, lim)
			if err == nil && !exceeded {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, allowed, "day cap must hold across hour buckets")
	usage, err := store.Totals(ctx, 1, ActionSwipe, hours[1])
	require.NoError(t, err)
	assert.Equal(t, 30, usage.Day)
}

func TestConsumeRejectsNonPositive(t *testing.T) {
	e, _, _ := newEngine(t)
	_, err := e.Consume(context.Background(), 1, ActionSwipe, 0)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestMemStoreSweepDropsOldBuckets(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	day2 := day1.Add(26 * time.Hour)

	_, _, err := store.Consume(ctx, 1, ActionSwipe, day1, 1, Limit{PerDay: 30})
	require.NoError(t, err)
	_, _, err = store.Consume(ctx, 1, ActionSwipe, day2, 1, Limit{PerDay: 30})
	require.NoError(t, err)

	assert.Equal(t, 1, store.Sweep(day2, 24*time.Hour))
	usage, err := store.Totals(ctx, 1, ActionSwipe, day2)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Day)
}
