package autotrade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/ports"
	"researchEngine/internal/testutil"
)

func TestApply(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	stats := &ports.AutoTradeStats{UserID: "u1"}

	for _, o := range []ports.AutoTradeOutcome{
		{Win: false, PnL: -5, ClosedAt: day1},
		{Win: false, PnL: -3, ClosedAt: day1},
		{Win: true, PnL: 10, ClosedAt: day1},
		{Win: false, PnL: -2, ClosedAt: day2},
	} {
		Apply(stats, o)
	}

	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 3, stats.Losses)
	assert.Equal(t, 1, stats.ConsecutiveLosses)
	assert.InDelta(t, 0, stats.TotalPnL, 1e-9)
	assert.Equal(t, "2026-03-02", stats.Day)
	assert.InDelta(t, -2, stats.DailyPnL, 1e-9)
}

func TestTracker_Record(t *testing.T) {
	store := testutil.NewStore()
	clock := testutil.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	tr, err := NewTracker(store, clock, &testutil.Logger{})
	require.NoError(t, err)
	ctx := context.Background()

	empty, err := tr.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, empty.Wins+empty.Losses)

	require.NoError(t, tr.Record(ctx, ports.AutoTradeOutcome{UserID: "u1", TradeID: "t1", Win: false, PnL: -4}))
	require.NoError(t, tr.Record(ctx, ports.AutoTradeOutcome{UserID: "u1", TradeID: "t2", Win: false, PnL: -1}))

	stats, err := tr.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ConsecutiveLosses)
	assert.InDelta(t, -5, stats.DailyPnL, 1e-9)
	assert.Equal(t, "2026-03-01", stats.Day)
	assert.Len(t, store.Outcomes, 2)
	assert.Equal(t, clock.Now(), store.Outcomes[0].ClosedAt)
}
