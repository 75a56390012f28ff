package margin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/domain"
	"researchEngine/internal/monitor"
	"researchEngine/internal/testutil"
)

func TestLiquidationPrice(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		leverage int
		side     domain.PositionSide
		want     float64
	}{
		{"long 5x", 100, 5, domain.Long, 80.5},
		{"short 5x", 100, 5, domain.Short, 119.5},
		{"long 10x", 200, 10, domain.Long, 181},
		{"zero leverage is 1x", 100, 0, domain.Long, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, LiquidationPrice(tt.entry, tt.leverage, tt.side), 1e-9)
		})
	}
}

type fixture struct {
	store   *testutil.Store
	prices  *testutil.Prices
	tracker *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: testutil.NewStore(), prices: &testutil.Prices{}}
	clock := testutil.NewClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	logger := &testutil.Logger{}
	closer, err := monitor.NewCloser(monitor.CloserConfig{
		Store:    f.store,
		Notifier: &testutil.Notifier{},
		Clock:    clock,
		Logger:   logger,
	})
	require.NoError(t, err)
	mon, err := monitor.NewMonitor(monitor.Config{Trades: f.store, Prices: f.prices, Closer: closer, Logger: logger})
	require.NoError(t, err)
	f.tracker, err = NewTracker(f.store, f.prices, mon, clock, logger, nil)
	require.NoError(t, err)
	return f
}

func marginTrade() *domain.Trade {
	return &domain.Trade{
		ID:         "t1",
		UserID:     "u1",
		Symbol:     "ETH_USDT",
		Side:       domain.Long,
		Quantity:   2,
		EntryPrice: 100,
		MarginMode: domain.MarginModeMargin,
		Leverage:   5,
		Status:     domain.TradeStatusFilled,
		PaperTrade: true,
	}
}

func TestTracker_OnFilledOpensOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := marginTrade()

	require.NoError(t, f.tracker.OnFilled(ctx, tr))
	require.NoError(t, f.tracker.OnFilled(ctx, tr))
	require.Len(t, f.store.Margins, 1)

	pos, err := f.store.GetOpenByTrade(ctx, "t1")
	require.NoError(t, err)
	assert.InDelta(t, 80.5, pos.LiquidationPrice, 1e-9)
	assert.Equal(t, 5, pos.Leverage)

	spot := marginTrade()
	spot.ID = "t2"
	spot.MarginMode = domain.MarginModeSpot
	require.NoError(t, f.tracker.OnFilled(ctx, spot))
	assert.Len(t, f.store.Margins, 1)
}

func TestTracker_RefreshUpdatesRisk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := marginTrade()
	f.store.AddTrade(tr)
	require.NoError(t, f.tracker.OnFilled(ctx, tr))
	f.prices.SetPrice("ETH_USDT", 90)

	res, err := f.tracker.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	pos, err := f.store.GetOpenByTrade(ctx, "t1")
	require.NoError(t, err)
	assert.InDelta(t, -20, pos.UnrealizedPnL, 1e-9)
}

func TestTracker_RefreshLiquidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := marginTrade()
	f.store.AddTrade(tr)
	require.NoError(t, f.tracker.OnFilled(ctx, tr))
	f.prices.SetPrice("ETH_USDT", 80)

	res, err := f.tracker.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Liquidated)

	got := f.store.Trade("t1")
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, domain.CloseReasonLiquidation, got.CloseReason)

	pos, err := f.store.GetOpenByTrade(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, pos, "closing the trade closes its margin position")

	res, err = f.tracker.Refresh(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Liquidated)
}
