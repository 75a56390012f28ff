package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/domain"
	"researchEngine/internal/metrics"
	"researchEngine/internal/ports"
	"researchEngine/internal/testutil"
)

type recordingOutcomes struct {
	mu       sync.Mutex
	outcomes []ports.AutoTradeOutcome
	err      error
}

func (r *recordingOutcomes) Record(ctx context.Context, o ports.AutoTradeOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return r.err
}

type fixture struct {
	store    *testutil.Store
	prices   *testutil.Prices
	exchange *testutil.Exchange
	notifier *testutil.Notifier
	outcomes *recordingOutcomes
	logger   *testutil.Logger
	metrics  *metrics.Metrics
	clock    *testutil.Clock
	monitor  *Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    testutil.NewStore(),
		prices:   &testutil.Prices{},
		exchange: testutil.NewExchange(),
		notifier: &testutil.Notifier{},
		outcomes: &recordingOutcomes{},
		logger:   &testutil.Logger{},
		metrics:  metrics.New(),
		clock:    testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	closer, err := NewCloser(CloserConfig{
		Store:    f.store,
		Clients:  testutil.NewProvider(f.exchange, "user-1"),
		Notifier: f.notifier,
		Outcomes: f.outcomes,
		Clock:    f.clock,
		Logger:   f.logger,
		Metrics:  f.metrics,
	})
	require.NoError(t, err)
	f.monitor, err = NewMonitor(Config{
		Trades:  f.store,
		Prices:  f.prices,
		Closer:  closer,
		Logger:  f.logger,
		Metrics: f.metrics,
	})
	require.NoError(t, err)
	return f
}

func seedTrade(f *fixture, mutate func(*domain.Trade)) *domain.Trade {
	tr := &domain.Trade{
		ID:         "trade-1",
		UserID:     "user-1",
		Symbol:     "BTC_USDT",
		Exchange:   domain.ExchangeBinance,
		Side:       domain.Long,
		OrderSide:  domain.Buy,
		Quantity:   1,
		EntryPrice: 100,
		Status:     domain.TradeStatusFilled,
		PaperTrade: true,
		MarginMode: domain.MarginModeSpot,
	}
	if mutate != nil {
		mutate(tr)
	}
	f.store.AddTrade(tr)
	return tr
}

func TestMonitor_StopLossScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) {
		tr.StopLossPrice = domain.Float(95)
		tr.TakeProfitPrice = domain.Float(110)
	})

	for _, p := range []float64{98, 96} {
		f.prices.SetPrice("BTC_USDT", p)
		res, err := f.monitor.SweepExits(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Checked)
		assert.Equal(t, 0, res.Closed)
	}

	f.prices.SetPrice("BTC_USDT", 94)
	res, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)

	got := f.store.Trade("trade-1")
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, domain.CloseReasonStopLoss, got.CloseReason)
	assert.Equal(t, 94.0, *got.ClosePrice)
	assert.InDelta(t, -6, got.RealizedPnL, 1e-9)
	assert.True(t, got.NotificationSent)
	assert.False(t, got.LowConfidenceFill)

	mirrors := f.store.Mirrors("trade-1")
	require.Len(t, mirrors, 1)
	assert.Equal(t, 1.0, mirrors[0].Quantity, "remaining quantity equals quantity")
	assert.Equal(t, domain.Sell, mirrors[0].OrderSide)

	assert.Equal(t, []ports.EventType{ports.EventPositionClosed}, f.notifier.Events())
	assert.Empty(t, f.exchange.PlacedOrders(), "paper trades never reach the exchange")
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.TradesClosed.WithLabelValues("stop_loss")))
}

func TestMonitor_AtMostOneClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) {
		tr.StopLossPrice = domain.Float(95)
		tr.TrailingStopPercent = domain.Float(2)
	})
	f.prices.SetPrice("BTC_USDT", 90)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = f.monitor.SweepExits(ctx) }()
		go func() { defer wg.Done(); _, _ = f.monitor.SweepTrailing(ctx) }()
	}
	wg.Wait()

	assert.Len(t, f.store.Mirrors("trade-1"), 1)
	first := f.store.Trade("trade-1")
	require.NotNil(t, first.ClosedAt)

	f.prices.SetPrice("BTC_USDT", 200)
	_, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	_, err = f.monitor.ForceClose(ctx, "trade-1", domain.CloseReasonManual, 0)
	assert.ErrorIs(t, err, ports.ErrAlreadyClosed)

	after := f.store.Trade("trade-1")
	assert.Equal(t, first.CloseReason, after.CloseReason)
	assert.Equal(t, *first.ClosePrice, *after.ClosePrice)
	assert.Equal(t, *first.ClosedAt, *after.ClosedAt)
	assert.Equal(t, 0, f.monitor.Locks().Len())
}

func TestMonitor_TieredTakeProfitConservesQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) {
		tr.Quantity = 2
		tr.TP1Price = domain.Float(105)
		tr.TP1Percent = 30
		tr.TP2Price = domain.Float(110)
		tr.TakeProfitPrice = domain.Float(110)
	})

	f.prices.SetPrice("BTC_USDT", 112)
	res, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Partial)
	assert.Equal(t, 0, res.Closed, "tp2 waits for the next tick")

	mid := f.store.Trade("trade-1")
	assert.True(t, mid.IsOpen())
	assert.InDelta(t, 0.6, mid.QuantitySoldTP1, 1e-9)
	assert.LessOrEqual(t, mid.QuantitySoldTP1, mid.Quantity)
	assert.InDelta(t, 7.2, mid.RealizedPnL, 1e-9)

	res, err = f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)

	final := f.store.Trade("trade-1")
	assert.Equal(t, domain.CloseReasonTakeProfit2, final.CloseReason)
	mirrors := f.store.Mirrors("trade-1")
	require.Len(t, mirrors, 1)
	assert.InDelta(t, 1.4, mirrors[0].Quantity, 1e-9)
	assert.InDelta(t, final.Quantity, final.QuantitySoldTP1+mirrors[0].Quantity, 1e-9)
	assert.InDelta(t, 7.2+1.4*12, final.RealizedPnL, 1e-9)
	assert.Equal(t, []ports.EventType{ports.EventPartialTP, ports.EventPositionClosed}, f.notifier.Events())
}

func TestMonitor_TrailingStatePersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) { tr.TrailingStopPercent = domain.Float(5) })

	for _, p := range []float64{100, 120, 115} {
		f.prices.SetPrice("BTC_USDT", p)
		_, err := f.monitor.SweepTrailing(ctx)
		require.NoError(t, err)
	}
	got := f.store.Trade("trade-1")
	assert.True(t, got.TrailingActivated)
	assert.Equal(t, 120.0, *got.TrailingExtreme)
	assert.InDelta(t, 114, *got.TrailingStopPrice, 1e-9)
	assert.Equal(t, 2, got.Version)

	f.prices.SetPrice("BTC_USDT", 113)
	res, err := f.monitor.SweepTrailing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, domain.CloseReasonTrailingStop, f.store.Trade("trade-1").CloseReason)
}

func TestMonitor_LiveCloseClampsToBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) {
		tr.PaperTrade = false
		tr.StopLossPrice = domain.Float(95)
	})
	f.exchange.Balances["BTC"] = 0.9995
	f.exchange.PlaceResponse = &ports.OrderResponse{
		OrderID:     "55",
		Status:      domain.OrderStatusFilled,
		ExecutedQty: 0.999,
		Fills: []ports.Fill{
			{Price: 94, Quantity: 0.5},
			{Price: 93, Quantity: 0.499},
		},
	}
	f.prices.SetPrice("BTC_USDT", 94)

	_, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)

	placed := f.exchange.PlacedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, "0.999", placed[0].Quantity)
	assert.Equal(t, domain.Sell, placed[0].Side)
	assert.Equal(t, ports.OrderTypeMarket, placed[0].Type)
	assert.NotEmpty(t, placed[0].ClientOrderID)

	got := f.store.Trade("trade-1")
	wantPrice := (94*0.5 + 93*0.499) / 0.999
	assert.InDelta(t, wantPrice, *got.ClosePrice, 1e-9)
	assert.False(t, got.LowConfidenceFill)
}

func TestMonitor_LowConfidenceFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) {
		tr.PaperTrade = false
		tr.StopLossPrice = domain.Float(95)
	})
	f.exchange.PlaceResponse = &ports.OrderResponse{OrderID: "56", Status: domain.OrderStatusFilled}
	f.prices.SetPrice("BTC_USDT", 94)

	_, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)

	got := f.store.Trade("trade-1")
	assert.True(t, got.LowConfidenceFill)
	assert.Equal(t, 100.0, *got.ClosePrice)
	assert.Zero(t, got.RealizedPnL)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.LowConfidenceFills))
	assert.Equal(t, 1, f.logger.WarnCount())
	assert.Equal(t, "1.000", f.exchange.PlacedOrders()[0].Quantity)
}

func TestMonitor_MarginCloseAndOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := seedTrade(f, func(tr *domain.Trade) {
		tr.PaperTrade = false
		tr.AutoTrade = true
		tr.Side = domain.Short
		tr.OrderSide = domain.Sell
		tr.MarginMode = domain.MarginModeMargin
		tr.Leverage = 3
		tr.TakeProfitPrice = domain.Float(90)
	})
	f.exchange.Margin = true
	f.exchange.PlaceResponse = &ports.OrderResponse{OrderID: "57", Status: domain.OrderStatusFilled, ExecutedQty: 1, AvgPrice: 89}
	require.NoError(t, f.store.CreateMarginPosition(ctx, &domain.MarginPosition{
		ID: "mp-1", TradeID: tr.ID, UserID: "user-1", Symbol: "BTC_USDT", Side: domain.Short,
		EntryPrice: 100, Quantity: 1, Leverage: 3, Status: domain.MarginStatusOpen,
	}))
	f.outcomes.err = errors.New("tracker down")
	f.prices.SetPrice("BTC_USDT", 89.5)

	_, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)

	require.Len(t, f.exchange.MarginCloses, 1)
	assert.Equal(t, domain.Short, f.exchange.MarginCloses[0].Side)
	assert.Empty(t, f.exchange.PlacedOrders())

	got := f.store.Trade("trade-1")
	require.NotNil(t, got.ClosedAt, "outcome failure does not roll back the close")
	assert.InDelta(t, 11, got.RealizedPnL, 1e-9)

	pos := f.store.Margins["mp-1"]
	assert.Equal(t, domain.MarginStatusClosed, pos.Status)
	assert.InDelta(t, 11, pos.RealizedPnL, 1e-9)

	require.Len(t, f.outcomes.outcomes, 1)
	assert.True(t, f.outcomes.outcomes[0].Win)
}

func TestMonitor_NotificationRejectedLeavesBacklog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) { tr.StopLossPrice = domain.Float(95) })
	f.notifier.Err = errors.New("queue full")
	f.prices.SetPrice("BTC_USDT", 90)

	_, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)

	got := f.store.Trade("trade-1")
	require.NotNil(t, got.ClosedAt)
	assert.False(t, got.NotificationSent)
}

func TestMonitor_FailuresDoNotAbortSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) {
		tr.PaperTrade = false
		tr.StopLossPrice = domain.Float(95)
	})
	seedTrade(f, func(tr *domain.Trade) {
		tr.ID = "trade-2"
		tr.StopLossPrice = domain.Float(95)
	})
	seedTrade(f, func(tr *domain.Trade) {
		tr.ID = "trade-3"
		tr.Symbol = "ETH_USDT"
		tr.StopLossPrice = domain.Float(95)
	})
	f.exchange.PlaceErr = ports.ErrInsufficientFunds
	f.prices.SetPrice("BTC_USDT", 90)

	res, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, 1, res.NoPrice)
	assert.True(t, f.store.Trade("trade-1").IsOpen())
	assert.False(t, f.store.Trade("trade-2").IsOpen())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.TaskErrors.WithLabelValues("monitor_exits", "execution")))
}

func TestMonitor_ForceCloseUsesCurrentPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, nil)

	_, err := f.monitor.ForceClose(ctx, "trade-1", domain.CloseReasonManual, 0)
	assert.ErrorIs(t, err, ports.ErrNoPrice)

	f.prices.SetPrice("BTC_USDT", 101)
	res, err := f.monitor.ForceClose(ctx, "trade-1", domain.CloseReasonManual, 0)
	require.NoError(t, err)
	assert.Equal(t, 101.0, res.Price)
	assert.InDelta(t, 1, res.PnL, 1e-9)

	_, err = f.monitor.ForceClose(ctx, "missing", domain.CloseReasonManual, 0)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestMonitor_FailedExitMarkPlacesNoOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) {
		tr.PaperTrade = false
		tr.StopLossPrice = domain.Float(95)
	})
	f.exchange.PlaceResponse = &ports.OrderResponse{OrderID: "60", Status: domain.OrderStatusFilled, ExecutedQty: 1, AvgPrice: 94}
	f.store.Fail("UpdateTrade", ports.ErrDBConnection)
	f.prices.SetPrice("BTC_USDT", 94)

	res, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Empty(t, f.exchange.PlacedOrders(), "nothing is sold without a recorded exit")
	assert.False(t, f.store.Trade("trade-1").ExitInFlight())

	res, err = f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Len(t, f.exchange.PlacedOrders(), 1)
}

func TestMonitor_UnrecordedPartialIsResumedNotResold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) {
		tr.PaperTrade = false
		tr.TP1Price = domain.Float(105)
		tr.TP1Percent = 50
		tr.TakeProfitPrice = domain.Float(120)
	})
	f.exchange.PlaceResponse = &ports.OrderResponse{OrderID: "61", Status: domain.OrderStatusFilled, ExecutedQty: 0.5, AvgPrice: 106}
	// The exit mark goes through, the write recording the sale does not.
	f.store.Fail("UpdateTrade", nil, ports.ErrDBConnection)
	f.prices.SetPrice("BTC_USDT", 106)

	res, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	require.Len(t, f.exchange.PlacedOrders(), 1)

	mid := f.store.Trade("trade-1")
	assert.True(t, mid.ExitInFlight())
	assert.Equal(t, f.exchange.PlacedOrders()[0].ClientOrderID, mid.ExitOrderID)
	assert.Equal(t, domain.CloseReasonTakeProfit1, mid.ExitReason)
	assert.Zero(t, mid.QuantitySoldTP1)

	for i := 0; i < 2; i++ {
		res, err = f.monitor.SweepExits(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Errors)
	}
	assert.Len(t, f.exchange.PlacedOrders(), 1, "the tier is sold once")

	got := f.store.Trade("trade-1")
	assert.False(t, got.ExitInFlight())
	assert.True(t, got.IsOpen())
	assert.InDelta(t, 0.5, got.QuantitySoldTP1, 1e-9)
	require.NotNil(t, got.TP1HitAt)
	assert.InDelta(t, 3, got.RealizedPnL, 1e-9)
	assert.Equal(t, []ports.EventType{ports.EventPartialTP}, f.notifier.Events())
}

func TestMonitor_UnrecordedCloseIsResumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) {
		tr.PaperTrade = false
		tr.StopLossPrice = domain.Float(95)
	})
	f.exchange.PlaceResponse = &ports.OrderResponse{OrderID: "62", Status: domain.OrderStatusFilled, ExecutedQty: 1, AvgPrice: 93}
	f.store.Fail("CloseTrade", ports.ErrDBConnection)
	f.prices.SetPrice("BTC_USDT", 94)

	res, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.True(t, f.store.Trade("trade-1").IsOpen())

	res, err = f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resumed)

	assert.Len(t, f.exchange.PlacedOrders(), 1)
	got := f.store.Trade("trade-1")
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, domain.CloseReasonStopLoss, got.CloseReason)
	assert.Equal(t, 93.0, *got.ClosePrice)
	assert.InDelta(t, -7, got.RealizedPnL, 1e-9)
	assert.False(t, got.ExitInFlight())
}

func TestMonitor_ExitNeverPlacedIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) {
		tr.PaperTrade = false
		tr.StopLossPrice = domain.Float(95)
		tr.ExitOrderID = "lost-order"
		tr.ExitReason = domain.CloseReasonStopLoss
		tr.ExitQuantity = 1
	})
	f.exchange.PlaceResponse = &ports.OrderResponse{OrderID: "63", Status: domain.OrderStatusFilled, ExecutedQty: 1, AvgPrice: 94}
	f.prices.SetPrice("BTC_USDT", 94)

	res, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)

	placed := f.exchange.PlacedOrders()
	require.Len(t, placed, 1)
	assert.NotEqual(t, "lost-order", placed[0].ClientOrderID)
	assert.Equal(t, domain.CloseReasonStopLoss, f.store.Trade("trade-1").CloseReason)
}

func TestMonitor_WorkingExitBlocksNewExits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrade(f, func(tr *domain.Trade) {
		tr.PaperTrade = false
		tr.StopLossPrice = domain.Float(95)
		tr.ExitOrderID = "working"
		tr.ExitReason = domain.CloseReasonStopLoss
		tr.ExitQuantity = 1
	})
	f.exchange.ByClientID["working"] = &ports.OrderResponse{OrderID: "64", ClientOrderID: "working", Status: domain.OrderStatusNew}
	f.prices.SetPrice("BTC_USDT", 94)

	res, err := f.monitor.SweepExits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resumed)
	assert.Zero(t, res.Closed)

	_, err = f.monitor.ForceClose(ctx, "trade-1", domain.CloseReasonManual, 0)
	assert.ErrorIs(t, err, ports.ErrConflict)

	assert.Empty(t, f.exchange.PlacedOrders())
	got := f.store.Trade("trade-1")
	assert.True(t, got.IsOpen())
	assert.Equal(t, "working", got.ExitOrderID)
}

func TestTradeLocks_Serializes(t *testing.T) {
	locks := NewTradeLocks()
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("same")
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
	assert.Equal(t, 0, locks.Len())
}
