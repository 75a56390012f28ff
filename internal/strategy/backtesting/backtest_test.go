package backtesting

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/domain"
	"researchEngine/internal/strategy/signal"
)

// stubScorer returns a fixed verdict and records how often it was asked.
type stubScorer struct {
	confidence float64
	rejected   string
	calls      int
}

func (s *stubScorer) Score(window []*domain.Kline, price float64) (float64, string) {
	s.calls++
	return s.confidence, s.rejected
}

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func series(closes ...float64) []*domain.Kline {
	out := make([]*domain.Kline, len(closes))
	for i, c := range closes {
		open := start.Add(time.Duration(i) * 5 * time.Minute)
		out[i] = &domain.Kline{
			OpenTime:  open,
			CloseTime: open.Add(5*time.Minute - time.Millisecond),
			Symbol:    "SOL_USDT",
			Interval:  "5m",
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    10,
			IsFinal:   true,
		}
	}
	return out
}

func settings() *domain.ResearchSettings {
	s := domain.DefaultSettings("bt")
	s.MinConfidence = 0.6
	s.StopLossPct = 5
	s.TakeProfitPct = 10
	s.TP1Pct = 0
	s.TrailingStopPct = 0
	return s
}

func TestBacktest_TakeProfitThenStopLoss(t *testing.T) {
	scorer := &stubScorer{confidence: 0.8}
	klines := series(100, 100, 100, 104, 111, 111, 100)

	res, err := Backtest(context.Background(), scorer, klines, Config{Symbol: "SOL_USDT", Settings: settings(), Warmup: 3})
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	first, second := res.Trades[0], res.Trades[1]
	assert.Equal(t, domain.CloseReasonTakeProfit, first.CloseReason)
	assert.InDelta(t, 11.0, first.RealizedPnL, 1e-9)
	assert.Equal(t, klines[4].CloseTime, *first.ClosedAt)
	assert.Equal(t, domain.CloseReasonStopLoss, second.CloseReason)
	assert.InDelta(t, 111.0, second.EntryPrice, 1e-9)
	assert.Less(t, second.RealizedPnL, 0.0)

	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, 2, res.Evaluated)
	assert.Nil(t, res.OpenAtEnd)
	assert.Equal(t, 2, res.Performance.TotalTrades)
	assert.Equal(t, 1, res.Performance.WinningTrades)
}

func TestBacktest_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		scorer *stubScorer
		want   string
	}{
		{"below minimum confidence", &stubScorer{confidence: 0.5}, signal.RejectBelowConfidence},
		{"scorer rejection", &stubScorer{confidence: 0.9, rejected: signal.RejectTooFewReasons}, signal.RejectTooFewReasons},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Backtest(context.Background(), tt.scorer, series(1, 2, 3, 4, 5), Config{Settings: settings(), Warmup: 2})
			require.NoError(t, err)
			assert.Equal(t, 4, res.Rejected[tt.want])
			assert.Equal(t, 0, res.Entries)
			assert.Empty(t, res.Trades)
		})
	}
}

func TestBacktest_TieredTakeProfit(t *testing.T) {
	s := settings()
	s.TP1Pct = 5
	s.TP1SellPercent = 50

	res, err := Backtest(context.Background(), &stubScorer{confidence: 1}, series(100, 106, 111), Config{Settings: s, Warmup: 1})
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, domain.CloseReasonTakeProfit2, tr.CloseReason)
	assert.InDelta(t, 0.5, tr.QuantitySoldTP1, 1e-9)
	assert.NotNil(t, tr.TP1HitAt)
	assert.InDelta(t, 3+5.5, tr.RealizedPnL, 1e-9)
}

func TestBacktest_TrailingStop(t *testing.T) {
	s := settings()
	s.TakeProfitPct = 0
	s.StopLossPct = 0
	s.TrailingStopPct = 2

	res, err := Backtest(context.Background(), &stubScorer{confidence: 1}, series(100, 105, 110, 107), Config{Settings: s, Warmup: 1})
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.CloseReasonTrailingStop, res.Trades[0].CloseReason)
	assert.InDelta(t, 7.0, res.Trades[0].RealizedPnL, 1e-9)
}

func TestBacktest_FeesAndOpenPosition(t *testing.T) {
	res, err := Backtest(context.Background(), &stubScorer{confidence: 1}, series(100, 111, 101, 102), Config{
		Settings: settings(),
		Warmup:   1,
		FeeRate:  0.001,
	})
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.InDelta(t, 11-0.1-0.111, res.Trades[0].RealizedPnL, 1e-9)
	require.NotNil(t, res.OpenAtEnd)
	assert.Equal(t, 101.0, res.OpenAtEnd.EntryPrice)
}

func TestBacktest_Validation(t *testing.T) {
	ctx := context.Background()
	_, err := Backtest(ctx, nil, series(1), Config{Settings: settings()})
	assert.Error(t, err)
	_, err = Backtest(ctx, &stubScorer{}, series(1), Config{})
	assert.Error(t, err)
	_, err = Backtest(ctx, &stubScorer{}, series(1, 2), Config{Settings: settings(), Warmup: 3})
	assert.ErrorContains(t, err, "not enough data points")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Backtest(cancelled, &stubScorer{}, series(1, 2), Config{Settings: settings(), Warmup: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipelineScorer(t *testing.T) {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/6)
	}
	klines := series(closes...)

	scorer, err := NewPipelineScorer(signal.DefaultScoringConfig())
	require.NoError(t, err)
	confidence, _ := scorer.Score(klines[20:], klines[len(klines)-1].Close)
	assert.GreaterOrEqual(t, confidence, 0.0)
	assert.LessOrEqual(t, confidence, 1.0)

	bad := signal.DefaultScoringConfig()
	bad.MinReasons = 0
	_, err = NewPipelineScorer(bad)
	assert.Error(t, err)
}
