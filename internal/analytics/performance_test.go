package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/domain"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func closedTrade(id string, pnl float64, filledAgo, closedAgo time.Duration, reason domain.CloseReason) *domain.Trade {
	filled := base.Add(-filledAgo)
	closed := base.Add(-closedAgo)
	return &domain.Trade{
		ID:          id,
		Symbol:      "BTC_USDT",
		Status:      domain.TradeStatusClosed,
		RealizedPnL: pnl,
		CloseReason: reason,
		FilledAt:    &filled,
		ClosedAt:    &closed,
	}
}

func TestAnalyzePerformance(t *testing.T) {
	trades := []*domain.Trade{
		closedTrade("b", -1000, 12*time.Hour, 6*time.Hour, domain.CloseReasonStopLoss),
		closedTrade("a", 1000, 24*time.Hour, 0, domain.CloseReasonTakeProfit),
	}

	m := AnalyzePerformance(trades, 10000)

	assert.Equal(t, 2, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.Equal(t, 0.5, m.WinRate)
	assert.Equal(t, 0.0, m.TotalProfit)
	assert.Equal(t, 10000.0, m.FinalBalance)
	assert.Equal(t, 1000.0, m.AverageWin)
	assert.Equal(t, -1000.0, m.AverageLoss)
	assert.Equal(t, 1.0, m.ProfitFactor)
	assert.Equal(t, 1.0, m.RiskRewardRatio)
	assert.Equal(t, 1, m.MaxConsecutiveWins)
	assert.Equal(t, 1, m.MaxConsecutiveLosses)
	assert.Equal(t, 15*time.Hour, m.AverageTradeDuration)
	assert.Len(t, m.EquityCurve, 2)
	assert.Len(t, m.GetMonthlyReturns(), 1)

	// Ordered by close time: the loss closed first.
	assert.Equal(t, 9000.0, m.EquityCurve[0].Value)
	assert.Equal(t, ReasonStats{Trades: 1, PnL: -1000}, m.ByReason[domain.CloseReasonStopLoss])
}

func TestAnalyzePerformance_Empty(t *testing.T) {
	m := AnalyzePerformance(nil, 10000)
	assert.Equal(t, 0, m.TotalTrades)
	assert.Equal(t, 10000.0, m.FinalBalance)
	assert.Empty(t, m.EquityCurve)
}

func TestAnalyzePerformance_IgnoresOpenTrades(t *testing.T) {
	open := &domain.Trade{ID: "open", Status: domain.TradeStatusFilled, RealizedPnL: 50}
	m := AnalyzePerformance([]*domain.Trade{open, closedTrade("a", 10, time.Hour, 0, domain.CloseReasonManual)}, 100)
	assert.Equal(t, 1, m.TotalTrades)
	assert.Equal(t, 110.0, m.FinalBalance)
}

func TestAnalyzePerformance_Drawdown(t *testing.T) {
	trades := []*domain.Trade{
		closedTrade("a", 1000, 24*time.Hour, 18*time.Hour, domain.CloseReasonTakeProfit),
		closedTrade("b", -2200, 12*time.Hour, 6*time.Hour, domain.CloseReasonStopLoss),
	}

	m := AnalyzePerformance(trades, 10000)

	assert.InDelta(t, 0.2, m.MaxDrawdown, 1e-9)
	require.Len(t, m.Drawdowns, 1)
	assert.InDelta(t, 0.2, m.Drawdowns[0].Depth, 1e-9)
	assert.Equal(t, 11000.0, m.Drawdowns[0].StartValue)
	assert.InDelta(t, -0.12, m.ReturnOnInvestment, 1e-9)
	assert.InDelta(t, -1200.0/(10000*0.2), m.RecoveryFactor, 1e-9)
}

func TestAnalyzePerformance_Streaks(t *testing.T) {
	tests := []struct {
		name       string
		pnls       []float64
		wantWins   int
		wantLosses int
	}{
		{"all wins", []float64{10, 20, 30}, 3, 0},
		{"all losses", []float64{-10, -20}, 0, 2},
		{"breakeven counts as loss", []float64{10, 0, -5, 10}, 1, 2},
		{"mixed", []float64{10, 10, -5, 10, 10, 10, -1}, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var trades []*domain.Trade
			for i, p := range tt.pnls {
				ago := time.Duration(len(tt.pnls)-i) * time.Hour
				trades = append(trades, closedTrade(string(rune('a'+i)), p, ago+time.Minute, ago, domain.CloseReasonManual))
			}
			m := AnalyzePerformance(trades, 1000)
			assert.Equal(t, tt.wantWins, m.MaxConsecutiveWins)
			assert.Equal(t, tt.wantLosses, m.MaxConsecutiveLosses)
		})
	}
}

func TestAnalyzePerformance_ProfitFactorUsesGrossTotals(t *testing.T) {
	trades := []*domain.Trade{
		closedTrade("a", 300, 4*time.Hour, 3*time.Hour, domain.CloseReasonTakeProfit),
		closedTrade("b", 100, 3*time.Hour, 2*time.Hour, domain.CloseReasonTakeProfit),
		closedTrade("c", -100, 2*time.Hour, time.Hour, domain.CloseReasonStopLoss),
	}
	trades[2].LowConfidenceFill = true

	m := AnalyzePerformance(trades, 1000)

	assert.Equal(t, 4.0, m.ProfitFactor)
	assert.Equal(t, 2.0, m.RiskRewardRatio)
	assert.Equal(t, 1, m.LowConfidenceFills)
	assert.InDelta(t, 2.0/3*200+1.0/3*-100, m.Expectancy, 1e-9)
}
