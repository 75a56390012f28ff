package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/domain"
)

func openTrade(side domain.PositionSide, entry float64) *domain.Trade {
	return &domain.Trade{
		ID:         "t1",
		Symbol:     "BTC_USDT",
		Side:       side,
		Quantity:   1,
		EntryPrice: entry,
		Status:     domain.TradeStatusFilled,
	}
}

func TestEvaluateExits_StopLossScenario(t *testing.T) {
	tr := openTrade(domain.Long, 100)
	tr.StopLossPrice = domain.Float(95)
	tr.TakeProfitPrice = domain.Float(110)

	var got []Decision
	for _, p := range []float64{98, 96, 94} {
		got = append(got, EvaluateExits(tr, p))
	}
	assert.Equal(t, ActionNone, got[0].Action)
	assert.Equal(t, ActionNone, got[1].Action)
	assert.Equal(t, ActionClose, got[2].Action)
	assert.Equal(t, domain.CloseReasonStopLoss, got[2].Reason)
	assert.Equal(t, tr.Quantity, got[2].Quantity)
}

func TestEvaluateExits(t *testing.T) {
	hit := time.Now()
	tests := []struct {
		name       string
		side       domain.PositionSide
		setup      func(*domain.Trade)
		price      float64
		wantAction Action
		wantReason domain.CloseReason
		wantQty    float64
	}{
		{
			name:       "short stop loss above entry",
			side:       domain.Short,
			setup:      func(t *domain.Trade) { t.StopLossPrice = domain.Float(105) },
			price:      105,
			wantAction: ActionClose,
			wantReason: domain.CloseReasonStopLoss,
			wantQty:    1,
		},
		{
			name:       "short take profit below entry",
			side:       domain.Short,
			setup:      func(t *domain.Trade) { t.TakeProfitPrice = domain.Float(90) },
			price:      89,
			wantAction: ActionClose,
			wantReason: domain.CloseReasonTakeProfit,
			wantQty:    1,
		},
		{
			name: "tp1 sells configured share and skips tp2",
			side: domain.Long,
			setup: func(t *domain.Trade) {
				t.TP1Price = domain.Float(105)
				t.TP1Percent = 40
				t.TakeProfitPrice = domain.Float(110)
				t.TP2Price = domain.Float(110)
			},
			price:      111,
			wantAction: ActionPartialTP,
			wantQty:    0.4,
		},
		{
			name: "tp2 after tp1 closes remainder",
			side: domain.Long,
			setup: func(t *domain.Trade) {
				t.TP1Price = domain.Float(105)
				t.TP1Percent = 40
				t.TP1HitAt = &hit
				t.QuantitySoldTP1 = 0.4
				t.TakeProfitPrice = domain.Float(120)
				t.TP2Price = domain.Float(110)
			},
			price:      110,
			wantAction: ActionClose,
			wantReason: domain.CloseReasonTakeProfit2,
			wantQty:    0.6,
		},
		{
			name: "stop loss wins over take profit state",
			side: domain.Long,
			setup: func(t *domain.Trade) {
				t.StopLossPrice = domain.Float(95)
				t.TP1Price = domain.Float(105)
				t.TP1Percent = 50
				t.TP1HitAt = &hit
				t.QuantitySoldTP1 = 0.5
			},
			price:      90,
			wantAction: ActionClose,
			wantReason: domain.CloseReasonStopLoss,
			wantQty:    0.5,
		},
		{
			name:       "no rule crossed",
			side:       domain.Long,
			setup:      func(t *domain.Trade) { t.StopLossPrice = domain.Float(95); t.TakeProfitPrice = domain.Float(110) },
			price:      100,
			wantAction: ActionNone,
		},
		{
			name:       "closed trade ignored",
			side:       domain.Long,
			setup:      func(t *domain.Trade) { t.StopLossPrice = domain.Float(95); t.Status = domain.TradeStatusClosed },
			price:      50,
			wantAction: ActionNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := openTrade(tt.side, 100)
			tt.setup(tr)
			d := EvaluateExits(tr, tt.price)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantReason, d.Reason)
			assert.InDelta(t, tt.wantQty, d.Quantity, 1e-9)
		})
	}
}

func TestEvaluateTrailing_LongMonotonic(t *testing.T) {
	tr := openTrade(domain.Long, 100)
	tr.TrailingStopPercent = domain.Float(5)

	d := EvaluateTrailing(tr, 100)
	require.Equal(t, ActionUpdate, d.Action)
	require.True(t, tr.TrailingActivated)
	assert.InDelta(t, 95, *tr.TrailingStopPrice, 1e-9)

	prevExtreme := *tr.TrailingExtreme
	prevStop := *tr.TrailingStopPrice
	for _, p := range []float64{104, 102, 110, 108, 106, 109} {
		d = EvaluateTrailing(tr, p)
		require.NotEqual(t, ActionClose, d.Action, "price %v", p)
		assert.GreaterOrEqual(t, *tr.TrailingExtreme, prevExtreme)
		assert.GreaterOrEqual(t, *tr.TrailingStopPrice, prevStop)
		prevExtreme, prevStop = *tr.TrailingExtreme, *tr.TrailingStopPrice
	}
	assert.Equal(t, 110.0, *tr.TrailingExtreme)
	assert.InDelta(t, 104.5, *tr.TrailingStopPrice, 1e-9)

	d = EvaluateTrailing(tr, 104.4)
	assert.Equal(t, ActionClose, d.Action)
	assert.Equal(t, domain.CloseReasonTrailingStop, d.Reason)
	assert.Equal(t, 110.0, *tr.TrailingExtreme)
}

func TestEvaluateTrailing_ShortMonotonic(t *testing.T) {
	tr := openTrade(domain.Short, 100)
	tr.TrailingStopPercent = domain.Float(2)

	EvaluateTrailing(tr, 100)
	prev := *tr.TrailingExtreme
	for _, p := range []float64{98, 99, 95, 96} {
		d := EvaluateTrailing(tr, p)
		require.NotEqual(t, ActionClose, d.Action, "price %v", p)
		assert.LessOrEqual(t, *tr.TrailingExtreme, prev)
		prev = *tr.TrailingExtreme
	}
	assert.Equal(t, 95.0, *tr.TrailingExtreme)
	assert.InDelta(t, 96.9, *tr.TrailingStopPrice, 1e-9)

	d := EvaluateTrailing(tr, 97)
	assert.Equal(t, ActionClose, d.Action)
	assert.Equal(t, domain.CloseReasonTrailingStop, d.Reason)
}

func TestEvaluateTrailing_DelayedActivation(t *testing.T) {
	tr := openTrade(domain.Long, 100)
	tr.TrailingStopPercent = domain.Float(3)
	tr.TrailingActivationPercent = domain.Float(5)
	tr.InitialStopPercent = domain.Float(4)

	d := EvaluateTrailing(tr, 103)
	assert.Equal(t, ActionNone, d.Action)
	assert.False(t, tr.TrailingActivated)
	assert.Nil(t, tr.TrailingExtreme)

	d = EvaluateTrailing(tr, 105)
	assert.Equal(t, ActionUpdate, d.Action)
	assert.True(t, tr.TrailingActivated)
	assert.Equal(t, 105.0, *tr.TrailingExtreme)
	assert.InDelta(t, 101.85, *tr.TrailingStopPrice, 1e-9)

	// The initial stop no longer applies once the trailing stop is active.
	d = EvaluateTrailing(tr, 101.9)
	assert.Equal(t, ActionNone, d.Action)
}

func TestEvaluateTrailing_InitialStopBeforeActivation(t *testing.T) {
	tr := openTrade(domain.Long, 100)
	tr.TrailingStopPercent = domain.Float(3)
	tr.TrailingActivationPercent = domain.Float(5)
	tr.InitialStopPercent = domain.Float(4)

	d := EvaluateTrailing(tr, 96)
	assert.Equal(t, ActionClose, d.Action)
	assert.Equal(t, domain.CloseReasonStopLoss, d.Reason)
	assert.False(t, tr.TrailingActivated)
}

func TestInitialStopPrice(t *testing.T) {
	tr := openTrade(domain.Short, 200)
	_, ok := InitialStopPrice(tr)
	assert.False(t, ok)

	tr.InitialStopPercent = domain.Float(5)
	p, ok := InitialStopPrice(tr)
	assert.True(t, ok)
	assert.InDelta(t, 210, p, 1e-9)
}
