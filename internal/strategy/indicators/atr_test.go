package indicators

import (
	"testing"
	"time"

	"researchEngine/internal/domain"

	"github.com/stretchr/testify/assert"
)

func candles(n int, fn func(i int) (o, h, l, c, v float64)) []*domain.Kline {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Kline, n)
	for i := range out {
		o, h, l, c, v := fn(i)
		out[i] = &domain.Kline{
			OpenTime:  start.Add(time.Duration(i) * 5 * time.Minute),
			CloseTime: start.Add(time.Duration(i+1)*5*time.Minute - time.Millisecond),
			Open:      o, High: h, Low: l, Close: c, Volume: v,
		}
	}
	return out
}

func TestATR(t *testing.T) {
	klines := candles(20, func(i int) (float64, float64, float64, float64, float64) {
		return 100, 101, 99, 100, 1
	})
	assert.InDelta(t, 2.0, ATR(klines, 14), 1e-9)
	assert.Equal(t, 0.0, ATR(klines[:14], 14))
}

func TestDynamicLevels(t *testing.T) {
	sl, tp := DynamicLevels(100, 2, 1.5, 3, domain.Long)
	assert.InDelta(t, 97, sl, 1e-9)
	assert.InDelta(t, 106, tp, 1e-9)

	sl, tp = DynamicLevels(100, 2, 1.5, 3, domain.Short)
	assert.InDelta(t, 103, sl, 1e-9)
	assert.InDelta(t, 94, tp, 1e-9)

	sl, tp = DynamicLevels(100, 0, 1.5, 3, domain.Long)
	assert.Zero(t, sl)
	assert.Zero(t, tp)
}
