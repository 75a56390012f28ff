package indicators

import (
	"math"

	"researchEngine/internal/domain"
)

// ATR computes the Average True Range with Wilder's smoothing. It returns 0
// when fewer than period+1 klines are available.
func ATR(klines []*domain.Kline, period int) float64 {
	if period <= 0 || len(klines) < period+1 {
		return 0
	}

	trueRanges := make([]float64, len(klines))
	// First TR is just the high-low range
	trueRanges[0] = klines[0].High - klines[0].Low
	for i := 1; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close
		trueRanges[i] = math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	}

	atr := mean(trueRanges[:period])
	for i := period; i < len(klines); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}
	return atr
}

// DynamicLevels places a stop-loss and take-profit at multiples of ATR away
// from entry. Levels are zero when atr is not positive.
func DynamicLevels(entry, atr, slMultiplier, tpMultiplier float64, side domain.PositionSide) (stopLoss, takeProfit float64) {
	if atr <= 0 || entry <= 0 {
		return 0, 0
	}
	if side == domain.Short {
		return entry + slMultiplier*atr, entry - tpMultiplier*atr
	}
	return entry - slMultiplier*atr, entry + tpMultiplier*atr
}
