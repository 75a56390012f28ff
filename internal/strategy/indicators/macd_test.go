package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func linear(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestMACD_BullishCross(t *testing.T) {
	closes := append(linear(100, -0.5, 40), 70, 70, 95)
	res := MACD(closes, 12, 26, 9)

	assert.Equal(t, CrossoverBullish, res.Crossover)
	assert.Less(t, res.PrevHistogram, 0.0)
	assert.Greater(t, res.Histogram, 0.0)
	assert.InDelta(t, res.Value-res.Signal, res.Histogram, 1e-9)
}

func TestMACD_BearishCross(t *testing.T) {
	closes := append(linear(100, 0.5, 40), 130, 130, 105)
	res := MACD(closes, 12, 26, 9)

	assert.Equal(t, CrossoverBearish, res.Crossover)
	assert.Greater(t, res.PrevHistogram, 0.0)
	assert.Less(t, res.Histogram, 0.0)
}

func TestMACD_InsufficientHistory(t *testing.T) {
	res := MACD(linear(100, 1, 34), 12, 26, 9)
	assert.Equal(t, MACDResult{Crossover: CrossoverNone}, res)

	res = MACD(linear(100, 1, 50), 26, 12, 9)
	assert.Equal(t, CrossoverNone, res.Crossover, "fast >= slow is rejected")
}
