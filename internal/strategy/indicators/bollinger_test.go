package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func alternating(center, amp float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = center - amp
		} else {
			out[i] = center + amp
		}
	}
	return out
}

func TestBollinger_Squeeze(t *testing.T) {
	closes := append(alternating(100, 5, 60), alternating(100, 0.1, 20)...)
	res := Bollinger(closes, 20, 2)

	assert.True(t, res.Squeeze)
	assert.InDelta(t, 0.004, res.Bandwidth, 1e-6)
	assert.InDelta(t, 100, res.Middle, 1e-9)
}

func TestBollinger_NoSqueezeOnExpansion(t *testing.T) {
	closes := append(alternating(100, 0.1, 60), alternating(100, 5, 20)...)
	res := Bollinger(closes, 20, 2)
	assert.False(t, res.Squeeze)
}

func TestBollinger_PercentB(t *testing.T) {
	closes := append(alternating(100, 1, 19), 90)
	res := Bollinger(closes, 20, 2)
	assert.Less(t, res.PercentB, 0.0, "close below lower band gives negative %B")

	flat := Bollinger([]float64{5, 5, 5, 5, 5}, 5, 2)
	assert.Equal(t, 0.5, flat.PercentB)
	assert.False(t, flat.Squeeze)
}

func TestBollinger_InsufficientHistory(t *testing.T) {
	res := Bollinger([]float64{1, 2, 3}, 20, 2)
	assert.Equal(t, BollingerResult{PercentB: 0.5}, res)
}
