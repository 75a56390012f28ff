package indicators

// Crossover classifies the relation change between MACD and its signal line.
type Crossover string

const (
	CrossoverNone    Crossover = "none"
	CrossoverBullish Crossover = "bullish_cross"
	CrossoverBearish Crossover = "bearish_cross"
)

// MACDResult holds the latest MACD values.
type MACDResult struct {
	Value         float64
	Signal        float64
	Histogram     float64
	PrevHistogram float64
	Crossover     Crossover
}

// MACD computes the MACD line, its signal line and histogram, and classifies
// a crossover on the last bar. History shorter than slow+signal yields a
// zero result with no crossover.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	neutral := MACDResult{Crossover: CrossoverNone}
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal {
		return neutral
	}

	fastSeries := EMASeries(closes, fast)
	slowSeries := EMASeries(closes, slow)
	offset := slow - fast
	line := make([]float64, len(slowSeries))
	for i := range slowSeries {
		line[i] = fastSeries[i+offset] - slowSeries[i]
	}

	sigSeries := EMASeries(line, signal)
	if len(sigSeries) < 2 {
		return neutral
	}
	lineOffset := signal - 1

	n := len(sigSeries)
	cur := line[n-1+lineOffset] - sigSeries[n-1]
	prev := line[n-2+lineOffset] - sigSeries[n-2]

	res := MACDResult{
		Value:         line[len(line)-1],
		Signal:        sigSeries[n-1],
		Histogram:     cur,
		PrevHistogram: prev,
		Crossover:     CrossoverNone,
	}
	switch {
	case prev <= 0 && cur > 0:
		res.Crossover = CrossoverBullish
	case prev >= 0 && cur < 0:
		res.Crossover = CrossoverBearish
	}
	return res
}
