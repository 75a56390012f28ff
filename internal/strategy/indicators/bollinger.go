package indicators

// BollingerResult holds the latest Bollinger band values.
type BollingerResult struct {
	Upper     float64
	Middle    float64
	Lower     float64
	PercentB  float64 // 0 at the lower band, 1 at the upper band
	Bandwidth float64 // (upper-lower)/middle
	Squeeze   bool
}

const (
	squeezePercentile  = 20  // Bandwidth at or below this percentile of history is a squeeze
	squeezeMinHistory  = 10  // Bandwidth samples needed before a squeeze can be flagged
	squeezeMaxLookback = 120 // Bandwidth samples considered
)

// Bollinger computes Bollinger bands over the last period closes. The
// squeeze flag compares the current bandwidth against a percentile of the
// bandwidths observed over prior windows. Insufficient history yields
// PercentB 0.5 and no squeeze.
func Bollinger(closes []float64, period int, k float64) BollingerResult {
	if period <= 1 || len(closes) < period {
		return BollingerResult{PercentB: 0.5}
	}

	res := bandsAt(closes, len(closes), period, k)

	var history []float64
	start := period
	if len(closes)-squeezeMaxLookback > start {
		start = len(closes) - squeezeMaxLookback
	}
	for end := start; end < len(closes); end++ {
		history = append(history, bandsAt(closes, end, period, k).Bandwidth)
	}
	if len(history) >= squeezeMinHistory {
		res.Squeeze = res.Bandwidth <= percentile(history, squeezePercentile)
	}
	return res
}

// bandsAt computes the bands for the window ending just before index end.
func bandsAt(closes []float64, end, period int, k float64) BollingerResult {
	window := closes[end-period : end]
	mid := mean(window)
	sd := stdDev(window, mid)
	res := BollingerResult{
		Upper:  mid + k*sd,
		Middle: mid,
		Lower:  mid - k*sd,
	}
	last := window[len(window)-1]
	if width := res.Upper - res.Lower; width > 0 {
		res.PercentB = (last - res.Lower) / width
	} else {
		res.PercentB = 0.5
	}
	if mid != 0 {
		res.Bandwidth = (res.Upper - res.Lower) / mid
	}
	return res
}
