package indicators

import "researchEngine/internal/domain"

// BTCMove is BTC's own percentage move over a short window.
type BTCMove struct {
	ChangePct float64
	Dumping   bool
}

// PercentChange measures the move from the first candle's open to the last
// candle's close, in percent.
func PercentChange(klines []*domain.Kline) float64 {
	if len(klines) == 0 || klines[0].Open == 0 {
		return 0
	}
	first := klines[0].Open
	return (klines[len(klines)-1].Close - first) / first * 100
}

// BTCCorrelation flags BTC as dumping when its window move falls by at least
// thresholdPct percent.
func BTCCorrelation(klines []*domain.Kline, thresholdPct float64) BTCMove {
	change := PercentChange(klines)
	return BTCMove{
		ChangePct: change,
		Dumping:   thresholdPct > 0 && change <= -thresholdPct,
	}
}
