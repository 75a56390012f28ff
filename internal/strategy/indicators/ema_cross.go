package indicators

// Trend is the EMA stack classification.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// EMACrossResult holds the EMA stack and cross flags on the last bar.
type EMACrossResult struct {
	Short       float64
	Medium      float64
	Long        float64
	Trend       Trend
	GoldenCross bool // Short EMA crossed above medium on the last bar
	DeathCross  bool // Short EMA crossed below medium on the last bar
}

// EMACross classifies the short/medium/long EMA stack and detects a
// golden or death cross between the short and medium EMAs.
func EMACross(closes []float64, short, medium, long int) EMACrossResult {
	res := EMACrossResult{Trend: TrendNeutral}
	if short <= 0 || medium <= short || len(closes) < medium+1 {
		return res
	}

	shortSeries := EMASeries(closes, short)
	mediumSeries := EMASeries(closes, medium)
	offset := medium - short
	n := len(mediumSeries)

	res.Short = shortSeries[len(shortSeries)-1]
	res.Medium = mediumSeries[n-1]
	prevShort := shortSeries[n-2+offset]
	prevMedium := mediumSeries[n-2]

	res.GoldenCross = prevShort <= prevMedium && res.Short > res.Medium
	res.DeathCross = prevShort >= prevMedium && res.Short < res.Medium

	if long > medium && len(closes) >= long {
		res.Long = EMA(closes, long)
		switch {
		case res.Short > res.Medium && res.Medium > res.Long:
			res.Trend = TrendBullish
		case res.Short < res.Medium && res.Medium < res.Long:
			res.Trend = TrendBearish
		}
	}
	return res
}
