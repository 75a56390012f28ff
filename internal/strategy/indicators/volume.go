package indicators

// VolumeResult compares the latest volume to its trailing average.
type VolumeResult struct {
	Current float64
	Average float64
	Ratio   float64
	Spike   bool
	PriceUp bool // Last close above the previous close
}

// VolumeProfile compares the last volume against the average of the
// avgPeriod volumes before it. Insufficient history yields a ratio of 1.
func VolumeProfile(volumes, closes []float64, avgPeriod int, spikeThreshold float64) VolumeResult {
	res := VolumeResult{Ratio: 1}
	if len(closes) >= 2 {
		res.PriceUp = closes[len(closes)-1] > closes[len(closes)-2]
	}
	if avgPeriod <= 0 || len(volumes) < avgPeriod+1 {
		if len(volumes) > 0 {
			res.Current = volumes[len(volumes)-1]
		}
		return res
	}

	res.Current = volumes[len(volumes)-1]
	res.Average = mean(volumes[len(volumes)-1-avgPeriod : len(volumes)-1])
	if res.Average > 0 {
		res.Ratio = res.Current / res.Average
	}
	res.Spike = res.Ratio >= spikeThreshold
	return res
}
