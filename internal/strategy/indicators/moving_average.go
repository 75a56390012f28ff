package indicators

// SMA returns the simple moving average of the last period values, or 0 when
// there are fewer than period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	return mean(values[len(values)-period:])
}

// EMA returns the latest exponential moving average, or 0 when there are
// fewer than period values.
func EMA(values []float64, period int) float64 {
	series := EMASeries(values, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// EMASeries returns the EMA at every index from period-1 onwards, seeded with
// the SMA of the first period values. The result has len(values)-period+1
// entries, or none when history is insufficient.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	multiplier := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	ema := mean(values[:period])
	out = append(out, ema)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out = append(out, ema)
	}
	return out
}
