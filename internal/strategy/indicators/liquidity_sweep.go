package indicators

import (
	"math"

	"researchEngine/internal/domain"
)

// SweepConfig tunes liquidity sweep detection.
type SweepConfig struct {
	Lookback         int     // Candles defining the support level
	WickRatio        float64 // Minimum lower wick / candle range
	VolumeMultiplier float64 // Minimum volume / lookback average volume
}

// SweepResult describes a detected (or rejected) sweep on the last candle.
type SweepResult struct {
	Detected    bool
	Support     float64
	WickRatio   float64
	VolumeRatio float64
}

// LiquiditySweep flags a last candle whose low pierces the lowest low of the
// lookback window on above-average volume and then closes back above it
// with a long lower wick.
func LiquiditySweep(klines []*domain.Kline, cfg SweepConfig) SweepResult {
	if cfg.Lookback <= 0 || len(klines) < cfg.Lookback+1 {
		return SweepResult{}
	}
	last := klines[len(klines)-1]
	window := klines[len(klines)-1-cfg.Lookback : len(klines)-1]

	support := math.Inf(1)
	volumes := make([]float64, 0, len(window))
	for _, k := range window {
		support = math.Min(support, k.Low)
		volumes = append(volumes, k.Volume)
	}

	res := SweepResult{Support: support}
	if rng := last.High - last.Low; rng > 0 {
		res.WickRatio = (math.Min(last.Open, last.Close) - last.Low) / rng
	}
	if avg := mean(volumes); avg > 0 {
		res.VolumeRatio = last.Volume / avg
	}
	res.Detected = last.Low < support &&
		last.Close > support &&
		res.WickRatio >= cfg.WickRatio &&
		res.VolumeRatio >= cfg.VolumeMultiplier
	return res
}
