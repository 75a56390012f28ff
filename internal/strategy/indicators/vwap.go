package indicators

import (
	"time"

	"researchEngine/internal/domain"
)

// VWAPResult holds the session VWAP and reclaim flags.
type VWAPResult struct {
	VWAP            float64
	Above           bool // Last close above VWAP
	VolumeConfirmed bool // Last volume >= confirm multiple of session average
	Reclaimed       bool // Previous close below, last close above, with volume
}

// VWAP computes the volume weighted average price anchored at the UTC day
// start of the last kline. A reclaim is flagged when the previous close was
// below VWAP, the last close is above it, and the last candle's volume is at
// least volumeConfirm times the session's average candle volume.
func VWAP(klines []*domain.Kline, volumeConfirm float64) VWAPResult {
	if len(klines) == 0 {
		return VWAPResult{}
	}
	last := klines[len(klines)-1]
	sessionStart := last.OpenTime.UTC().Truncate(24 * time.Hour)

	var pv, vol float64
	var session []*domain.Kline
	for _, k := range klines {
		if k.OpenTime.Before(sessionStart) {
			continue
		}
		session = append(session, k)
		typical := (k.High + k.Low + k.Close) / 3
		pv += typical * k.Volume
		vol += k.Volume
	}

	res := VWAPResult{VWAP: last.Close}
	if vol > 0 {
		res.VWAP = pv / vol
	}
	res.Above = last.Close > res.VWAP

	if len(session) < 2 {
		return res
	}
	prior := make([]float64, 0, len(session)-1)
	for _, k := range session[:len(session)-1] {
		prior = append(prior, k.Volume)
	}
	if avg := mean(prior); avg > 0 {
		res.VolumeConfirmed = last.Volume >= volumeConfirm*avg
	}
	prev := session[len(session)-2]
	res.Reclaimed = prev.Close < res.VWAP && res.Above && res.VolumeConfirmed
	return res
}
