package signal

import (
	"fmt"

	"researchEngine/internal/domain"
	"researchEngine/internal/strategy/indicators"
)

// Inputs is the indicator set one analysis scores.
type Inputs struct {
	Price     float64
	RSI       map[string]float64 // Keyed by interval
	MACD      indicators.MACDResult
	Bollinger indicators.BollingerResult
	EMA       indicators.EMACrossResult
	Volume    indicators.VolumeResult
	VWAP      indicators.VWAPResult
	Sweep     indicators.SweepResult
}

// Scorer yields one weighted base sub-score in [0,1].
type Scorer struct {
	Name   string
	Weight float64
	Score  func(in *Inputs, cfg *ScoringConfig) (score float64, reason string)
}

// Stage adjusts the running score by a named delta after the base score.
type Stage struct {
	Name     string
	MaxDelta float64
	Delta    func(in *Inputs, cfg *ScoringConfig) (delta float64, reason string)
}

// Pipeline computes a bounded confidence from base scorers followed by an
// ordered list of delta stages. The score is clamped to [0,1] after the base
// and after every stage, and each component records the delta it actually
// applied, so the contributions always add up to the total.
type Pipeline struct {
	cfg     ScoringConfig
	scorers []Scorer
	stages  []Stage
}

// NewPipeline builds the scoring pipeline for cfg.
func NewPipeline(cfg ScoringConfig) *Pipeline {
	p := &Pipeline{cfg: cfg}
	w := cfg.Weights
	p.scorers = []Scorer{
		{Name: "rsi", Weight: w.RSI, Score: scoreRSI},
		{Name: "macd", Weight: w.MACD, Score: scoreMACD},
		{Name: "bollinger", Weight: w.Bollinger, Score: scoreBollinger},
		{Name: "ema", Weight: w.EMA, Score: scoreEMA},
		{Name: "volume", Weight: w.Volume, Score: scoreVolume},
	}
	if cfg.Confluence.Enabled {
		p.stages = append(p.stages, Stage{Name: "confluence", MaxDelta: cfg.Confluence.Bonus + cfg.Confluence.OverboughtPenalty, Delta: confluenceDelta})
	}
	if cfg.VWAP.Enabled {
		p.stages = append(p.stages, Stage{Name: "vwap_reclaim", MaxDelta: cfg.VWAP.Bonus, Delta: vwapDelta})
	}
	if cfg.Sweep.Enabled {
		p.stages = append(p.stages, Stage{Name: "liquidity_sweep", MaxDelta: cfg.Sweep.Bonus, Delta: sweepDelta})
	}
	return p
}

// Run scores in and returns the breakdown plus the ordered reasons that fired.
func (p *Pipeline) Run(in *Inputs) (domain.ConfidenceBreakdown, []string) {
	var (
		bd      domain.ConfidenceBreakdown
		reasons []string
		weights float64
	)
	for _, s := range p.scorers {
		if s.Weight > 0 {
			weights += s.Weight
		}
	}

	var base float64
	for _, s := range p.scorers {
		if s.Weight <= 0 {
			continue
		}
		score, reason := s.Score(in, &p.cfg)
		score = indicators.Clamp(score, 0, 1)
		weight := s.Weight / weights
		c := domain.ScoreComponent{
			Name:         s.Name,
			Score:        score,
			Weight:       weight,
			Contribution: score * weight,
			Fired:        reason != "",
		}
		base += c.Contribution
		bd.Components = append(bd.Components, c)
		if reason != "" {
			reasons = append(reasons, reason)
		}
	}
	bd.Base = indicators.Clamp(base, 0, 1)
	total := bd.Base

	for _, st := range p.stages {
		delta, reason := st.Delta(in, &p.cfg)
		delta = indicators.Clamp(delta, -st.MaxDelta, st.MaxDelta)
		next := indicators.Clamp(total+delta, 0, 1)
		bd.Components = append(bd.Components, domain.ScoreComponent{
			Name:         st.Name,
			Contribution: next - total,
			Fired:        delta != 0,
		})
		total = next
		if reason != "" && delta > 0 {
			reasons = append(reasons, reason)
		}
	}
	bd.Total = total
	return bd, reasons
}

func scoreRSI(in *Inputs, cfg *ScoringConfig) (float64, string) {
	rsi, ok := in.RSI[cfg.PrimaryInterval]
	if !ok {
		return 0, ""
	}
	switch {
	case rsi <= cfg.OversoldRSI:
		return 1, fmt.Sprintf("RSI oversold (%.1f on %s)", rsi, cfg.PrimaryInterval)
	case rsi <= cfg.OversoldRSI+10:
		return 0.6, fmt.Sprintf("RSI approaching oversold (%.1f on %s)", rsi, cfg.PrimaryInterval)
	case rsi <= indicators.NeutralRSI:
		return 0.3, ""
	}
	return 0, ""
}

func scoreMACD(in *Inputs, _ *ScoringConfig) (float64, string) {
	m := in.MACD
	switch {
	case m.Crossover == indicators.CrossoverBullish:
		return 1, "MACD bullish crossover"
	case m.Histogram > 0 && m.Histogram > m.PrevHistogram:
		return 0.5, "MACD momentum rising"
	}
	return 0, ""
}

func scoreBollinger(in *Inputs, _ *ScoringConfig) (float64, string) {
	b := in.Bollinger
	var score float64
	var reason string
	switch {
	case b.PercentB <= 0:
		score, reason = 1, "Price at or below lower Bollinger band"
	case b.PercentB < 0.2:
		score, reason = 0.7, fmt.Sprintf("Price near lower Bollinger band (%%B %.2f)", b.PercentB)
	}
	if b.Squeeze {
		score += 0.3
		if reason == "" {
			reason = "Bollinger squeeze"
		} else {
			reason += " during squeeze"
		}
	}
	return score, reason
}

func scoreEMA(in *Inputs, _ *ScoringConfig) (float64, string) {
	switch {
	case in.EMA.GoldenCross:
		return 1, "EMA golden cross"
	case in.EMA.Trend == indicators.TrendBullish:
		return 0.6, "EMA trend bullish"
	}
	return 0, ""
}

func scoreVolume(in *Inputs, _ *ScoringConfig) (float64, string) {
	v := in.Volume
	switch {
	case v.Spike:
		return 1, fmt.Sprintf("Volume spike (%.1fx average)", v.Ratio)
	case v.Ratio > 1.2:
		return 0.5, fmt.Sprintf("Above-average volume (%.1fx)", v.Ratio)
	}
	return 0, ""
}

func confluenceDelta(in *Inputs, cfg *ScoringConfig) (float64, string) {
	c := cfg.Confluence
	oversold := 0
	for _, iv := range cfg.RSIIntervals {
		if rsi, ok := in.RSI[iv]; ok && rsi <= cfg.OversoldRSI {
			oversold++
		}
	}
	if rsi, ok := in.RSI[c.Interval]; ok && c.Interval != "" && !containsInterval(cfg.RSIIntervals, c.Interval) && rsi <= cfg.OversoldRSI {
		oversold++
	}

	var delta float64
	var reason string
	if c.MinOversold > 0 && oversold >= c.MinOversold {
		delta += c.Bonus
		reason = fmt.Sprintf("RSI oversold on %d timeframes", oversold)
	}
	if rsi, ok := in.RSI[c.Interval]; ok && rsi > cfg.OverboughtRSI {
		delta -= c.OverboughtPenalty
	}
	return delta, reason
}

func vwapDelta(in *Inputs, cfg *ScoringConfig) (float64, string) {
	if in.VWAP.Reclaimed {
		return cfg.VWAP.Bonus, "Price reclaimed VWAP on volume"
	}
	return 0, ""
}

func sweepDelta(in *Inputs, cfg *ScoringConfig) (float64, string) {
	if in.Sweep.Detected {
		return cfg.Sweep.Bonus, fmt.Sprintf("Liquidity sweep below %.6g reclaimed", in.Sweep.Support)
	}
	return 0, ""
}

func containsInterval(list []string, iv string) bool {
	for _, s := range list {
		if s == iv {
			return true
		}
	}
	return false
}
