package domain

import "time"

// SignalStatus is the lifecycle state of a research signal.
type SignalStatus string

const (
	SignalPending   SignalStatus = "pending"
	SignalExecuting SignalStatus = "executing" // Claimed by the router; order in flight
	SignalExecuted  SignalStatus = "executed"
	SignalSkipped   SignalStatus = "skipped"
	SignalExpired   SignalStatus = "expired"
	SignalFailed    SignalStatus = "failed"
)

// IsTerminal reports whether a signal can no longer change.
func (s SignalStatus) IsTerminal() bool {
	switch s {
	case SignalExecuted, SignalSkipped, SignalExpired, SignalFailed:
		return true
	}
	return false
}

// ScoreComponent is one named contribution to a signal's confidence.
type ScoreComponent struct {
	Name         string  `json:"name"`
	Score        float64 `json:"score"`  // Sub-score in [0,1]; zero for delta stages
	Weight       float64 `json:"weight"` // Zero for delta stages
	Contribution float64 `json:"contribution"`
	Fired        bool    `json:"fired"`
}

// ConfidenceBreakdown records how a signal's total confidence was built.
type ConfidenceBreakdown struct {
	Components []ScoreComponent `json:"components"`
	Base       float64          `json:"base"`
	Total      float64          `json:"total"`
}

// IndicatorSnapshot holds the primary timeframe indicator values of a signal.
type IndicatorSnapshot struct {
	MACD             float64 `json:"macd"`
	MACDSignal       float64 `json:"macd_signal"`
	MACDHistogram    float64 `json:"macd_histogram"`
	MACDCrossover    string  `json:"macd_crossover"`
	BollingerPctB    float64 `json:"bollinger_pct_b"`
	BollingerSqueeze bool    `json:"bollinger_squeeze"`
	EMATrend         string  `json:"ema_trend"`
	EMAGoldenCross   bool    `json:"ema_golden_cross"`
	VolumeRatio      float64 `json:"volume_ratio"`
	VolumeSpike      bool    `json:"volume_spike"`
	ATR              float64 `json:"atr"`
	VWAP             float64 `json:"vwap"`
	LiquiditySweep   bool    `json:"liquidity_sweep"`
	SuggestedSL      float64 `json:"suggested_sl"`
	SuggestedTP      float64 `json:"suggested_tp"`
}

// Signal is a scored trading opportunity.
type Signal struct {
	ID            string
	UserID        string
	Symbol        string
	Price         float64
	RSI           map[string]float64 // Keyed by timeframe ("1m", "5m", "15m", "1h")
	PriceDropPct  float64            // Distance below the 24h high, in percent
	VolumeRatio   float64
	Confidence    float64
	Breakdown     ConfidenceBreakdown
	Indicators    IndicatorSnapshot
	Reasons       []string
	Status        SignalStatus
	ExecutionMode ExecutionMode
	PaperLiveMode PaperLiveMode
	TradeID       string
	ErrorMessage  string
	SkipReason    string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsExpired reports whether the signal's window has passed at now.
func (s *Signal) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
