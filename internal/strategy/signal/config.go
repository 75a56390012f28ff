package signal

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Weights are the base score weights of each indicator. They are normalized
// by their sum, so they need not add up to 1.
type Weights struct {
	RSI       float64 `yaml:"rsi"`
	MACD      float64 `yaml:"macd"`
	Bollinger float64 `yaml:"bollinger"`
	EMA       float64 `yaml:"ema"`
	Volume    float64 `yaml:"volume"`
}

// ScoringConfig holds indicator periods, weights and bonus stage settings.
type ScoringConfig struct {
	Weights Weights `yaml:"weights"`

	PrimaryInterval string   `yaml:"primary_interval"`
	RSIIntervals    []string `yaml:"rsi_intervals"`
	KlineLimit      int      `yaml:"kline_limit"`

	RSIPeriod     int     `yaml:"rsi_period"`
	OversoldRSI   float64 `yaml:"oversold_rsi"`
	OverboughtRSI float64 `yaml:"overbought_rsi"`

	MACDFast   int `yaml:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow"`
	MACDSignal int `yaml:"macd_signal"`

	BollingerPeriod int     `yaml:"bollinger_period"`
	BollingerStdDev float64 `yaml:"bollinger_std_dev"`

	EMAShort  int `yaml:"ema_short"`
	EMAMedium int `yaml:"ema_medium"`
	EMALong   int `yaml:"ema_long"`

	VolumeAvgPeriod      int     `yaml:"volume_avg_period"`
	VolumeSpikeThreshold float64 `yaml:"volume_spike_threshold"`

	ATRPeriod       int     `yaml:"atr_period"`
	ATRSLMultiplier float64 `yaml:"atr_sl_multiplier"`
	ATRTPMultiplier float64 `yaml:"atr_tp_multiplier"`

	Confluence ConfluenceConfig `yaml:"confluence"`
	VWAP       VWAPConfig       `yaml:"vwap"`
	Sweep      SweepConfig      `yaml:"liquidity_sweep"`
	BTCFilter  BTCFilterConfig  `yaml:"btc_filter"`

	MinReasons       int `yaml:"min_reasons"`
	SignalTTLSeconds int `yaml:"signal_ttl_seconds"`
}

// ConfluenceConfig adjusts the score by RSI agreement across timeframes.
type ConfluenceConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Interval          string  `yaml:"interval"` // Higher timeframe fetched in addition to the RSI intervals
	MinOversold       int     `yaml:"min_oversold"`
	Bonus             float64 `yaml:"bonus"`
	OverboughtPenalty float64 `yaml:"overbought_penalty"`
}

// VWAPConfig rewards a VWAP reclaim on confirming volume.
type VWAPConfig struct {
	Enabled       bool    `yaml:"enabled"`
	VolumeConfirm float64 `yaml:"volume_confirm"`
	Bonus         float64 `yaml:"bonus"`
}

// SweepConfig rewards a liquidity sweep below support.
type SweepConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Lookback         int     `yaml:"lookback"`
	WickRatio        float64 `yaml:"wick_ratio"`
	VolumeMultiplier float64 `yaml:"volume_multiplier"`
	Bonus            float64 `yaml:"bonus"`
}

// BTCFilterConfig suppresses altcoin signals while BTC dumps.
type BTCFilterConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Symbol          string  `yaml:"symbol"`
	Interval        string  `yaml:"interval"`
	Candles         int     `yaml:"candles"`
	ThresholdPct    float64 `yaml:"threshold_pct"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DefaultScoringConfig returns the built-in scoring parameters.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights:              Weights{RSI: 0.25, MACD: 0.20, Bollinger: 0.20, EMA: 0.15, Volume: 0.20},
		PrimaryInterval:      "5m",
		RSIIntervals:         []string{"1m", "5m", "15m"},
		KlineLimit:           100,
		RSIPeriod:            14,
		OversoldRSI:          30,
		OverboughtRSI:        70,
		MACDFast:             12,
		MACDSlow:             26,
		MACDSignal:           9,
		BollingerPeriod:      20,
		BollingerStdDev:      2,
		EMAShort:             9,
		EMAMedium:            21,
		EMALong:              50,
		VolumeAvgPeriod:      20,
		VolumeSpikeThreshold: 2,
		ATRPeriod:            14,
		ATRSLMultiplier:      1.5,
		ATRTPMultiplier:      3,
		Confluence: ConfluenceConfig{
			Enabled:           true,
			Interval:          "1h",
			MinOversold:       3,
			Bonus:             0.10,
			OverboughtPenalty: 0.05,
		},
		VWAP:  VWAPConfig{Enabled: true, VolumeConfirm: 1.2, Bonus: 0.05},
		Sweep: SweepConfig{Enabled: true, Lookback: 20, WickRatio: 0.6, VolumeMultiplier: 1.5, Bonus: 0.10},
		BTCFilter: BTCFilterConfig{
			Enabled:         true,
			Symbol:          "BTC_USDT",
			Interval:        "5m",
			Candles:         12,
			ThresholdPct:    2,
			CacheTTLSeconds: 60,
		},
		MinReasons:       2,
		SignalTTLSeconds: 300,
	}
}

// LoadScoringConfig reads a YAML file over the defaults. An empty path
// returns the defaults.
func LoadScoringConfig(path string) (ScoringConfig, error) {
	cfg := DefaultScoringConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read scoring config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse scoring config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the parameters for values the indicators cannot use.
func (c ScoringConfig) Validate() error {
	var errs []error
	w := c.Weights
	if w.RSI < 0 || w.MACD < 0 || w.Bollinger < 0 || w.EMA < 0 || w.Volume < 0 {
		errs = append(errs, errors.New("weights must not be negative"))
	}
	if w.RSI+w.MACD+w.Bollinger+w.EMA+w.Volume <= 0 {
		errs = append(errs, errors.New("at least one weight must be positive"))
	}
	if c.RSIPeriod <= 1 {
		errs = append(errs, errors.New("rsi_period must be greater than 1"))
	}
	if c.MACDFast <= 0 || c.MACDSlow <= c.MACDFast || c.MACDSignal <= 0 {
		errs = append(errs, errors.New("macd periods must satisfy 0 < fast < slow and signal > 0"))
	}
	if c.EMAShort <= 0 || c.EMAMedium <= c.EMAShort {
		errs = append(errs, errors.New("ema periods must satisfy 0 < short < medium"))
	}
	if c.KlineLimit < c.MACDSlow+c.MACDSignal {
		errs = append(errs, fmt.Errorf("kline_limit %d is below the MACD warm-up of %d", c.KlineLimit, c.MACDSlow+c.MACDSignal))
	}
	if c.MinReasons < 2 {
		errs = append(errs, errors.New("min_reasons must be at least 2"))
	}
	if c.PrimaryInterval == "" {
		errs = append(errs, errors.New("primary_interval is required"))
	}
	for _, d := range []float64{c.Confluence.Bonus, c.Confluence.OverboughtPenalty, c.VWAP.Bonus, c.Sweep.Bonus} {
		if d < 0 || d > 1 {
			errs = append(errs, errors.New("stage deltas must be within [0,1]"))
			break
		}
	}
	return errors.Join(errs...)
}

// SignalTTL is how long a pending signal stays actionable.
func (c ScoringConfig) SignalTTL() time.Duration {
	if c.SignalTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.SignalTTLSeconds) * time.Second
}
