// Package signal scores symbols into research signals.
package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"researchEngine/internal/cache"
	"researchEngine/internal/domain"
	"researchEngine/internal/metrics"
	"researchEngine/internal/ports"
	"researchEngine/internal/strategy/indicators"
	"researchEngine/internal/symbols"
)

// Rejection reasons reported when an analysis yields no signal.
const (
	RejectBTCDumping      = "btc_dumping"
	RejectNoPrice         = "no_price"
	RejectTooFewReasons   = "insufficient_reasons"
	RejectBelowConfidence = "below_min_confidence"
)

const klineCacheTTL = 30 * time.Second

// PriceSource returns current tickers for a set of symbols.
type PriceSource interface {
	Tickers(ctx context.Context, syms []string) (map[string]domain.Ticker, error)
}

// Evaluation is the outcome of scoring one symbol, accepted or not.
type Evaluation struct {
	Signal   *domain.Signal // Populated draft, also when rejected
	Rejected string         // Empty when accepted
}

// Engine analyzes symbols and persists qualifying signals.
type Engine struct {
	market      ports.MarketData
	prices      PriceSource
	signals     ports.SignalRepository
	broadcaster ports.SignalBroadcaster
	btc         *BTCFilter
	pipeline    *Pipeline
	klines      *cache.Store[string, []*domain.Kline]
	cfg         ScoringConfig
	clock       ports.Clock
	logger      ports.Logger
	metrics     *metrics.Metrics
}

// EngineConfig holds the dependencies of an Engine.
type EngineConfig struct {
	Market      ports.MarketData
	Prices      PriceSource
	Signals     ports.SignalRepository
	Broadcaster ports.SignalBroadcaster // Optional
	Scoring     ScoringConfig
	Clock       ports.Clock
	Logger      ports.Logger
	Metrics     *metrics.Metrics
}

// NewEngine creates a signal engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Market == nil || cfg.Prices == nil || cfg.Signals == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for signal engine")
	}
	if err := cfg.Scoring.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	e := &Engine{
		market:      cfg.Market,
		prices:      cfg.Prices,
		signals:     cfg.Signals,
		broadcaster: cfg.Broadcaster,
		pipeline:    NewPipeline(cfg.Scoring),
		klines:      cache.New[string, []*domain.Kline](klineCacheTTL, cfg.Clock),
		cfg:         cfg.Scoring,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
	if cfg.Scoring.BTCFilter.Enabled {
		e.btc = NewBTCFilter(cfg.Market, cfg.Scoring.BTCFilter, cfg.Clock)
	}
	return e, nil
}

// AnalyzeSymbol scores symbol for the user of settings. It returns nil, nil
// when no signal qualifies; otherwise the persisted, broadcast signal.
func (e *Engine) AnalyzeSymbol(ctx context.Context, symbol string, minConfidence float64, settings *domain.ResearchSettings) (*domain.Signal, error) {
	op := "AnalyzeSymbol"
	ev, err := e.Evaluate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if ev.Rejected == "" && ev.Signal.Confidence < minConfidence {
		ev.Rejected = RejectBelowConfidence
	}
	if ev.Rejected != "" {
		e.metrics.SignalsRejected.WithLabelValues(ev.Rejected).Inc()
		e.logger.Debug(ctx, "No signal", map[string]interface{}{"op": op, "symbol": symbol, "reason": ev.Rejected})
		return nil, nil
	}

	sig := ev.Signal
	now := e.clock.Now()
	sig.ID = uuid.NewString()
	sig.UserID = settings.UserID
	sig.Status = domain.SignalPending
	sig.ExecutionMode = settings.ExecutionMode
	sig.PaperLiveMode = settings.PaperLiveMode
	sig.CreatedAt = now
	sig.UpdatedAt = now
	sig.ExpiresAt = now.Add(e.cfg.SignalTTL())

	if err := e.signals.CreateSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("%s: save signal for %s: %w", op, symbol, err)
	}
	e.metrics.SignalsCreated.Inc()
	e.logger.Info(ctx, "Signal created", map[string]interface{}{
		"op": op, "signalID": sig.ID, "userID": sig.UserID, "symbol": sig.Symbol, "confidence": sig.Confidence,
	})
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(sig)
	}
	return sig, nil
}

// Evaluate scores symbol without persisting anything.
func (e *Engine) Evaluate(ctx context.Context, symbol string) (*Evaluation, error) {
	symbol = symbols.Normalize(symbol)

	if e.btc != nil && symbols.Base(symbol) != symbols.Base(e.cfg.BTCFilter.Symbol) {
		move, err := e.btc.Move(ctx)
		switch {
		case err != nil:
			e.logger.Warn(ctx, "BTC filter unavailable, continuing without it", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		case move.Dumping:
			return &Evaluation{Signal: &domain.Signal{Symbol: symbol}, Rejected: RejectBTCDumping}, nil
		}
	}

	tickers, err := e.prices.Tickers(ctx, []string{symbol})
	ticker, ok := tickers[symbol]
	if !ok {
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", symbol, err)
		}
		return &Evaluation{Signal: &domain.Signal{Symbol: symbol}, Rejected: RejectNoPrice}, nil
	}

	series := make(map[string][]*domain.Kline)
	for _, iv := range e.intervals() {
		k, err := e.fetchKlines(ctx, symbol, iv)
		if err != nil {
			if iv == e.cfg.PrimaryInterval {
				return nil, fmt.Errorf("klines %s %s: %w", symbol, iv, err)
			}
			e.logger.Warn(ctx, "Kline fetch failed, using neutral values", map[string]interface{}{"symbol": symbol, "interval": iv, "error": err.Error()})
			continue
		}
		series[iv] = k
	}

	in := e.inputs(ticker.Price, series)
	bd, reasons := e.pipeline.Run(in)

	sig := &domain.Signal{
		Symbol:      symbol,
		Price:       ticker.Price,
		RSI:         in.RSI,
		VolumeRatio: in.Volume.Ratio,
		Confidence:  bd.Total,
		Breakdown:   bd,
		Reasons:     reasons,
		Indicators:  e.snapshot(in, series[e.cfg.PrimaryInterval]),
	}
	if ticker.High24h > 0 {
		sig.PriceDropPct = (ticker.High24h - ticker.Price) / ticker.High24h * 100
	}

	ev := &Evaluation{Signal: sig}
	if len(reasons) < e.cfg.MinReasons {
		ev.Rejected = RejectTooFewReasons
	}
	return ev, nil
}

func (e *Engine) intervals() []string {
	return e.cfg.Intervals()
}

// Intervals lists the kline intervals an analysis needs, primary first.
func (c ScoringConfig) Intervals() []string {
	seen := map[string]bool{}
	var out []string
	add := func(iv string) {
		if iv != "" && !seen[iv] {
			seen[iv] = true
			out = append(out, iv)
		}
	}
	add(c.PrimaryInterval)
	for _, iv := range c.RSIIntervals {
		add(iv)
	}
	if c.Confluence.Enabled {
		add(c.Confluence.Interval)
	}
	return out
}

func (e *Engine) fetchKlines(ctx context.Context, symbol, interval string) ([]*domain.Kline, error) {
	key := symbol + "|" + interval
	if k, ok := e.klines.Get(key); ok {
		return k, nil
	}
	k, err := e.market.GetKlines(ctx, symbol, interval, e.cfg.KlineLimit)
	if err != nil {
		return nil, err
	}
	e.klines.Set(key, k)
	return k, nil
}

func (e *Engine) inputs(price float64, series map[string][]*domain.Kline) *Inputs {
	return e.cfg.Inputs(price, series)
}

// Inputs computes the indicator set for price from klines keyed by interval.
// Missing intervals yield neutral values.
func (c ScoringConfig) Inputs(price float64, series map[string][]*domain.Kline) *Inputs {
	in := &Inputs{Price: price, RSI: make(map[string]float64)}
	for _, iv := range c.Intervals() {
		in.RSI[iv] = indicators.RSI(domain.Closes(series[iv]), c.RSIPeriod)
	}

	primary := series[c.PrimaryInterval]
	closes := domain.Closes(primary)
	in.MACD = indicators.MACD(closes, c.MACDFast, c.MACDSlow, c.MACDSignal)
	in.Bollinger = indicators.Bollinger(closes, c.BollingerPeriod, c.BollingerStdDev)
	in.EMA = indicators.EMACross(closes, c.EMAShort, c.EMAMedium, c.EMALong)
	in.Volume = indicators.VolumeProfile(domain.Volumes(primary), closes, c.VolumeAvgPeriod, c.VolumeSpikeThreshold)
	if c.VWAP.Enabled {
		in.VWAP = indicators.VWAP(primary, c.VWAP.VolumeConfirm)
	}
	if c.Sweep.Enabled {
		in.Sweep = indicators.LiquiditySweep(primary, indicators.SweepConfig{
			Lookback:         c.Sweep.Lookback,
			WickRatio:        c.Sweep.WickRatio,
			VolumeMultiplier: c.Sweep.VolumeMultiplier,
		})
	}
	return in
}

func (e *Engine) snapshot(in *Inputs, primary []*domain.Kline) domain.IndicatorSnapshot {
	atr := indicators.ATR(primary, e.cfg.ATRPeriod)
	sl, tp := indicators.DynamicLevels(in.Price, atr, e.cfg.ATRSLMultiplier, e.cfg.ATRTPMultiplier, domain.Long)
	return domain.IndicatorSnapshot{
		MACD:             in.MACD.Value,
		MACDSignal:       in.MACD.Signal,
		MACDHistogram:    in.MACD.Histogram,
		MACDCrossover:    string(in.MACD.Crossover),
		BollingerPctB:    in.Bollinger.PercentB,
		BollingerSqueeze: in.Bollinger.Squeeze,
		EMATrend:         string(in.EMA.Trend),
		EMAGoldenCross:   in.EMA.GoldenCross,
		VolumeRatio:      in.Volume.Ratio,
		VolumeSpike:      in.Volume.Spike,
		ATR:              atr,
		VWAP:             in.VWAP.VWAP,
		LiquiditySweep:   in.Sweep.Detected,
		SuggestedSL:      sl,
		SuggestedTP:      tp,
	}
}

var _ ports.SignalAnalyzer = (*Engine)(nil)
