// Package backtesting replays the signal pipeline and the live exit rules
// over historical klines.
package backtesting

import (
	"context"
	"fmt"
	"strconv"

	"researchEngine/internal/analytics"
	"researchEngine/internal/domain"
	"researchEngine/internal/monitor"
	"researchEngine/internal/risk"
	"researchEngine/internal/strategy/signal"
)

// Scorer decides whether the window ending at the latest kline produces an
// entry. Rejected is empty when it does.
type Scorer interface {
	Score(window []*domain.Kline, price float64) (confidence float64, rejected string)
}

// PipelineScorer scores windows with the production scoring pipeline. Every
// configured interval reads the replayed series, so multi-timeframe inputs
// collapse onto one timeframe.
type PipelineScorer struct {
	cfg      signal.ScoringConfig
	pipeline *signal.Pipeline
}

// NewPipelineScorer creates a PipelineScorer for cfg.
func NewPipelineScorer(cfg signal.ScoringConfig) (*PipelineScorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}
	return &PipelineScorer{cfg: cfg, pipeline: signal.NewPipeline(cfg)}, nil
}

// Score implements Scorer.
func (p *PipelineScorer) Score(window []*domain.Kline, price float64) (float64, string) {
	series := make(map[string][]*domain.Kline)
	for _, iv := range p.cfg.Intervals() {
		series[iv] = window
	}
	bd, reasons := p.pipeline.Run(p.cfg.Inputs(price, series))
	if len(reasons) < p.cfg.MinReasons {
		return bd.Total, signal.RejectTooFewReasons
	}
	return bd.Total, ""
}

// Config holds the parameters of one replay.
type Config struct {
	Symbol         string
	Settings       *domain.ResearchSettings // Exit rules and minimum confidence
	Notional       float64                  // Quote size of every entry; defaults to 100
	InitialBalance float64                  // Defaults to 1000
	FeeRate        float64                  // Fraction of notional charged per fill
	Warmup         int                      // Klines in each scoring window; defaults to 100
}

// Result holds the outcome of a replay.
type Result struct {
	Evaluated   int
	Entries     int
	Rejected    map[string]int
	Trades      []*domain.Trade // Closed trades, in close order
	OpenAtEnd   *domain.Trade   // Position still open after the last kline
	Performance *analytics.PerformanceMetrics
}

// Backtest walks klines oldest first. Exits are evaluated at each close
// before a new entry is considered, one position at a time, with the same
// rules the monitor applies to live trades.
func Backtest(ctx context.Context, scorer Scorer, klines []*domain.Kline, cfg Config) (*Result, error) {
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required for backtest")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("settings are required for backtest")
	}
	if cfg.Notional <= 0 {
		cfg.Notional = 100
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 1000
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = 100
	}
	if len(klines) < cfg.Warmup {
		return nil, fmt.Errorf("not enough data points: have %d, need %d", len(klines), cfg.Warmup)
	}

	sizer := risk.NewManager(risk.Config{})
	res := &Result{Rejected: make(map[string]int)}
	var open *domain.Trade

	for i := cfg.Warmup - 1; i < len(klines); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := klines[i]
		price := bar.Close

		if open != nil {
			if step(open, bar, cfg.FeeRate) {
				res.Trades = append(res.Trades, open)
				open = nil
			}
			continue
		}

		res.Evaluated++
		confidence, rejected := scorer.Score(klines[i-cfg.Warmup+1:i+1], price)
		if rejected == "" && confidence < cfg.Settings.MinConfidence {
			rejected = signal.RejectBelowConfidence
		}
		if rejected != "" {
			res.Rejected[rejected]++
			continue
		}
		res.Entries++
		open = enter(strconv.Itoa(res.Entries), cfg, sizer, bar)
	}

	res.OpenAtEnd = open
	res.Performance = analytics.AnalyzePerformance(res.Trades, cfg.InitialBalance)
	return res, nil
}

func enter(id string, cfg Config, sizer *risk.Manager, bar *domain.Kline) *domain.Trade {
	price := bar.Close
	at := bar.CloseTime
	lv := sizer.ExitLevels(price, domain.Long, cfg.Settings)
	return &domain.Trade{
		ID:                        "bt-" + id,
		Symbol:                    cfg.Symbol,
		Side:                      domain.Long,
		OrderSide:                 domain.Buy,
		Quantity:                  cfg.Notional / price,
		EntryPrice:                price,
		Total:                     cfg.Notional,
		Fee:                       cfg.Notional * cfg.FeeRate,
		StopLossPrice:             lv.StopLoss,
		TakeProfitPrice:           lv.TakeProfit,
		TP1Price:                  lv.TP1,
		TP2Price:                  lv.TP2,
		TP1Percent:                lv.TP1Percent,
		TrailingStopPercent:       lv.TrailingStopPercent,
		TrailingActivationPercent: lv.TrailingActivation,
		InitialStopPercent:        lv.InitialStopPercent,
		MarginMode:                domain.MarginModeSpot,
		Leverage:                  1,
		Status:                    domain.TradeStatusFilled,
		PaperTrade:                true,
		RealizedPnL:               -cfg.Notional * cfg.FeeRate,
		CreatedAt:                 at,
		FilledAt:                  &at,
	}
}

// step applies the static exits, then the trailing stop, at the bar's close.
// It reports whether the trade closed.
func step(t *domain.Trade, bar *domain.Kline, feeRate float64) bool {
	price := bar.Close
	for _, eval := range []func(*domain.Trade, float64) monitor.Decision{monitor.EvaluateExits, monitor.EvaluateTrailing} {
		d := eval(t, price)
		switch d.Action {
		case monitor.ActionPartialTP:
			t.RealizedPnL += t.PnL(price, d.Quantity) - price*d.Quantity*feeRate
			t.QuantitySoldTP1 += d.Quantity
			at := bar.CloseTime
			t.TP1HitAt = &at
			return false
		case monitor.ActionClose:
			at := bar.CloseTime
			t.RealizedPnL += t.PnL(price, d.Quantity) - price*d.Quantity*feeRate
			t.Status = domain.TradeStatusClosed
			t.ClosedAt = &at
			t.ClosePrice = domain.Float(price)
			t.CloseReason = d.Reason
			return true
		}
	}
	return false
}
