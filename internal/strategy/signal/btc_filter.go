package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"researchEngine/internal/cache"
	"researchEngine/internal/ports"
	"researchEngine/internal/strategy/indicators"
)

// BTCFilter reports whether BTC is currently dumping. The measured move is
// shared across all symbols analyzed within the cache window.
type BTCFilter struct {
	market ports.MarketData
	cfg    BTCFilterConfig
	moves  *cache.Store[string, indicators.BTCMove]
	mu     sync.Mutex
}

// NewBTCFilter creates a filter reading klines from market.
func NewBTCFilter(market ports.MarketData, cfg BTCFilterConfig, clock ports.Clock) *BTCFilter {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BTCFilter{
		market: market,
		cfg:    cfg,
		moves:  cache.New[string, indicators.BTCMove](ttl, clock),
	}
}

// Move returns BTC's recent move, fetching klines at most once per window.
func (f *BTCFilter) Move(ctx context.Context) (indicators.BTCMove, error) {
	if m, ok := f.moves.Get(f.cfg.Symbol); ok {
		return m, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.moves.Get(f.cfg.Symbol); ok {
		return m, nil
	}
	klines, err := f.market.GetKlines(ctx, f.cfg.Symbol, f.cfg.Interval, f.cfg.Candles)
	if err != nil {
		return indicators.BTCMove{}, fmt.Errorf("btc klines: %w", err)
	}
	m := indicators.BTCCorrelation(klines, f.cfg.ThresholdPct)
	f.moves.Set(f.cfg.Symbol, m)
	return m, nil
}
