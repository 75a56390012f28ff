// Package pricecache serves current prices from a shared in-memory snapshot
// fed by the ticker stream, with one batched REST call for misses.
package pricecache

import (
	"context"
	"fmt"
	"time"

	"researchEngine/internal/cache"
	"researchEngine/internal/domain"
	"researchEngine/internal/metrics"
	"researchEngine/internal/ports"
	"researchEngine/internal/symbols"
)

// DefaultMaxAge is how long a price stays usable without a fresh update.
const DefaultMaxAge = 30 * time.Second

// Cache is a consolidated ticker cache. Entries are keyed so that USD, USDT
// and USDC quotes of the same base share one slot.
type Cache struct {
	entries *cache.Store[string, domain.Ticker]
	market  ports.MarketData
	logger  ports.Logger
	metrics *metrics.Metrics
}

// Config holds the dependencies of a Cache.
type Config struct {
	Market  ports.MarketData // REST fallback; nil disables it
	Logger  ports.Logger
	Metrics *metrics.Metrics
	MaxAge  time.Duration
	Clock   ports.Clock
}

// New creates a price cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for price cache")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{
		entries: cache.New[string, domain.Ticker](maxAge, cfg.Clock),
		market:  cfg.Market,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

func key(symbol string) string {
	if symbols.IsUSDQuote(symbol) {
		return symbols.Base(symbol) + "_USD"
	}
	return symbols.Normalize(symbol)
}

// Update stores a ticker, typically from the streaming feed.
func (c *Cache) Update(t domain.Ticker) {
	if t.Price <= 0 {
		return
	}
	c.entries.Set(key(t.Symbol), t)
}

// Tickers returns tickers for the requested symbols keyed by the symbol as
// requested. Symbols with no price anywhere are absent from the map. A
// failed REST fallback is logged and the cached subset is still returned
// along with the error.
func (c *Cache) Tickers(ctx context.Context, syms []string) (map[string]domain.Ticker, error) {
	out := make(map[string]domain.Ticker, len(syms))
	var missing []string
	for _, s := range syms {
		if t, ok := c.entries.Get(key(s)); ok {
			out[s] = t
			c.metrics.PriceCacheHits.Inc()
			continue
		}
		c.metrics.PriceCacheMisses.Inc()
		missing = append(missing, s)
	}
	if len(missing) == 0 || c.market == nil {
		return out, nil
	}

	c.metrics.PriceRESTFallback.Inc()
	tickers, err := c.market.GetTicker24hr(ctx, missing)
	if err != nil {
		c.logger.Warn(ctx, "Price cache REST fallback failed", map[string]interface{}{"missing": len(missing), "error": err.Error()})
		return out, fmt.Errorf("ticker fallback: %w", err)
	}

	fetched := make(map[string]domain.Ticker, len(tickers))
	for _, t := range tickers {
		c.Update(t)
		fetched[key(t.Symbol)] = t
	}
	for _, s := range missing {
		if t, ok := fetched[key(s)]; ok {
			out[s] = t
		}
	}
	return out, nil
}

// CurrentPrices is Tickers reduced to last prices.
func (c *Cache) CurrentPrices(ctx context.Context, syms []string) (map[string]float64, error) {
	tickers, err := c.Tickers(ctx, syms)
	prices := make(map[string]float64, len(tickers))
	for s, t := range tickers {
		prices[s] = t.Price
	}
	return prices, err
}

// Price returns the price of one symbol.
func (c *Cache) Price(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.CurrentPrices(ctx, []string{symbol})
	if p, ok := prices[symbol]; ok {
		return p, nil
	}
	if err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%s: %w", symbol, ports.ErrNoPrice)
}

// Len reports the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Streamer is implemented by adapters with a push ticker feed.
type Streamer interface {
	StreamTickers(ctx context.Context, handler func(domain.Ticker)) <-chan struct{}
}

// Feed pipes a ticker stream into the cache until ctx ends.
func (c *Cache) Feed(ctx context.Context, s Streamer) <-chan struct{} {
	c.logger.Info(ctx, "Starting price feed")
	return s.StreamTickers(ctx, c.Update)
}
