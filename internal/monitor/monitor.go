// Package monitor evaluates open trades against current prices and executes
// stop-loss, tiered take-profit and trailing-stop exits.
package monitor

import (
	"context"
	"errors"
	"fmt"

	"researchEngine/internal/domain"
	"researchEngine/internal/metrics"
	"researchEngine/internal/ports"
)

// PriceSource returns current prices keyed by the requested symbols.
// Symbols without a price are absent from the map.
type PriceSource interface {
	CurrentPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Config holds the dependencies of a Monitor.
type Config struct {
	Trades  ports.TradeRepository
	Prices  PriceSource
	Closer  *Closer
	Locks   *TradeLocks
	Logger  ports.Logger
	Metrics *metrics.Metrics
}

// Monitor runs the exit sweeps over open trades.
type Monitor struct {
	trades  ports.TradeRepository
	prices  PriceSource
	closer  *Closer
	locks   *TradeLocks
	logger  ports.Logger
	metrics *metrics.Metrics
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Checked int
	Closed  int
	Partial int
	Updated int
	Resumed int
	NoPrice int
	Errors  int
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Trades == nil {
		return nil, fmt.Errorf("trade repository is required for monitor")
	}
	if cfg.Prices == nil {
		return nil, fmt.Errorf("price source is required for monitor")
	}
	if cfg.Closer == nil {
		return nil, fmt.Errorf("closer is required for monitor")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for monitor")
	}
	if cfg.Locks == nil {
		cfg.Locks = NewTradeLocks()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Monitor{
		trades:  cfg.Trades,
		prices:  cfg.Prices,
		closer:  cfg.Closer,
		locks:   cfg.Locks,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Locks exposes the per-trade lock table shared with other writers.
func (m *Monitor) Locks() *TradeLocks {
	return m.locks
}

// SweepExits applies stop-loss and take-profit rules to every open trade.
func (m *Monitor) SweepExits(ctx context.Context) (SweepResult, error) {
	return m.sweep(ctx, "exits", func(*domain.Trade) bool { return true }, m.applyExits)
}

// SweepTrailing advances the trailing stops of open trades that use one.
func (m *Monitor) SweepTrailing(ctx context.Context) (SweepResult, error) {
	return m.sweep(ctx, "trailing", (*domain.Trade).HasTrailingStop, m.applyTrailing)
}

type applyFunc func(ctx context.Context, t *domain.Trade, price float64, res *SweepResult) error

func (m *Monitor) sweep(ctx context.Context, task string, want func(*domain.Trade) bool, apply applyFunc) (SweepResult, error) {
	var res SweepResult
	open, err := m.trades.ListOpenTrades(ctx)
	if err != nil {
		return res, fmt.Errorf("sweep %s failed: %w", task, err)
	}

	var trades []*domain.Trade
	seen := make(map[string]bool)
	var syms []string
	for _, t := range open {
		if !want(t) {
			continue
		}
		trades = append(trades, t)
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			syms = append(syms, t.Symbol)
		}
	}
	if len(trades) == 0 {
		return res, nil
	}

	prices, err := m.prices.CurrentPrices(ctx, syms)
	if err != nil {
		// Trades with a cached price are still evaluated.
		m.logger.Warn(ctx, "Price lookup incomplete", map[string]interface{}{"task": task, "error": err.Error()})
	}

	for _, t := range trades {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++
		price, ok := prices[t.Symbol]
		if !ok || price <= 0 {
			res.NoPrice++
			continue
		}
		if err := m.withTrade(ctx, t.ID, func(fresh *domain.Trade) error {
			if fresh.ExitInFlight() {
				settled, err := m.closer.ResumeExit(ctx, fresh)
				if err != nil || settled {
					if settled {
						res.Resumed++
					}
					return err
				}
			}
			return apply(ctx, fresh, price, &res)
		}); err != nil {
			m.countError(ctx, task, t, err, &res)
		}
	}
	return res, nil
}

// withTrade runs fn on a freshly read copy of the trade while holding its
// lock. Trades that closed in the meantime are skipped.
func (m *Monitor) withTrade(ctx context.Context, id string, fn func(*domain.Trade) error) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	fresh, err := m.trades.GetTrade(ctx, id)
	if err != nil {
		return err
	}
	if fresh == nil || !fresh.IsOpen() {
		return nil
	}
	return fn(fresh)
}

func (m *Monitor) applyExits(ctx context.Context, t *domain.Trade, price float64, res *SweepResult) error {
	d := EvaluateExits(t, price)
	return m.execute(ctx, t, d, price, res)
}

func (m *Monitor) applyTrailing(ctx context.Context, t *domain.Trade, price float64, res *SweepResult) error {
	d := EvaluateTrailing(t, price)
	return m.execute(ctx, t, d, price, res)
}

func (m *Monitor) execute(ctx context.Context, t *domain.Trade, d Decision, price float64, res *SweepResult) error {
	switch d.Action {
	case ActionClose:
		if _, err := m.closer.Close(ctx, t, d.Reason, price); err != nil {
			return err
		}
		res.Closed++
	case ActionPartialTP:
		if err := m.closer.PartialTakeProfit(ctx, t, d.Quantity, price); err != nil {
			return err
		}
		res.Partial++
	case ActionUpdate:
		if err := m.trades.UpdateTrade(ctx, t); err != nil {
			return err
		}
		res.Updated++
	}
	return nil
}

func (m *Monitor) countError(ctx context.Context, task string, t *domain.Trade, err error, res *SweepResult) {
	class := ports.Classify(err)
	if class == ports.ClassBusiness || errors.Is(err, ports.ErrConflict) {
		// Another writer got there first; the next tick re-reads the row.
		m.logger.Debug(ctx, "Trade changed during sweep", map[string]interface{}{"task": task, "trade_id": t.ID})
		return
	}
	res.Errors++
	m.metrics.TaskErrors.WithLabelValues("monitor_"+task, string(class)).Inc()
	m.logger.Error(ctx, err, "Failed to apply exit rules", map[string]interface{}{
		"task":     task,
		"trade_id": t.ID,
		"symbol":   t.Symbol,
		"class":    string(class),
	})
}

// ForceClose closes an open trade immediately with the given reason at
// price, under the trade's lock. A zero price uses the current price. An
// unresolved exit order is settled first; one still working on the exchange
// makes this fail with ErrConflict.
func (m *Monitor) ForceClose(ctx context.Context, tradeID string, reason domain.CloseReason, price float64) (*CloseResult, error) {
	op := "ForceClose"
	unlock := m.locks.Lock(tradeID)
	defer unlock()

	t, err := m.trades.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%s failed: %w", op, ports.ErrNotFound)
	}
	if t.ExitInFlight() {
		if _, err := m.closer.ResumeExit(ctx, t); err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
	}
	if !t.IsOpen() {
		return nil, fmt.Errorf("%s failed: %w", op, ports.ErrAlreadyClosed)
	}
	if price <= 0 {
		prices, err := m.prices.CurrentPrices(ctx, []string{t.Symbol})
		if err != nil && len(prices) == 0 {
			return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrNoPrice, err)
		}
		price = prices[t.Symbol]
		if price <= 0 {
			return nil, fmt.Errorf("%s failed: %w", op, ports.ErrNoPrice)
		}
	}
	return m.closer.Close(ctx, t, reason, price)
}
