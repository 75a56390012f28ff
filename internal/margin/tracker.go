// Package margin tracks the risk state of leveraged positions.
package margin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"researchEngine/internal/domain"
	"researchEngine/internal/metrics"
	"researchEngine/internal/monitor"
	"researchEngine/internal/ports"
)

// MaintenanceMargin is the maintenance margin rate used for liquidation
// estimates.
const MaintenanceMargin = 0.005

// Closer force-closes a trade; satisfied by *monitor.Monitor.
type Closer interface {
	ForceClose(ctx context.Context, tradeID string, reason domain.CloseReason, price float64) (*monitor.CloseResult, error)
}

// Tracker opens, refreshes and liquidates margin positions.
type Tracker struct {
	store   ports.MarginRepository
	prices  monitor.PriceSource
	closer  Closer
	clock   ports.Clock
	logger  ports.Logger
	metrics *metrics.Metrics
}

// RefreshResult counts one refresh pass.
type RefreshResult struct {
	Updated    int
	Liquidated int
	NoPrice    int
	Errors     int
}

var _ ports.FillHook = (*Tracker)(nil)

// NewTracker creates a Tracker.
func NewTracker(store ports.MarginRepository, prices monitor.PriceSource, closer Closer, clock ports.Clock, logger ports.Logger, m *metrics.Metrics) (*Tracker, error) {
	if store == nil || prices == nil || closer == nil {
		return nil, fmt.Errorf("store, prices and closer are required for margin tracker")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for margin tracker")
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if m == nil {
		m = metrics.New()
	}
	return &Tracker{store: store, prices: prices, closer: closer, clock: clock, logger: logger, metrics: m}, nil
}

// LiquidationPrice estimates where a position at entry with leverage is
// liquidated.
func LiquidationPrice(entry float64, leverage int, side domain.PositionSide) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	inv := 1 / float64(leverage)
	if side == domain.Short {
		return entry * (1 + inv - MaintenanceMargin)
	}
	return entry * (1 - inv + MaintenanceMargin)
}

// UnrealizedPnL is the open profit of pos at price.
func UnrealizedPnL(pos *domain.MarginPosition, price float64) float64 {
	if pos.Side == domain.Short {
		return (pos.EntryPrice - price) * pos.Quantity
	}
	return (price - pos.EntryPrice) * pos.Quantity
}

func liquidated(pos *domain.MarginPosition, price float64) bool {
	if pos.Side == domain.Short {
		return price >= pos.LiquidationPrice
	}
	return price <= pos.LiquidationPrice
}

// OnFilled opens the margin position of a filled margin trade. A trade with
// an open position already is left alone.
func (tr *Tracker) OnFilled(ctx context.Context, t *domain.Trade) error {
	if t.MarginMode != domain.MarginModeMargin || t.EntryPrice <= 0 {
		return nil
	}
	existing, err := tr.store.GetOpenByTrade(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("margin position lookup failed: %w", err)
	}
	if existing != nil {
		return nil
	}
	now := tr.clock.Now()
	pos := &domain.MarginPosition{
		ID:               uuid.NewString(),
		TradeID:          t.ID,
		UserID:           t.UserID,
		Symbol:           t.Symbol,
		Side:             t.Side,
		EntryPrice:       t.EntryPrice,
		Quantity:         t.Quantity,
		Leverage:         t.Leverage,
		LiquidationPrice: LiquidationPrice(t.EntryPrice, t.Leverage, t.Side),
		Status:           domain.MarginStatusOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tr.store.CreateMarginPosition(ctx, pos); err != nil {
		return fmt.Errorf("margin position create failed: %w", err)
	}
	tr.logger.Info(ctx, "Margin position opened", map[string]interface{}{
		"trade_id":    t.ID,
		"leverage":    t.Leverage,
		"liquidation": pos.LiquidationPrice,
	})
	return nil
}

// Refresh updates unrealized P&L of every open margin position and closes
// the trades whose price crossed their liquidation level.
func (tr *Tracker) Refresh(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	positions, err := tr.store.ListOpenMarginPositions(ctx)
	if err != nil {
		return res, fmt.Errorf("margin refresh failed: %w", err)
	}
	if len(positions) == 0 {
		return res, nil
	}

	seen := make(map[string]bool)
	var syms []string
	for _, p := range positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			syms = append(syms, p.Symbol)
		}
	}
	prices, err := tr.prices.CurrentPrices(ctx, syms)
	if err != nil {
		tr.logger.Warn(ctx, "Price lookup incomplete", map[string]interface{}{"task": "margin", "error": err.Error()})
	}

	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			res.NoPrice++
			continue
		}
		if p.LiquidationPrice <= 0 {
			p.LiquidationPrice = LiquidationPrice(p.EntryPrice, p.Leverage, p.Side)
		}

		if liquidated(p, price) {
			_, err := tr.closer.ForceClose(ctx, p.TradeID, domain.CloseReasonLiquidation, price)
			switch {
			case err == nil:
				res.Liquidated++
				tr.metrics.Liquidations.Inc()
				tr.logger.Warn(ctx, "Margin position liquidated", map[string]interface{}{
					"trade_id":    p.TradeID,
					"price":       price,
					"liquidation": p.LiquidationPrice,
				})
			case errors.Is(err, ports.ErrAlreadyClosed):
			default:
				res.Errors++
				tr.logger.Error(ctx, err, "Failed to close liquidated position", map[string]interface{}{"trade_id": p.TradeID})
			}
			continue
		}

		if err := tr.store.UpdateMarginRisk(ctx, p.ID, UnrealizedPnL(p, price), p.LiquidationPrice); err != nil {
			res.Errors++
			tr.logger.Error(ctx, err, "Failed to update margin risk", map[string]interface{}{"position_id": p.ID})
			continue
		}
		res.Updated++
	}
	return res, nil
}
