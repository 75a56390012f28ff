package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"researchEngine/internal/domain"
	"researchEngine/internal/exchange"
	"researchEngine/internal/metrics"
	"researchEngine/internal/ports"
	"researchEngine/internal/symbols"
)

// Store is the persistence the closer writes to.
type Store interface {
	ports.TradeRepository
	ports.MarginRepository
}

// OutcomeRecorder receives the result of every closed auto-trade.
type OutcomeRecorder interface {
	Record(ctx context.Context, o ports.AutoTradeOutcome) error
}

// CloserConfig holds the dependencies of a Closer.
type CloserConfig struct {
	Store    Store
	Clients  ports.ClientProvider
	Lots     *exchange.LotSizer
	Notifier ports.Notifier
	Outcomes OutcomeRecorder // Optional
	Clock    ports.Clock
	Logger   ports.Logger
	Metrics  *metrics.Metrics
}

// Closer executes exits: it places the unwinding order for live trades and
// writes the terminal state of the trade.
type Closer struct {
	store    Store
	clients  ports.ClientProvider
	lots     *exchange.LotSizer
	notifier ports.Notifier
	outcomes OutcomeRecorder
	clock    ports.Clock
	logger   ports.Logger
	metrics  *metrics.Metrics
}

// CloseResult describes a completed close.
type CloseResult struct {
	TradeID       string
	Reason        domain.CloseReason
	Quantity      float64
	Price         float64
	PnL           float64
	LowConfidence bool
}

// NewCloser creates a Closer.
func NewCloser(cfg CloserConfig) (*Closer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required for closer")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for closer")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier is required for closer")
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Lots == nil {
		cfg.Lots = exchange.NewLotSizer(exchange.DefaultLotSizeTTL, cfg.Clock)
	}
	return &Closer{
		store:    cfg.Store,
		clients:  cfg.Clients,
		lots:     cfg.Lots,
		notifier: cfg.Notifier,
		outcomes: cfg.Outcomes,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// execution is the result of an unwinding order.
type execution struct {
	quantity      float64
	price         float64
	lowConfidence bool
}

// Close closes the remaining quantity of t. Paper trades fill at the
// trigger price. The trade row is closed conditionally, so a concurrent
// close makes this return ErrAlreadyClosed.
func (c *Closer) Close(ctx context.Context, t *domain.Trade, reason domain.CloseReason, trigger float64) (*CloseResult, error) {
	op := "Close"
	if err := exitInFlight(t); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	qty := t.RemainingQuantity()
	exec := execution{quantity: qty, price: trigger}
	if !t.PaperTrade && qty > 0 {
		var err error
		exec, err = c.unwind(ctx, t, qty, reason)
		if err != nil {
			c.logger.Error(ctx, err, "Failed to place closing order", map[string]interface{}{
				"trade_id": t.ID, "symbol": t.Symbol, "reason": string(reason),
			})
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
	}
	res, err := c.recordClose(ctx, t, reason, exec)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	return res, nil
}

// recordClose writes the terminal state of t for an executed exit and runs
// the follow-ups: mirror row, margin position, notification and outcome.
func (c *Closer) recordClose(ctx context.Context, t *domain.Trade, reason domain.CloseReason, exec execution) (*CloseResult, error) {
	logFields := map[string]interface{}{"trade_id": t.ID, "symbol": t.Symbol, "reason": string(reason)}
	now := c.clock.Now()
	pnl := t.PnL(exec.price, exec.quantity)
	realized := t.RealizedPnL + pnl
	err := c.store.CloseTrade(ctx, ports.TradeCloseUpdate{
		TradeID:           t.ID,
		ClosePrice:        exec.price,
		CloseReason:       reason,
		ClosedAt:          now,
		RealizedPnL:       realized,
		LowConfidenceFill: exec.lowConfidence,
	})
	if err != nil {
		if errors.Is(err, ports.ErrAlreadyClosed) {
			c.logger.Warn(ctx, "Trade was closed concurrently", logFields)
		}
		return nil, err
	}
	c.metrics.TradesClosed.WithLabelValues(string(reason)).Inc()

	t.ClosedAt = &now
	t.ClosePrice = domain.Float(exec.price)
	t.CloseReason = reason
	t.RealizedPnL = realized
	t.LowConfidenceFill = exec.lowConfidence
	t.Status = domain.TradeStatusClosed
	t.ClearExit()

	c.mirror(ctx, t, exec, pnl, now)
	c.closeMargin(ctx, t, exec.price, realized)

	logFields["price"] = exec.price
	logFields["pnl"] = realized
	c.logger.Info(ctx, "Position closed", logFields)

	c.notify(ctx, t, ports.Notification{
		UserID:    t.UserID,
		Title:     fmt.Sprintf("Position closed: %s", t.Symbol),
		Message:   fmt.Sprintf("%s at %.8g (P&L %.2f)", ReasonText(reason), exec.price, realized),
		EventType: ports.EventPositionClosed,
		Priority:  ports.PriorityHigh,
		Context: map[string]interface{}{
			"trade_id": t.ID,
			"reason":   string(reason),
			"price":    exec.price,
			"pnl":      realized,
		},
	})

	if t.AutoTrade && c.outcomes != nil {
		err := c.outcomes.Record(ctx, ports.AutoTradeOutcome{
			UserID:   t.UserID,
			TradeID:  t.ID,
			Symbol:   t.Symbol,
			Win:      realized > 0,
			PnL:      realized,
			ClosedAt: now,
		})
		if err != nil {
			c.logger.Error(ctx, err, "Failed to record auto-trade outcome", logFields)
		}
	}

	return &CloseResult{
		TradeID:       t.ID,
		Reason:        reason,
		Quantity:      exec.quantity,
		Price:         exec.price,
		PnL:           realized,
		LowConfidence: exec.lowConfidence,
	}, nil
}

// PartialTakeProfit sells qty of t at the first take-profit tier and records
// it on the trade under its version guard.
func (c *Closer) PartialTakeProfit(ctx context.Context, t *domain.Trade, qty, trigger float64) error {
	op := "PartialTakeProfit"
	if err := exitInFlight(t); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	exec := execution{quantity: qty, price: trigger}
	if !t.PaperTrade {
		var err error
		exec, err = c.unwind(ctx, t, qty, domain.CloseReasonTakeProfit1)
		if err != nil {
			c.logger.Error(ctx, err, "Failed to place take-profit order", map[string]interface{}{"trade_id": t.ID, "symbol": t.Symbol})
			return fmt.Errorf("%s failed: %w", op, err)
		}
	}
	if err := c.recordPartial(ctx, t, exec); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return nil
}

// recordPartial books an executed first-tier sale on t and clears the
// in-flight marker in the same write.
func (c *Closer) recordPartial(ctx context.Context, t *domain.Trade, exec execution) error {
	logFields := map[string]interface{}{"trade_id": t.ID, "symbol": t.Symbol}
	before := *t

	sold := exec.quantity
	if rem := t.RemainingQuantity(); sold > rem {
		sold = rem
	}
	now := c.clock.Now()
	pnl := t.PnL(exec.price, sold)
	t.QuantitySoldTP1 += sold
	t.TP1HitAt = &now
	t.RealizedPnL += pnl
	if exec.lowConfidence {
		t.LowConfidenceFill = true
	}
	t.ClearExit()

	if err := c.store.UpdateTrade(ctx, t); err != nil {
		// The stored row still carries the marker; the next sweep resolves it.
		*t = before
		c.logger.Error(ctx, err, "Failed to record take-profit tier", logFields)
		return err
	}
	c.metrics.PartialTakeProfits.Inc()

	logFields["quantity"] = sold
	logFields["price"] = exec.price
	c.logger.Info(ctx, "First take-profit tier executed", logFields)

	c.notify(ctx, nil, ports.Notification{
		UserID:    t.UserID,
		Title:     fmt.Sprintf("Take profit 1 hit: %s", t.Symbol),
		Message:   fmt.Sprintf("Sold %.8g at %.8g (P&L %.2f), %.8g remaining", sold, exec.price, pnl, t.RemainingQuantity()),
		EventType: ports.EventPartialTP,
		Priority:  ports.PriorityNormal,
		Context:   map[string]interface{}{"trade_id": t.ID, "quantity": sold, "price": exec.price},
	})
	return nil
}

// exitInFlight refuses a new exit while an earlier exit order is unresolved.
func exitInFlight(t *domain.Trade) error {
	if t.ExitInFlight() {
		return fmt.Errorf("trade %s has exit order %s in flight: %w", t.ID, t.ExitOrderID, ports.ErrConflict)
	}
	return nil
}

// ResumeExit settles the in-flight exit order of t, placed by an earlier
// sweep whose result was never recorded. It looks the order up by its client
// order id instead of placing another one. It reports whether t was settled
// or is still waiting on the exchange; false means the order never executed,
// the marker was cleared and the exit rules may run again.
func (c *Closer) ResumeExit(ctx context.Context, t *domain.Trade) (bool, error) {
	op := "ResumeExit"
	logFields := map[string]interface{}{"trade_id": t.ID, "client_order_id": t.ExitOrderID, "reason": string(t.ExitReason)}
	if c.clients == nil {
		return false, fmt.Errorf("%s failed: %w", op, ports.ErrNoCredentials)
	}
	client, err := c.clients.ClientFor(ctx, t.UserID)
	if err != nil {
		return false, fmt.Errorf("%s failed: %w", op, err)
	}

	resp, err := client.GetOrderByClientID(ctx, t.Symbol, t.ExitOrderID)
	switch {
	case errors.Is(err, ports.ErrOrderNotFound):
		c.logger.Warn(ctx, "Exit order never reached the exchange, clearing it", logFields)
		return false, c.clearExit(ctx, t, op)
	case err != nil:
		return false, fmt.Errorf("%s failed: %w", op, err)
	}

	switch resp.Status {
	case domain.OrderStatusNew, domain.OrderStatusPartiallyFilled:
		c.logger.Debug(ctx, "Exit order still working", logFields)
		return true, nil
	case domain.OrderStatusFilled:
	default:
		if resp.ExecutedQty <= 0 {
			c.logger.Warn(ctx, "Exit order ended without a fill, clearing it", logFields)
			return false, c.clearExit(ctx, t, op)
		}
	}

	exec := c.execution(ctx, t, resp, t.ExitQuantity)
	c.logger.Info(ctx, "Recording exit order from an earlier sweep", logFields)
	if t.ExitReason == domain.CloseReasonTakeProfit1 {
		if err := c.recordPartial(ctx, t, exec); err != nil {
			return false, fmt.Errorf("%s failed: %w", op, err)
		}
		return true, nil
	}
	if _, err := c.recordClose(ctx, t, t.ExitReason, exec); err != nil {
		return false, fmt.Errorf("%s failed: %w", op, err)
	}
	return true, nil
}

func (c *Closer) clearExit(ctx context.Context, t *domain.Trade, op string) error {
	before := *t
	t.ClearExit()
	if err := c.store.UpdateTrade(ctx, t); err != nil {
		*t = before
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return nil
}

// unwind places the order that reduces t by qty and resolves its fill. The
// client order id is written to the trade before the order goes out, so an
// unrecorded result can be found again; if that write fails nothing is sent.
func (c *Closer) unwind(ctx context.Context, t *domain.Trade, qty float64, reason domain.CloseReason) (execution, error) {
	if c.clients == nil {
		return execution{}, ports.ErrNoCredentials
	}
	client, err := c.clients.ClientFor(ctx, t.UserID)
	if err != nil {
		return execution{}, err
	}

	isMargin := t.MarginMode == domain.MarginModeMargin
	var mx ports.MarginExchange
	if isMargin {
		var ok bool
		mx, ok = client.(ports.MarginExchange)
		if !ok || !mx.SupportsMargin() {
			return execution{}, ports.ErrMarginUnsupported
		}
	} else if t.IsLong() {
		qty = c.clampToBalance(ctx, client, t, qty)
	}
	formatted, err := c.lots.Format(ctx, client, t.Symbol, qty)
	if err != nil {
		return execution{}, err
	}
	requested, _ := strconv.ParseFloat(formatted, 64)

	clientID := ulid.Make().String()
	before := *t
	t.ExitOrderID = clientID
	t.ExitReason = reason
	t.ExitQuantity = requested
	if err := c.store.UpdateTrade(ctx, t); err != nil {
		*t = before
		return execution{}, fmt.Errorf("failed to record exit order: %w", err)
	}

	var resp *ports.OrderResponse
	if isMargin {
		resp, err = mx.CloseMarginPosition(ctx, ports.MarginCloseRequest{
			Symbol:        t.Symbol,
			Side:          t.Side,
			Quantity:      formatted,
			ClientOrderID: clientID,
		})
	} else {
		resp, err = client.PlaceOrder(ctx, ports.OrderRequest{
			Symbol:        t.Symbol,
			Side:          t.Side.EntrySide().Opposite(),
			Type:          ports.OrderTypeMarket,
			Quantity:      formatted,
			ClientOrderID: clientID,
		})
	}
	if err != nil {
		// The marker stays: a timed-out order may still have executed.
		return execution{}, err
	}
	return c.execution(ctx, t, resp, requested), nil
}

// execution resolves the filled quantity and price of an exit order.
// requested is used when the exchange reports no executed quantity.
func (c *Closer) execution(ctx context.Context, t *domain.Trade, resp *ports.OrderResponse, requested float64) execution {
	exec := execution{quantity: resp.ExecutedQty}
	if exec.quantity <= 0 {
		exec.quantity = requested
	}
	price, ok := FillPrice(resp)
	if !ok {
		// Entry price is the last resort and makes the realized P&L zero.
		price = t.EntryPrice
		exec.lowConfidence = true
		c.metrics.LowConfidenceFills.Inc()
		c.logger.Warn(ctx, "Exchange reported no fill price, using entry price", map[string]interface{}{
			"trade_id": t.ID,
			"order_id": resp.OrderID,
		})
	}
	exec.price = price
	return exec
}

// clampToBalance lowers qty to the free base balance when the account holds
// less than the trade recorded, e.g. after fees were paid in the base asset.
func (c *Closer) clampToBalance(ctx context.Context, client ports.ExchangeClient, t *domain.Trade, qty float64) float64 {
	balances, err := client.GetBalances(ctx)
	if err != nil {
		c.logger.Warn(ctx, "Could not read balances, selling recorded quantity", map[string]interface{}{
			"trade_id": t.ID,
			"error":    err.Error(),
		})
		return qty
	}
	free := balances[symbols.Base(t.Symbol)]
	if free > 0 && free < qty {
		c.logger.Warn(ctx, "Free balance below recorded quantity, selling balance", map[string]interface{}{
			"trade_id": t.ID,
			"recorded": qty,
			"free":     free,
		})
		return free
	}
	return qty
}

// FillPrice resolves the average fill price of an order from, in order, the
// reported average, the individual fills and the cumulative quote amount.
func FillPrice(resp *ports.OrderResponse) (float64, bool) {
	if resp == nil {
		return 0, false
	}
	if resp.AvgPrice > 0 {
		return resp.AvgPrice, true
	}
	var qty, quote float64
	for _, f := range resp.Fills {
		qty += f.Quantity
		quote += f.Price * f.Quantity
	}
	if qty > 0 && quote > 0 {
		return quote / qty, true
	}
	if resp.ExecutedQty > 0 && resp.CumulativeQuote > 0 {
		return resp.CumulativeQuote / resp.ExecutedQty, true
	}
	return 0, false
}

// mirror writes the closing row that records the unwinding order itself.
func (c *Closer) mirror(ctx context.Context, t *domain.Trade, exec execution, pnl float64, at time.Time) {
	row := &domain.Trade{
		ID:                uuid.NewString(),
		UserID:            t.UserID,
		SignalID:          t.SignalID,
		ParentTradeID:     t.ID,
		Symbol:            t.Symbol,
		Exchange:          t.Exchange,
		Side:              t.Side,
		OrderSide:         t.Side.EntrySide().Opposite(),
		Quantity:          exec.quantity,
		EntryPrice:        exec.price,
		Total:             exec.quantity * exec.price,
		MarginMode:        t.MarginMode,
		Leverage:          t.Leverage,
		Status:            domain.TradeStatusClosed,
		PaperTrade:        t.PaperTrade,
		AutoTrade:         t.AutoTrade,
		ClosedAt:          &at,
		ClosePrice:        domain.Float(exec.price),
		CloseReason:       t.CloseReason,
		RealizedPnL:       pnl,
		LowConfidenceFill: exec.lowConfidence,
		NotificationSent:  true,
		CreatedAt:         at,
		FilledAt:          &at,
		UpdatedAt:         at,
	}
	if err := c.store.CreateTrade(ctx, row); err != nil {
		c.logger.Error(ctx, err, "Failed to write closing trade row", map[string]interface{}{"trade_id": t.ID})
	}
}

func (c *Closer) closeMargin(ctx context.Context, t *domain.Trade, price, realized float64) {
	if t.MarginMode != domain.MarginModeMargin {
		return
	}
	pos, err := c.store.GetOpenByTrade(ctx, t.ID)
	if err != nil {
		c.logger.Error(ctx, err, "Failed to load margin position", map[string]interface{}{"trade_id": t.ID})
		return
	}
	if pos == nil {
		return
	}
	err = c.store.CloseMarginPosition(ctx, pos.ID, price, realized, c.clock.Now())
	if err != nil && !errors.Is(err, ports.ErrAlreadyClosed) {
		c.logger.Error(ctx, err, "Failed to close margin position", map[string]interface{}{"trade_id": t.ID, "position_id": pos.ID})
	}
}

// notify enqueues n. When tracked is set and the notifier accepted the
// message, the trade is flagged as notified; otherwise the notification
// drain retries it later.
func (c *Closer) notify(ctx context.Context, tracked *domain.Trade, n ports.Notification) {
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.Warn(ctx, "Notification not accepted", map[string]interface{}{"user_id": n.UserID, "error": err.Error()})
		return
	}
	if tracked == nil {
		return
	}
	if err := c.store.MarkNotified(ctx, tracked.ID); err != nil {
		c.logger.Error(ctx, err, "Failed to mark trade notified", map[string]interface{}{"trade_id": tracked.ID})
		return
	}
	tracked.NotificationSent = true
}

// ReasonText is the human-readable form of a close reason.
func ReasonText(r domain.CloseReason) string {
	switch r {
	case domain.CloseReasonStopLoss:
		return "Stop loss hit"
	case domain.CloseReasonTakeProfit:
		return "Take profit hit"
	case domain.CloseReasonTakeProfit2:
		return "Final take profit hit"
	case domain.CloseReasonTrailingStop:
		return "Trailing stop hit"
	case domain.CloseReasonLiquidation:
		return "Liquidation price reached"
	case domain.CloseReasonManual:
		return "Closed manually"
	default:
		return "Closed"
	}
}
