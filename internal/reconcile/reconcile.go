// Package reconcile moves pending exchange orders to their final state.
package reconcile

import (
	"context"
	"fmt"

	"researchEngine/internal/domain"
	"researchEngine/internal/metrics"
	"researchEngine/internal/monitor"
	"researchEngine/internal/ports"
)

// Config holds the dependencies of a Reconciler.
type Config struct {
	Trades   ports.TradeRepository
	Clients  ports.ClientProvider
	Notifier ports.Notifier
	Hooks    []ports.FillHook
	Clock    ports.Clock
	Logger   ports.Logger
	Metrics  *metrics.Metrics
}

// Reconciler polls the exchange for pending orders.
type Reconciler struct {
	trades   ports.TradeRepository
	clients  ports.ClientProvider
	notifier ports.Notifier
	hooks    []ports.FillHook
	clock    ports.Clock
	logger   ports.Logger
	metrics  *metrics.Metrics
}

// Result counts the outcome of one reconciliation pass.
type Result struct {
	Checked   int
	Filled    int
	Cancelled int
	Failed    int
	Pending   int
	Errors    int
}

// New creates a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Trades == nil {
		return nil, fmt.Errorf("trade repository is required for reconciler")
	}
	if cfg.Clients == nil {
		return nil, fmt.Errorf("client provider is required for reconciler")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier is required for reconciler")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for reconciler")
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Reconciler{
		trades:   cfg.Trades,
		clients:  cfg.Clients,
		notifier: cfg.Notifier,
		hooks:    cfg.Hooks,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Run reconciles every pending order once. Orders are grouped by user so
// each user's exchange client is resolved a single time.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	var res Result
	pending, err := r.trades.ListPendingOrders(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile failed: %w", err)
	}

	var users []string
	byUser := make(map[string][]*domain.Trade)
	for _, t := range pending {
		if _, ok := byUser[t.UserID]; !ok {
			users = append(users, t.UserID)
		}
		byUser[t.UserID] = append(byUser[t.UserID], t)
	}

	for _, userID := range users {
		trades := byUser[userID]
		res.Checked += len(trades)
		client, err := r.clients.ClientFor(ctx, userID)
		if err != nil {
			res.Errors += len(trades)
			r.metrics.TaskErrors.WithLabelValues("reconcile", string(ports.Classify(err))).Inc()
			r.logger.Error(ctx, err, "No exchange client for pending orders", map[string]interface{}{
				"user_id": userID,
				"orders":  len(trades),
			})
			continue
		}
		for _, t := range trades {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if err := r.reconcileOne(ctx, client, t, &res); err != nil {
				res.Errors++
				r.metrics.TaskErrors.WithLabelValues("reconcile", string(ports.Classify(err))).Inc()
				r.logger.Error(ctx, err, "Failed to reconcile order", map[string]interface{}{
					"trade_id": t.ID,
					"order_id": t.ExchangeOrderID,
					"symbol":   t.Symbol,
				})
			}
		}
	}
	return res, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, client ports.ExchangeClient, t *domain.Trade, res *Result) error {
	order, err := client.GetOrder(ctx, t.Symbol, t.ExchangeOrderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case domain.OrderStatusFilled:
		r.applyFill(ctx, client, t, order, false)
		if err := r.saveFilled(ctx, t); err != nil {
			return err
		}
		res.Filled++
	case domain.OrderStatusCanceled, domain.OrderStatusExpired:
		if order.ExecutedQty > 0 || len(order.Fills) > 0 {
			// Executed quantity outranks the cancel label.
			r.applyFill(ctx, client, t, order, true)
			if err := r.saveFilled(ctx, t); err != nil {
				return err
			}
			res.Filled++
			return nil
		}
		reason := "cancelled"
		if order.Status == domain.OrderStatusExpired {
			reason = "expired"
		}
		t.Status = domain.TradeStatusCancelled
		t.ErrorMessage = reason
		t.NotificationSent = false
		if err := r.trades.UpdateTrade(ctx, t); err != nil {
			return err
		}
		r.metrics.OrdersReconciled.WithLabelValues(string(domain.TradeStatusCancelled)).Inc()
		r.notify(ctx, t, ports.Notification{
			UserID:    t.UserID,
			Title:     fmt.Sprintf("Order %s: %s", reason, t.Symbol),
			Message:   fmt.Sprintf("Order %s was %s without executing", t.ExchangeOrderID, reason),
			EventType: ports.EventOrderCancelled,
			Priority:  ports.PriorityNormal,
			Context:   map[string]interface{}{"trade_id": t.ID, "reason": reason},
		})
		res.Cancelled++
	case domain.OrderStatusRejected:
		t.Status = domain.TradeStatusFailed
		t.ErrorMessage = "rejected by exchange"
		t.NotificationSent = false
		if err := r.trades.UpdateTrade(ctx, t); err != nil {
			return err
		}
		r.metrics.OrdersReconciled.WithLabelValues(string(domain.TradeStatusFailed)).Inc()
		r.notify(ctx, t, ports.Notification{
			UserID:    t.UserID,
			Title:     fmt.Sprintf("Order rejected: %s", t.Symbol),
			Message:   fmt.Sprintf("Order %s was rejected by the exchange", t.ExchangeOrderID),
			EventType: ports.EventExecutionFailed,
			Priority:  ports.PriorityHigh,
			Context:   map[string]interface{}{"trade_id": t.ID},
		})
		res.Failed++
	default:
		res.Pending++
	}
	return nil
}

// applyFill copies the execution details of order onto t. For a cancelled
// order that executed, the price falls back to the current ticker and the
// trade quantity becomes what actually executed.
func (r *Reconciler) applyFill(ctx context.Context, client ports.ExchangeClient, t *domain.Trade, order *ports.OrderResponse, cancelled bool) {
	price, ok := monitor.FillPrice(order)
	if !ok && cancelled {
		price = r.tickerPrice(ctx, client, t.Symbol)
	}
	if price > 0 {
		t.EntryPrice = price
	}

	qty := order.ExecutedQty
	if qty <= 0 {
		for _, f := range order.Fills {
			qty += f.Quantity
		}
	}
	if qty > 0 && (t.Quantity == 0 || cancelled) {
		t.Quantity = qty
	}

	switch {
	case order.CumulativeQuote > 0:
		t.Total = order.CumulativeQuote
	case t.EntryPrice > 0:
		t.Total = t.EntryPrice * t.Quantity
	}
	fee := order.Fee
	if fee == 0 {
		for _, f := range order.Fills {
			fee += f.Commission
		}
	}
	t.Fee = fee

	now := r.clock.Now()
	t.Status = domain.TradeStatusFilled
	t.FilledAt = &now
	t.NotificationSent = false
}

func (r *Reconciler) tickerPrice(ctx context.Context, client ports.ExchangeClient, symbol string) float64 {
	tickers, err := client.GetTicker24hr(ctx, []string{symbol})
	if err != nil || len(tickers) == 0 {
		r.logger.Warn(ctx, "No fill or ticker price for executed cancelled order", map[string]interface{}{"symbol": symbol})
		return 0
	}
	return tickers[0].LastPrice
}

func (r *Reconciler) saveFilled(ctx context.Context, t *domain.Trade) error {
	if err := r.trades.UpdateTrade(ctx, t); err != nil {
		return err
	}
	r.metrics.OrdersReconciled.WithLabelValues(string(domain.TradeStatusFilled)).Inc()
	r.logger.Info(ctx, "Order filled", map[string]interface{}{
		"trade_id": t.ID,
		"symbol":   t.Symbol,
		"price":    t.EntryPrice,
		"quantity": t.Quantity,
	})

	for _, h := range r.hooks {
		if err := h.OnFilled(ctx, t); err != nil {
			r.logger.Error(ctx, err, "Fill hook failed", map[string]interface{}{"trade_id": t.ID})
		}
	}

	r.notify(ctx, t, ports.Notification{
		UserID:    t.UserID,
		Title:     fmt.Sprintf("Order filled: %s", t.Symbol),
		Message:   fmt.Sprintf("%s %.8g %s at %.8g", t.OrderSide, t.Quantity, t.Symbol, t.EntryPrice),
		EventType: ports.EventOrderFilled,
		Priority:  ports.PriorityNormal,
		Context:   map[string]interface{}{"trade_id": t.ID, "price": t.EntryPrice, "quantity": t.Quantity},
	})
	return nil
}

func (r *Reconciler) notify(ctx context.Context, t *domain.Trade, n ports.Notification) {
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.logger.Warn(ctx, "Notification not accepted", map[string]interface{}{"trade_id": t.ID, "error": err.Error()})
		return
	}
	if err := r.trades.MarkNotified(ctx, t.ID); err != nil {
		r.logger.Error(ctx, err, "Failed to mark trade notified", map[string]interface{}{"trade_id": t.ID})
	}
}
