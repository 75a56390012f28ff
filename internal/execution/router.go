// Package execution turns accepted research signals into trades.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"researchEngine/internal/domain"
	"researchEngine/internal/exchange"
	"researchEngine/internal/metrics"
	"researchEngine/internal/monitor"
	"researchEngine/internal/ports"
	"researchEngine/internal/risk"
)

// Skip reasons recorded on signals that were not executed.
const (
	SkipMaxPositions = "max_positions_reached"
	SkipUser         = "skipped_by_user"
)

// Store is the persistence the router needs.
type Store interface {
	ports.TradeRepository
	ports.SignalRepository
}

// Config holds the dependencies of a Router.
type Config struct {
	Store    Store
	Clients  ports.ClientProvider
	Prices   monitor.PriceSource
	Risk     *risk.Manager
	Lots     *exchange.LotSizer
	Notifier ports.Notifier
	Hooks    []ports.FillHook
	Clock    ports.Clock
	Logger   ports.Logger
	Metrics  *metrics.Metrics
}

// Router executes signals as paper or live trades.
type Router struct {
	store    Store
	clients  ports.ClientProvider
	prices   monitor.PriceSource
	risk     *risk.Manager
	lots     *exchange.LotSizer
	notifier ports.Notifier
	hooks    []ports.FillHook
	clock    ports.Clock
	logger   ports.Logger
	metrics  *metrics.Metrics
}

// Outcome is the result of routing one signal.
type Outcome struct {
	Status     domain.SignalStatus
	SkipReason string
	Trade      *domain.Trade
	Err        error
}

// NewRouter creates a Router.
func NewRouter(cfg Config) (*Router, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required for execution router")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier is required for execution router")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for execution router")
	}
	if cfg.Risk == nil {
		cfg.Risk = risk.NewManager(risk.DefaultConfig())
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.Lots == nil {
		cfg.Lots = exchange.NewLotSizer(exchange.DefaultLotSizeTTL, cfg.Clock)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Router{
		store:    cfg.Store,
		clients:  cfg.Clients,
		prices:   cfg.Prices,
		risk:     cfg.Risk,
		lots:     cfg.Lots,
		notifier: cfg.Notifier,
		hooks:    cfg.Hooks,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Execute routes a pending signal under settings. Business skips and
// execution failures are reported through the Outcome and recorded on the
// signal; the returned error is reserved for signals that could not be
// transitioned at all.
func (r *Router) Execute(ctx context.Context, sig *domain.Signal, settings *domain.ResearchSettings) (*Outcome, error) {
	op := "Execute"
	logFields := map[string]interface{}{"signal_id": sig.ID, "user_id": sig.UserID, "symbol": sig.Symbol}

	if sig.Status != domain.SignalPending {
		return nil, fmt.Errorf("%s failed: %w", op, ports.ErrSignalTerminal)
	}
	if sig.IsExpired(r.clock.Now()) {
		if err := r.transition(ctx, sig, domain.SignalExpired, "", "", ""); err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		r.metrics.SignalsExpired.Inc()
		return &Outcome{Status: domain.SignalExpired}, nil
	}
	if err := r.claim(ctx, sig); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	paper := settings.PaperLiveMode != domain.ModeLive
	if settings.MaxPositions > 0 {
		// Only live exposure counts toward the limit, in either mode.
		open, err := r.store.CountOpenTrades(ctx, sig.UserID, false)
		if err != nil {
			if terr := r.transition(ctx, sig, domain.SignalFailed, "", err.Error(), ""); terr != nil {
				r.logger.Error(ctx, terr, "Failed to release claimed signal", logFields)
			}
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		if open >= settings.MaxPositions {
			logFields["open"] = open
			r.logger.Info(ctx, "Signal skipped, position limit reached", logFields)
			if err := r.transition(ctx, sig, domain.SignalSkipped, "", "", SkipMaxPositions); err != nil {
				return nil, fmt.Errorf("%s failed: %w", op, err)
			}
			r.metrics.SignalsExecuted.WithLabelValues(string(domain.SignalSkipped)).Inc()
			return &Outcome{Status: domain.SignalSkipped, SkipReason: SkipMaxPositions}, nil
		}
	}

	trade, err := r.open(ctx, sig, settings, paper)
	if err != nil {
		r.logger.Error(ctx, err, "Signal execution failed", logFields)
		if terr := r.transition(ctx, sig, domain.SignalFailed, tradeID(trade), err.Error(), ""); terr != nil {
			return nil, fmt.Errorf("%s failed: %w", op, terr)
		}
		r.metrics.SignalsExecuted.WithLabelValues(string(domain.SignalFailed)).Inc()
		r.notifyFailure(ctx, sig, err)
		return &Outcome{Status: domain.SignalFailed, Trade: trade, Err: err}, nil
	}

	if err := r.transition(ctx, sig, domain.SignalExecuted, trade.ID, "", ""); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	r.metrics.SignalsExecuted.WithLabelValues(string(domain.SignalExecuted)).Inc()
	logFields["trade_id"] = trade.ID
	logFields["paper"] = paper
	r.logger.Info(ctx, "Signal executed", logFields)
	return &Outcome{Status: domain.SignalExecuted, Trade: trade}, nil
}

// Skip marks a pending signal as skipped by its user. A signal already
// claimed for execution cannot be skipped.
func (r *Router) Skip(ctx context.Context, sig *domain.Signal) error {
	if sig.Status != domain.SignalPending {
		return fmt.Errorf("Skip failed: %w", ports.ErrSignalTerminal)
	}
	return r.transition(ctx, sig, domain.SignalSkipped, "", "", SkipUser)
}

// claim takes the signal from pending to executing in the store, so only one
// caller goes on to place an order for it.
func (r *Router) claim(ctx context.Context, sig *domain.Signal) error {
	if err := r.store.ClaimSignal(ctx, sig.ID, r.clock.Now()); err != nil {
		return err
	}
	sig.Status = domain.SignalExecuting
	return nil
}

// transition moves sig from its current status to status.
func (r *Router) transition(ctx context.Context, sig *domain.Signal, status domain.SignalStatus, tradeID, errMsg, skip string) error {
	err := r.store.TransitionSignal(ctx, ports.SignalTransition{
		SignalID:     sig.ID,
		From:         sig.Status,
		Status:       status,
		TradeID:      tradeID,
		ErrorMessage: errMsg,
		SkipReason:   skip,
		At:           r.clock.Now(),
	})
	if err != nil {
		return err
	}
	sig.Status = status
	sig.TradeID = tradeID
	sig.ErrorMessage = errMsg
	sig.SkipReason = skip
	return nil
}

func tradeID(t *domain.Trade) string {
	if t == nil {
		return ""
	}
	return t.ID
}

// open sizes and records the trade for sig, and places its entry order in
// live mode. The returned trade is non-nil whenever a row was written.
func (r *Router) open(ctx context.Context, sig *domain.Signal, s *domain.ResearchSettings, paper bool) (*domain.Trade, error) {
	if sig.Price <= 0 {
		return nil, ports.ErrNoPrice
	}
	leverage, err := r.risk.Leverage(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
	}

	var client ports.ExchangeClient
	portfolio := 0.0
	if !paper {
		if r.clients == nil {
			return nil, ports.ErrNoCredentials
		}
		client, err = r.clients.ClientFor(ctx, sig.UserID)
		if err != nil {
			return nil, err
		}
		portfolio, err = r.portfolioValue(ctx, client)
		if err != nil {
			return nil, err
		}
	}

	notional := r.risk.PositionNotional(s, portfolio)
	qty := notional / sig.Price
	if s.MarginMode == domain.MarginModeMargin {
		qty *= float64(leverage)
	}

	now := r.clock.Now()
	side := domain.Long
	levels := r.risk.ExitLevels(sig.Price, side, s)
	t := &domain.Trade{
		ID:                        uuid.NewString(),
		UserID:                    sig.UserID,
		SignalID:                  sig.ID,
		Symbol:                    sig.Symbol,
		Exchange:                  s.Exchange,
		Side:                      side,
		OrderSide:                 side.EntrySide(),
		Quantity:                  qty,
		StopLossPrice:             levels.StopLoss,
		TakeProfitPrice:           levels.TakeProfit,
		TP1Price:                  levels.TP1,
		TP2Price:                  levels.TP2,
		TP1Percent:                levels.TP1Percent,
		TrailingStopPercent:       levels.TrailingStopPercent,
		TrailingActivationPercent: levels.TrailingActivation,
		InitialStopPercent:        levels.InitialStopPercent,
		MarginMode:                s.MarginMode,
		Leverage:                  leverage,
		Status:                    domain.TradeStatusPending,
		ClientOrderID:             ulid.Make().String(),
		PaperTrade:                paper,
		AutoTrade:                 sig.ExecutionMode == domain.ExecutionAuto,
		Tier:                      tier(sig.Confidence),
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if t.MarginMode == "" {
		t.MarginMode = domain.MarginModeSpot
	}

	if paper {
		t.EntryPrice = sig.Price
		t.Total = notional
		t.Status = domain.TradeStatusFilled
		t.FilledAt = &now
		if err := r.store.CreateTrade(ctx, t); err != nil {
			return nil, err
		}
		r.filled(ctx, t)
		return t, nil
	}

	formatted, err := r.lots.Format(ctx, client, t.Symbol, qty)
	if err != nil {
		return nil, err
	}
	t.Quantity, _ = strconv.ParseFloat(formatted, 64)
	if err := r.store.CreateTrade(ctx, t); err != nil {
		return nil, err
	}

	resp, err := client.PlaceOrder(ctx, ports.OrderRequest{
		Symbol:        t.Symbol,
		Side:          t.OrderSide,
		Type:          ports.OrderTypeMarket,
		Quantity:      formatted,
		ClientOrderID: t.ClientOrderID,
		MarginMode:    t.MarginMode,
		Leverage:      t.Leverage,
	})
	if err != nil {
		t.Status = domain.TradeStatusFailed
		t.ErrorMessage = err.Error()
		t.NotificationSent = true
		if uerr := r.store.UpdateTrade(ctx, t); uerr != nil {
			r.logger.Error(ctx, uerr, "Failed to mark trade failed", map[string]interface{}{"trade_id": t.ID})
		}
		return t, err
	}

	t.ExchangeOrderID = resp.OrderID
	if resp.Status == domain.OrderStatusFilled {
		price, ok := monitor.FillPrice(resp)
		if !ok {
			price = sig.Price
		}
		t.EntryPrice = price
		if resp.ExecutedQty > 0 {
			t.Quantity = resp.ExecutedQty
		}
		t.Total = resp.CumulativeQuote
		if t.Total == 0 {
			t.Total = price * t.Quantity
		}
		t.Fee = resp.Fee
		t.Status = domain.TradeStatusFilled
		t.FilledAt = &now
	}
	if err := r.store.UpdateTrade(ctx, t); err != nil {
		// The order is live; reconciliation cannot see it without the order id.
		return t, fmt.Errorf("order %s placed but not recorded: %w", resp.OrderID, err)
	}
	if t.Status == domain.TradeStatusFilled {
		r.filled(ctx, t)
	}
	return t, nil
}

// portfolioValue values the account's free balances in USD.
func (r *Router) portfolioValue(ctx context.Context, client ports.ExchangeClient) (float64, error) {
	balances, err := client.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	var syms []string
	for asset, qty := range balances {
		if qty > 0 && !risk.IsStablecoin(asset) {
			syms = append(syms, asset+"_USDT")
		}
	}
	byAsset := make(map[string]float64)
	if len(syms) > 0 && r.prices != nil {
		prices, err := r.prices.CurrentPrices(ctx, syms)
		if err != nil && !errors.Is(err, ports.ErrNoPrice) {
			r.logger.Warn(ctx, "Portfolio valued with partial prices", map[string]interface{}{"error": err.Error()})
		}
		for sym, p := range prices {
			byAsset[sym[:len(sym)-len("_USDT")]] = p
		}
	}
	return risk.PortfolioValue(balances, byAsset), nil
}

func (r *Router) filled(ctx context.Context, t *domain.Trade) {
	for _, h := range r.hooks {
		if err := h.OnFilled(ctx, t); err != nil {
			r.logger.Error(ctx, err, "Fill hook failed", map[string]interface{}{"trade_id": t.ID})
		}
	}
	mode := "Live"
	if t.PaperTrade {
		mode = "Paper"
	}
	err := r.notifier.Notify(ctx, ports.Notification{
		UserID:    t.UserID,
		Title:     fmt.Sprintf("%s trade opened: %s", mode, t.Symbol),
		Message:   fmt.Sprintf("Bought %.8g %s at %.8g", t.Quantity, t.Symbol, t.EntryPrice),
		EventType: ports.EventOrderFilled,
		Priority:  ports.PriorityNormal,
		Context:   map[string]interface{}{"trade_id": t.ID, "signal_id": t.SignalID, "paper": t.PaperTrade},
	})
	if err != nil {
		r.logger.Warn(ctx, "Notification not accepted", map[string]interface{}{"trade_id": t.ID, "error": err.Error()})
		return
	}
	if err := r.store.MarkNotified(ctx, t.ID); err != nil {
		r.logger.Error(ctx, err, "Failed to mark trade notified", map[string]interface{}{"trade_id": t.ID})
		return
	}
	t.NotificationSent = true
}

func (r *Router) notifyFailure(ctx context.Context, sig *domain.Signal, cause error) {
	err := r.notifier.Notify(ctx, ports.Notification{
		UserID:    sig.UserID,
		Title:     fmt.Sprintf("Execution failed: %s", sig.Symbol),
		Message:   cause.Error(),
		EventType: ports.EventExecutionFailed,
		Priority:  ports.PriorityHigh,
		Context:   map[string]interface{}{"signal_id": sig.ID},
	})
	if err != nil {
		r.logger.Warn(ctx, "Notification not accepted", map[string]interface{}{"signal_id": sig.ID, "error": err.Error()})
	}
}

// tier buckets a signal by confidence.
func tier(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.65:
		return "medium"
	default:
		return "low"
	}
}
