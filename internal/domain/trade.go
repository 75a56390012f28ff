package domain

import "time"

// TradeStatus is the lifecycle state of a trade row.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusFilled    TradeStatus = "filled"
	TradeStatusCancelled TradeStatus = "cancelled"
	TradeStatusClosed    TradeStatus = "closed"
	TradeStatusFailed    TradeStatus = "failed"
)

// Trade represents one open or closed directional exposure. Optional price
// levels are nil when the rule is not configured.
type Trade struct {
	ID              string
	UserID          string
	SignalID        string
	ParentTradeID   string // Set on mirrored closing rows
	Symbol          string // Canonical symbol
	Exchange        ExchangeName
	Side            PositionSide
	OrderSide       OrderSide
	Quantity        float64
	EntryPrice      float64 // filled_price; zero until known
	Total           float64 // Quote notional of the fill
	Fee             float64
	StopLossPrice   *float64
	TakeProfitPrice *float64

	// Tiered exit
	TP1Price        *float64
	TP2Price        *float64
	TP1Percent      float64 // Share of quantity sold at TP1, in percent
	QuantitySoldTP1 float64
	TP1HitAt        *time.Time

	// Trailing stop. TrailingExtreme is the highest price seen for longs and the
	// lowest for shorts once the trailing stop is active.
	TrailingStopPercent       *float64
	TrailingActivationPercent *float64 // Delayed activation threshold; nil activates immediately
	InitialStopPercent        *float64 // Applies only before delayed activation
	TrailingActivated         bool
	TrailingStopPrice         *float64
	TrailingExtreme           *float64

	MarginMode      MarginMode
	Leverage        int
	Status          TradeStatus
	ExchangeOrderID string
	ClientOrderID   string
	ExitOrderID     string      // Client order id of an exit placed but not yet recorded
	ExitReason      CloseReason // What the in-flight exit is for
	ExitQuantity    float64
	PaperTrade      bool
	AutoTrade       bool
	Tier            string

	ClosedAt          *time.Time
	ClosePrice        *float64
	CloseReason       CloseReason
	RealizedPnL       float64
	LowConfidenceFill bool // Close price derived from entry price, not from an exchange fill
	ErrorMessage      string

	NotificationSent bool
	Version          int
	CreatedAt        time.Time
	FilledAt         *time.Time
	UpdatedAt        time.Time
}

// IsLong reports whether the trade profits from rising prices.
func (t *Trade) IsLong() bool {
	return t.Side != Short
}

// IsOpen reports whether the trade is filled and not yet closed.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusFilled && t.ClosedAt == nil
}

// RemainingQuantity is the quantity still held after any partial take-profit.
func (t *Trade) RemainingQuantity() float64 {
	rem := t.Quantity - t.QuantitySoldTP1
	if rem < 0 {
		return 0
	}
	return rem
}

// ExitInFlight reports whether an exit order was placed whose result is not
// yet recorded on the trade.
func (t *Trade) ExitInFlight() bool {
	return t.ExitOrderID != ""
}

// ClearExit forgets the in-flight exit order.
func (t *Trade) ClearExit() {
	t.ExitOrderID = ""
	t.ExitReason = ""
	t.ExitQuantity = 0
}

// TP1Hit reports whether the first take-profit tier already executed.
func (t *Trade) TP1Hit() bool {
	return t.TP1HitAt != nil
}

// HasExitRules reports whether at least one exit condition is configured.
func (t *Trade) HasExitRules() bool {
	return t.StopLossPrice != nil || t.TakeProfitPrice != nil || t.TP1Price != nil ||
		t.TP2Price != nil || t.TrailingStopPercent != nil
}

// HasTrailingStop reports whether a trailing stop is configured.
func (t *Trade) HasTrailingStop() bool {
	return t.TrailingStopPercent != nil && *t.TrailingStopPercent > 0
}

// UnrealizedPnLPercent returns the signed profit percentage at price.
func (t *Trade) UnrealizedPnLPercent(price float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	if t.IsLong() {
		return (price - t.EntryPrice) / t.EntryPrice * 100
	}
	return (t.EntryPrice - price) / t.EntryPrice * 100
}

// PnL returns the realized profit of closing quantity at price.
func (t *Trade) PnL(price, quantity float64) float64 {
	if t.IsLong() {
		return (price - t.EntryPrice) * quantity
	}
	return (t.EntryPrice - price) * quantity
}

// Float returns a pointer to v, for optional price fields.
func Float(v float64) *float64 {
	return &v
}
