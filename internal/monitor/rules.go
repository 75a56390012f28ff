package monitor

import "researchEngine/internal/domain"

// Action is the outcome of evaluating a trade against one price.
type Action int

const (
	ActionNone      Action = iota
	ActionUpdate           // Trailing state changed; persist it
	ActionPartialTP        // Sell the first take-profit tier
	ActionClose            // Close the remaining quantity
)

// Decision is what a rule evaluation asks the monitor to do.
type Decision struct {
	Action   Action
	Reason   domain.CloseReason
	Quantity float64
}

func crossedAgainst(t *domain.Trade, price, level float64) bool {
	if t.IsLong() {
		return price <= level
	}
	return price >= level
}

func crossedInFavor(t *domain.Trade, price, level float64) bool {
	if t.IsLong() {
		return price >= level
	}
	return price <= level
}

// improves reports whether candidate is strictly more favorable than current.
func improves(t *domain.Trade, candidate, current float64) bool {
	if t.IsLong() {
		return candidate > current
	}
	return candidate < current
}

func closeAll(t *domain.Trade, reason domain.CloseReason) Decision {
	return Decision{Action: ActionClose, Reason: reason, Quantity: t.RemainingQuantity()}
}

// EvaluateExits applies the static stop-loss and the tiered take-profit
// rules in order. The stop-loss always wins; a first-tier fill ends the
// evaluation for this price.
func EvaluateExits(t *domain.Trade, price float64) Decision {
	if price <= 0 || !t.IsOpen() {
		return Decision{}
	}
	if t.StopLossPrice != nil && crossedAgainst(t, price, *t.StopLossPrice) {
		return closeAll(t, domain.CloseReasonStopLoss)
	}

	if t.TP1Price != nil && !t.TP1Hit() && t.TP1Percent > 0 && crossedInFavor(t, price, *t.TP1Price) {
		qty := t.Quantity * t.TP1Percent / 100
		if rem := t.RemainingQuantity(); qty > rem {
			qty = rem
		}
		if qty > 0 {
			return Decision{Action: ActionPartialTP, Quantity: qty}
		}
	}

	target := t.TakeProfitPrice
	reason := domain.CloseReasonTakeProfit
	if t.TP1Hit() {
		reason = domain.CloseReasonTakeProfit2
		if t.TP2Price != nil {
			target = t.TP2Price
		}
	}
	if target != nil && crossedInFavor(t, price, *target) {
		return closeAll(t, reason)
	}
	return Decision{}
}

func trailStop(t *domain.Trade, extreme float64) float64 {
	pct := *t.TrailingStopPercent / 100
	if t.IsLong() {
		return extreme * (1 - pct)
	}
	return extreme * (1 + pct)
}

// InitialStopPrice is the pre-activation stop of a delayed trailing stop.
func InitialStopPrice(t *domain.Trade) (float64, bool) {
	if t.InitialStopPercent == nil || *t.InitialStopPercent <= 0 || t.EntryPrice <= 0 {
		return 0, false
	}
	pct := *t.InitialStopPercent / 100
	if t.IsLong() {
		return t.EntryPrice * (1 - pct), true
	}
	return t.EntryPrice * (1 + pct), true
}

// EvaluateTrailing advances the trailing stop of t at price, mutating its
// trailing fields. The trailing extreme and stop never move against the
// position.
func EvaluateTrailing(t *domain.Trade, price float64) Decision {
	if price <= 0 || !t.IsOpen() || !t.HasTrailingStop() {
		return Decision{}
	}
	if t.StopLossPrice != nil && crossedAgainst(t, price, *t.StopLossPrice) {
		return closeAll(t, domain.CloseReasonStopLoss)
	}

	if !t.TrailingActivated {
		delayed := t.TrailingActivationPercent != nil && *t.TrailingActivationPercent > 0
		if delayed && t.UnrealizedPnLPercent(price) < *t.TrailingActivationPercent {
			if stop, ok := InitialStopPrice(t); ok && crossedAgainst(t, price, stop) {
				return closeAll(t, domain.CloseReasonStopLoss)
			}
			return Decision{}
		}
		t.TrailingActivated = true
		t.TrailingExtreme = domain.Float(price)
		t.TrailingStopPrice = domain.Float(trailStop(t, price))
		return Decision{Action: ActionUpdate}
	}

	changed := false
	if t.TrailingExtreme == nil || improves(t, price, *t.TrailingExtreme) {
		t.TrailingExtreme = domain.Float(price)
		changed = true
	}
	if stop := trailStop(t, *t.TrailingExtreme); t.TrailingStopPrice == nil || improves(t, stop, *t.TrailingStopPrice) {
		t.TrailingStopPrice = domain.Float(stop)
		changed = true
	}

	if crossedAgainst(t, price, *t.TrailingStopPrice) {
		return closeAll(t, domain.CloseReasonTrailingStop)
	}
	if changed {
		return Decision{Action: ActionUpdate}
	}
	return Decision{}
}
