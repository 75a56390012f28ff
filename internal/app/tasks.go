package app

import (
	"context"
	"fmt"

	"researchEngine/internal/domain"
	"researchEngine/internal/monitor"
	"researchEngine/internal/ports"
)

// drainNotifications resends notifications for trades whose state change was
// never accepted by the dispatcher.
func (s *Service) drainNotifications(ctx context.Context) TaskReport {
	rep := TaskReport{}
	trades, err := s.store.ListUnnotified(ctx, s.drainBatch)
	if err != nil {
		rep.Err = fmt.Errorf("list unnotified trades failed: %w", err)
		return rep
	}
	for _, t := range trades {
		rep.Checked++
		if err := s.notifier.Notify(ctx, tradeNotification(t)); err != nil {
			// Dispatcher still unavailable; the rest would fail the same way.
			s.logger.Warn(ctx, "Notification backlog not accepted", map[string]interface{}{
				"op": TaskNotifications, "trade_id": t.ID, "error": err.Error(),
			})
			rep.Errors++
			break
		}
		if err := s.store.MarkNotified(ctx, t.ID); err != nil {
			s.logger.Error(ctx, err, "Failed to mark trade notified", map[string]interface{}{"op": TaskNotifications, "trade_id": t.ID})
			rep.Errors++
			continue
		}
		rep.Changed++
	}
	return rep
}

// tradeNotification describes a trade's latest state change.
func tradeNotification(t *domain.Trade) ports.Notification {
	ctxFields := map[string]interface{}{
		"trade_id": t.ID,
		"symbol":   t.Symbol,
		"paper":    t.PaperTrade,
	}
	mode := "Live"
	if t.PaperTrade {
		mode = "Paper"
	}
	n := ports.Notification{UserID: t.UserID, Priority: ports.PriorityNormal, Context: ctxFields}
	switch {
	case t.ClosedAt != nil:
		price := 0.0
		if t.ClosePrice != nil {
			price = *t.ClosePrice
		}
		n.EventType = ports.EventPositionClosed
		n.Priority = ports.PriorityHigh
		n.Title = fmt.Sprintf("Position closed: %s", t.Symbol)
		n.Message = fmt.Sprintf("%s at %.8g (P&L %.2f)", monitor.ReasonText(t.CloseReason), price, t.RealizedPnL)
		ctxFields["close_reason"] = string(t.CloseReason)
		ctxFields["pnl"] = t.RealizedPnL
	case t.Status == domain.TradeStatusCancelled:
		n.EventType = ports.EventOrderCancelled
		n.Title = fmt.Sprintf("Order cancelled: %s", t.Symbol)
		n.Message = fmt.Sprintf("%s order for %s was %s", mode, t.Symbol, t.ErrorMessage)
	case t.Status == domain.TradeStatusFailed:
		n.EventType = ports.EventExecutionFailed
		n.Priority = ports.PriorityHigh
		n.Title = fmt.Sprintf("Order failed: %s", t.Symbol)
		n.Message = t.ErrorMessage
	default:
		n.EventType = ports.EventOrderFilled
		n.Title = fmt.Sprintf("%s trade opened: %s", mode, t.Symbol)
		n.Message = fmt.Sprintf("%s %.8g %s at %.8g", t.OrderSide, t.Quantity, t.Symbol, t.EntryPrice)
	}
	return n
}

// expireSignals moves overdue pending signals to expired.
func (s *Service) expireSignals(ctx context.Context) TaskReport {
	n, err := s.store.ExpireSignals(ctx, s.clock.Now())
	if err != nil {
		return TaskReport{Err: fmt.Errorf("expire signals failed: %w", err)}
	}
	if n > 0 {
		s.metrics.SignalsExpired.Add(float64(n))
		s.logger.Debug(ctx, "Signals expired", map[string]interface{}{"op": TaskExpiry, "count": n})
	}
	return TaskReport{Checked: n, Changed: n}
}
