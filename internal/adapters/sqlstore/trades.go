package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

const tradeColumns = `id, user_id, signal_id, parent_trade_id, symbol, exchange, side, order_side,
	quantity, filled_price, total, fee, stop_loss_price, take_profit_price,
	tp1_price, tp2_price, tp1_pct, quantity_sold_tp1, tp1_hit_at,
	trailing_stop_pct, trailing_activation_pct, initial_stop_pct, trailing_activated,
	trailing_stop_price, trailing_stop_highest, margin_mode, leverage, status,
	exchange_order_id, client_order_id, exit_order_id, exit_reason, exit_quantity,
	paper_trade, auto_trade, tier,
	closed_at, close_price, close_reason, realized_pnl, low_confidence_fill, error_message,
	notification_sent, version, created_at, filled_at, updated_at`

var tradeInsert = `INSERT INTO trades (` + tradeColumns + `) VALUES (` +
	strings.TrimSuffix(strings.Repeat("?, ", 47), ", ") + `)`

// tradeRow holds the nullable columns of a trade during a scan.
type tradeRow struct {
	signalID, parentID, orderID, clientOrderID    sql.NullString
	exitOrderID, exitReason                       sql.NullString
	tier, closeReason, errorMessage               sql.NullString
	stopLoss, takeProfit, tp1, tp2                sql.NullFloat64
	trailingPct, activationPct, initialStopPct    sql.NullFloat64
	trailingStop, trailingExtreme, closePrice     sql.NullFloat64
	tp1HitAt, closedAt, filledAt                  sql.NullTime
	exchange, side, orderSide, marginMode, status string
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var r tradeRow
	err := s.Scan(
		&t.ID, &t.UserID, &r.signalID, &r.parentID, &t.Symbol, &r.exchange, &r.side, &r.orderSide,
		&t.Quantity, &t.EntryPrice, &t.Total, &t.Fee, &r.stopLoss, &r.takeProfit,
		&r.tp1, &r.tp2, &t.TP1Percent, &t.QuantitySoldTP1, &r.tp1HitAt,
		&r.trailingPct, &r.activationPct, &r.initialStopPct, &t.TrailingActivated,
		&r.trailingStop, &r.trailingExtreme, &r.marginMode, &t.Leverage, &r.status,
		&r.orderID, &r.clientOrderID, &r.exitOrderID, &r.exitReason, &t.ExitQuantity,
		&t.PaperTrade, &t.AutoTrade, &r.tier,
		&r.closedAt, &r.closePrice, &r.closeReason, &t.RealizedPnL, &t.LowConfidenceFill, &r.errorMessage,
		&t.NotificationSent, &t.Version, &t.CreatedAt, &r.filledAt, &t.UpdatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.SignalID = r.signalID.String
	t.ParentTradeID = r.parentID.String
	t.Exchange = domain.ExchangeName(r.exchange)
	t.Side = domain.PositionSide(r.side)
	t.OrderSide = domain.OrderSide(r.orderSide)
	t.StopLossPrice = floatPtr(r.stopLoss)
	t.TakeProfitPrice = floatPtr(r.takeProfit)
	t.TP1Price = floatPtr(r.tp1)
	t.TP2Price = floatPtr(r.tp2)
	t.TP1HitAt = timePtr(r.tp1HitAt)
	t.TrailingStopPercent = floatPtr(r.trailingPct)
	t.TrailingActivationPercent = floatPtr(r.activationPct)
	t.InitialStopPercent = floatPtr(r.initialStopPct)
	t.TrailingStopPrice = floatPtr(r.trailingStop)
	t.TrailingExtreme = floatPtr(r.trailingExtreme)
	t.MarginMode = domain.MarginMode(r.marginMode)
	t.Status = domain.TradeStatus(r.status)
	t.ExchangeOrderID = r.orderID.String
	t.ClientOrderID = r.clientOrderID.String
	t.ExitOrderID = r.exitOrderID.String
	t.ExitReason = domain.CloseReason(r.exitReason.String)
	t.Tier = r.tier.String
	t.ClosedAt = timePtr(r.closedAt)
	t.ClosePrice = floatPtr(r.closePrice)
	t.CloseReason = domain.CloseReason(r.closeReason.String)
	t.ErrorMessage = r.errorMessage.String
	t.FilledAt = timePtr(r.filledAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func (s *Store) queryTrades(ctx context.Context, op, where string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := s.query(ctx, `SELECT `+tradeColumns+` FROM trades `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("%s failed to scan trade: %w", op, err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s failed iterating trade rows: %w", op, err)
	}
	return trades, nil
}

// CreateTrade saves a new trade. ID is assigned when empty.
func (s *Store) CreateTrade(ctx context.Context, t *domain.Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err := s.exec(ctx, tradeInsert,
		t.ID, t.UserID, nullString(t.SignalID), nullString(t.ParentTradeID), t.Symbol, string(t.Exchange),
		string(t.Side), string(t.OrderSide),
		t.Quantity, t.EntryPrice, t.Total, t.Fee, nullFloat(t.StopLossPrice), nullFloat(t.TakeProfitPrice),
		nullFloat(t.TP1Price), nullFloat(t.TP2Price), t.TP1Percent, t.QuantitySoldTP1, nullTime(t.TP1HitAt),
		nullFloat(t.TrailingStopPercent), nullFloat(t.TrailingActivationPercent), nullFloat(t.InitialStopPercent),
		t.TrailingActivated, nullFloat(t.TrailingStopPrice), nullFloat(t.TrailingExtreme),
		string(t.MarginMode), t.Leverage, string(t.Status),
		nullString(t.ExchangeOrderID), nullString(t.ClientOrderID),
		nullString(t.ExitOrderID), nullString(string(t.ExitReason)), t.ExitQuantity,
		t.PaperTrade, t.AutoTrade, nullString(t.Tier),
		nullTime(t.ClosedAt), nullFloat(t.ClosePrice), nullString(string(t.CloseReason)), t.RealizedPnL,
		t.LowConfidenceFill, nullString(t.ErrorMessage),
		t.NotificationSent, t.Version, t.CreatedAt.UTC(), nullTime(t.FilledAt), t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert trade for symbol %s: %w", t.Symbol, err)
	}
	s.logger.Debug(ctx, "Trade created", map[string]interface{}{"trade_id": t.ID, "symbol": t.Symbol, "status": string(t.Status)})
	return nil
}

// UpdateTrade writes all mutable fields if the stored version still matches.
func (s *Store) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	const query = `
	UPDATE trades
	SET quantity = ?, filled_price = ?, total = ?, fee = ?, stop_loss_price = ?, take_profit_price = ?,
	    tp1_price = ?, tp2_price = ?, tp1_pct = ?, quantity_sold_tp1 = ?, tp1_hit_at = ?,
	    trailing_stop_pct = ?, trailing_activation_pct = ?, initial_stop_pct = ?, trailing_activated = ?,
	    trailing_stop_price = ?, trailing_stop_highest = ?, status = ?, exchange_order_id = ?,
	    exit_order_id = ?, exit_reason = ?, exit_quantity = ?,
	    low_confidence_fill = ?, realized_pnl = ?, error_message = ?, notification_sent = ?,
	    filled_at = ?, version = version + 1, updated_at = ?
	WHERE id = ? AND version = ? AND closed_at IS NULL`

	now := time.Now().UTC()
	res, err := s.exec(ctx, query,
		t.Quantity, t.EntryPrice, t.Total, t.Fee, nullFloat(t.StopLossPrice), nullFloat(t.TakeProfitPrice),
		nullFloat(t.TP1Price), nullFloat(t.TP2Price), t.TP1Percent, t.QuantitySoldTP1, nullTime(t.TP1HitAt),
		nullFloat(t.TrailingStopPercent), nullFloat(t.TrailingActivationPercent), nullFloat(t.InitialStopPercent),
		t.TrailingActivated, nullFloat(t.TrailingStopPrice), nullFloat(t.TrailingExtreme),
		string(t.Status), nullString(t.ExchangeOrderID),
		nullString(t.ExitOrderID), nullString(string(t.ExitReason)), t.ExitQuantity,
		t.LowConfidenceFill, t.RealizedPnL, nullString(t.ErrorMessage), t.NotificationSent,
		nullTime(t.FilledAt), now,
		t.ID, t.Version)
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w", t.ID, err)
	}
	if err := affected(res, fmt.Errorf("trade %s version %d: %w", t.ID, t.Version, ports.ErrConflict)); err != nil {
		return err
	}
	t.Version++
	t.UpdatedAt = now
	s.logger.Debug(ctx, "Trade updated", map[string]interface{}{"trade_id": t.ID, "status": string(t.Status), "version": t.Version})
	return nil
}

// CloseTrade sets the terminal fields of an unclosed trade.
func (s *Store) CloseTrade(ctx context.Context, upd ports.TradeCloseUpdate) error {
	const query = `
	UPDATE trades
	SET status = ?, closed_at = ?, close_price = ?, close_reason = ?, realized_pnl = ?,
	    low_confidence_fill = ?, notification_sent = ?, exit_order_id = NULL, exit_reason = NULL,
	    version = version + 1, updated_at = ?
	WHERE id = ? AND closed_at IS NULL`

	res, err := s.exec(ctx, query,
		string(domain.TradeStatusClosed), upd.ClosedAt.UTC(), upd.ClosePrice, string(upd.CloseReason), upd.RealizedPnL,
		upd.LowConfidenceFill, upd.NotificationSent, time.Now().UTC(),
		upd.TradeID)
	if err != nil {
		return fmt.Errorf("failed to close trade %s: %w", upd.TradeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		existing, err := s.GetTrade(ctx, upd.TradeID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("trade %s: %w", upd.TradeID, ports.ErrNotFound)
		}
		return fmt.Errorf("trade %s: %w", upd.TradeID, ports.ErrAlreadyClosed)
	}
	s.logger.Debug(ctx, "Trade closed", map[string]interface{}{"trade_id": upd.TradeID, "reason": string(upd.CloseReason)})
	return nil
}

// GetTrade returns nil, nil when the trade does not exist.
func (s *Store) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	row := s.queryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade %s: %w", id, s.mapError(err))
	}
	return t, nil
}

// ListOpenTrades returns filled, unclosed trades with at least one exit rule.
func (s *Store) ListOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	return s.queryTrades(ctx, "ListOpenTrades", `
	WHERE status = ? AND closed_at IS NULL AND parent_trade_id IS NULL
	  AND (stop_loss_price IS NOT NULL OR take_profit_price IS NOT NULL OR tp1_price IS NOT NULL
	       OR tp2_price IS NOT NULL OR trailing_stop_pct IS NOT NULL)
	ORDER BY created_at, id`, string(domain.TradeStatusFilled))
}

// ListPendingOrders returns pending trades that carry an exchange order id.
func (s *Store) ListPendingOrders(ctx context.Context) ([]*domain.Trade, error) {
	return s.queryTrades(ctx, "ListPendingOrders", `
	WHERE status = ? AND exchange_order_id IS NOT NULL
	ORDER BY user_id, created_at, id`, string(domain.TradeStatusPending))
}

// CountOpenTrades counts a user's unclosed trades by paper flag. Entries
// still pending on the exchange count as open positions.
func (s *Store) CountOpenTrades(ctx context.Context, userID string, paper bool) (int, error) {
	const query = `
	SELECT COUNT(*) FROM trades
	WHERE user_id = ? AND paper_trade = ? AND status IN (?, ?) AND closed_at IS NULL AND parent_trade_id IS NULL`
	var n int
	row := s.queryRow(ctx, query, userID, paper, string(domain.TradeStatusPending), string(domain.TradeStatusFilled))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count open trades for user %s: %w", userID, s.mapError(err))
	}
	return n, nil
}

// ListUnnotified returns settled trades whose notification is outstanding.
func (s *Store) ListUnnotified(ctx context.Context, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryTrades(ctx, "ListUnnotified", `
	WHERE notification_sent = ? AND parent_trade_id IS NULL AND status <> ?
	ORDER BY updated_at, id LIMIT ?`, false, string(domain.TradeStatusPending), limit)
}

// MarkNotified flags a trade's notification as delivered.
func (s *Store) MarkNotified(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `UPDATE trades SET notification_sent = ? WHERE id = ?`, true, id)
	if err != nil {
		return fmt.Errorf("failed to mark trade %s notified: %w", id, err)
	}
	return affected(res, fmt.Errorf("trade %s: %w", id, ports.ErrNotFound))
}

// ListClosedTrades returns a user's closed trades since the given time, oldest first.
func (s *Store) ListClosedTrades(ctx context.Context, userID string, since time.Time) ([]*domain.Trade, error) {
	return s.queryTrades(ctx, "ListClosedTrades", `
	WHERE user_id = ? AND closed_at IS NOT NULL AND closed_at >= ? AND parent_trade_id IS NULL
	ORDER BY closed_at, id`, userID, since.UTC())
}
