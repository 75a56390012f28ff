package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

const marginColumns = `id, trade_id, user_id, symbol, side, entry_price, quantity, leverage,
	liquidation_price, unrealized_pnl, status, closed_at, close_price, realized_pnl, created_at, updated_at`

func scanMarginPosition(s scanner) (*domain.MarginPosition, error) {
	p := &domain.MarginPosition{}
	var side, status string
	var closedAt sql.NullTime
	var closePrice sql.NullFloat64
	err := s.Scan(&p.ID, &p.TradeID, &p.UserID, &p.Symbol, &side, &p.EntryPrice, &p.Quantity, &p.Leverage,
		&p.LiquidationPrice, &p.UnrealizedPnL, &status, &closedAt, &closePrice, &p.RealizedPnL,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Side = domain.PositionSide(side)
	p.Status = domain.MarginPositionStatus(status)
	p.ClosedAt = timePtr(closedAt)
	p.ClosePrice = floatPtr(closePrice)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// CreateMarginPosition saves a new margin position. ID is assigned when empty.
func (s *Store) CreateMarginPosition(ctx context.Context, p *domain.MarginPosition) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.MarginStatusOpen
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	query := `INSERT INTO margin_positions (` + marginColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, query, p.ID, p.TradeID, p.UserID, p.Symbol, string(p.Side), p.EntryPrice, p.Quantity,
		p.Leverage, p.LiquidationPrice, p.UnrealizedPnL, string(p.Status), nullTime(p.ClosedAt),
		nullFloat(p.ClosePrice), p.RealizedPnL, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert margin position for trade %s: %w", p.TradeID, err)
	}
	return nil
}

// GetOpenByTrade returns nil, nil when the trade has no open margin position.
func (s *Store) GetOpenByTrade(ctx context.Context, tradeID string) (*domain.MarginPosition, error) {
	row := s.queryRow(ctx, `SELECT `+marginColumns+` FROM margin_positions WHERE trade_id = ? AND status = ?`,
		tradeID, string(domain.MarginStatusOpen))
	p, err := scanMarginPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query margin position for trade %s: %w", tradeID, s.mapError(err))
	}
	return p, nil
}

func (s *Store) ListOpenMarginPositions(ctx context.Context) ([]*domain.MarginPosition, error) {
	rows, err := s.query(ctx, `SELECT `+marginColumns+` FROM margin_positions WHERE status = ? ORDER BY created_at, id`,
		string(domain.MarginStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to query open margin positions: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.MarginPosition, 0)
	for rows.Next() {
		p, err := scanMarginPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan margin position: %w", err)
		}
		out = append(out, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating margin position rows: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateMarginRisk(ctx context.Context, id string, unrealizedPnL, liquidationPrice float64) error {
	const query = `
	UPDATE margin_positions SET unrealized_pnl = ?, liquidation_price = ?, updated_at = ?
	WHERE id = ? AND status = ?`
	res, err := s.exec(ctx, query, unrealizedPnL, liquidationPrice, time.Now().UTC(), id, string(domain.MarginStatusOpen))
	if err != nil {
		return fmt.Errorf("failed to update margin position %s: %w", id, err)
	}
	return affected(res, fmt.Errorf("open margin position %s: %w", id, ports.ErrNotFound))
}

// CloseMarginPosition closes an open position exactly once.
func (s *Store) CloseMarginPosition(ctx context.Context, id string, closePrice, realizedPnL float64, at time.Time) error {
	const query = `
	UPDATE margin_positions
	SET status = ?, closed_at = ?, close_price = ?, realized_pnl = ?, unrealized_pnl = 0, updated_at = ?
	WHERE id = ? AND status = ?`
	res, err := s.exec(ctx, query, string(domain.MarginStatusClosed), at.UTC(), closePrice, realizedPnL, at.UTC(),
		id, string(domain.MarginStatusOpen))
	if err != nil {
		return fmt.Errorf("failed to close margin position %s: %w", id, err)
	}
	return affected(res, fmt.Errorf("margin position %s: %w", id, ports.ErrAlreadyClosed))
}
