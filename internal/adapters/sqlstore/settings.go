package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

const settingsColumns = `user_id, enabled, exchange, execution_mode, paper_live_mode, symbol_discovery,
	watchlist, discovery_limit, min_confidence, stop_loss_pct, take_profit_pct,
	trailing_stop_pct, trailing_activation_pct, initial_stop_pct, tp1_pct, tp1_sell_percent,
	position_size_pct, max_positions, margin_mode, leverage, created_at, updated_at`

func scanSettings(s scanner) (*domain.ResearchSettings, error) {
	rs := &domain.ResearchSettings{}
	var exchange, execMode, paperLive, discovery, marginMode string
	var watchlist sql.NullString
	err := s.Scan(&rs.UserID, &rs.Enabled, &exchange, &execMode, &paperLive, &discovery,
		&watchlist, &rs.DiscoveryLimit, &rs.MinConfidence, &rs.StopLossPct, &rs.TakeProfitPct,
		&rs.TrailingStopPct, &rs.TrailingActivationPct, &rs.InitialStopPct, &rs.TP1Pct, &rs.TP1SellPercent,
		&rs.PositionSizePct, &rs.MaxPositions, &marginMode, &rs.Leverage, &rs.CreatedAt, &rs.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(watchlist, &rs.Watchlist); err != nil {
		return nil, fmt.Errorf("settings %s watchlist: %w", rs.UserID, err)
	}
	rs.Exchange = domain.ExchangeName(exchange)
	rs.ExecutionMode = domain.ExecutionMode(execMode)
	rs.PaperLiveMode = domain.PaperLiveMode(paperLive)
	rs.SymbolDiscovery = domain.SymbolDiscovery(discovery)
	rs.MarginMode = domain.MarginMode(marginMode)
	rs.CreatedAt = rs.CreatedAt.UTC()
	rs.UpdatedAt = rs.UpdatedAt.UTC()
	return rs, nil
}

// GetSettings returns nil, nil when the user has no settings row.
func (s *Store) GetSettings(ctx context.Context, userID string) (*domain.ResearchSettings, error) {
	row := s.queryRow(ctx, `SELECT `+settingsColumns+` FROM research_settings WHERE user_id = ?`, userID)
	rs, err := scanSettings(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query settings for user %s: %w", userID, s.mapError(err))
	}
	return rs, nil
}

// UpsertSettings inserts or replaces a user's settings row.
func (s *Store) UpsertSettings(ctx context.Context, rs *domain.ResearchSettings) error {
	now := time.Now().UTC()
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = now
	}
	rs.UpdatedAt = now
	watchlist := rs.Watchlist
	if watchlist == nil {
		watchlist = []string{}
	}
	encoded, err := toJSON(watchlist)
	if err != nil {
		return fmt.Errorf("failed to encode watchlist: %w", err)
	}

	const query = `
	INSERT INTO research_settings (` + settingsColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		enabled = excluded.enabled,
		exchange = excluded.exchange,
		execution_mode = excluded.execution_mode,
		paper_live_mode = excluded.paper_live_mode,
		symbol_discovery = excluded.symbol_discovery,
		watchlist = excluded.watchlist,
		discovery_limit = excluded.discovery_limit,
		min_confidence = excluded.min_confidence,
		stop_loss_pct = excluded.stop_loss_pct,
		take_profit_pct = excluded.take_profit_pct,
		trailing_stop_pct = excluded.trailing_stop_pct,
		trailing_activation_pct = excluded.trailing_activation_pct,
		initial_stop_pct = excluded.initial_stop_pct,
		tp1_pct = excluded.tp1_pct,
		tp1_sell_percent = excluded.tp1_sell_percent,
		position_size_pct = excluded.position_size_pct,
		max_positions = excluded.max_positions,
		margin_mode = excluded.margin_mode,
		leverage = excluded.leverage,
		updated_at = excluded.updated_at`

	_, err = s.exec(ctx, query,
		rs.UserID, rs.Enabled, string(rs.Exchange), string(rs.ExecutionMode), string(rs.PaperLiveMode),
		string(rs.SymbolDiscovery), encoded, rs.DiscoveryLimit, rs.MinConfidence, rs.StopLossPct, rs.TakeProfitPct,
		rs.TrailingStopPct, rs.TrailingActivationPct, rs.InitialStopPct, rs.TP1Pct, rs.TP1SellPercent,
		rs.PositionSizePct, rs.MaxPositions, string(rs.MarginMode), rs.Leverage, rs.CreatedAt, rs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert settings for user %s: %w", rs.UserID, err)
	}
	return nil
}

// ListEnabledSettings returns the settings of every user with research enabled.
func (s *Store) ListEnabledSettings(ctx context.Context) ([]*domain.ResearchSettings, error) {
	rows, err := s.query(ctx, `SELECT `+settingsColumns+` FROM research_settings WHERE enabled = ? ORDER BY user_id`, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled settings: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.ResearchSettings, 0)
	for rows.Next() {
		rs, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settings: %w", err)
		}
		out = append(out, rs)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings rows: %w", err)
	}
	return out, nil
}

// GetCredentials returns nil, nil when the user stored no keys.
func (s *Store) GetCredentials(ctx context.Context, userID string) (*ports.Credentials, error) {
	const query = `
	SELECT user_id, exchange, api_key_encrypted, secret_encrypted, updated_at
	FROM exchange_credentials WHERE user_id = ?`
	c := &ports.Credentials{}
	var exchange string
	err := s.queryRow(ctx, query, userID).Scan(&c.UserID, &exchange, &c.APIKeyEncrypted, &c.SecretEncrypted, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query credentials for user %s: %w", userID, s.mapError(err))
	}
	c.Exchange = domain.ExchangeName(exchange)
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

// UpsertCredentials stores already encrypted keys.
func (s *Store) UpsertCredentials(ctx context.Context, c *ports.Credentials) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	const query = `
	INSERT INTO exchange_credentials (user_id, exchange, api_key_encrypted, secret_encrypted, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		exchange = excluded.exchange,
		api_key_encrypted = excluded.api_key_encrypted,
		secret_encrypted = excluded.secret_encrypted,
		updated_at = excluded.updated_at`
	if _, err := s.exec(ctx, query, c.UserID, string(c.Exchange), c.APIKeyEncrypted, c.SecretEncrypted, c.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to upsert credentials for user %s: %w", c.UserID, err)
	}
	return nil
}

// RecordOutcome stores one auto-trade result. A trade is recorded at most once.
func (s *Store) RecordOutcome(ctx context.Context, o ports.AutoTradeOutcome) error {
	const query = `
	INSERT INTO auto_trade_outcomes (trade_id, user_id, symbol, win, pnl, closed_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.exec(ctx, query, o.TradeID, o.UserID, o.Symbol, o.Win, o.PnL, o.ClosedAt.UTC()); err != nil {
		return fmt.Errorf("failed to record outcome for trade %s: %w", o.TradeID, err)
	}
	return nil
}

// GetAutoTradeStats returns nil, nil when the user has no stats row.
func (s *Store) GetAutoTradeStats(ctx context.Context, userID string) (*ports.AutoTradeStats, error) {
	const query = `
	SELECT user_id, wins, losses, consecutive_losses, total_pnl, daily_pnl, day, updated_at
	FROM auto_trade_stats WHERE user_id = ?`
	st := &ports.AutoTradeStats{}
	err := s.queryRow(ctx, query, userID).Scan(&st.UserID, &st.Wins, &st.Losses, &st.ConsecutiveLosses,
		&st.TotalPnL, &st.DailyPnL, &st.Day, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query auto-trade stats for user %s: %w", userID, s.mapError(err))
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

// UpsertAutoTradeStats writes a user's counters.
func (s *Store) UpsertAutoTradeStats(ctx context.Context, st *ports.AutoTradeStats) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	const query = `
	INSERT INTO auto_trade_stats (user_id, wins, losses, consecutive_losses, total_pnl, daily_pnl, day, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		wins = excluded.wins,
		losses = excluded.losses,
		consecutive_losses = excluded.consecutive_losses,
		total_pnl = excluded.total_pnl,
		daily_pnl = excluded.daily_pnl,
		day = excluded.day,
		updated_at = excluded.updated_at`
	_, err := s.exec(ctx, query, st.UserID, st.Wins, st.Losses, st.ConsecutiveLosses,
		st.TotalPnL, st.DailyPnL, st.Day, st.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert auto-trade stats for user %s: %w", st.UserID, err)
	}
	return nil
}
