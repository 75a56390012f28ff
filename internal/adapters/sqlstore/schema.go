package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// schema is shared by both engines. {{TS}} is replaced by the dialect's
// timestamp type.
const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	signal_id TEXT NULL,
	parent_trade_id TEXT NULL,
	symbol TEXT NOT NULL,
	exchange TEXT NOT NULL,
	side TEXT NOT NULL,
	order_side TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	filled_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	total DOUBLE PRECISION NOT NULL DEFAULT 0,
	fee DOUBLE PRECISION NOT NULL DEFAULT 0,
	stop_loss_price DOUBLE PRECISION NULL,
	take_profit_price DOUBLE PRECISION NULL,
	tp1_price DOUBLE PRECISION NULL,
	tp2_price DOUBLE PRECISION NULL,
	tp1_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	quantity_sold_tp1 DOUBLE PRECISION NOT NULL DEFAULT 0,
	tp1_hit_at {{TS}} NULL,
	trailing_stop_pct DOUBLE PRECISION NULL,
	trailing_activation_pct DOUBLE PRECISION NULL,
	initial_stop_pct DOUBLE PRECISION NULL,
	trailing_activated BOOLEAN NOT NULL DEFAULT FALSE,
	trailing_stop_price DOUBLE PRECISION NULL,
	trailing_stop_highest DOUBLE PRECISION NULL,
	margin_mode TEXT NOT NULL DEFAULT 'spot',
	leverage INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL,
	exchange_order_id TEXT NULL,
	client_order_id TEXT NULL,
	exit_order_id TEXT NULL,
	exit_reason TEXT NULL,
	exit_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
	paper_trade BOOLEAN NOT NULL DEFAULT FALSE,
	auto_trade BOOLEAN NOT NULL DEFAULT FALSE,
	tier TEXT NULL,
	closed_at {{TS}} NULL,
	close_price DOUBLE PRECISION NULL,
	close_reason TEXT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
	low_confidence_fill BOOLEAN NOT NULL DEFAULT FALSE,
	error_message TEXT NULL,
	notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
	version INTEGER NOT NULL DEFAULT 0,
	created_at {{TS}} NOT NULL,
	filled_at {{TS}} NULL,
	updated_at {{TS}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_open ON trades (status, closed_at);
CREATE INDEX IF NOT EXISTS idx_trades_user_closed ON trades (user_id, closed_at);
CREATE INDEX IF NOT EXISTS idx_trades_parent ON trades (parent_trade_id);

CREATE TABLE IF NOT EXISTS signals (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	rsi_1m DOUBLE PRECISION NULL,
	rsi_5m DOUBLE PRECISION NULL,
	rsi_15m DOUBLE PRECISION NULL,
	rsi_1h DOUBLE PRECISION NULL,
	price_drop_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	volume_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence DOUBLE PRECISION NOT NULL,
	breakdown TEXT NULL,
	indicators TEXT NULL,
	reasons TEXT NULL,
	status TEXT NOT NULL,
	execution_mode TEXT NOT NULL,
	paper_live_mode TEXT NOT NULL,
	trade_id TEXT NULL,
	error_message TEXT NULL,
	skip_reason TEXT NULL,
	expires_at {{TS}} NOT NULL,
	created_at {{TS}} NOT NULL,
	updated_at {{TS}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_user_created ON signals (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_signals_status_expires ON signals (status, expires_at);

CREATE TABLE IF NOT EXISTS research_settings (
	user_id TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT FALSE,
	exchange TEXT NOT NULL,
	execution_mode TEXT NOT NULL,
	paper_live_mode TEXT NOT NULL,
	symbol_discovery TEXT NOT NULL,
	watchlist TEXT NULL,
	discovery_limit INTEGER NOT NULL DEFAULT 20,
	min_confidence DOUBLE PRECISION NOT NULL,
	stop_loss_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	take_profit_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	trailing_stop_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	trailing_activation_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	initial_stop_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	tp1_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	tp1_sell_percent DOUBLE PRECISION NOT NULL DEFAULT 50,
	position_size_pct DOUBLE PRECISION NOT NULL,
	max_positions INTEGER NOT NULL,
	margin_mode TEXT NOT NULL DEFAULT 'spot',
	leverage INTEGER NOT NULL DEFAULT 1,
	created_at {{TS}} NOT NULL,
	updated_at {{TS}} NOT NULL
);

CREATE TABLE IF NOT EXISTS exchange_credentials (
	user_id TEXT PRIMARY KEY,
	exchange TEXT NOT NULL,
	api_key_encrypted TEXT NOT NULL,
	secret_encrypted TEXT NOT NULL,
	updated_at {{TS}} NOT NULL
);

CREATE TABLE IF NOT EXISTS margin_positions (
	id TEXT PRIMARY KEY,
	trade_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	leverage INTEGER NOT NULL,
	liquidation_price DOUBLE PRECISION NOT NULL,
	unrealized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	closed_at {{TS}} NULL,
	close_price DOUBLE PRECISION NULL,
	realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at {{TS}} NOT NULL,
	updated_at {{TS}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_margin_positions_trade ON margin_positions (trade_id, status);

CREATE TABLE IF NOT EXISTS auto_trade_outcomes (
	trade_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	win BOOLEAN NOT NULL,
	pnl DOUBLE PRECISION NOT NULL,
	closed_at {{TS}} NOT NULL
);

CREATE TABLE IF NOT EXISTS auto_trade_stats (
	user_id TEXT PRIMARY KEY,
	wins INTEGER NOT NULL DEFAULT 0,
	losses INTEGER NOT NULL DEFAULT 0,
	consecutive_losses INTEGER NOT NULL DEFAULT 0,
	total_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
	daily_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
	day TEXT NOT NULL DEFAULT '',
	updated_at {{TS}} NOT NULL
);
`

// Schema returns the DDL statements with timestampType substituted, one
// statement per element.
func Schema(timestampType string) []string {
	ddl := strings.ReplaceAll(schema, "{{TS}}", timestampType)
	parts := strings.Split(ddl, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// InitializeSchema creates every table that does not exist yet.
func (s *Store) InitializeSchema(ctx context.Context, timestampType string) error {
	for _, stmt := range Schema(timestampType) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}
