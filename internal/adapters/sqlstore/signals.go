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

const signalColumns = `id, user_id, symbol, price, rsi_1m, rsi_5m, rsi_15m, rsi_1h,
	price_drop_pct, volume_ratio, confidence, breakdown, indicators, reasons,
	status, execution_mode, paper_live_mode, trade_id, error_message, skip_reason,
	expires_at, created_at, updated_at`

var rsiTimeframes = []string{"1m", "5m", "15m", "1h"}

func rsiColumns(rsi map[string]float64) []interface{} {
	out := make([]interface{}, len(rsiTimeframes))
	for i, tf := range rsiTimeframes {
		if v, ok := rsi[tf]; ok {
			out[i] = sql.NullFloat64{Float64: v, Valid: true}
		} else {
			out[i] = sql.NullFloat64{}
		}
	}
	return out
}

func scanSignal(s scanner) (*domain.Signal, error) {
	sig := &domain.Signal{}
	var (
		rsi                               [4]sql.NullFloat64
		breakdown, indicators, reasons    sql.NullString
		tradeID, errorMessage, skipReason sql.NullString
		status, execMode, paperLive       string
	)
	err := s.Scan(&sig.ID, &sig.UserID, &sig.Symbol, &sig.Price, &rsi[0], &rsi[1], &rsi[2], &rsi[3],
		&sig.PriceDropPct, &sig.VolumeRatio, &sig.Confidence, &breakdown, &indicators, &reasons,
		&status, &execMode, &paperLive, &tradeID, &errorMessage, &skipReason,
		&sig.ExpiresAt, &sig.CreatedAt, &sig.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sig.RSI = make(map[string]float64, len(rsiTimeframes))
	for i, tf := range rsiTimeframes {
		if rsi[i].Valid {
			sig.RSI[tf] = rsi[i].Float64
		}
	}
	if err := fromJSON(breakdown, &sig.Breakdown); err != nil {
		return nil, fmt.Errorf("signal %s breakdown: %w", sig.ID, err)
	}
	if err := fromJSON(indicators, &sig.Indicators); err != nil {
		return nil, fmt.Errorf("signal %s indicators: %w", sig.ID, err)
	}
	if err := fromJSON(reasons, &sig.Reasons); err != nil {
		return nil, fmt.Errorf("signal %s reasons: %w", sig.ID, err)
	}
	sig.Status = domain.SignalStatus(status)
	sig.ExecutionMode = domain.ExecutionMode(execMode)
	sig.PaperLiveMode = domain.PaperLiveMode(paperLive)
	sig.TradeID = tradeID.String
	sig.ErrorMessage = errorMessage.String
	sig.SkipReason = skipReason.String
	sig.ExpiresAt = sig.ExpiresAt.UTC()
	sig.CreatedAt = sig.CreatedAt.UTC()
	sig.UpdatedAt = sig.UpdatedAt.UTC()
	return sig, nil
}

// CreateSignal saves a new signal. ID is assigned when empty.
func (s *Store) CreateSignal(ctx context.Context, sig *domain.Signal) error {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	if sig.UpdatedAt.IsZero() {
		sig.UpdatedAt = sig.CreatedAt
	}
	if sig.Status == "" {
		sig.Status = domain.SignalPending
	}
	breakdown, err := toJSON(sig.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode signal breakdown: %w", err)
	}
	indicators, err := toJSON(sig.Indicators)
	if err != nil {
		return fmt.Errorf("failed to encode signal indicators: %w", err)
	}
	reasons, err := toJSON(sig.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode signal reasons: %w", err)
	}

	args := []interface{}{sig.ID, sig.UserID, sig.Symbol, sig.Price}
	args = append(args, rsiColumns(sig.RSI)...)
	args = append(args, sig.PriceDropPct, sig.VolumeRatio, sig.Confidence, breakdown, indicators, reasons,
		string(sig.Status), string(sig.ExecutionMode), string(sig.PaperLiveMode),
		nullString(sig.TradeID), nullString(sig.ErrorMessage), nullString(sig.SkipReason),
		sig.ExpiresAt.UTC(), sig.CreatedAt.UTC(), sig.UpdatedAt.UTC())

	query := `INSERT INTO signals (` + signalColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert signal for symbol %s: %w", sig.Symbol, err)
	}
	s.logger.Debug(ctx, "Signal created", map[string]interface{}{
		"signal_id":  sig.ID,
		"symbol":     sig.Symbol,
		"confidence": sig.Confidence,
	})
	return nil
}

// GetSignal returns nil, nil when the signal does not exist.
func (s *Store) GetSignal(ctx context.Context, id string) (*domain.Signal, error) {
	row := s.queryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query signal %s: %w", id, s.mapError(err))
	}
	return sig, nil
}

// ListSignals returns a user's newest signals. An empty status matches all.
func (s *Store) ListSignals(ctx context.Context, userID string, status domain.SignalStatus, limit int) ([]*domain.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + signalColumns + ` FROM signals WHERE user_id = ?`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals for user %s: %w", userID, err)
	}
	defer rows.Close()

	signals := make([]*domain.Signal, 0)
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, sig)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal rows: %w", err)
	}
	return signals, nil
}

// ClaimSignal moves a pending signal to executing.
func (s *Store) ClaimSignal(ctx context.Context, signalID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	const query = `
	UPDATE signals SET status = ?, updated_at = ?
	WHERE id = ? AND status = ?`
	res, err := s.exec(ctx, query, string(domain.SignalExecuting), at.UTC(), signalID, string(domain.SignalPending))
	if err != nil {
		return fmt.Errorf("failed to claim signal %s: %w", signalID, err)
	}
	return s.signalChanged(ctx, signalID, res)
}

// TransitionSignal moves a signal in upd.From to a terminal status.
func (s *Store) TransitionSignal(ctx context.Context, upd ports.SignalTransition) error {
	if !upd.Status.IsTerminal() {
		return fmt.Errorf("signal %s: cannot transition to %q", upd.SignalID, upd.Status)
	}
	from := upd.From
	if from == "" {
		from = domain.SignalPending
	}
	at := upd.At
	if at.IsZero() {
		at = time.Now()
	}
	const query = `
	UPDATE signals
	SET status = ?, trade_id = ?, error_message = ?, skip_reason = ?, updated_at = ?
	WHERE id = ? AND status = ?`
	res, err := s.exec(ctx, query,
		string(upd.Status), nullString(upd.TradeID), nullString(upd.ErrorMessage), nullString(upd.SkipReason), at.UTC(),
		upd.SignalID, string(from))
	if err != nil {
		return fmt.Errorf("failed to transition signal %s: %w", upd.SignalID, err)
	}
	return s.signalChanged(ctx, upd.SignalID, res)
}

// signalChanged maps a conditional signal update that touched no row to
// ErrNotFound or ErrSignalTerminal.
func (s *Store) signalChanged(ctx context.Context, signalID string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	existing, err := s.GetSignal(ctx, signalID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("signal %s: %w", signalID, ports.ErrNotFound)
	}
	return fmt.Errorf("signal %s is %s: %w", signalID, existing.Status, ports.ErrSignalTerminal)
}

// ExpireSignals marks overdue pending signals as expired.
func (s *Store) ExpireSignals(ctx context.Context, now time.Time) (int, error) {
	const query = `
	UPDATE signals SET status = ?, updated_at = ?
	WHERE status = ? AND expires_at <= ?`
	res, err := s.exec(ctx, query, string(domain.SignalExpired), now.UTC(), string(domain.SignalPending), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire signals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
