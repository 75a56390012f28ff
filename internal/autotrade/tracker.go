// Package autotrade keeps per-user results of automatically executed trades.
package autotrade

import (
	"context"
	"fmt"
	"sync"

	"researchEngine/internal/ports"
)

// Tracker records auto-trade outcomes and maintains running counters.
type Tracker struct {
	mu     sync.Mutex // Serializes read-modify-write of stats rows
	store  ports.OutcomeRepository
	clock  ports.Clock
	logger ports.Logger
}

// NewTracker creates a Tracker.
func NewTracker(store ports.OutcomeRepository, clock ports.Clock, logger ports.Logger) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("outcome repository is required for auto-trade tracker")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for auto-trade tracker")
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Tracker{store: store, clock: clock, logger: logger}, nil
}

// Record stores o and folds it into the user's stats.
func (t *Tracker) Record(ctx context.Context, o ports.AutoTradeOutcome) error {
	if o.ClosedAt.IsZero() {
		o.ClosedAt = t.clock.Now()
	}
	if err := t.store.RecordOutcome(ctx, o); err != nil {
		return fmt.Errorf("record outcome failed: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	stats, err := t.store.GetAutoTradeStats(ctx, o.UserID)
	if err != nil {
		return fmt.Errorf("load auto-trade stats failed: %w", err)
	}
	if stats == nil {
		stats = &ports.AutoTradeStats{UserID: o.UserID}
	}
	Apply(stats, o)
	stats.UpdatedAt = t.clock.Now()
	if err := t.store.UpsertAutoTradeStats(ctx, stats); err != nil {
		return fmt.Errorf("save auto-trade stats failed: %w", err)
	}

	t.logger.Debug(ctx, "Auto-trade outcome recorded", map[string]interface{}{
		"user_id":            o.UserID,
		"trade_id":           o.TradeID,
		"win":                o.Win,
		"consecutive_losses": stats.ConsecutiveLosses,
	})
	return nil
}

// Stats returns the user's counters; a user without outcomes gets zeros.
func (t *Tracker) Stats(ctx context.Context, userID string) (*ports.AutoTradeStats, error) {
	stats, err := t.store.GetAutoTradeStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load auto-trade stats failed: %w", err)
	}
	if stats == nil {
		stats = &ports.AutoTradeStats{UserID: userID}
	}
	return stats, nil
}

// Apply folds one outcome into stats. Daily P&L resets when the outcome's
// UTC day differs from the recorded one.
func Apply(stats *ports.AutoTradeStats, o ports.AutoTradeOutcome) {
	if o.Win {
		stats.Wins++
		stats.ConsecutiveLosses = 0
	} else {
		stats.Losses++
		stats.ConsecutiveLosses++
	}
	stats.TotalPnL += o.PnL

	day := o.ClosedAt.UTC().Format("2006-01-02")
	if stats.Day != day {
		stats.Day = day
		stats.DailyPnL = 0
	}
	stats.DailyPnL += o.PnL
}
