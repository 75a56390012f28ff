package ports

import (
	"context"
	"time"

	"researchEngine/internal/domain"
)

// TradeCloseUpdate carries the terminal fields written when a trade closes.
type TradeCloseUpdate struct {
	TradeID           string
	ClosePrice        float64
	CloseReason       domain.CloseReason
	ClosedAt          time.Time
	RealizedPnL       float64
	LowConfidenceFill bool
	NotificationSent  bool
}

// TradeRepository defines storage for trade rows.
type TradeRepository interface {
	// CreateTrade saves a new trade. ID is assigned when empty.
	CreateTrade(ctx context.Context, trade *domain.Trade) error
	// UpdateTrade writes all mutable fields guarded by trade.Version.
	// Returns ErrConflict if the row changed since it was read, and increments
	// trade.Version on success.
	UpdateTrade(ctx context.Context, trade *domain.Trade) error
	// CloseTrade sets the terminal close fields if closed_at is still NULL.
	// Returns ErrAlreadyClosed otherwise.
	CloseTrade(ctx context.Context, upd TradeCloseUpdate) error
	// GetTrade returns nil, nil when not found.
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
	// ListOpenTrades returns filled, unclosed trades with at least one exit rule.
	ListOpenTrades(ctx context.Context) ([]*domain.Trade, error)
	// ListPendingOrders returns pending trades that carry an exchange order id.
	ListPendingOrders(ctx context.Context) ([]*domain.Trade, error)
	// CountOpenTrades counts pending and filled, unclosed trades of a user by
	// paper flag.
	CountOpenTrades(ctx context.Context, userID string, paper bool) (int, error)
	// ListUnnotified returns trades whose state change has not been notified.
	ListUnnotified(ctx context.Context, limit int) ([]*domain.Trade, error)
	// MarkNotified flags a trade's notification as delivered.
	MarkNotified(ctx context.Context, id string) error
	// ListClosedTrades returns a user's closed trades, oldest first.
	// Mirrored closing rows are excluded.
	ListClosedTrades(ctx context.Context, userID string, since time.Time) ([]*domain.Trade, error)
}

// MarginRepository defines storage for margin positions.
type MarginRepository interface {
	CreateMarginPosition(ctx context.Context, pos *domain.MarginPosition) error
	// GetOpenByTrade returns nil, nil if the trade has no open margin position.
	GetOpenByTrade(ctx context.Context, tradeID string) (*domain.MarginPosition, error)
	ListOpenMarginPositions(ctx context.Context) ([]*domain.MarginPosition, error)
	UpdateMarginRisk(ctx context.Context, id string, unrealizedPnL, liquidationPrice float64) error
	// CloseMarginPosition closes an open position; closing twice returns ErrAlreadyClosed.
	CloseMarginPosition(ctx context.Context, id string, closePrice, realizedPnL float64, at time.Time) error
}

// SignalRepository defines storage for research signals.
type SignalRepository interface {
	CreateSignal(ctx context.Context, sig *domain.Signal) error
	// GetSignal returns nil, nil when not found.
	GetSignal(ctx context.Context, id string) (*domain.Signal, error)
	ListSignals(ctx context.Context, userID string, status domain.SignalStatus, limit int) ([]*domain.Signal, error)
	// ClaimSignal moves a pending signal to executing. Exactly one caller
	// wins; the others get ErrSignalTerminal.
	ClaimSignal(ctx context.Context, signalID string, at time.Time) error
	// TransitionSignal moves a signal in status upd.From (pending when empty)
	// to a terminal status. Returns ErrSignalTerminal if the signal is no
	// longer in that status.
	TransitionSignal(ctx context.Context, upd SignalTransition) error
	// ExpireSignals marks pending signals with expires_at <= now as expired.
	ExpireSignals(ctx context.Context, now time.Time) (int, error)
}

// SignalTransition carries a terminal status change.
type SignalTransition struct {
	SignalID     string
	From         domain.SignalStatus
	Status       domain.SignalStatus
	TradeID      string
	ErrorMessage string
	SkipReason   string
	At           time.Time
}

// SettingsRepository defines storage for per-user research settings.
type SettingsRepository interface {
	// GetSettings returns nil, nil when the user has no row yet.
	GetSettings(ctx context.Context, userID string) (*domain.ResearchSettings, error)
	UpsertSettings(ctx context.Context, s *domain.ResearchSettings) error
	ListEnabledSettings(ctx context.Context) ([]*domain.ResearchSettings, error)
}

// Credentials are a user's stored exchange keys, encrypted at rest.
type Credentials struct {
	UserID          string
	Exchange        domain.ExchangeName
	APIKeyEncrypted string
	SecretEncrypted string
	UpdatedAt       time.Time
}

// CredentialRepository defines storage for encrypted exchange credentials.
type CredentialRepository interface {
	// GetCredentials returns nil, nil when the user has none.
	GetCredentials(ctx context.Context, userID string) (*Credentials, error)
	UpsertCredentials(ctx context.Context, c *Credentials) error
}

// AutoTradeOutcome is the result of an auto-traded position.
type AutoTradeOutcome struct {
	UserID   string
	TradeID  string
	Symbol   string
	Win      bool
	PnL      float64
	ClosedAt time.Time
}

// AutoTradeStats summarizes a user's auto-trading results.
type AutoTradeStats struct {
	UserID            string
	Wins              int
	Losses            int
	ConsecutiveLosses int
	TotalPnL          float64
	DailyPnL          float64
	Day               string // YYYY-MM-DD of DailyPnL
	UpdatedAt         time.Time
}

// OutcomeRepository defines storage for auto-trade outcomes.
type OutcomeRepository interface {
	RecordOutcome(ctx context.Context, o AutoTradeOutcome) error
	// GetAutoTradeStats returns nil, nil when the user has no outcomes.
	GetAutoTradeStats(ctx context.Context, userID string) (*AutoTradeStats, error)
	UpsertAutoTradeStats(ctx context.Context, s *AutoTradeStats) error
}

// Store aggregates every repository a persistence adapter provides.
type Store interface {
	TradeRepository
	MarginRepository
	SignalRepository
	SettingsRepository
	CredentialRepository
	OutcomeRepository
	Close() error
}
