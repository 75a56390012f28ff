package domain

import "time"

// ExecutionMode controls what happens after a signal is generated.
type ExecutionMode string

const (
	ExecutionAuto    ExecutionMode = "auto"    // Execute immediately
	ExecutionConfirm ExecutionMode = "confirm" // Wait for explicit confirmation
	ExecutionManual  ExecutionMode = "manual"  // Notify only
)

// PaperLiveMode selects simulated or real order placement.
type PaperLiveMode string

const (
	ModePaper PaperLiveMode = "paper"
	ModeLive  PaperLiveMode = "live"
)

// SymbolDiscovery selects which symbols a user's scan covers.
type SymbolDiscovery string

const (
	DiscoveryWatchlist SymbolDiscovery = "watchlist"
	DiscoveryTopVolume SymbolDiscovery = "top_volume"
)

// ResearchSettings is the per-user engine configuration.
type ResearchSettings struct {
	UserID          string
	Enabled         bool
	Exchange        ExchangeName
	ExecutionMode   ExecutionMode
	PaperLiveMode   PaperLiveMode
	SymbolDiscovery SymbolDiscovery
	Watchlist       []string
	DiscoveryLimit  int
	MinConfidence   float64

	// Exit defaults, in percent
	StopLossPct           float64
	TakeProfitPct         float64
	TrailingStopPct       float64
	TrailingActivationPct float64
	InitialStopPct        float64
	TP1Pct                float64 // Distance of TP1 from entry; zero disables tiered exit
	TP1SellPercent        float64

	PositionSizePct float64
	MaxPositions    int
	MarginMode      MarginMode
	Leverage        int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultSettings returns the settings a user gets on first read.
func DefaultSettings(userID string) *ResearchSettings {
	return &ResearchSettings{
		UserID:                userID,
		Enabled:               false,
		Exchange:              ExchangeBinance,
		ExecutionMode:         ExecutionConfirm,
		PaperLiveMode:         ModePaper,
		SymbolDiscovery:       DiscoveryWatchlist,
		Watchlist:             []string{"BTC_USDT", "ETH_USDT", "SOL_USDT"},
		DiscoveryLimit:        20,
		MinConfidence:         0.6,
		StopLossPct:           3,
		TakeProfitPct:         6,
		TrailingStopPct:       0,
		TrailingActivationPct: 0,
		InitialStopPct:        0,
		TP1Pct:                0,
		TP1SellPercent:        50,
		PositionSizePct:       5,
		MaxPositions:          3,
		MarginMode:            MarginModeSpot,
		Leverage:              1,
	}
}
