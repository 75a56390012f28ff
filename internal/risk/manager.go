package risk

import (
	"fmt"
	"strings"

	"researchEngine/internal/domain"
)

// Config holds configuration for position sizing.
type Config struct {
	PaperNotional   float64 // Fixed quote notional of a paper trade
	MinLiveNotional float64 // Floor of a live trade's quote notional
	MaxLeverage     int
}

// DefaultConfig returns the standard sizing limits.
func DefaultConfig() Config {
	return Config{PaperNotional: 100, MinLiveNotional: 5, MaxLeverage: 10}
}

// Manager sizes positions and derives their exit levels from user settings.
type Manager struct {
	config Config
}

// NewManager creates a new sizing manager. Zero fields take defaults.
func NewManager(config Config) *Manager {
	def := DefaultConfig()
	if config.PaperNotional <= 0 {
		config.PaperNotional = def.PaperNotional
	}
	if config.MinLiveNotional <= 0 {
		config.MinLiveNotional = def.MinLiveNotional
	}
	if config.MaxLeverage <= 0 {
		config.MaxLeverage = def.MaxLeverage
	}
	return &Manager{config: config}
}

// ExitLevels are the exit rules attached to a new trade.
type ExitLevels struct {
	StopLoss            *float64
	TakeProfit          *float64
	TP1                 *float64
	TP2                 *float64
	TP1Percent          float64
	TrailingStopPercent *float64
	TrailingActivation  *float64
	InitialStopPercent  *float64
}

var stablecoins = map[string]bool{"USDT": true, "USDC": true, "USD": true, "BUSD": true, "FDUSD": true, "DAI": true}

// IsStablecoin reports whether asset is valued at 1 USD.
func IsStablecoin(asset string) bool {
	return stablecoins[strings.ToUpper(asset)]
}

// PortfolioValue values balances in USD. Stablecoins count at 1; other
// assets use prices keyed by asset, and assets without a price are ignored.
func PortfolioValue(balances, prices map[string]float64) float64 {
	var total float64
	for asset, qty := range balances {
		if qty <= 0 {
			continue
		}
		if IsStablecoin(asset) {
			total += qty
			continue
		}
		if p, ok := prices[asset]; ok && p > 0 {
			total += qty * p
		}
	}
	return total
}

// PositionNotional returns the quote amount to commit: a fixed notional in
// paper mode, or positionSizePct of the portfolio (never below the live
// floor) in live mode.
func (m *Manager) PositionNotional(s *domain.ResearchSettings, portfolioValue float64) float64 {
	if s.PaperLiveMode != domain.ModeLive {
		return m.config.PaperNotional
	}
	notional := portfolioValue * s.PositionSizePct / 100
	if notional < m.config.MinLiveNotional {
		notional = m.config.MinLiveNotional
	}
	return notional
}

// Leverage validates the leverage of settings for its margin mode.
func (m *Manager) Leverage(s *domain.ResearchSettings) (int, error) {
	if s.MarginMode != domain.MarginModeMargin {
		return 1, nil
	}
	lev := s.Leverage
	if lev <= 0 {
		lev = 1
	}
	if lev > m.config.MaxLeverage {
		return 0, fmt.Errorf("leverage %d exceeds maximum allowed %d", lev, m.config.MaxLeverage)
	}
	return lev, nil
}

// ExitLevels derives the stop-loss, take-profit, tiered and trailing rules
// of a trade entered at entry.
func (m *Manager) ExitLevels(entry float64, side domain.PositionSide, s *domain.ResearchSettings) ExitLevels {
	var out ExitLevels
	if s.StopLossPct > 0 {
		out.StopLoss = domain.Float(GetStopLoss(entry, s.StopLossPct, side))
	}
	if s.TakeProfitPct > 0 {
		out.TakeProfit = domain.Float(GetTakeProfit(entry, s.TakeProfitPct, side))
	}
	if s.TP1Pct > 0 && s.TP1SellPercent > 0 && s.TP1SellPercent < 100 {
		out.TP1 = domain.Float(GetTakeProfit(entry, s.TP1Pct, side))
		out.TP1Percent = s.TP1SellPercent
		if out.TakeProfit != nil {
			out.TP2 = domain.Float(*out.TakeProfit)
		}
	}
	if s.TrailingStopPct > 0 {
		out.TrailingStopPercent = domain.Float(s.TrailingStopPct)
		if s.TrailingActivationPct > 0 {
			out.TrailingActivation = domain.Float(s.TrailingActivationPct)
			if s.InitialStopPct > 0 {
				out.InitialStopPercent = domain.Float(s.InitialStopPct)
			}
		}
	}
	return out
}

// GetStopLoss calculates the stop loss price pct percent away from entry.
func GetStopLoss(entry, pct float64, side domain.PositionSide) float64 {
	if side == domain.Short {
		return entry * (1 + pct/100)
	}
	return entry * (1 - pct/100)
}

// GetTakeProfit calculates the take profit price pct percent away from entry.
func GetTakeProfit(entry, pct float64, side domain.PositionSide) float64 {
	if side == domain.Short {
		return entry * (1 - pct/100)
	}
	return entry * (1 + pct/100)
}
