package api

import (
	"time"

	"researchEngine/internal/domain"
)

type signalEvent struct {
	Type   string     `json:"type"`
	Signal signalView `json:"signal"`
}

type signalView struct {
	ID            string                     `json:"id"`
	UserID        string                     `json:"user_id"`
	Symbol        string                     `json:"symbol"`
	Price         float64                    `json:"price"`
	RSI           map[string]float64         `json:"rsi"`
	PriceDropPct  float64                    `json:"price_drop_pct"`
	VolumeRatio   float64                    `json:"volume_ratio"`
	Confidence    float64                    `json:"confidence"`
	Breakdown     domain.ConfidenceBreakdown `json:"breakdown"`
	Indicators    domain.IndicatorSnapshot   `json:"indicators"`
	Reasons       []string                   `json:"reasons"`
	Status        domain.SignalStatus        `json:"status"`
	ExecutionMode domain.ExecutionMode       `json:"execution_mode"`
	PaperLiveMode domain.PaperLiveMode       `json:"paper_live_mode"`
	TradeID       string                     `json:"trade_id,omitempty"`
	ErrorMessage  string                     `json:"error_message,omitempty"`
	SkipReason    string                     `json:"skip_reason,omitempty"`
	ExpiresAt     time.Time                  `json:"expires_at"`
	CreatedAt     time.Time                  `json:"created_at"`
}

func toSignalView(s *domain.Signal) signalView {
	return signalView{
		ID:            s.ID,
		UserID:        s.UserID,
		Symbol:        s.Symbol,
		Price:         s.Price,
		RSI:           s.RSI,
		PriceDropPct:  s.PriceDropPct,
		VolumeRatio:   s.VolumeRatio,
		Confidence:    s.Confidence,
		Breakdown:     s.Breakdown,
		Indicators:    s.Indicators,
		Reasons:       s.Reasons,
		Status:        s.Status,
		ExecutionMode: s.ExecutionMode,
		PaperLiveMode: s.PaperLiveMode,
		TradeID:       s.TradeID,
		ErrorMessage:  s.ErrorMessage,
		SkipReason:    s.SkipReason,
		ExpiresAt:     s.ExpiresAt,
		CreatedAt:     s.CreatedAt,
	}
}

// settingsView is both the response and the PUT body for a user's settings.
type settingsView struct {
	Enabled               bool                   `json:"enabled"`
	Exchange              domain.ExchangeName    `json:"exchange"`
	ExecutionMode         domain.ExecutionMode   `json:"execution_mode"`
	PaperLiveMode         domain.PaperLiveMode   `json:"paper_live_mode"`
	SymbolDiscovery       domain.SymbolDiscovery `json:"symbol_discovery"`
	Watchlist             []string               `json:"watchlist"`
	DiscoveryLimit        int                    `json:"discovery_limit"`
	MinConfidence         float64                `json:"min_confidence"`
	StopLossPct           float64                `json:"stop_loss_pct"`
	TakeProfitPct         float64                `json:"take_profit_pct"`
	TrailingStopPct       float64                `json:"trailing_stop_pct"`
	TrailingActivationPct float64                `json:"trailing_activation_pct"`
	InitialStopPct        float64                `json:"initial_stop_pct"`
	TP1Pct                float64                `json:"tp1_pct"`
	TP1SellPercent        float64                `json:"tp1_sell_percent"`
	PositionSizePct       float64                `json:"position_size_pct"`
	MaxPositions          int                    `json:"max_positions"`
	MarginMode            domain.MarginMode      `json:"margin_mode"`
	Leverage              int                    `json:"leverage"`
}

func toSettingsView(s *domain.ResearchSettings) settingsView {
	return settingsView{
		Enabled:               s.Enabled,
		Exchange:              s.Exchange,
		ExecutionMode:         s.ExecutionMode,
		PaperLiveMode:         s.PaperLiveMode,
		SymbolDiscovery:       s.SymbolDiscovery,
		Watchlist:             s.Watchlist,
		DiscoveryLimit:        s.DiscoveryLimit,
		MinConfidence:         s.MinConfidence,
		StopLossPct:           s.StopLossPct,
		TakeProfitPct:         s.TakeProfitPct,
		TrailingStopPct:       s.TrailingStopPct,
		TrailingActivationPct: s.TrailingActivationPct,
		InitialStopPct:        s.InitialStopPct,
		TP1Pct:                s.TP1Pct,
		TP1SellPercent:        s.TP1SellPercent,
		PositionSizePct:       s.PositionSizePct,
		MaxPositions:          s.MaxPositions,
		MarginMode:            s.MarginMode,
		Leverage:              s.Leverage,
	}
}

// apply copies the view onto dst, keeping dst's identity and timestamps.
func (v settingsView) apply(dst *domain.ResearchSettings) {
	dst.Enabled = v.Enabled
	dst.Exchange = v.Exchange
	dst.ExecutionMode = v.ExecutionMode
	dst.PaperLiveMode = v.PaperLiveMode
	dst.SymbolDiscovery = v.SymbolDiscovery
	dst.Watchlist = v.Watchlist
	dst.DiscoveryLimit = v.DiscoveryLimit
	dst.MinConfidence = v.MinConfidence
	dst.StopLossPct = v.StopLossPct
	dst.TakeProfitPct = v.TakeProfitPct
	dst.TrailingStopPct = v.TrailingStopPct
	dst.TrailingActivationPct = v.TrailingActivationPct
	dst.InitialStopPct = v.InitialStopPct
	dst.TP1Pct = v.TP1Pct
	dst.TP1SellPercent = v.TP1SellPercent
	dst.PositionSizePct = v.PositionSizePct
	dst.MaxPositions = v.MaxPositions
	dst.MarginMode = v.MarginMode
	dst.Leverage = v.Leverage
}

type tradeView struct {
	ID                string              `json:"id"`
	SignalID          string              `json:"signal_id,omitempty"`
	Symbol            string              `json:"symbol"`
	Exchange          domain.ExchangeName `json:"exchange"`
	Side              domain.PositionSide `json:"side"`
	Quantity          float64             `json:"quantity"`
	EntryPrice        float64             `json:"entry_price"`
	Status            domain.TradeStatus  `json:"status"`
	PaperTrade        bool                `json:"paper_trade"`
	ClosePrice        *float64            `json:"close_price,omitempty"`
	CloseReason       domain.CloseReason  `json:"close_reason,omitempty"`
	RealizedPnL       float64             `json:"realized_pnl"`
	LowConfidenceFill bool                `json:"low_confidence_fill"`
	ClosedAt          *time.Time          `json:"closed_at,omitempty"`
}

func toTradeView(t *domain.Trade) tradeView {
	return tradeView{
		ID:                t.ID,
		SignalID:          t.SignalID,
		Symbol:            t.Symbol,
		Exchange:          t.Exchange,
		Side:              t.Side,
		Quantity:          t.Quantity,
		EntryPrice:        t.EntryPrice,
		Status:            t.Status,
		PaperTrade:        t.PaperTrade,
		ClosePrice:        t.ClosePrice,
		CloseReason:       t.CloseReason,
		RealizedPnL:       t.RealizedPnL,
		LowConfidenceFill: t.LowConfidenceFill,
		ClosedAt:          t.ClosedAt,
	}
}

type credentialsRequest struct {
	Exchange  domain.ExchangeName `json:"exchange" binding:"required"`
	APIKey    string              `json:"api_key" binding:"required"`
	APISecret string              `json:"api_secret" binding:"required"`
}

type closeRequest struct {
	Price float64 `json:"price"`
}
