package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"researchEngine/internal/analytics"
	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

const defaultClosedWindow = 30 * 24 * time.Hour

func (s *Server) getSettings(c *gin.Context) {
	st, err := s.settings.Get(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.fail(c, "getSettings", err)
		return
	}
	c.JSON(http.StatusOK, toSettingsView(st))
}

func (s *Server) updateSettings(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("user_id")

	current, err := s.settings.Get(ctx, userID)
	if err != nil {
		s.fail(c, "updateSettings", err)
		return
	}
	// Absent fields keep their current value.
	view := toSettingsView(current)
	if err := c.ShouldBindJSON(&view); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	view.apply(current)
	if err := s.settings.Update(ctx, current); err != nil {
		s.fail(c, "updateSettings", err)
		return
	}
	c.JSON(http.StatusOK, toSettingsView(current))
}

func (s *Server) saveCredentials(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	err := s.settings.SaveCredentials(c.Request.Context(), c.Param("user_id"), req.Exchange, req.APIKey, req.APISecret)
	if err != nil {
		s.fail(c, "saveCredentials", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listSignals(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	status := domain.SignalStatus(c.Query("status"))

	sigs, err := s.store.ListSignals(c.Request.Context(), c.Param("user_id"), status, limit)
	if err != nil {
		s.fail(c, "listSignals", err)
		return
	}
	views := make([]signalView, 0, len(sigs))
	for _, sig := range sigs {
		views = append(views, toSignalView(sig))
	}
	c.JSON(http.StatusOK, gin.H{"signals": views})
}

// ownedSignal loads the path's signal and checks it belongs to the path's user.
func (s *Server) ownedSignal(c *gin.Context) (*domain.Signal, bool) {
	sig, err := s.store.GetSignal(c.Request.Context(), c.Param("id"))
	if err == nil && (sig == nil || sig.UserID != c.Param("user_id")) {
		err = fmt.Errorf("signal %s: %w", c.Param("id"), ports.ErrNotFound)
	}
	if err != nil {
		s.fail(c, "getSignal", err)
		return nil, false
	}
	return sig, true
}

// pendingSignal is ownedSignal plus the user's settings, rejecting signals
// that can no longer be acted on.
func (s *Server) pendingSignal(c *gin.Context) (*domain.Signal, *domain.ResearchSettings, bool) {
	sig, ok := s.ownedSignal(c)
	if !ok {
		return nil, nil, false
	}
	if sig.Status != domain.SignalPending {
		s.fail(c, "getSignal", fmt.Errorf("signal %s is %s: %w", sig.ID, sig.Status, ports.ErrSignalTerminal))
		return nil, nil, false
	}
	st, err := s.settings.Get(c.Request.Context(), sig.UserID)
	if err != nil {
		s.fail(c, "getSettings", err)
		return nil, nil, false
	}
	return sig, st, true
}

func (s *Server) confirmSignal(c *gin.Context) {
	sig, st, ok := s.pendingSignal(c)
	if !ok {
		return
	}
	out, err := s.signals.Execute(c.Request.Context(), sig, st)
	if err != nil {
		s.fail(c, "confirmSignal", err)
		return
	}
	c.JSON(http.StatusOK, outcomeBody(out.Status, out.SkipReason, out.Err, out.Trade))
}

func (s *Server) confirmViaBridge(c *gin.Context) {
	sig, st, ok := s.pendingSignal(c)
	if !ok {
		return
	}
	out, err := s.signals.ExecuteViaBridge(c.Request.Context(), s.bridge, sig, st)
	if err != nil {
		s.fail(c, "confirmViaBridge", err)
		return
	}
	c.JSON(http.StatusOK, outcomeBody(out.Status, out.SkipReason, out.Err, out.Trade))
}

func (s *Server) skipSignal(c *gin.Context) {
	sig, ok := s.ownedSignal(c)
	if !ok {
		return
	}
	if err := s.signals.Skip(c.Request.Context(), sig); err != nil {
		s.fail(c, "skipSignal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": domain.SignalSkipped})
}

func outcomeBody(status domain.SignalStatus, skip string, cause error, t *domain.Trade) gin.H {
	body := gin.H{"status": status}
	if skip != "" {
		body["skip_reason"] = skip
	}
	if cause != nil {
		body["error"] = cause.Error()
	}
	if t != nil {
		body["trade"] = toTradeView(t)
	}
	return body
}

// closedTrades loads the user's trades closed since the "since" query
// parameter, defaulting to the last thirty days.
func (s *Server) closedTrades(c *gin.Context) ([]*domain.Trade, bool) {
	since := time.Now().Add(-defaultClosedWindow)
	if raw := c.Query("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_request", "since must be RFC3339")
			return nil, false
		}
		since = ts
	}
	trades, err := s.store.ListClosedTrades(c.Request.Context(), c.Param("user_id"), since)
	if err != nil {
		s.fail(c, "listClosedTrades", err)
		return nil, false
	}
	return trades, true
}

func (s *Server) listClosedTrades(c *gin.Context) {
	trades, ok := s.closedTrades(c)
	if !ok {
		return
	}
	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, toTradeView(t))
	}
	c.JSON(http.StatusOK, gin.H{"trades": views})
}

func (s *Server) closeTrade(c *gin.Context) {
	ctx := c.Request.Context()
	var req closeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}
	if req.Price < 0 {
		respondError(c, http.StatusBadRequest, "invalid_request", "price must not be negative")
		return
	}

	t, err := s.store.GetTrade(ctx, c.Param("id"))
	if err == nil && (t == nil || t.UserID != c.Param("user_id")) {
		err = fmt.Errorf("trade %s: %w", c.Param("id"), ports.ErrNotFound)
	}
	if err != nil {
		s.fail(c, "closeTrade", err)
		return
	}

	res, err := s.closer.ForceClose(ctx, t.ID, domain.CloseReasonManual, req.Price)
	if err != nil {
		s.fail(c, "closeTrade", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trade_id":       res.TradeID,
		"reason":         res.Reason,
		"quantity":       res.Quantity,
		"price":          res.Price,
		"pnl":            res.PnL,
		"low_confidence": res.LowConfidence,
	})
}

func (s *Server) tradeStats(c *gin.Context) {
	trades, ok := s.closedTrades(c)
	if !ok {
		return
	}
	m := analytics.AnalyzePerformance(trades, 0)
	reasons := make(gin.H, len(m.ByReason))
	for r, rs := range m.ByReason {
		reasons[string(r)] = gin.H{"trades": rs.Trades, "pnl": rs.PnL}
	}
	c.JSON(http.StatusOK, gin.H{
		"total_trades":           m.TotalTrades,
		"winning_trades":         m.WinningTrades,
		"losing_trades":          m.LosingTrades,
		"win_rate":               m.WinRate,
		"total_pnl":              m.TotalProfit,
		"profit_factor":          m.ProfitFactor,
		"max_consecutive_wins":   m.MaxConsecutiveWins,
		"max_consecutive_losses": m.MaxConsecutiveLosses,
		"low_confidence_fills":   m.LowConfidenceFills,
		"by_reason":              reasons,
	})
}
