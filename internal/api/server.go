// Package api exposes the engine's user-facing HTTP and websocket surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"researchEngine/internal/domain"
	"researchEngine/internal/execution"
	"researchEngine/internal/metrics"
	"researchEngine/internal/monitor"
	"researchEngine/internal/ports"
)

// SettingsService reads and writes per-user configuration.
type SettingsService interface {
	Get(ctx context.Context, userID string) (*domain.ResearchSettings, error)
	Update(ctx context.Context, st *domain.ResearchSettings) error
	SaveCredentials(ctx context.Context, userID string, exchange domain.ExchangeName, apiKey, secret string) error
}

// SignalRouter acts on pending signals.
type SignalRouter interface {
	Execute(ctx context.Context, sig *domain.Signal, settings *domain.ResearchSettings) (*execution.Outcome, error)
	Skip(ctx context.Context, sig *domain.Signal) error
	ExecuteViaBridge(ctx context.Context, bridge ports.ExecutionBridge, sig *domain.Signal, s *domain.ResearchSettings) (*execution.Outcome, error)
}

// TradeCloser closes open trades on request.
type TradeCloser interface {
	ForceClose(ctx context.Context, tradeID string, reason domain.CloseReason, price float64) (*monitor.CloseResult, error)
}

// Store is the read side the handlers need.
type Store interface {
	GetSignal(ctx context.Context, id string) (*domain.Signal, error)
	ListSignals(ctx context.Context, userID string, status domain.SignalStatus, limit int) ([]*domain.Signal, error)
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
	ListClosedTrades(ctx context.Context, userID string, since time.Time) ([]*domain.Trade, error)
}

// Config holds the dependencies of a Server. Bridge and Metrics are optional.
type Config struct {
	Settings SettingsService
	Router   SignalRouter
	Closer   TradeCloser
	Store    Store
	Hub      *Hub
	Bridge   ports.ExecutionBridge
	Metrics  *metrics.Metrics
	Logger   ports.Logger
}

// Server is the gin HTTP server.
type Server struct {
	Router *gin.Engine

	settings SettingsService
	signals  SignalRouter
	closer   TradeCloser
	store    Store
	hub      *Hub
	bridge   ports.ExecutionBridge
	metrics  *metrics.Metrics
	logger   ports.Logger
	http     *http.Server
}

// NewServer builds the server and registers its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for API server")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("settings service is required for API server")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("signal router is required for API server")
	}
	if cfg.Closer == nil {
		return nil, fmt.Errorf("trade closer is required for API server")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required for API server")
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	s := &Server{
		Router:   gin.New(),
		settings: cfg.Settings,
		signals:  cfg.Router,
		closer:   cfg.Closer,
		store:    cfg.Store,
		hub:      cfg.Hub,
		bridge:   cfg.Bridge,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	s.Router.Use(gin.Recovery())
	s.routes()
	return s, nil
}

// Hub returns the websocket hub signals are broadcast through.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.Router.GET("/ws", s.hub.serve)

	users := s.Router.Group("/api/users/:user_id")
	users.GET("/settings", s.getSettings)
	users.PUT("/settings", s.updateSettings)
	users.PUT("/credentials", s.saveCredentials)
	users.GET("/signals", s.listSignals)
	users.POST("/signals/:id/confirm", s.confirmSignal)
	users.POST("/signals/:id/skip", s.skipSignal)
	users.POST("/signals/:id/confirm-chat", s.confirmViaBridge)
	users.GET("/trades/closed", s.listClosedTrades)
	users.GET("/trades/stats", s.tradeStats)
	users.POST("/trades/:id/close", s.closeTrade)
}

// Start serves HTTP on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.Router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "API server listening", map[string]interface{}{"addr": addr})
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		return nil
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "subscribers": s.hub.Len()})
}

func respondError(c *gin.Context, status int, code string, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "error": msg})
}

// fail maps a domain error to an HTTP response.
func (s *Server) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ports.ErrSignalTerminal), errors.Is(err, ports.ErrAlreadyClosed),
		errors.Is(err, ports.ErrConflict):
		respondError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, ports.ErrInvalidRequest):
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ports.ErrFeatureDisabled):
		respondError(c, http.StatusServiceUnavailable, "feature_disabled", err.Error())
	case errors.Is(err, ports.ErrNoPrice):
		respondError(c, http.StatusServiceUnavailable, "no_price", err.Error())
	default:
		s.logger.Error(c.Request.Context(), err, op+" failed", map[string]interface{}{"path": c.FullPath()})
		respondError(c, http.StatusInternalServerError, "internal", "internal error")
	}
}
