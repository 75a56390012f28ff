// Package settings manages per-user research settings and exchange
// credentials.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"researchEngine/internal/crypto"
	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
	"researchEngine/internal/symbols"
)

// Store is the persistence the service needs.
type Store interface {
	ports.SettingsRepository
	ports.CredentialRepository
}

// Service reads and validates user settings.
type Service struct {
	store    Store
	vault    *crypto.Vault
	provider ports.ClientProvider
	clock    ports.Clock
	logger   ports.Logger
}

// NewService creates a Service. vault and provider may be nil when
// credential updates are not served.
func NewService(store Store, vault *crypto.Vault, provider ports.ClientProvider, clock ports.Clock, logger ports.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required for settings service")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for settings service")
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Service{store: store, vault: vault, provider: provider, clock: clock, logger: logger}, nil
}

// Get returns the user's settings, creating the defaults on first read.
func (s *Service) Get(ctx context.Context, userID string) (*domain.ResearchSettings, error) {
	if userID == "" {
		return nil, fmt.Errorf("get settings failed: %w: empty user id", ports.ErrInvalidRequest)
	}
	st, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get settings failed: %w", err)
	}
	if st != nil {
		return st, nil
	}

	st = domain.DefaultSettings(userID)
	now := s.clock.Now()
	st.CreatedAt, st.UpdatedAt = now, now
	if err := s.store.UpsertSettings(ctx, st); err != nil {
		return nil, fmt.Errorf("create default settings failed: %w", err)
	}
	s.logger.Info(ctx, "Created default research settings", map[string]interface{}{"user_id": userID})
	return st, nil
}

// Update validates st and stores it. Watchlist symbols are normalized.
func (s *Service) Update(ctx context.Context, st *domain.ResearchSettings) error {
	if err := Validate(st); err != nil {
		return fmt.Errorf("update settings failed: %w: %w", ports.ErrInvalidRequest, err)
	}
	for i, sym := range st.Watchlist {
		st.Watchlist[i] = symbols.Normalize(sym)
	}
	now := s.clock.Now()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	if err := s.store.UpsertSettings(ctx, st); err != nil {
		return fmt.Errorf("update settings failed: %w", err)
	}
	s.logger.Info(ctx, "Research settings updated", map[string]interface{}{
		"user_id": st.UserID,
		"enabled": st.Enabled,
		"mode":    string(st.PaperLiveMode),
	})
	return nil
}

// ListEnabled returns settings of users with research enabled.
func (s *Service) ListEnabled(ctx context.Context) ([]*domain.ResearchSettings, error) {
	list, err := s.store.ListEnabledSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled settings failed: %w", err)
	}
	return list, nil
}

// SaveCredentials encrypts and stores a user's exchange keys and drops any
// cached client built from the previous keys.
func (s *Service) SaveCredentials(ctx context.Context, userID string, exchange domain.ExchangeName, apiKey, secret string) error {
	if s.vault == nil {
		return fmt.Errorf("save credentials failed: %w", ports.ErrConfigurationError)
	}
	if userID == "" || strings.TrimSpace(apiKey) == "" || strings.TrimSpace(secret) == "" {
		return fmt.Errorf("save credentials failed: %w: user id, key and secret are required", ports.ErrInvalidRequest)
	}
	if exchange != domain.ExchangeBinance && exchange != domain.ExchangeCryptoCom {
		return fmt.Errorf("save credentials failed: %w: unsupported exchange %q", ports.ErrInvalidRequest, exchange)
	}
	key, err := s.vault.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("save credentials failed: %w", err)
	}
	sec, err := s.vault.Encrypt(secret)
	if err != nil {
		return fmt.Errorf("save credentials failed: %w", err)
	}
	err = s.store.UpsertCredentials(ctx, &ports.Credentials{
		UserID:          userID,
		Exchange:        exchange,
		APIKeyEncrypted: key,
		SecretEncrypted: sec,
		UpdatedAt:       s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("save credentials failed: %w", err)
	}
	if s.provider != nil {
		s.provider.Invalidate(userID)
	}
	s.logger.Info(ctx, "Exchange credentials updated", map[string]interface{}{"user_id": userID, "exchange": string(exchange)})
	return nil
}

// Validate checks settings for values the engine cannot act on.
func Validate(st *domain.ResearchSettings) error {
	var errs []error
	if st.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	switch st.ExecutionMode {
	case domain.ExecutionAuto, domain.ExecutionConfirm, domain.ExecutionManual:
	default:
		errs = append(errs, fmt.Errorf("unknown execution mode %q", st.ExecutionMode))
	}
	switch st.PaperLiveMode {
	case domain.ModePaper, domain.ModeLive:
	default:
		errs = append(errs, fmt.Errorf("unknown paper/live mode %q", st.PaperLiveMode))
	}
	switch st.SymbolDiscovery {
	case domain.DiscoveryWatchlist:
		if len(st.Watchlist) == 0 {
			errs = append(errs, errors.New("watchlist discovery needs at least one symbol"))
		}
	case domain.DiscoveryTopVolume:
		if st.DiscoveryLimit <= 0 {
			errs = append(errs, errors.New("discovery_limit must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown symbol discovery %q", st.SymbolDiscovery))
	}
	for _, sym := range st.Watchlist {
		if _, _, ok := symbols.Parse(sym); !ok {
			errs = append(errs, fmt.Errorf("watchlist: unparseable symbol %q", sym))
		}
	}
	if st.Exchange != domain.ExchangeBinance && st.Exchange != domain.ExchangeCryptoCom {
		errs = append(errs, fmt.Errorf("unsupported exchange %q", st.Exchange))
	}
	if st.MinConfidence < 0 || st.MinConfidence > 1 {
		errs = append(errs, errors.New("min_confidence must be within [0,1]"))
	}
	pcts := []struct {
		name  string
		value float64
	}{
		{"stop_loss_pct", st.StopLossPct},
		{"take_profit_pct", st.TakeProfitPct},
		{"trailing_stop_pct", st.TrailingStopPct},
		{"trailing_activation_pct", st.TrailingActivationPct},
		{"initial_stop_pct", st.InitialStopPct},
		{"tp1_pct", st.TP1Pct},
	}
	for _, p := range pcts {
		if p.value < 0 || p.value >= 100 {
			errs = append(errs, fmt.Errorf("%s must be within [0,100)", p.name))
		}
	}
	if st.TP1Pct > 0 && (st.TP1SellPercent <= 0 || st.TP1SellPercent >= 100) {
		errs = append(errs, errors.New("tp1_sell_percent must be within (0,100) when tp1 is set"))
	}
	if st.TP1Pct > 0 && st.TakeProfitPct > 0 && st.TP1Pct >= st.TakeProfitPct {
		errs = append(errs, errors.New("tp1_pct must be below take_profit_pct"))
	}
	if st.PositionSizePct <= 0 || st.PositionSizePct > 100 {
		errs = append(errs, errors.New("position_size_pct must be within (0,100]"))
	}
	if st.MaxPositions < 0 {
		errs = append(errs, errors.New("max_positions must not be negative"))
	}
	switch st.MarginMode {
	case domain.MarginModeSpot, "":
	case domain.MarginModeMargin:
		if st.Leverage < 1 {
			errs = append(errs, errors.New("leverage must be at least 1 in margin mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown margin mode %q", st.MarginMode))
	}
	return errors.Join(errs...)
}
