package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"researchEngine/internal/cache"
	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

// DefaultClientTTL bounds how long a decrypted client is reused.
const DefaultClientTTL = 5 * time.Minute

// Factory builds an exchange client from plaintext credentials.
type Factory func(name domain.ExchangeName, apiKey, apiSecret string) (ports.ExchangeClient, error)

// Decrypter opens credentials sealed at rest.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Provider resolves per-user exchange clients through a TTL cache. Entries
// are keyed by user and never shared.
type Provider struct {
	creds   ports.CredentialRepository
	vault   Decrypter
	factory Factory
	logger  ports.Logger
	clients *cache.Store[string, ports.ExchangeClient]

	buildMu sync.Mutex
}

// ProviderConfig holds the dependencies of a Provider.
type ProviderConfig struct {
	Credentials ports.CredentialRepository
	Vault       Decrypter
	Factory     Factory
	Logger      ports.Logger
	TTL         time.Duration
	Clock       ports.Clock
}

// NewProvider creates a client provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Credentials == nil || cfg.Vault == nil || cfg.Factory == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for exchange provider")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultClientTTL
	}
	return &Provider{
		creds:   cfg.Credentials,
		vault:   cfg.Vault,
		factory: cfg.Factory,
		logger:  cfg.Logger,
		clients: cache.New[string, ports.ExchangeClient](ttl, cfg.Clock),
	}, nil
}

// ClientFor returns the cached client for userID or builds a new one,
// decrypting the stored credentials once.
func (p *Provider) ClientFor(ctx context.Context, userID string) (ports.ExchangeClient, error) {
	if c, ok := p.clients.Get(userID); ok {
		return c, nil
	}

	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	// Another goroutine may have built it while we waited
	if c, ok := p.clients.Get(userID); ok {
		return c, nil
	}

	creds, err := p.creds.GetCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load credentials for user %s: %w", userID, err)
	}
	if creds == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ports.ErrNoCredentials)
	}

	apiKey, err := p.vault.Decrypt(creds.APIKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key for user %s: %w: %w", userID, ports.ErrConfigurationError, err)
	}
	secret, err := p.vault.Decrypt(creds.SecretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt api secret for user %s: %w: %w", userID, ports.ErrConfigurationError, err)
	}

	client, err := p.factory(creds.Exchange, apiKey, secret)
	if err != nil {
		return nil, fmt.Errorf("build %s client for user %s: %w", creds.Exchange, userID, err)
	}
	p.clients.Set(userID, client)
	p.logger.Debug(ctx, "Exchange client created", map[string]interface{}{"userID": userID, "exchange": creds.Exchange})
	return client, nil
}

// Invalidate drops the cached client of userID, e.g. after a credential change.
func (p *Provider) Invalidate(userID string) {
	p.clients.Delete(userID)
}

// Purge drops expired clients.
func (p *Provider) Purge() int {
	return p.clients.Purge()
}

var _ ports.ClientProvider = (*Provider)(nil)
