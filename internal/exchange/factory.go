package exchange

import (
	"fmt"

	"researchEngine/internal/adapters/binanceclient"
	"researchEngine/internal/adapters/cryptocom"
	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

// FactoryConfig carries the adapter settings shared by every user's client.
type FactoryConfig struct {
	Logger            ports.Logger
	BinanceTestnet    bool
	BinanceBaseURL    string
	BinanceMargin     bool
	CryptoComSandbox  bool
	CryptoComBaseURL  string
	RequestsPerSecond float64
}

// NewFactory returns a Factory building Binance or Crypto.com adapters.
func NewFactory(cfg FactoryConfig) Factory {
	return func(name domain.ExchangeName, apiKey, apiSecret string) (ports.ExchangeClient, error) {
		switch name {
		case domain.ExchangeBinance, "":
			return binanceclient.New(binanceclient.Config{
				APIKey:            apiKey,
				SecretKey:         apiSecret,
				UseTestnet:        cfg.BinanceTestnet,
				BaseURL:           cfg.BinanceBaseURL,
				Logger:            cfg.Logger,
				RequestsPerSecond: cfg.RequestsPerSecond,
				MarginEnabled:     cfg.BinanceMargin,
			})
		case domain.ExchangeCryptoCom:
			return cryptocom.New(cryptocom.Config{
				APIKey:            apiKey,
				SecretKey:         apiSecret,
				UseSandbox:        cfg.CryptoComSandbox,
				BaseURL:           cfg.CryptoComBaseURL,
				Logger:            cfg.Logger,
				RequestsPerSecond: cfg.RequestsPerSecond,
			})
		default:
			return nil, fmt.Errorf("unsupported exchange %q: %w", name, ports.ErrConfigurationError)
		}
	}
}
