package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"researchEngine/internal/adapters/logger"
	"researchEngine/internal/domain"
)

// Store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Logging
	LogLevel logger.LogLevel

	// Persistence
	StoreDriver string
	DBPath      string
	DatabaseURL string

	// Credential vault, 32 bytes base64 encoded
	MasterEncryptionKey string

	// Exchanges
	BinanceTestnet     bool
	BinanceMargin      bool
	CryptoComSandbox   bool
	MarketDataExchange domain.ExchangeName // Public market data source for scans
	ExchangeRateLimit  float64             // REST requests per second, per client
	ClientCacheTTL     time.Duration
	ReconnectDelay     time.Duration

	// Scheduler
	TickInterval time.Duration
	ScanInterval time.Duration

	// Collaborators
	HTTPAddr         string
	NotifyWebhookURL string // Empty logs notifications instead of posting them
	BridgeURL        string // Empty disables conversational confirm

	// Execution
	PaperTradeNotional float64
	MinLiveNotional    float64
	PriceMaxAge        time.Duration

	// Signal scoring overrides (YAML)
	ScoringConfigPath string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []error

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// Persistence
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite))
	cfg.DBPath = getEnv("DB_PATH", "./data/research_engine.db")
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	switch cfg.StoreDriver {
	case DriverSQLite:
		if cfg.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH must be set for the sqlite driver"))
		}
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.StoreDriver))
	}

	cfg.MasterEncryptionKey = getEnv("MASTER_ENCRYPTION_KEY", "")
	if cfg.MasterEncryptionKey == "" {
		errs = append(errs, errors.New("MASTER_ENCRYPTION_KEY must be set"))
	}

	// Exchanges
	cfg.BinanceTestnet = getEnvAsBool("BINANCE_USE_TESTNET", true) // Default to testnet for safety
	cfg.BinanceMargin = getEnvAsBool("BINANCE_MARGIN_ENABLED", false)
	cfg.CryptoComSandbox = getEnvAsBool("CRYPTOCOM_USE_SANDBOX", false)
	cfg.MarketDataExchange = domain.ExchangeName(strings.ToLower(getEnv("MARKET_DATA_EXCHANGE", string(domain.ExchangeBinance))))
	if cfg.MarketDataExchange != domain.ExchangeBinance && cfg.MarketDataExchange != domain.ExchangeCryptoCom {
		errs = append(errs, fmt.Errorf("MARKET_DATA_EXCHANGE %q is not supported", cfg.MarketDataExchange))
	}

	cfg.ExchangeRateLimit, err = getEnvAsFloatRequired("EXCHANGE_RATE_LIMIT", 10)
	if err != nil {
		errs = append(errs, err)
	} else if cfg.ExchangeRateLimit <= 0 {
		errs = append(errs, errors.New("EXCHANGE_RATE_LIMIT must be positive"))
	}

	cfg.ClientCacheTTL, err = getEnvAsSeconds("CLIENT_CACHE_TTL_SECONDS", 300)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.ReconnectDelay, err = getEnvAsSeconds("RECONNECT_DELAY_SECONDS", 5)
	if err != nil {
		errs = append(errs, err)
	}

	// Scheduler
	cfg.TickInterval, err = getEnvAsSeconds("TICK_INTERVAL_SECONDS", 60)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.ScanInterval, err = getEnvAsSeconds("SCAN_INTERVAL_SECONDS", 300)
	if err != nil {
		errs = append(errs, err)
	}

	// Collaborators
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.NotifyWebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")
	cfg.BridgeURL = getEnv("BRIDGE_URL", "")

	// Execution
	cfg.PaperTradeNotional, err = getEnvAsFloatRequired("PAPER_TRADE_NOTIONAL", 100)
	if err != nil {
		errs = append(errs, err)
	} else if cfg.PaperTradeNotional <= 0 {
		errs = append(errs, errors.New("PAPER_TRADE_NOTIONAL must be positive"))
	}
	cfg.MinLiveNotional, err = getEnvAsFloatRequired("MIN_LIVE_NOTIONAL", 5)
	if err != nil {
		errs = append(errs, err)
	} else if cfg.MinLiveNotional < 0 {
		errs = append(errs, errors.New("MIN_LIVE_NOTIONAL cannot be negative"))
	}
	cfg.PriceMaxAge, err = getEnvAsSeconds("PRICE_MAX_AGE_SECONDS", 30)
	if err != nil {
		errs = append(errs, err)
	}

	cfg.ScoringConfigPath = getEnv("SCORING_CONFIG_PATH", "")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// getEnvAsSeconds reads a positive whole number of seconds.
func getEnvAsSeconds(key string, defaultSeconds int) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return time.Duration(defaultSeconds) * time.Second, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return time.Duration(value) * time.Second, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
