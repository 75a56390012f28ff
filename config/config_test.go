package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/adapters/logger"
	"researchEngine/internal/domain"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("MASTER_ENCRYPTION_KEY", "a2V5")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.True(t, cfg.BinanceTestnet)
	assert.Equal(t, domain.ExchangeBinance, cfg.MarketDataExchange)
	assert.Equal(t, time.Minute, cfg.TickInterval)
	assert.Equal(t, 5*time.Minute, cfg.ScanInterval)
	assert.Equal(t, 5*time.Minute, cfg.ClientCacheTTL)
	assert.Equal(t, 100.0, cfg.PaperTradeNotional)
	assert.Equal(t, 5.0, cfg.MinLiveNotional)
}

func TestLoadConfig_CollectsErrors(t *testing.T) {
	t.Setenv("MASTER_ENCRYPTION_KEY", "")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TICK_INTERVAL_SECONDS", "0")
	t.Setenv("EXCHANGE_RATE_LIMIT", "fast")

	_, err := LoadConfig()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "MASTER_ENCRYPTION_KEY must be set")
	assert.Contains(t, msg, "DATABASE_URL must be set")
	assert.Contains(t, msg, "TICK_INTERVAL_SECONDS must be positive")
	assert.Contains(t, msg, "EXCHANGE_RATE_LIMIT")
}

func TestLoadConfig_UnknownDriver(t *testing.T) {
	t.Setenv("MASTER_ENCRYPTION_KEY", "a2V5")
	t.Setenv("STORE_DRIVER", "mysql")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
}
