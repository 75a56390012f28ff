package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
	"researchEngine/internal/testutil"
)

// setupTestDB starts a PostgreSQL container and opens a repository on it.
func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	repo, err := NewRepository(ctx, Config{DSN: dsn, Logger: &testutil.Logger{}})
	require.NoError(t, err, "failed to open repository")
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestNewRepository_Validation(t *testing.T) {
	_, err := NewRepository(context.Background(), Config{DSN: "postgres://x"})
	assert.Error(t, err)

	_, err = NewRepository(context.Background(), Config{Logger: &testutil.Logger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestDialect_Rebind(t *testing.T) {
	d := Dialect()
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2", d.Rebind("SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?"))
	assert.False(t, d.IsUniqueViolation(assert.AnError))
}

func TestRepository_TradeLifecycle(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tr := &domain.Trade{
		UserID:              "u1",
		Symbol:              "BTC_USDT",
		Exchange:            domain.ExchangeBinance,
		Side:                domain.Long,
		OrderSide:           domain.Buy,
		Quantity:            0.01,
		EntryPrice:          50000,
		TrailingStopPercent: domain.Float(2),
		MarginMode:          domain.MarginModeSpot,
		Leverage:            1,
		Status:              domain.TradeStatusFilled,
		CreatedAt:           now,
		FilledAt:            &now,
	}
	require.NoError(t, repo.CreateTrade(ctx, tr))

	dup := *tr
	assert.ErrorIs(t, repo.CreateTrade(ctx, &dup), ports.ErrDuplicateEntry)

	open, err := repo.ListOpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	stale := *open[0]
	open[0].TrailingActivated = true
	open[0].TrailingExtreme = domain.Float(51000)
	require.NoError(t, repo.UpdateTrade(ctx, open[0]))
	assert.ErrorIs(t, repo.UpdateTrade(ctx, &stale), ports.ErrConflict)

	upd := ports.TradeCloseUpdate{TradeID: tr.ID, ClosePrice: 50500, CloseReason: domain.CloseReasonTrailingStop, ClosedAt: now.Add(time.Hour), RealizedPnL: 5}
	require.NoError(t, repo.CloseTrade(ctx, upd))
	assert.ErrorIs(t, repo.CloseTrade(ctx, upd), ports.ErrAlreadyClosed)

	closed, err := repo.ListClosedTrades(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonTrailingStop, closed[0].CloseReason)
	assert.Equal(t, 51000.0, *closed[0].TrailingExtreme)
}

func TestRepository_SignalsAndSettings(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sig := &domain.Signal{
		UserID:        "u1",
		Symbol:        "ETH_USDT",
		Price:         2000,
		Confidence:    0.7,
		RSI:           map[string]float64{"5m": 28},
		Reasons:       []string{"volume spike"},
		ExecutionMode: domain.ExecutionAuto,
		PaperLiveMode: domain.ModePaper,
		ExpiresAt:     now.Add(-time.Second),
		CreatedAt:     now.Add(-time.Minute),
	}
	require.NoError(t, repo.CreateSignal(ctx, sig))

	n, err := repo.ExpireSignals(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = repo.TransitionSignal(ctx, ports.SignalTransition{SignalID: sig.ID, Status: domain.SignalExecuted, At: now})
	assert.ErrorIs(t, err, ports.ErrSignalTerminal)

	s := domain.DefaultSettings("u1")
	s.Enabled = true
	require.NoError(t, repo.UpsertSettings(ctx, s))
	enabled, err := repo.ListEnabledSettings(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, s.Watchlist, enabled[0].Watchlist)
}
