package settings

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/crypto"
	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
	"researchEngine/internal/testutil"
)

func newService(t *testing.T) (*Service, *testutil.Store, *testutil.Provider, *crypto.Vault) {
	t.Helper()
	store := testutil.NewStore()
	vault, err := crypto.NewVault(map[int][]byte{1: bytes.Repeat([]byte{7}, crypto.KeySize)})
	require.NoError(t, err)
	provider := testutil.NewProvider(nil)
	svc, err := NewService(store, vault, provider, testutil.NewClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)), &testutil.Logger{})
	require.NoError(t, err)
	return svc, store, provider, vault
}

func TestService_GetCreatesDefaults(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := context.Background()

	st, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionConfirm, st.ExecutionMode)
	assert.Equal(t, domain.ModePaper, st.PaperLiveMode)
	assert.False(t, st.CreatedAt.IsZero())
	assert.Equal(t, 1, store.Calls["UpsertSettings"])

	_, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls["UpsertSettings"], "defaults are created once")

	_, err = svc.Get(ctx, "")
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestService_UpdateNormalizesWatchlist(t *testing.T) {
	svc, store, _, _ := newService(t)
	st := domain.DefaultSettings("u1")
	st.Enabled = true
	st.Watchlist = []string{"ethusdt", "SOL/USDC"}

	require.NoError(t, svc.Update(context.Background(), st))
	assert.Equal(t, []string{"ETH_USDT", "SOL_USDC"}, store.Settings["u1"].Watchlist)

	enabled, err := svc.ListEnabled(context.Background())
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.ResearchSettings)
		wantErr string
	}{
		{"defaults are valid", func(*domain.ResearchSettings) {}, ""},
		{"unknown mode", func(s *domain.ResearchSettings) { s.ExecutionMode = "yolo" }, "unknown execution mode"},
		{"confidence above one", func(s *domain.ResearchSettings) { s.MinConfidence = 1.2 }, "min_confidence"},
		{"empty watchlist", func(s *domain.ResearchSettings) { s.Watchlist = nil }, "at least one symbol"},
		{"top volume with zero limit", func(s *domain.ResearchSettings) {
			s.SymbolDiscovery = domain.DiscoveryTopVolume
			s.DiscoveryLimit = 0
		}, "discovery_limit"},
		{"bad symbol", func(s *domain.ResearchSettings) { s.Watchlist = []string{"???"} }, "unparseable symbol"},
		{"negative stop", func(s *domain.ResearchSettings) { s.StopLossPct = -1 }, "stop_loss_pct"},
		{"tp1 beyond take profit", func(s *domain.ResearchSettings) { s.TP1Pct = 8 }, "tp1_pct must be below"},
		{"tp1 sells everything", func(s *domain.ResearchSettings) { s.TP1Pct = 2; s.TP1SellPercent = 100 }, "tp1_sell_percent"},
		{"margin without leverage", func(s *domain.ResearchSettings) {
			s.MarginMode = domain.MarginModeMargin
			s.Leverage = 0
		}, "leverage"},
		{"unknown exchange", func(s *domain.ResearchSettings) { s.Exchange = "kraken" }, "unsupported exchange"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := domain.DefaultSettings("u1")
			tt.mutate(st)
			err := Validate(st)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestService_SaveCredentials(t *testing.T) {
	svc, store, provider, vault := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.SaveCredentials(ctx, "u1", domain.ExchangeBinance, "key", "secret"))
	c := store.Creds["u1"]
	require.NotNil(t, c)
	assert.NotEqual(t, "key", c.APIKeyEncrypted)
	plain, err := vault.Decrypt(c.SecretEncrypted)
	require.NoError(t, err)
	assert.Equal(t, "secret", plain)
	assert.Equal(t, []string{"u1"}, provider.Invalidated)

	err = svc.SaveCredentials(ctx, "u1", "kraken", "key", "secret")
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	err = svc.SaveCredentials(ctx, "u1", domain.ExchangeBinance, "", "secret")
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}
