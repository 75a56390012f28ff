package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/ports"
)

func TestClient_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		var req executeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1", req.UserID)
		assert.Equal(t, "Paper buy $100.00 of BTC_USDT at market", req.Instruction)
		_, _ = w.Write([]byte(`{"success":true,"message":"done","trade_id":"t-9"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, srv.Client()).Execute(context.Background(), "u1", "Paper buy $100.00 of BTC_USDT at market")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "t-9", res.TradeID)
}

func TestClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     error
		wantMessage string
	}{
		{"rejected with body", http.StatusUnprocessableEntity, `{"success":true,"message":"unknown symbol"}`, nil, "unknown symbol"},
		{"rejected without body", http.StatusInternalServerError, `oops`, ports.ErrExchangeUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res, err := New(srv.URL, srv.Client()).Execute(context.Background(), "u1", "x")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantMessage, res.Message)
		})
	}
}
