package cryptocom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
	"researchEngine/internal/testutil"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		APIKey:            "key",
		SecretKey:         "secret",
		BaseURL:           srv.URL,
		Logger:            &testutil.Logger{},
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return c
}

func TestSign_SortsParams(t *testing.T) {
	a := sign([]byte("s"), "private/get-order-detail", 1, "k", map[string]string{"b": "2", "a": "1"}, 100)
	b := sign([]byte("s"), "private/get-order-detail", 1, "k", map[string]string{"a": "1", "b": "2"}, 100)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, sign([]byte("other"), "private/get-order-detail", 1, "k", map[string]string{"a": "1", "b": "2"}, 100))
}

func TestGetTicker24hr(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/get-tickers", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":1,"method":"public/get-tickers","code":0,"result":{"data":[
			{"i":"BTC_USD","h":"51000","l":"49000","a":"50000","v":"10","vv":"500000","t":1700000000000},
			{"i":"ETH_USD","h":"3100","l":"2900","a":"3000","v":"100","vv":"300000","t":1700000000000},
			{"i":"CRO_USD","h":"0.1","l":"0.09","a":"0.095","v":"1000","vv":"95","t":1700000000000}
		]}}`))
	})

	tickers, err := c.GetTicker24hr(context.Background(), []string{"BTCUSDT", "ETH_USDT"})
	require.NoError(t, err)
	require.Len(t, tickers, 2)
	assert.Equal(t, "BTC_USD", tickers[0].Symbol)
	assert.InDelta(t, 50000.0, tickers[0].Price, 1e-9)
	assert.InDelta(t, 500000.0, tickers[0].Volume, 1e-9)
}

func TestGetKlines(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/get-candlestick", r.URL.Path)
		assert.Equal(t, "ETH_USD", r.URL.Query().Get("instrument_name"))
		assert.Equal(t, "1D", r.URL.Query().Get("timeframe"))
		_, _ = w.Write([]byte(`{"code":0,"result":{"data":[{"o":"1","h":"2","l":"0.5","c":"1.5","v":"10","t":1700000000000}]}}`))
	})
	klines, err := c.GetKlines(context.Background(), "ETHUSDT", "1d", 10)
	require.NoError(t, err)
	require.Len(t, klines, 1)
	assert.Equal(t, "ETH_USDT", klines[0].Symbol)
	assert.InDelta(t, 1.5, klines[0].Close, 1e-9)
	assert.True(t, klines[0].IsFinal)

	_, err = c.GetKlines(context.Background(), "ETHUSDT", "2m", 10)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestGetOrder_SignedRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req privateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "private/get-order-detail", req.Method)
		assert.Equal(t, "key", req.APIKey)
		assert.Equal(t, sign([]byte("secret"), req.Method, req.ID, req.APIKey, req.Params, req.Nonce), req.Sig)
		assert.Equal(t, "123", req.Params["order_id"])
		_, _ = w.Write([]byte(`{"id":1,"code":0,"result":{"order_id":"123","status":"CANCELED","side":"BUY","instrument_name":"ETH_USD",
			"quantity":"1","cumulative_quantity":"0.5","cumulative_value":"1500","avg_price":"0","cumulative_fee":"0.1","update_time":1700000000000}}`))
	})

	order, err := c.GetOrder(context.Background(), "ETH_USD", "123")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, order.Status)
	assert.InDelta(t, 0.5, order.ExecutedQty, 1e-9)
	assert.InDelta(t, 3000.0, order.AvgPrice, 1e-9)
	assert.Equal(t, domain.Buy, order.Side)
}

func TestGetOrderByClientID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req privateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "private/get-order-detail", req.Method)
		assert.Equal(t, "exit-1", req.Params["client_oid"])
		assert.NotContains(t, req.Params, "order_id")
		_, _ = w.Write([]byte(`{"id":1,"code":0,"result":{"order_id":"124","client_oid":"exit-1","status":"FILLED","side":"SELL","instrument_name":"ETH_USD",
			"quantity":"1","cumulative_quantity":"1","cumulative_value":"3100","avg_price":"3100","cumulative_fee":"0.1","update_time":1700000000000}}`))
	})

	order, err := c.GetOrderByClientID(context.Background(), "ETH_USD", "exit-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Equal(t, "124", order.OrderID)
	assert.InDelta(t, 3100.0, order.AvgPrice, 1e-9)

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":1,"code":316,"message":"ORDER_NOT_FOUND"}`))
	})
	_, err = c.GetOrderByClientID(context.Background(), "ETH_USD", "never-sent")
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"unauthorized", `{"code":10002,"message":"UNAUTHORIZED"}`, ports.ErrAuthenticationFailed},
		{"rate limit", `{"code":10006,"message":"TOO_MANY_REQUESTS"}`, ports.ErrRateLimited},
		{"insufficient", `{"code":306,"message":"INSUFFICIENT_AVAILABLE_BALANCE"}`, ports.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.PlaceOrder(context.Background(), ports.OrderRequest{
				Symbol: "BTC_USDT", Side: domain.Buy, Type: ports.OrderTypeMarket, Quantity: "0.01",
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPrivate_RequiresCredentials(t *testing.T) {
	c, err := New(Config{Logger: &testutil.Logger{}, BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = c.GetBalances(context.Background())
	assert.ErrorIs(t, err, ports.ErrNoCredentials)
}

func TestPlaceOrder_RejectsMargin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.PlaceOrder(context.Background(), ports.OrderRequest{Symbol: "BTC_USD", MarginMode: domain.MarginModeMargin})
	assert.ErrorIs(t, err, ports.ErrMarginUnsupported)
}

func TestGetBalances(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"result":{"data":[{"position_balances":[
			{"instrument_name":"USD","quantity":"1000","reserved_qty":"100"},
			{"instrument_name":"BTC","quantity":"0.5","reserved_qty":"0"}
		]}]}}`))
	})
	balances, err := c.GetBalances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 900.0, balances["USD"], 1e-9)
	assert.InDelta(t, 0.5, balances["BTC"], 1e-9)
}
