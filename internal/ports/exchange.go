package ports

import (
	"context"
	"time"

	"researchEngine/internal/domain"
)

// OrderType is the order type sent to an exchange.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderRequest describes an order to place. Quantity is already formatted to
// the symbol's lot size.
type OrderRequest struct {
	Symbol        string // Canonical symbol
	Side          domain.OrderSide
	Type          OrderType
	Quantity      string
	QuoteQuantity string // Spend amount for market buys; used when Quantity is empty
	Price         string
	ClientOrderID string
	MarginMode    domain.MarginMode
	Leverage      int
}

// Fill is one execution slice of an order.
type Fill struct {
	Price           float64
	Quantity        float64
	Commission      float64
	CommissionAsset string
}

// OrderResponse represents the essential details returned for an order.
type OrderResponse struct {
	OrderID         string // Exchange's order ID
	Symbol          string // Canonical symbol
	ClientOrderID   string
	Status          domain.OrderStatus
	Side            domain.OrderSide
	OrigQuantity    float64
	ExecutedQty     float64
	AvgPrice        float64 // Zero when the exchange does not report it
	CumulativeQuote float64
	Fee             float64
	Fills           []Fill
	Timestamp       time.Time
}

// LotSizeFilter holds the quantity constraints for a symbol.
type LotSizeFilter struct {
	Symbol      string
	StepSize    string
	MinQuantity float64
	MaxQuantity float64
}

// MarketData is the public, credential-free subset of an exchange.
type MarketData interface {
	// GetTicker24hr returns 24h tickers for the given canonical symbols in one
	// call. An empty slice requests every symbol the exchange lists.
	GetTicker24hr(ctx context.Context, symbols []string) ([]domain.Ticker, error)
	// GetKlines returns the most recent klines, oldest first.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)
}

// ExchangeClient defines the uniform interface over an exchange account.
type ExchangeClient interface {
	MarketData

	// Name identifies the exchange.
	Name() domain.ExchangeName
	// PlaceOrder submits a new order.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	// GetOrder fetches the current state of an order.
	GetOrder(ctx context.Context, symbol, orderID string) (*OrderResponse, error)
	// GetOrderByClientID fetches an order by the client order id it was
	// placed with. Returns ErrOrderNotFound when the exchange never saw it.
	GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error)
	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, symbol, orderID string) (*OrderResponse, error)
	// GetLotSizeFilter returns the quantity step constraints for symbol.
	GetLotSizeFilter(ctx context.Context, symbol string) (*LotSizeFilter, error)
	// GetBalances returns free balances keyed by asset.
	GetBalances(ctx context.Context) (map[string]float64, error)
}

// MarginCloseRequest describes the unwind of a margin position.
type MarginCloseRequest struct {
	Symbol        string
	Side          domain.PositionSide // Side of the position being closed
	Quantity      string
	ClientOrderID string
}

// MarginExchange is implemented by exchange clients that support margin.
type MarginExchange interface {
	SupportsMargin() bool
	CloseMarginPosition(ctx context.Context, req MarginCloseRequest) (*OrderResponse, error)
}

// ClientProvider resolves the exchange client for a user.
type ClientProvider interface {
	ClientFor(ctx context.Context, userID string) (ExchangeClient, error)
	Invalidate(userID string)
}

// FillHook is told about every trade that becomes filled.
type FillHook interface {
	OnFilled(ctx context.Context, t *domain.Trade) error
}
