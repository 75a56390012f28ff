package testutil

import (
	"context"
	"sync"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

// Exchange is a scriptable exchange client. Orders are keyed by exchange
// order id; PlaceOrder answers with PlaceResponse or PlaceErr. Accepted
// orders carrying a client order id are kept in ByClientID.
type Exchange struct {
	mu            sync.Mutex
	ExchangeName  domain.ExchangeName
	Margin        bool
	Tickers       map[string]domain.Ticker
	Klines        map[string][]*domain.Kline // Keyed by symbol
	Orders        map[string]*ports.OrderResponse
	ByClientID    map[string]*ports.OrderResponse
	OrderErrs     map[string]error
	LotSize       *ports.LotSizeFilter
	Balances      map[string]float64
	BalanceErr    error
	PlaceResponse *ports.OrderResponse
	PlaceErr      error
	Placed        []ports.OrderRequest
	MarginCloses  []ports.MarginCloseRequest
	Cancelled     []string
}

var (
	_ ports.ExchangeClient = (*Exchange)(nil)
	_ ports.MarginExchange = (*Exchange)(nil)
)

// NewExchange returns a Binance-named exchange with a 0.001 lot step.
func NewExchange() *Exchange {
	return &Exchange{
		ExchangeName: domain.ExchangeBinance,
		Tickers:      make(map[string]domain.Ticker),
		Klines:       make(map[string][]*domain.Kline),
		Orders:       make(map[string]*ports.OrderResponse),
		ByClientID:   make(map[string]*ports.OrderResponse),
		OrderErrs:    make(map[string]error),
		LotSize:      &ports.LotSizeFilter{StepSize: "0.00100000", MinQuantity: 0.001},
		Balances:     make(map[string]float64),
	}
}

func (e *Exchange) Name() domain.ExchangeName { return e.ExchangeName }

func (e *Exchange) SupportsMargin() bool { return e.Margin }

func (e *Exchange) GetTicker24hr(ctx context.Context, syms []string) ([]domain.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Ticker
	if len(syms) == 0 {
		for _, t := range e.Tickers {
			out = append(out, t)
		}
		return out, nil
	}
	for _, s := range syms {
		if t, ok := e.Tickers[s]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *Exchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Klines[symbol], nil
}

func (e *Exchange) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Placed = append(e.Placed, req)
	if e.PlaceErr != nil {
		return nil, e.PlaceErr
	}
	resp := ports.OrderResponse{OrderID: "1", Symbol: req.Symbol, Status: domain.OrderStatusNew, Side: req.Side}
	if e.PlaceResponse != nil {
		resp = *e.PlaceResponse
	}
	resp.ClientOrderID = req.ClientOrderID
	e.remember(&resp)
	return &resp, nil
}

func (e *Exchange) remember(resp *ports.OrderResponse) {
	if resp.ClientOrderID == "" {
		return
	}
	c := *resp
	e.ByClientID[resp.ClientOrderID] = &c
}

func (e *Exchange) CloseMarginPosition(ctx context.Context, req ports.MarginCloseRequest) (*ports.OrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.MarginCloses = append(e.MarginCloses, req)
	if e.PlaceErr != nil {
		return nil, e.PlaceErr
	}
	resp := ports.OrderResponse{OrderID: "1", Symbol: req.Symbol, Status: domain.OrderStatusFilled}
	if e.PlaceResponse != nil {
		resp = *e.PlaceResponse
	}
	resp.ClientOrderID = req.ClientOrderID
	e.remember(&resp)
	return &resp, nil
}

func (e *Exchange) GetOrder(ctx context.Context, symbol, orderID string) (*ports.OrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.OrderErrs[orderID]; err != nil {
		return nil, err
	}
	o, ok := e.Orders[orderID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (e *Exchange) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*ports.OrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.OrderErrs[clientOrderID]; err != nil {
		return nil, err
	}
	o, ok := e.ByClientID[clientOrderID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) (*ports.OrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Cancelled = append(e.Cancelled, orderID)
	return &ports.OrderResponse{OrderID: orderID, Symbol: symbol, Status: domain.OrderStatusCanceled}, nil
}

func (e *Exchange) GetLotSizeFilter(ctx context.Context, symbol string) (*ports.LotSizeFilter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := *e.LotSize
	f.Symbol = symbol
	return &f, nil
}

func (e *Exchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.BalanceErr != nil {
		return nil, e.BalanceErr
	}
	out := make(map[string]float64, len(e.Balances))
	for k, v := range e.Balances {
		out[k] = v
	}
	return out, nil
}

// PlacedOrders returns a copy of the orders placed so far.
func (e *Exchange) PlacedOrders() []ports.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ports.OrderRequest(nil), e.Placed...)
}

// Provider hands out fixed clients per user and counts lookups.
type Provider struct {
	mu          sync.Mutex
	Clients     map[string]ports.ExchangeClient
	Err         error
	Lookups     map[string]int
	Invalidated []string
}

var _ ports.ClientProvider = (*Provider)(nil)

// NewProvider returns a provider serving client to every listed user.
func NewProvider(client ports.ExchangeClient, users ...string) *Provider {
	p := &Provider{Clients: make(map[string]ports.ExchangeClient), Lookups: make(map[string]int)}
	for _, u := range users {
		p.Clients[u] = client
	}
	return p
}

func (p *Provider) ClientFor(ctx context.Context, userID string) (ports.ExchangeClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Lookups[userID]++
	if p.Err != nil {
		return nil, p.Err
	}
	c, ok := p.Clients[userID]
	if !ok {
		return nil, ports.ErrNoCredentials
	}
	return c, nil
}

func (p *Provider) Invalidate(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Invalidated = append(p.Invalidated, userID)
}

// Prices is a fixed PriceSource.
type Prices struct {
	mu     sync.Mutex
	Values map[string]float64
	Err    error
}

// SetPrice sets the current price of symbol.
func (p *Prices) SetPrice(symbol string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Values == nil {
		p.Values = make(map[string]float64)
	}
	p.Values[symbol] = v
}

func (p *Prices) CurrentPrices(ctx context.Context, syms []string) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64)
	for _, s := range syms {
		if v, ok := p.Values[s]; ok {
			out[s] = v
		}
	}
	return out, p.Err
}
