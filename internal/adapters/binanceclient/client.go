package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
	"researchEngine/internal/symbols"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	maxKlineLimit = 1000
)

// Client implements ports.ExchangeClient and ports.MarginExchange for Binance spot and cross/isolated margin.
type Client struct {
	api                  *binance.Client
	logger               ports.Logger
	limiter              *rate.Limiter
	marginEnabled        bool
	isolatedMargin       bool
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	BaseURL              string // Overrides the production/testnet URL when set
	Logger               ports.Logger
	RequestsPerSecond    float64 // REST request budget; 0 means 10/s
	MarginEnabled        bool
	IsolatedMargin       bool
	ReconnectDelay       time.Duration // Reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Debug(context.Background(), "Binance client created without keys; only public endpoints will work")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		api:                  client,
		logger:               cfg.Logger,
		limiter:              rate.NewLimiter(rate.Limit(rps), int(rps)),
		marginEnabled:        cfg.MarginEnabled,
		isolatedMargin:       cfg.IsolatedMargin,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// Name identifies the exchange.
func (c *Client) Name() domain.ExchangeName {
	return domain.ExchangeBinance
}

// SupportsMargin reports whether margin orders are enabled for this account.
func (c *Client) SupportsMargin() bool {
	return c.marginEnabled
}

// wait blocks until the request budget allows another call.
func (c *Client) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003, -1015: // Too many requests / orders
			mappedErr = ports.ErrRateLimited
		case -1001, -1007, -1021: // Disconnected, backend timeout, recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1112, -1114, -1115, -1116, -1117, -1121, -1125, -1127, -1128, -1130:
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrOrderPlacementFailed
			}
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key format invalid / permissions
			mappedErr = ports.ErrInvalidAPIKeys
		case -3006, -3041: // Borrow limit exceeded / balance not enough
			mappedErr = ports.ErrInsufficientFunds
		case -3003, -3052: // Margin account does not exist / margin disabled
			mappedErr = ports.ErrMarginUnsupported
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetTicker24hr retrieves 24h statistics in a single request. One symbol is
// queried directly; several (or none) use the all-market endpoint filtered locally.
func (c *Client) GetTicker24hr(ctx context.Context, syms []string) ([]domain.Ticker, error) {
	op := "GetTicker24hr"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	svc := c.api.NewListPriceChangeStatsService()
	if len(syms) == 1 {
		svc = svc.Symbol(symbols.ToBinance(syms[0]))
	}
	stats, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	wanted := make(map[string]bool, len(syms))
	for _, s := range syms {
		wanted[symbols.ToBinance(s)] = true
	}

	out := make([]domain.Ticker, 0, len(stats))
	for _, st := range stats {
		if len(wanted) > 1 && !wanted[st.Symbol] {
			continue
		}
		t, err := translateTicker(st)
		if err != nil {
			c.logger.Warn(ctx, op+": skipping malformed ticker", map[string]interface{}{"symbol": st.Symbol, "error": err.Error()})
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// GetKlines retrieves the most recent klines for a symbol, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	klines, err := c.api.NewKlinesService().
		Symbol(symbols.ToBinance(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateKlines(klines, symbols.Normalize(symbol), interval)
}

// GetKlinesRange pages through klines between start and end.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var all []*domain.Kline
	from := start

	for {
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		klines, err := c.api.NewKlinesService().
			Symbol(symbols.ToBinance(symbol)).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlineLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		page, err := translateKlines(klines, symbols.Normalize(symbol), interval)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		all = append(all, page...)

		from = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		if from.After(end) || len(klines) < maxKlineLimit {
			break
		}
	}
	return all, nil
}

// GetLotSizeFilter returns the LOT_SIZE filter of a symbol.
func (c *Client) GetLotSizeFilter(ctx context.Context, symbol string) (*ports.LotSizeFilter, error) {
	op := "GetLotSizeFilter"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	bsym := symbols.ToBinance(symbol)
	info, err := c.api.NewExchangeInfoService().Symbol(bsym).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != bsym {
			continue
		}
		lot := s.LotSizeFilter()
		if lot == nil {
			break
		}
		return &ports.LotSizeFilter{
			Symbol:      symbols.Normalize(symbol),
			StepSize:    lot.StepSize,
			MinQuantity: parseFloat(lot.MinQuantity),
			MaxQuantity: parseFloat(lot.MaxQuantity),
		}, nil
	}
	return nil, c.handleError(ctx, fmt.Errorf("no LOT_SIZE filter for %s: %w", bsym, ports.ErrNotFound), op)
}

// GetBalances retrieves free spot balances keyed by asset.
func (c *Client) GetBalances(ctx context.Context) (map[string]float64, error) {
	op := "GetBalances"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	account, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make(map[string]float64, len(account.Balances))
	for _, b := range account.Balances {
		free := parseFloat(b.Free)
		if free > 0 {
			out[b.Asset] = free
		}
	}
	return out, nil
}

var (
	_ ports.ExchangeClient = (*Client)(nil)
	_ ports.MarginExchange = (*Client)(nil)
)
