// Package cryptocom adapts the Crypto.com Exchange v1 REST API to ports.ExchangeClient.
package cryptocom

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

const (
	baseURLProduction = "https://api.crypto.com/exchange/v1/"
	baseURLSandbox    = "https://uat-api.3ona.co/exchange/v1/"
)

// Config holds configuration for the Crypto.com adapter.
type Config struct {
	APIKey            string
	SecretKey         string
	UseSandbox        bool
	BaseURL           string // Overrides the production/sandbox URL when set
	Logger            ports.Logger
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client implements ports.ExchangeClient for Crypto.com spot.
type Client struct {
	apiKey  string
	secret  []byte
	baseURL string
	http    *http.Client
	logger  ports.Logger
	limiter *rate.Limiter
	nextID  atomic.Int64
}

// New creates a Crypto.com client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Crypto.com client")
	}
	base := cfg.BaseURL
	switch {
	case base != "":
	case cfg.UseSandbox:
		base = baseURLSandbox
	default:
		base = baseURLProduction
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		apiKey:  cfg.APIKey,
		secret:  []byte(cfg.SecretKey),
		baseURL: base,
		http:    httpClient,
		logger:  cfg.Logger,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
	}, nil
}

// Name identifies the exchange.
func (c *Client) Name() domain.ExchangeName {
	return domain.ExchangeCryptoCom
}

// APIError is an error envelope returned by the exchange.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("<APIError> code=%d, msg=%s", e.Code, e.Message)
}

type envelope struct {
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type privateRequest struct {
	ID     int64             `json:"id"`
	Method string            `json:"method"`
	APIKey string            `json:"api_key"`
	Params map[string]string `json:"params"`
	Nonce  int64             `json:"nonce"`
	Sig    string            `json:"sig"`
}

// sign computes the request signature: HMAC-SHA256 over
// method + id + api_key + sorted(key+value) params + nonce, hex encoded.
func sign(secret []byte, method string, id int64, apiKey string, params map[string]string, nonce int64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params[k])
	}
	payload := method + strconv.FormatInt(id, 10) + apiKey + sb.String() + strconv.FormatInt(nonce, 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) public(ctx context.Context, method string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.baseURL + method
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) private(ctx context.Context, method string, params map[string]string, out interface{}) error {
	if c.apiKey == "" || len(c.secret) == 0 {
		return ports.ErrNoCredentials
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if params == nil {
		params = map[string]string{}
	}
	id := c.nextID.Add(1)
	nonce := time.Now().UnixMilli()
	body, err := json.Marshal(privateRequest{
		ID:     id,
		Method: method,
		APIKey: c.apiKey,
		Params: params,
		Nonce:  nonce,
		Sig:    sign(c.secret, method, id, c.apiKey, params, nonce),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if res.StatusCode >= http.StatusBadRequest {
			return &APIError{Code: res.StatusCode, Message: string(data)}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if res.StatusCode >= http.StatusBadRequest {
		return &APIError{Code: res.StatusCode, Message: string(data)}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

// handleError translates Crypto.com API errors into ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": operation}

	var apiErr *APIError
	var mapped error
	switch {
	case errors.As(err, &apiErr):
		fields["apiErrorCode"] = apiErr.Code
		switch apiErr.Code {
		case 10002, 40101, http.StatusUnauthorized:
			mapped = ports.ErrAuthenticationFailed
		case 10003, 40102:
			mapped = ports.ErrInvalidAPIKeys
		case 10004, 10008, 40001, http.StatusBadRequest:
			mapped = ports.ErrInvalidRequest
		case 10006, http.StatusTooManyRequests:
			mapped = ports.ErrRateLimited
		case 10007:
			mapped = ports.ErrTimeout
		case 306:
			mapped = ports.ErrInsufficientFunds
		case 316, 5:
			mapped = ports.ErrOrderNotFound
		default:
			mapped = ports.ErrUnknown
		}
	case errors.Is(err, ports.ErrNoCredentials):
		mapped = ports.ErrNoCredentials
	case errors.Is(err, context.DeadlineExceeded):
		mapped = ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		mapped = ports.ErrContextCanceled
	default:
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			if urlErr.Timeout() {
				mapped = ports.ErrTimeout
			} else {
				mapped = ports.ErrConnectionFailed
			}
		} else {
			mapped = ports.ErrUnknown
		}
	}
	c.logger.Error(ctx, err, operation+" failed", fields)
	if errors.Is(err, mapped) {
		return fmt.Errorf("%s failed: %w", operation, err)
	}
	return fmt.Errorf("%s failed: %w: %w", operation, mapped, err)
}

var _ ports.ExchangeClient = (*Client)(nil)
