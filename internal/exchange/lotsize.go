// Package exchange holds the exchange-agnostic pieces that sit between the
// engine and the exchange adapters: lot-size formatting and the per-user
// client provider.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"researchEngine/internal/cache"
	"researchEngine/internal/ports"
)

// FormatQuantity rounds qty down to the lot-size step. A step of at least 1
// floors to a multiple of the step; a fractional step floors to the number of
// decimals the step implies ("0.001" -> 3 decimals).
func FormatQuantity(qty float64, stepSize string) (string, error) {
	if qty <= 0 {
		return "0", nil
	}
	q := decimal.NewFromFloat(qty)
	step, err := decimal.NewFromString(strings.TrimSpace(stepSize))
	if err != nil || !step.IsPositive() {
		// No usable step: keep 8 decimals, the common exchange maximum
		return q.Truncate(8).String(), nil
	}
	if step.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return q.Div(step).Floor().Mul(step).String(), nil
	}
	return q.Truncate(stepPrecision(stepSize)).StringFixed(stepPrecision(stepSize)), nil
}

// stepPrecision counts decimals up to and including the last significant digit.
func stepPrecision(stepSize string) int32 {
	s := strings.TrimSpace(stepSize)
	dot := strings.IndexByte(s, '.')
	if dot == -1 {
		return 0
	}
	frac := strings.TrimRight(s[dot+1:], "0")
	return int32(len(frac))
}

// DefaultLotSizeTTL is how long a symbol's lot-size filter stays cached.
const DefaultLotSizeTTL = time.Hour

// LotSizer formats quantities for a client's symbols, caching filters.
type LotSizer struct {
	filters *cache.Store[string, *ports.LotSizeFilter]
}

// NewLotSizer creates a LotSizer whose filters stay cached for ttl.
func NewLotSizer(ttl time.Duration, clock ports.Clock) *LotSizer {
	return &LotSizer{filters: cache.New[string, *ports.LotSizeFilter](ttl, clock)}
}

// Format returns qty formatted to symbol's lot step on client's exchange.
func (l *LotSizer) Format(ctx context.Context, client ports.ExchangeClient, symbol string, qty float64) (string, error) {
	key := string(client.Name()) + ":" + symbol
	filter, ok := l.filters.Get(key)
	if !ok {
		var err error
		filter, err = client.GetLotSizeFilter(ctx, symbol)
		if err != nil {
			return "", fmt.Errorf("lot size filter for %s: %w", symbol, err)
		}
		l.filters.Set(key, filter)
	}
	out, err := FormatQuantity(qty, filter.StepSize)
	if err != nil {
		return "", err
	}
	if filter.MinQuantity > 0 {
		if d, _ := decimal.NewFromString(out); d.LessThan(decimal.NewFromFloat(filter.MinQuantity)) {
			return "", fmt.Errorf("quantity %s below minimum %v for %s: %w", out, filter.MinQuantity, symbol, ports.ErrInvalidRequest)
		}
	}
	return out, nil
}
