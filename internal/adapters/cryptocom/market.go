package cryptocom

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
	"researchEngine/internal/symbols"
)

type tickerData struct {
	Instrument string `json:"i"`
	High       string `json:"h"`
	Low        string `json:"l"`
	Last       string `json:"a"`
	Volume     string `json:"v"`
	VolumeUSD  string `json:"vv"`
	Timestamp  int64  `json:"t"`
}

type candleData struct {
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Timestamp int64  `json:"t"`
}

type instrumentData struct {
	Symbol      string `json:"symbol"`
	QtyTickSize string `json:"qty_tick_size"`
	MinQuantity string `json:"min_quantity"`
	MaxQuantity string `json:"max_quantity"`
}

type dataResult[T any] struct {
	Data []T `json:"data"`
}

var intervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "4h": "4h", "6h": "6h", "12h": "12h",
	"1d": "1D", "1w": "7D",
}

var intervalDurations = map[string]time.Duration{
	"1m": time.Minute, "5m": 5 * time.Minute, "15m": 15 * time.Minute, "30m": 30 * time.Minute,
	"1h": time.Hour, "4h": 4 * time.Hour, "6h": 6 * time.Hour, "12h": 12 * time.Hour,
	"1d": 24 * time.Hour, "1w": 7 * 24 * time.Hour,
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// GetTicker24hr retrieves tickers in one request. A single symbol is queried
// directly; otherwise every instrument is fetched and filtered locally.
func (c *Client) GetTicker24hr(ctx context.Context, syms []string) ([]domain.Ticker, error) {
	op := "GetTicker24hr"
	q := url.Values{}
	if len(syms) == 1 {
		q.Set("instrument_name", symbols.ToCryptoCom(syms[0]))
	}
	var res dataResult[tickerData]
	if err := c.public(ctx, "public/get-tickers", q, &res); err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	wanted := make(map[string]bool, len(syms))
	for _, s := range syms {
		wanted[symbols.ToCryptoCom(s)] = true
	}
	out := make([]domain.Ticker, 0, len(res.Data))
	for _, d := range res.Data {
		if len(wanted) > 1 && !wanted[d.Instrument] {
			continue
		}
		price := parseFloat(d.Last)
		if price <= 0 {
			c.logger.Warn(ctx, op+": skipping ticker without price", map[string]interface{}{"symbol": d.Instrument})
			continue
		}
		volume := parseFloat(d.VolumeUSD)
		if volume == 0 {
			volume = parseFloat(d.Volume) * price
		}
		out = append(out, domain.Ticker{
			Symbol:    symbols.Normalize(d.Instrument),
			Price:     price,
			High24h:   parseFloat(d.High),
			Low24h:    parseFloat(d.Low),
			Volume:    volume,
			Timestamp: time.UnixMilli(d.Timestamp),
		})
	}
	return out, nil
}

// GetKlines retrieves the most recent candles, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	tf, ok := intervals[strings.ToLower(interval)]
	if !ok {
		return nil, c.handleError(ctx, fmt.Errorf("unsupported interval %q: %w", interval, ports.ErrInvalidRequest), op)
	}
	if limit <= 0 || limit > 300 {
		limit = 300
	}
	q := url.Values{}
	q.Set("instrument_name", symbols.ToCryptoCom(symbol))
	q.Set("timeframe", tf)
	q.Set("count", strconv.Itoa(limit))

	var res dataResult[candleData]
	if err := c.public(ctx, "public/get-candlestick", q, &res); err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	width := intervalDurations[strings.ToLower(interval)]
	canonical := symbols.Normalize(symbol)
	out := make([]*domain.Kline, 0, len(res.Data))
	for _, d := range res.Data {
		open := time.UnixMilli(d.Timestamp)
		closeTime := open.Add(width - time.Millisecond)
		out = append(out, &domain.Kline{
			OpenTime:  open,
			CloseTime: closeTime,
			Symbol:    canonical,
			Interval:  interval,
			Open:      parseFloat(d.Open),
			High:      parseFloat(d.High),
			Low:       parseFloat(d.Low),
			Close:     parseFloat(d.Close),
			Volume:    parseFloat(d.Volume),
			IsFinal:   closeTime.Before(time.Now()),
		})
	}
	return out, nil
}

// GetLotSizeFilter returns the quantity tick of an instrument.
func (c *Client) GetLotSizeFilter(ctx context.Context, symbol string) (*ports.LotSizeFilter, error) {
	op := "GetLotSizeFilter"
	var res dataResult[instrumentData]
	if err := c.public(ctx, "public/get-instruments", nil, &res); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	name := symbols.ToCryptoCom(symbol)
	for _, inst := range res.Data {
		if inst.Symbol != name {
			continue
		}
		minQty := parseFloat(inst.MinQuantity)
		if minQty == 0 {
			minQty = parseFloat(inst.QtyTickSize)
		}
		return &ports.LotSizeFilter{
			Symbol:      symbols.Normalize(symbol),
			StepSize:    inst.QtyTickSize,
			MinQuantity: minQty,
			MaxQuantity: parseFloat(inst.MaxQuantity),
		}, nil
	}
	return nil, c.handleError(ctx, fmt.Errorf("instrument %s: %w", name, ports.ErrNotFound), op)
}
