package binanceclient

import (
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
	"researchEngine/internal/symbols"
)

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func translateStatus(s binance.OrderStatusType) domain.OrderStatus {
	switch string(s) {
	case "EXPIRED_IN_MATCH":
		return domain.OrderStatusExpired
	case "PENDING_CANCEL":
		return domain.OrderStatusNew
	default:
		return domain.OrderStatus(s)
	}
}

func avgPrice(executed, quote float64) float64 {
	if executed <= 0 {
		return 0
	}
	return quote / executed
}

func translateCreateResponse(res *binance.CreateOrderResponse) *ports.OrderResponse {
	out := &ports.OrderResponse{
		OrderID:         strconv.FormatInt(res.OrderID, 10),
		Symbol:          symbols.Normalize(res.Symbol),
		ClientOrderID:   res.ClientOrderID,
		Status:          translateStatus(res.Status),
		Side:            domain.OrderSide(res.Side),
		OrigQuantity:    parseFloat(res.OrigQuantity),
		ExecutedQty:     parseFloat(res.ExecutedQuantity),
		CumulativeQuote: parseFloat(res.CummulativeQuoteQuantity),
		Timestamp:       time.UnixMilli(res.TransactTime),
	}
	for _, f := range res.Fills {
		fill := ports.Fill{
			Price:           parseFloat(f.Price),
			Quantity:        parseFloat(f.Quantity),
			Commission:      parseFloat(f.Commission),
			CommissionAsset: f.CommissionAsset,
		}
		out.Fee += fill.Commission
		out.Fills = append(out.Fills, fill)
	}
	out.AvgPrice = avgPrice(out.ExecutedQty, out.CumulativeQuote)
	return out
}

func translateOrder(o *binance.Order) *ports.OrderResponse {
	out := &ports.OrderResponse{
		OrderID:         strconv.FormatInt(o.OrderID, 10),
		Symbol:          symbols.Normalize(o.Symbol),
		ClientOrderID:   o.ClientOrderID,
		Status:          translateStatus(o.Status),
		Side:            domain.OrderSide(o.Side),
		OrigQuantity:    parseFloat(o.OrigQuantity),
		ExecutedQty:     parseFloat(o.ExecutedQuantity),
		CumulativeQuote: parseFloat(o.CummulativeQuoteQuantity),
		Timestamp:       time.UnixMilli(o.UpdateTime),
	}
	out.AvgPrice = avgPrice(out.ExecutedQty, out.CumulativeQuote)
	return out
}

func translateCancelResponse(res *binance.CancelOrderResponse) *ports.OrderResponse {
	out := &ports.OrderResponse{
		OrderID:         strconv.FormatInt(res.OrderID, 10),
		Symbol:          symbols.Normalize(res.Symbol),
		ClientOrderID:   res.ClientOrderID,
		Status:          translateStatus(res.Status),
		Side:            domain.OrderSide(res.Side),
		OrigQuantity:    parseFloat(res.OrigQuantity),
		ExecutedQty:     parseFloat(res.ExecutedQuantity),
		CumulativeQuote: parseFloat(res.CummulativeQuoteQuantity),
		Timestamp:       time.UnixMilli(res.TransactTime),
	}
	out.AvgPrice = avgPrice(out.ExecutedQty, out.CumulativeQuote)
	return out
}

func translateTicker(st *binance.PriceChangeStats) (domain.Ticker, error) {
	price, err := strconv.ParseFloat(st.LastPrice, 64)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("could not parse price '%s': %w", st.LastPrice, err)
	}
	return domain.Ticker{
		Symbol:    symbols.Normalize(st.Symbol),
		Price:     price,
		High24h:   parseFloat(st.HighPrice),
		Low24h:    parseFloat(st.LowPrice),
		Volume:    parseFloat(st.QuoteVolume),
		Timestamp: time.UnixMilli(st.CloseTime),
	}, nil
}

func translateKlines(klines []*binance.Kline, symbol, interval string) ([]*domain.Kline, error) {
	out := make([]*domain.Kline, 0, len(klines))
	for _, bk := range klines {
		k, err := translateKline(bk, symbol, interval)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func translateKline(bk *binance.Kline, symbol, interval string) (*domain.Kline, error) {
	var err error
	k := &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		IsFinal:   time.UnixMilli(bk.CloseTime).Before(time.Now()),
	}
	fields := []struct {
		dst *float64
		src string
	}{
		{&k.Open, bk.Open}, {&k.High, bk.High}, {&k.Low, bk.Low}, {&k.Close, bk.Close}, {&k.Volume, bk.Volume},
	}
	for _, f := range fields {
		if *f.dst, err = strconv.ParseFloat(f.src, 64); err != nil {
			return nil, fmt.Errorf("failed to parse kline value '%s': %w", f.src, err)
		}
	}
	return k, nil
}
