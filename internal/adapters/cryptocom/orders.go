package cryptocom

import (
	"context"
	"fmt"
	"time"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
	"researchEngine/internal/symbols"
)

type createOrderResult struct {
	OrderID   string `json:"order_id"`
	ClientOID string `json:"client_oid"`
}

type orderDetail struct {
	OrderID            string `json:"order_id"`
	ClientOID          string `json:"client_oid"`
	Status             string `json:"status"`
	Side               string `json:"side"`
	InstrumentName     string `json:"instrument_name"`
	Quantity           string `json:"quantity"`
	CumulativeQuantity string `json:"cumulative_quantity"`
	CumulativeValue    string `json:"cumulative_value"`
	AvgPrice           string `json:"avg_price"`
	CumulativeFee      string `json:"cumulative_fee"`
	UpdateTime         int64  `json:"update_time"`
}

type balanceResult struct {
	Data []struct {
		PositionBalances []struct {
			InstrumentName string `json:"instrument_name"`
			Quantity       string `json:"quantity"`
			ReservedQty    string `json:"reserved_qty"`
		} `json:"position_balances"`
	} `json:"data"`
}

// PlaceOrder submits a spot order. The create endpoint only acknowledges the
// order, so the returned response carries status NEW until reconciled.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceOrder"
	if req.MarginMode == domain.MarginModeMargin {
		return nil, c.handleError(ctx, ports.ErrMarginUnsupported, op)
	}
	params := map[string]string{
		"instrument_name": symbols.ToCryptoCom(req.Symbol),
		"side":            string(req.Side),
		"type":            string(req.Type),
	}
	switch {
	case req.Quantity != "":
		params["quantity"] = req.Quantity
	case req.QuoteQuantity != "" && req.Type == ports.OrderTypeMarket:
		params["notional"] = req.QuoteQuantity
	default:
		return nil, c.handleError(ctx, fmt.Errorf("quantity is required: %w", ports.ErrInvalidRequest), op)
	}
	if req.Type == ports.OrderTypeLimit {
		params["price"] = req.Price
	}
	if req.ClientOrderID != "" {
		params["client_oid"] = req.ClientOrderID
	}

	var res createOrderResult
	if err := c.private(ctx, "private/create-order", params, &res); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, "Order placed", map[string]interface{}{"symbol": req.Symbol, "orderID": res.OrderID})
	return &ports.OrderResponse{
		OrderID:       res.OrderID,
		Symbol:        symbols.Normalize(req.Symbol),
		ClientOrderID: res.ClientOID,
		Status:        domain.OrderStatusNew,
		Side:          req.Side,
		OrigQuantity:  parseFloat(req.Quantity),
		Timestamp:     time.Now(),
	}, nil
}

// GetOrder fetches the current state of an order.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*ports.OrderResponse, error) {
	op := "GetOrder"
	var d orderDetail
	if err := c.private(ctx, "private/get-order-detail", map[string]string{"order_id": orderID}, &d); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(&d, symbol), nil
}

// GetOrderByClientID fetches an order by the client_oid it was placed with.
func (c *Client) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*ports.OrderResponse, error) {
	op := "GetOrderByClientID"
	if clientOrderID == "" {
		return nil, c.handleError(ctx, fmt.Errorf("client order id is required: %w", ports.ErrInvalidRequest), op)
	}
	var d orderDetail
	if err := c.private(ctx, "private/get-order-detail", map[string]string{"client_oid": clientOrderID}, &d); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(&d, symbol), nil
}

// CancelOrder cancels an open order and returns its latest known state.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	if err := c.private(ctx, "private/cancel-order", map[string]string{"order_id": orderID}, nil); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return &ports.OrderResponse{
		OrderID:   orderID,
		Symbol:    symbols.Normalize(symbol),
		Status:    domain.OrderStatusCanceled,
		Timestamp: time.Now(),
	}, nil
}

// GetBalances returns free balances keyed by asset.
func (c *Client) GetBalances(ctx context.Context) (map[string]float64, error) {
	op := "GetBalances"
	var res balanceResult
	if err := c.private(ctx, "private/user-balance", nil, &res); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := map[string]float64{}
	for _, acct := range res.Data {
		for _, b := range acct.PositionBalances {
			free := parseFloat(b.Quantity) - parseFloat(b.ReservedQty)
			if free > 0 {
				out[b.InstrumentName] += free
			}
		}
	}
	return out, nil
}

func translateStatus(status string, executed float64) domain.OrderStatus {
	switch status {
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED":
		return domain.OrderStatusCanceled
	case "EXPIRED":
		return domain.OrderStatusExpired
	case "REJECTED":
		return domain.OrderStatusRejected
	default:
		if executed > 0 {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusNew
	}
}

func translateOrder(d *orderDetail, symbol string) *ports.OrderResponse {
	executed := parseFloat(d.CumulativeQuantity)
	sym := symbol
	if d.InstrumentName != "" {
		sym = d.InstrumentName
	}
	out := &ports.OrderResponse{
		OrderID:         d.OrderID,
		Symbol:          symbols.Normalize(sym),
		ClientOrderID:   d.ClientOID,
		Status:          translateStatus(d.Status, executed),
		Side:            domain.OrderSide(d.Side),
		OrigQuantity:    parseFloat(d.Quantity),
		ExecutedQty:     executed,
		AvgPrice:        parseFloat(d.AvgPrice),
		CumulativeQuote: parseFloat(d.CumulativeValue),
		Fee:             parseFloat(d.CumulativeFee),
		Timestamp:       time.UnixMilli(d.UpdateTime),
	}
	if out.AvgPrice == 0 && executed > 0 {
		out.AvgPrice = out.CumulativeQuote / executed
	}
	return out
}
