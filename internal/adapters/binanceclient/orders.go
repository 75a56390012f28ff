package binanceclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
	"researchEngine/internal/symbols"
)

// PlaceOrder submits a market or limit order on spot, or on margin when the
// request asks for it and the account has margin enabled.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceOrder"
	if req.MarginMode == domain.MarginModeMargin {
		return c.placeMarginOrder(ctx, req, binance.SideEffectTypeMarginBuy, op)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	svc := c.api.NewCreateOrderService().
		Symbol(symbols.ToBinance(req.Symbol)).
		Side(binance.SideType(req.Side)).
		Type(orderType(req.Type)).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	switch {
	case req.Quantity != "":
		svc = svc.Quantity(req.Quantity)
	case req.QuoteQuantity != "" && req.Type == ports.OrderTypeMarket:
		svc = svc.QuoteOrderQty(req.QuoteQuantity)
	default:
		return nil, c.handleError(ctx, fmt.Errorf("quantity is required: %w", ports.ErrInvalidRequest), op)
	}
	if req.Type == ports.OrderTypeLimit {
		svc = svc.TimeInForce(binance.TimeInForceTypeGTC).Price(req.Price)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, "Order placed", map[string]interface{}{"symbol": res.Symbol, "orderID": res.OrderID, "status": res.Status})
	return translateCreateResponse(res), nil
}

// CloseMarginPosition unwinds a margin position with auto-repay of the borrowed asset.
func (c *Client) CloseMarginPosition(ctx context.Context, req ports.MarginCloseRequest) (*ports.OrderResponse, error) {
	op := "CloseMarginPosition"
	if !c.marginEnabled {
		return nil, c.handleError(ctx, ports.ErrMarginUnsupported, op)
	}
	side := domain.Sell
	if req.Side == domain.Short {
		side = domain.Buy
	}
	return c.placeMarginOrder(ctx, ports.OrderRequest{
		Symbol:        req.Symbol,
		Side:          side,
		Type:          ports.OrderTypeMarket,
		Quantity:      req.Quantity,
		ClientOrderID: req.ClientOrderID,
		MarginMode:    domain.MarginModeMargin,
	}, binance.SideEffectTypeAutoRepay, op)
}

func (c *Client) placeMarginOrder(ctx context.Context, req ports.OrderRequest, effect binance.SideEffectType, op string) (*ports.OrderResponse, error) {
	if !c.marginEnabled {
		return nil, c.handleError(ctx, ports.ErrMarginUnsupported, op)
	}
	if req.Quantity == "" {
		return nil, c.handleError(ctx, fmt.Errorf("margin orders need a base quantity: %w", ports.ErrInvalidRequest), op)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	svc := c.api.NewCreateMarginOrderService().
		Symbol(symbols.ToBinance(req.Symbol)).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderTypeMarket).
		Quantity(req.Quantity).
		IsIsolated(c.isolatedMargin).
		SideEffectType(effect)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, "Margin order placed", map[string]interface{}{"symbol": res.Symbol, "orderID": res.OrderID, "sideEffect": effect})
	return translateCreateResponse(res), nil
}

// GetOrder fetches the current state of an order.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*ports.OrderResponse, error) {
	op := "GetOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("invalid order id %q: %w", orderID, ports.ErrInvalidRequest), op)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	var order *binance.Order
	if c.marginEnabled {
		order, err = c.api.NewGetMarginOrderService().Symbol(symbols.ToBinance(symbol)).OrderID(id).Do(ctx)
	} else {
		order, err = c.api.NewGetOrderService().Symbol(symbols.ToBinance(symbol)).OrderID(id).Do(ctx)
	}
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(order), nil
}

// GetOrderByClientID fetches an order by its client order id.
func (c *Client) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*ports.OrderResponse, error) {
	op := "GetOrderByClientID"
	if clientOrderID == "" {
		return nil, c.handleError(ctx, fmt.Errorf("client order id is required: %w", ports.ErrInvalidRequest), op)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	var order *binance.Order
	var err error
	if c.marginEnabled {
		order, err = c.api.NewGetMarginOrderService().Symbol(symbols.ToBinance(symbol)).OrigClientOrderID(clientOrderID).Do(ctx)
	} else {
		order, err = c.api.NewGetOrderService().Symbol(symbols.ToBinance(symbol)).OrigClientOrderID(clientOrderID).Do(ctx)
	}
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(order), nil
}

// CancelOrder cancels an open spot order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("invalid order id %q: %w", orderID, ports.ErrInvalidRequest), op)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	res, err := c.api.NewCancelOrderService().Symbol(symbols.ToBinance(symbol)).OrderID(id).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateCancelResponse(res), nil
}

func orderType(t ports.OrderType) binance.OrderType {
	if t == ports.OrderTypeLimit {
		return binance.OrderTypeLimit
	}
	return binance.OrderTypeMarket
}
