package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that unwinds an order on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide is the direction of an exposure.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// EntrySide returns the order side that opens a position on this side.
func (s PositionSide) EntrySide() OrderSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// MarginMode distinguishes spot holdings from leveraged margin exposure.
type MarginMode string

const (
	MarginModeSpot   MarginMode = "spot"
	MarginModeMargin MarginMode = "margin"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss     CloseReason = "stop_loss"
	CloseReasonTakeProfit   CloseReason = "take_profit"
	CloseReasonTakeProfit2  CloseReason = "take_profit_tp2"
	CloseReasonTakeProfit1  CloseReason = "take_profit_tp1" // First tier partial exit; never closes a trade
	CloseReasonTrailingStop CloseReason = "trailing_stop"
	CloseReasonManual       CloseReason = "manual"
	CloseReasonLiquidation  CloseReason = "liquidation"
)

// OrderStatus is the normalized order state reported by an exchange adapter.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// ExchangeName identifies a supported exchange.
type ExchangeName string

const (
	ExchangeBinance   ExchangeName = "binance"
	ExchangeCryptoCom ExchangeName = "cryptocom"
)
