package ports

import "context"

// EventType classifies a user notification.
type EventType string

const (
	EventOrderFilled     EventType = "order_filled"
	EventOrderCancelled  EventType = "order_cancelled"
	EventPositionClosed  EventType = "position_closed"
	EventPartialTP       EventType = "partial_take_profit"
	EventSignal          EventType = "research_signal"
	EventExecutionFailed EventType = "execution_failed"
)

// Priority levels for notifications.
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
)

// Notification is a user-facing alert.
type Notification struct {
	UserID    string                 `json:"user_id"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	EventType EventType              `json:"event_type"`
	Priority  int                    `json:"priority"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Notifier dispatches notifications. Implementations must not block the
// caller on delivery; an error means the notification was not accepted.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// BridgeResult is the outcome of a natural-language execution request.
type BridgeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TradeID string `json:"trade_id,omitempty"`
}

// ExecutionBridge executes a natural-language trade instruction.
type ExecutionBridge interface {
	Execute(ctx context.Context, userID, instruction string) (*BridgeResult, error)
}
