package domain

import "time"

// MarginPositionStatus is the lifecycle state of a margin position.
type MarginPositionStatus string

const (
	MarginStatusOpen   MarginPositionStatus = "open"
	MarginStatusClosed MarginPositionStatus = "closed"
)

// MarginPosition mirrors the risk state of a margin trade. It is tied 1:1 to
// its Trade through TradeID.
type MarginPosition struct {
	ID               string
	TradeID          string
	UserID           string
	Symbol           string
	Side             PositionSide
	EntryPrice       float64
	Quantity         float64
	Leverage         int
	LiquidationPrice float64
	UnrealizedPnL    float64
	Status           MarginPositionStatus
	ClosedAt         *time.Time
	ClosePrice       *float64
	RealizedPnL      float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsOpen checks if the margin position is still open.
func (p *MarginPosition) IsOpen() bool {
	return p.Status == MarginStatusOpen
}
