package ports

import (
	"context"

	"researchEngine/internal/domain"
)

// SignalAnalyzer scores one symbol for a user. It returns nil, nil when no
// signal qualifies.
type SignalAnalyzer interface {
	AnalyzeSymbol(ctx context.Context, symbol string, minConfidence float64, settings *domain.ResearchSettings) (*domain.Signal, error)
}

// SignalBroadcaster delivers new signals to live subscribers.
type SignalBroadcaster interface {
	Broadcast(sig *domain.Signal)
}
