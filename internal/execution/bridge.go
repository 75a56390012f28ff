package execution

import (
	"context"
	"fmt"
	"strings"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

// Instruction renders the natural-language trade request for a signal.
func (r *Router) Instruction(sig *domain.Signal, s *domain.ResearchSettings) string {
	levels := r.risk.ExitLevels(sig.Price, domain.Long, s)
	notional := r.risk.PositionNotional(s, 0)

	var b strings.Builder
	if s.PaperLiveMode == domain.ModeLive {
		fmt.Fprintf(&b, "Buy %s at market using %.0f%% of my portfolio", sig.Symbol, s.PositionSizePct)
	} else {
		fmt.Fprintf(&b, "Paper buy $%.2f of %s at market", notional, sig.Symbol)
	}
	if levels.StopLoss != nil {
		fmt.Fprintf(&b, ", stop loss at %.8g", *levels.StopLoss)
	}
	if levels.TakeProfit != nil {
		fmt.Fprintf(&b, ", take profit at %.8g", *levels.TakeProfit)
	}
	if levels.TrailingStopPercent != nil {
		fmt.Fprintf(&b, ", trailing stop %.2f%%", *levels.TrailingStopPercent)
	}
	fmt.Fprintf(&b, " (research signal %s, confidence %.0f%%)", sig.ID, sig.Confidence*100)
	return b.String()
}

// ExecuteViaBridge hands the signal to the conversational execution bridge
// and records its verdict on the signal.
func (r *Router) ExecuteViaBridge(ctx context.Context, bridge ports.ExecutionBridge, sig *domain.Signal, s *domain.ResearchSettings) (*Outcome, error) {
	op := "ExecuteViaBridge"
	if sig.Status != domain.SignalPending {
		return nil, fmt.Errorf("%s failed: %w", op, ports.ErrSignalTerminal)
	}
	if bridge == nil {
		return nil, fmt.Errorf("%s failed: %w", op, ports.ErrFeatureDisabled)
	}
	if err := r.claim(ctx, sig); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	instruction := r.Instruction(sig, s)
	res, err := bridge.Execute(ctx, sig.UserID, instruction)
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", ports.ErrOrderPlacementFailed, res.Message)
	}
	if err != nil {
		r.logger.Error(ctx, err, "Bridge execution failed", map[string]interface{}{"signal_id": sig.ID})
		if terr := r.transition(ctx, sig, domain.SignalFailed, "", err.Error(), ""); terr != nil {
			return nil, fmt.Errorf("%s failed: %w", op, terr)
		}
		r.metrics.SignalsExecuted.WithLabelValues(string(domain.SignalFailed)).Inc()
		return &Outcome{Status: domain.SignalFailed, Err: err}, nil
	}

	if err := r.transition(ctx, sig, domain.SignalExecuted, res.TradeID, "", ""); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	r.metrics.SignalsExecuted.WithLabelValues(string(domain.SignalExecuted)).Inc()
	r.logger.Info(ctx, "Signal executed via bridge", map[string]interface{}{"signal_id": sig.ID, "trade_id": res.TradeID})
	return &Outcome{Status: domain.SignalExecuted}, nil
}
