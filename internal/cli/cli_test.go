package cli

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/analytics"
	"researchEngine/internal/app"
	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
	"researchEngine/internal/strategy/signal"
)

func TestNewRootCmd_Commands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "tick", "scan", "analyze", "stats", "klines", "backtest"}, names)
}

func TestAnalyzeCmd_RequiresSymbol(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"analyze"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	// Argument validation happens before configuration is loaded.
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestPrintTick(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printTick(&buf, app.TickReport{Tasks: []app.TaskReport{
		{Name: app.TaskExits, Checked: 3, Changed: 1},
		{Name: app.TaskReconcile, Err: errors.New("exchange down")},
	}}))
	out := buf.String()
	assert.Contains(t, out, "TASK")
	assert.Contains(t, out, app.TaskExits)
	assert.Contains(t, out, "exchange down")

	buf.Reset()
	require.NoError(t, printTick(&buf, app.TickReport{Skipped: true}))
	assert.Contains(t, buf.String(), "skipped")
}

func TestPrintEvaluation(t *testing.T) {
	var buf bytes.Buffer
	ev := &signal.Evaluation{
		Signal: &domain.Signal{
			Symbol:     "SOL_USDT",
			Price:      150,
			Confidence: 0.75,
			Breakdown: domain.ConfidenceBreakdown{Components: []domain.ScoreComponent{
				{Name: "rsi", Score: 0.9, Weight: 0.3, Contribution: 0.27, Fired: true},
			}},
			Reasons: []string{"RSI oversold", "Volume spike"},
		},
		Rejected: signal.RejectTooFewReasons,
	}
	require.NoError(t, printEvaluation(&buf, ev))
	out := buf.String()
	assert.Contains(t, out, "confidence=75.0%")
	assert.Contains(t, out, "rejected: "+signal.RejectTooFewReasons)
	assert.Contains(t, out, "rsi")
	assert.Contains(t, out, "RSI oversold; Volume spike")
}

func TestPrintStats(t *testing.T) {
	closed := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := []*domain.Trade{
		{ID: "a", RealizedPnL: 12, CloseReason: domain.CloseReasonTakeProfit, ClosedAt: &closed, CreatedAt: closed.Add(-time.Hour)},
	}
	var buf bytes.Buffer
	require.NoError(t, printStats(&buf, analytics.AnalyzePerformance(trades, 1000), &ports.AutoTradeStats{Wins: 1, Day: "2025-03-01"}))
	out := buf.String()
	assert.Contains(t, out, "1 (1 won, 0 lost)")
	assert.Contains(t, out, "take_profit")
	assert.Contains(t, out, "auto-trade:")
	assert.Contains(t, out, "1h0m0s")
}
