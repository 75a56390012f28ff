package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"researchEngine/internal/analytics"
	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var (
		userID  string
		window  time.Duration
		balance float64
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print performance metrics of a user's closed trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, opts.cfg, ports.NopLogger{})
			if err != nil {
				return err
			}
			defer store.Close()

			trades, err := store.ListClosedTrades(ctx, userID, time.Now().Add(-window))
			if err != nil {
				return err
			}
			auto, err := store.GetAutoTradeStats(ctx, userID)
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), analytics.AnalyzePerformance(trades, balance), auto)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().DurationVar(&window, "window", 30*24*time.Hour, "Look-back window over close times")
	cmd.Flags().Float64Var(&balance, "balance", 1000, "Starting balance for drawdown and return figures")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printStats(w io.Writer, m *analytics.PerformanceMetrics, auto *ports.AutoTradeStats) error {
	fmt.Fprintf(w, "trades:            %d (%d won, %d lost)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Fprintf(w, "win rate:          %.1f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "total pnl:         %.2f\n", m.TotalProfit)
	fmt.Fprintf(w, "profit factor:     %.2f\n", m.ProfitFactor)
	fmt.Fprintf(w, "max drawdown:      %.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(w, "streaks:           %d wins, %d losses\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)
	fmt.Fprintf(w, "avg duration:      %s\n", m.AverageTradeDuration.Round(time.Second))
	if m.LowConfidenceFills > 0 {
		fmt.Fprintf(w, "estimated fills:   %d\n", m.LowConfidenceFills)
	}

	reasons := make([]string, 0, len(m.ByReason))
	for r := range m.ByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		rs := m.ByReason[domain.CloseReason(r)]
		fmt.Fprintf(w, "  %-16s %3d trades  pnl %.2f\n", r, rs.Trades, rs.PnL)
	}

	if auto != nil {
		_, err := fmt.Fprintf(w, "auto-trade:        %d wins, %d losses, %d consecutive losses, daily pnl %.2f (%s)\n",
			auto.Wins, auto.Losses, auto.ConsecutiveLosses, auto.DailyPnL, auto.Day)
		return err
	}
	return nil
}
