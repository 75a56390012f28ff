package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"researchEngine/internal/adapters/binanceclient"
	"researchEngine/internal/domain"
	"researchEngine/internal/strategy/backtesting"
	"researchEngine/internal/strategy/signal"
	"researchEngine/internal/symbols"
	"researchEngine/internal/utils"
)

func newBacktestCmd(opts *rootOptions) *cobra.Command {
	var (
		csvPath  string
		symbol   string
		interval string
		days     int
		feeRate  float64
		notional float64
	)
	exits := domain.DefaultSettings("backtest")
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the scoring pipeline and exit rules over historical klines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scoring, err := signal.LoadScoringConfig(opts.cfg.ScoringConfigPath)
			if err != nil {
				return err
			}
			scorer, err := backtesting.NewPipelineScorer(scoring)
			if err != nil {
				return err
			}

			var klines []*domain.Kline
			if csvPath != "" {
				f, err := os.Open(csvPath)
				if err != nil {
					return err
				}
				klines, err = utils.ReadKlinesCSV(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("read %s: %w", csvPath, err)
				}
			} else {
				client, err := binanceclient.New(binanceclient.Config{
					UseTestnet:        opts.cfg.BinanceTestnet,
					Logger:            newLogger(opts.cfg),
					RequestsPerSecond: opts.cfg.ExchangeRateLimit,
				})
				if err != nil {
					return err
				}
				end := time.Now()
				klines, err = client.GetKlinesRange(ctx, symbols.Normalize(symbol), interval, end.AddDate(0, 0, -days), end)
				if err != nil {
					return err
				}
			}

			res, err := backtesting.Backtest(ctx, scorer, klines, backtesting.Config{
				Symbol:   symbols.Normalize(symbol),
				Settings: exits,
				Notional: notional,
				FeeRate:  feeRate,
				Warmup:   scoring.KlineLimit,
			})
			if err != nil {
				return err
			}
			return printBacktest(cmd.OutOrStdout(), res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&csvPath, "csv", "", "Replay klines from a CSV written by the klines command")
	f.StringVar(&symbol, "symbol", "ETH_USDT", "Symbol to download when --csv is not set")
	f.StringVar(&interval, "interval", "5m", "Kline interval to download")
	f.IntVar(&days, "days", 30, "Days of history to download")
	f.Float64Var(&feeRate, "fee-rate", 0.001, "Fee per fill as a fraction of notional")
	f.Float64Var(&notional, "notional", 100, "Quote notional of each entry")
	f.Float64Var(&exits.MinConfidence, "min-confidence", exits.MinConfidence, "Minimum confidence to enter")
	f.Float64Var(&exits.StopLossPct, "stop-loss", exits.StopLossPct, "Stop loss, percent below entry")
	f.Float64Var(&exits.TakeProfitPct, "take-profit", exits.TakeProfitPct, "Take profit, percent above entry")
	f.Float64Var(&exits.TrailingStopPct, "trailing-stop", exits.TrailingStopPct, "Trailing stop distance, percent")
	f.Float64Var(&exits.TrailingActivationPct, "trailing-activation", exits.TrailingActivationPct, "Profit percent that activates the trailing stop")
	f.Float64Var(&exits.TP1Pct, "tp1", exits.TP1Pct, "First take-profit tier, percent above entry")
	f.Float64Var(&exits.TP1SellPercent, "tp1-sell", exits.TP1SellPercent, "Share of the position sold at the first tier, percent")
	return cmd
}

func printBacktest(w io.Writer, res *backtesting.Result) error {
	fmt.Fprintf(w, "evaluated %d windows, %d entries\n", res.Evaluated, res.Entries)
	reasons := make([]string, 0, len(res.Rejected))
	for r := range res.Rejected {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(w, "  rejected %-22s %d\n", r, res.Rejected[r])
	}
	if res.OpenAtEnd != nil {
		fmt.Fprintf(w, "position still open from %g\n", res.OpenAtEnd.EntryPrice)
	}
	return printStats(w, res.Performance, nil)
}
