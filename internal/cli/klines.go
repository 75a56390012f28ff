package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"researchEngine/internal/adapters/binanceclient"
	"researchEngine/internal/symbols"
	"researchEngine/internal/utils"
)

func newKlinesCmd(opts *rootOptions) *cobra.Command {
	var (
		symbol   string
		interval string
		fromStr  string
		toStr    string
		outPath  string
	)
	cmd := &cobra.Command{
		Use:   "klines",
		Short: "Download Binance klines for a range and write them as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			end := time.Now()
			start := end.AddDate(0, -1, 0)
			var err error
			if fromStr != "" {
				if start, err = time.Parse(time.RFC3339, fromStr); err != nil {
					return fmt.Errorf("bad --from: %w", err)
				}
			}
			if toStr != "" {
				if end, err = time.Parse(time.RFC3339, toStr); err != nil {
					return fmt.Errorf("bad --to: %w", err)
				}
			}
			if !start.Before(end) {
				return fmt.Errorf("--from must be before --to")
			}

			log := newLogger(opts.cfg)
			client, err := binanceclient.New(binanceclient.Config{
				UseTestnet:        opts.cfg.BinanceTestnet,
				Logger:            log,
				RequestsPerSecond: opts.cfg.ExchangeRateLimit,
			})
			if err != nil {
				return err
			}

			symbol = symbols.Normalize(symbol)
			klines, err := client.GetKlinesRange(ctx, symbol, interval, start, end)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", symbol, interval, start.Format("20060102"), end.Format("20060102"))
			}
			if err := utils.WriteKlinesToCSV(klines, outPath); err != nil {
				return err
			}
			log.Info(ctx, "Saved klines", map[string]interface{}{"count": len(klines), "filename": outPath})
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "ETH_USDT", "Symbol, any common notation")
	cmd.Flags().StringVar(&interval, "interval", "1m", "Kline interval")
	cmd.Flags().StringVar(&fromStr, "from", "", "Range start, RFC3339 (default one month ago)")
	cmd.Flags().StringVar(&toStr, "to", "", "Range end, RFC3339 (default now)")
	cmd.Flags().StringVar(&outPath, "out", "", "Output CSV path")
	return cmd
}
