// Package cli holds the engine's command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"researchEngine/config"
	"researchEngine/internal/adapters/logger"
)

type rootOptions struct {
	logLevel string
	cfg      *config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "research-engine",
		Short:         "Market research signals, auto-execution and position monitoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.LogLevel = logger.ParseLevel(opts.logLevel)
			}
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override LOG_LEVEL: debug|info|warn|error")

	cmd.AddCommand(
		newRunCmd(opts),
		newTickCmd(opts),
		newScanCmd(opts),
		newAnalyzeCmd(opts),
		newStatsCmd(opts),
		newKlinesCmd(opts),
		newBacktestCmd(opts),
	)
	return cmd
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
