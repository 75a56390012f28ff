package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"researchEngine/internal/strategy/signal"
)

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <symbol>",
		Short: "Score a symbol and print the confidence breakdown without storing a signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := build(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer e.close(context.Background())

			ev, err := e.signals.Evaluate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printEvaluation(cmd.OutOrStdout(), ev)
		},
	}
}

func printEvaluation(w io.Writer, ev *signal.Evaluation) error {
	sig := ev.Signal
	fmt.Fprintf(w, "%s  price=%g  confidence=%.1f%%\n", sig.Symbol, sig.Price, sig.Confidence*100)
	if ev.Rejected != "" {
		fmt.Fprintf(w, "rejected: %s\n", ev.Rejected)
	}
	if len(sig.Breakdown.Components) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COMPONENT\tSCORE\tWEIGHT\tCONTRIBUTION\tFIRED")
		for _, c := range sig.Breakdown.Components {
			fmt.Fprintf(tw, "%s\t%.3f\t%.2f\t%+.3f\t%t\n", c.Name, c.Score, c.Weight, c.Contribution, c.Fired)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(sig.Reasons) > 0 {
		fmt.Fprintf(w, "reasons: %s\n", strings.Join(sig.Reasons, "; "))
	}
	return nil
}
