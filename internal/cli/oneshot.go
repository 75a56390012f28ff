package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"researchEngine/internal/app"
)

func newTickCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one maintenance tick and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := build(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer e.close(context.Background())

			return printTick(cmd.OutOrStdout(), e.service.Tick(cmd.Context()))
		},
	}
}

func newScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one signal scan across enabled users",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := build(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer e.close(context.Background())

			r := e.service.Scan(cmd.Context())
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "users=%d symbols=%d signals=%d executed=%d skipped=%d deferred=%d errors=%d\n",
				r.Users, r.Symbols, r.Signals, r.Executed, r.Skips, r.Deferred, r.Errors)
			return err
		},
	}
}

func printTick(w io.Writer, r app.TickReport) error {
	if r.Skipped {
		_, err := fmt.Fprintln(w, "tick skipped: previous tick still running")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tCHECKED\tCHANGED\tERRORS\tDURATION\tFAILURE")
	for _, t := range r.Tasks {
		failure := ""
		if t.Err != nil {
			failure = t.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n", t.Name, t.Checked, t.Changed, t.Errors, t.Duration.Round(time.Millisecond), failure)
	}
	return tw.Flush()
}
