package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var noAPI bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler, the price feed and the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			e, err := build(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer e.close(context.Background())

			var wg sync.WaitGroup
			if e.stream != nil {
				done := e.prices.Feed(ctx, e.stream)
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-done
					if ctx.Err() == nil {
						e.logger.Warn(ctx, "Price feed stopped, prices now come from REST only")
					}
				}()
			}

			errCh := make(chan error, 1)
			if !noAPI {
				srv, err := e.server()
				if err != nil {
					return err
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := srv.Start(ctx, opts.cfg.HTTPAddr); err != nil {
						errCh <- err
						cancel()
					}
				}()
			}

			runErr := e.service.Run(ctx, opts.cfg.TickInterval, opts.cfg.ScanInterval)
			cancel()
			wg.Wait()
			e.logger.Info(context.Background(), "Application finished gracefully.")

			select {
			case err := <-errCh:
				return err
			default:
			}
			if runErr != nil {
				return fmt.Errorf("scheduler: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not serve the HTTP API")
	return cmd
}
