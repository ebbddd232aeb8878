package main

import (
	"fmt"

	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/settings"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/sweeper"
	"github.com/spf13/cobra"
)

// sweepCmd is the one-shot form of the no-show worker, meant for cron.
func sweepCmd() *cobra.Command {
	var batches int
	cmd := &cobra.Command{
		Use:   "sweep-no-shows",
		Short: "Mark overdue SCHEDULED appointments as NO_SHOW",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := settings.Load()
			if err != nil {
				return err
			}
			logger := runtime.NewLogger(st.ServiceName)
			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			pool, err := openPool(ctx, st)
			if err != nil {
				return err
			}
			defer pool.Close()

			a := newApp(pool, st, logger, nil)
			defer a.booking.Wait()
			worker := sweeper.NewWorker(a.booking, logger, sweeper.Config{
				Grace:     st.NoShowGrace,
				BatchSize: st.NoShowBatch,
			})

			total := 0
			for i := 0; i < batches; i++ {
				n, err := worker.RunOnce(ctx)
				total += n
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				if n < st.NoShowBatch {
					break
				}
			}
			logger.Info("no-show sweep finished", "marked", total)
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d appointment(s) as NO_SHOW\n", total)
			return nil
		},
	}
	cmd.Flags().IntVar(&batches, "max-batches", 10, "stop after this many batches")
	return cmd
}
