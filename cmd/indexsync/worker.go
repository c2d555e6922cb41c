package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/indexsync/internal/services"
)

func (c *cli) workerCmd() *cobra.Command {
	var (
		noAdmin bool
		workers int
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the worker pool and the admin API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers > 0 {
				c.cfg.Worker.NumWorkers = workers
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return c.runWorker(ctx, !noAdmin)
		},
	}
	cmd.Flags().BoolVar(&noAdmin, "no-admin", false, "Do not serve the admin API")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of workers (overrides worker.num_workers)")
	return cmd
}

// runWorker blocks until ctx is cancelled or the pool stops on its own.
func (c *cli) runWorker(ctx context.Context, admin bool) error {
	m, err := c.start(ctx, services.Options{RunWorker: true, RunAdmin: admin})
	if err != nil {
		return err
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	slog.Info("Starting indexsync worker",
		"queue", c.cfg.Queue.Backend,
		"search", c.cfg.Search.Backend,
		"workers", c.cfg.Worker.NumWorkers,
		"admin", admin && c.cfg.Admin.Enabled)
	m.Start(bgCtx)

	select {
	case <-ctx.Done():
		slog.Info("Shutting down...")
	case <-m.PoolDone():
	}

	bgCancel()
	c.stop(m)
	if err := m.PoolErr(); err != nil {
		return err
	}
	slog.Info("Worker stopped")
	return nil
}
