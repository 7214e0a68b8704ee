package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

func workerCmd(envFiles func() []string) *cobra.Command {
	var (
		migrate     bool
		maintenance bool
	)

	command := &cobra.Command{
		Use:   "worker",
		Short: "Drain the queue and run due schedules until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, envFiles())
			if err != nil {
				return err
			}
			defer rt.close()

			if migrate {
				if err := rt.store.Migrate(ctx); err != nil {
					return err
				}
			}
			if maintenance && rt.engine.Scheduler() != nil {
				if err := registerMaintenanceSchedules(ctx, rt.engine, rt.cfg.Worker.ProcessedRetention); err != nil {
					return err
				}
			}

			if err := rt.engine.Start(ctx); err != nil {
				return err
			}
			rt.logger.Info("worker started",
				slog.String("store", rt.cfg.Store),
				slog.String("worker_id", rt.engine.Pool().WorkerID().String()),
				slog.Int("concurrency", rt.cfg.Worker.Concurrency),
			)

			<-ctx.Done()
			rt.logger.Info("shutting down")

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.Worker.ShutdownTimeout+5*time.Second)
			defer cancel()
			return rt.engine.Stop(stopCtx)
		},
	}

	command.Flags().BoolVar(&migrate, "migrate", false, "Run schema migrations before starting")
	command.Flags().BoolVar(&maintenance, "maintenance", true, "Register the built-in maintenance schedules")
	return command
}

func migrateCmd(envFiles func() []string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, envFiles())
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.store.Migrate(ctx); err != nil {
				return err
			}
			rt.logger.Info("migrations applied", slog.String("store", rt.cfg.Store))
			return nil
		},
	}
}
