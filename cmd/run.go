package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bnema/sundial/internal/application"
	"github.com/bnema/sundial/internal/jobs"
)

func newRunCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the coordination daemon",
		Long:  "Starts the background jobs: expiry sweeps and dead-worker pruning, planning passes over the fleet, and checkpoint consolidation. Runs until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager := jobs.NewManager(ctx, app.log)
			manager.Register(application.NewSweepJob(app.log, app.budget, app.planner, app.registry, app.cfg.CleanupInterval))
			manager.Register(application.NewPlanningJob(app.observer, app.planner, app.budget, app.lifecycle, app.cfg.PlanningInterval))
			manager.Register(application.NewConsolidationJob(app.lifecycle, app.cfg.ConsolidationInterval))
			manager.Start()

			app.log.Info("daemon started",
				zap.String("data_dir", app.cfg.DataDir),
				zap.Duration("planning_interval", app.cfg.PlanningInterval))

			<-ctx.Done()

			app.log.Info("shutting down")
			manager.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := app.budget.Stop(shutdownCtx); err != nil {
				return fmt.Errorf("flush budget state: %w", err)
			}
			if err := app.planner.FlushApplied(filepath.Join(app.cfg.DataDir, "applied_actions.json")); err != nil {
				app.log.Warn("flush applied actions failed", zap.Error(err))
			}
			app.bus.Drain()

			return nil
		},
	}
}
