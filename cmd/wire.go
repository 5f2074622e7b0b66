package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	archivefile "github.com/bnema/sundial/internal/adapters/archive/file"
	registryfile "github.com/bnema/sundial/internal/adapters/registry/file"
	"github.com/bnema/sundial/internal/application"
	"github.com/bnema/sundial/internal/config"
	"github.com/bnema/sundial/internal/domain"
	"github.com/bnema/sundial/internal/events"
	"github.com/bnema/sundial/internal/heuristics"
	"github.com/bnema/sundial/internal/logging"
	"github.com/bnema/sundial/internal/ports"
)

type app struct {
	cfg       config.Config
	log       *zap.Logger
	bus       *events.Bus
	registry  *registryfile.Registry
	archive   *archivefile.Archive
	budget    *application.BudgetService
	lifecycle *application.LifecycleService
	planner   *application.PlannerService
	stress    *application.StressService
	observer  *application.FleetObserver
	now       func() time.Time
}

func wireApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	bus := events.NewBus(log)
	clock := ports.SystemClock{}

	registry, err := registryfile.NewRegistry(cfg.RegistryPath(),
		registryfile.WithCheckpointClassifier(heuristics.IsCheckpointSummary),
		registryfile.WithLockWait(cfg.LockWait),
	)
	if err != nil {
		return nil, fmt.Errorf("wire worker registry: %w", err)
	}

	seeded, err := registry.SeedRoster(context.Background(), cfg.RosterPath())
	if err != nil {
		return nil, fmt.Errorf("seed fleet roster: %w", err)
	}
	if seeded > 0 {
		log.Info("seeded fleet roster", zap.Int("workers", seeded))
	}

	archive, err := archivefile.NewArchive(cfg.ArchiveDir(), clock)
	if err != nil {
		return nil, fmt.Errorf("wire checkpoint archive: %w", err)
	}

	budget, err := application.NewBudgetService(log, bus, clock, cfg.PolicyPath(), application.TierLimitOverrides{
		LightweightDaily: cfg.LightweightDailyLimit,
		MidweightDaily:   cfg.MidweightDailyLimit,
		HeavyweightDaily: cfg.HeavyweightDailyLimit,
	}, application.WithBudgetRecorder(logging.NewRecorder(log)))
	if err != nil {
		return nil, fmt.Errorf("wire budget service: %w", err)
	}

	lifecycle := application.NewLifecycleService(log, bus, clock, registry, archive,
		application.WithCheckpointTimeout(cfg.CheckpointTimeout),
		application.WithLedgerReset(func(ctx context.Context, worker domain.WorkerID) error {
			_, err := budget.ResetWorker(ctx, worker)
			return err
		}),
	)

	// A stress alert only fires at high or critical urgency, both of which
	// recommend a sundown.
	bus.Subscribe(events.StressAlert, func(event events.Event) {
		reason := "stress alert"
		if payload, ok := event.Payload.(map[string]any); ok {
			if urgency, ok := payload["urgency"].(string); ok {
				reason = "stress " + urgency
			}
		}
		if err := lifecycle.InitiateCheckpoint(context.Background(), event.WorkerID, reason); err != nil {
			log.Warn("stress-triggered checkpoint failed",
				zap.String("worker", string(event.WorkerID)),
				zap.Error(err))
		}
	})

	planner := application.NewPlannerService(log, bus, clock,
		application.WithMaxActionsPerWorker(cfg.MaxActionsPerWorker))
	stress := application.NewStressService(log, bus, clock)
	observer := application.NewFleetObserver(registry, budget, stress)

	return &app{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		registry:  registry,
		archive:   archive,
		budget:    budget,
		lifecycle: lifecycle,
		planner:   planner,
		stress:    stress,
		observer:  observer,
		now:       time.Now,
	}, nil
}
