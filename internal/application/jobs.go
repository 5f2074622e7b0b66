package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/sundial/internal/ports"
)

// The background jobs registered with the jobs manager. Each wraps one
// service operation so intervals and wiring stay in the composition root.

type SweepJob struct {
	log      *zap.Logger
	budget   *BudgetService
	planner  *PlannerService
	registry ports.Registry
	interval time.Duration
}

func NewSweepJob(log *zap.Logger, budget *BudgetService, planner *PlannerService, registry ports.Registry, interval time.Duration) *SweepJob {
	if log == nil {
		log = zap.NewNop()
	}
	return &SweepJob{log: log, budget: budget, planner: planner, registry: registry, interval: interval}
}

func (j *SweepJob) Name() string            { return "sweep" }
func (j *SweepJob) Interval() time.Duration { return j.interval }

func (j *SweepJob) Run(ctx context.Context) error {
	allocations, err := j.budget.SweepExpired(ctx)
	if err != nil {
		return err
	}

	actions, err := j.planner.SweepExpired(ctx)
	if err != nil {
		return err
	}

	pruned, err := j.registry.PruneDead(ctx)
	if err != nil {
		return err
	}

	if allocations > 0 || actions > 0 || len(pruned) > 0 {
		j.log.Info("sweep pass",
			zap.Int("allocations_expired", allocations),
			zap.Int("actions_expired", actions),
			zap.Int("workers_pruned", len(pruned)))
	}

	return nil
}

type PlanningJob struct {
	observer  *FleetObserver
	planner   *PlannerService
	budget    *BudgetService
	lifecycle *LifecycleService
	interval  time.Duration
}

func NewPlanningJob(observer *FleetObserver, planner *PlannerService, budget *BudgetService, lifecycle *LifecycleService, interval time.Duration) *PlanningJob {
	return &PlanningJob{observer: observer, planner: planner, budget: budget, lifecycle: lifecycle, interval: interval}
}

func (j *PlanningJob) Name() string            { return "planning" }
func (j *PlanningJob) Interval() time.Duration { return j.interval }

func (j *PlanningJob) Run(ctx context.Context) error {
	states, err := j.observer.States(ctx)
	if err != nil {
		return err
	}

	for _, state := range states {
		if _, err := j.planner.Evaluate(ctx, state, nil); err != nil {
			return err
		}

		// Ledger-driven sundown: initiation is idempotent while a request
		// is in flight, so re-checking every pass is safe.
		for _, allocation := range j.budget.AllocationsFor(state.WorkerID) {
			should, reason, err := j.budget.ShouldCheckpoint(ctx, state.WorkerID, allocation.Component)
			if err != nil || !should {
				continue
			}
			if err := j.lifecycle.InitiateCheckpoint(ctx, state.WorkerID, reason); err != nil {
				return err
			}
			break
		}
	}

	return nil
}

type ConsolidationJob struct {
	lifecycle *LifecycleService
	interval  time.Duration
}

func NewConsolidationJob(lifecycle *LifecycleService, interval time.Duration) *ConsolidationJob {
	return &ConsolidationJob{lifecycle: lifecycle, interval: interval}
}

func (j *ConsolidationJob) Name() string            { return "consolidation" }
func (j *ConsolidationJob) Interval() time.Duration { return j.interval }

func (j *ConsolidationJob) Run(ctx context.Context) error {
	return j.lifecycle.Consolidate(ctx)
}
