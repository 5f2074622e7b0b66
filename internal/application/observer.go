package application

import (
	"context"
	"sort"

	"github.com/bnema/sundial/internal/domain"
	"github.com/bnema/sundial/internal/ports"
)

// FleetObserver assembles the planner's per-worker view from the signals the
// core already has: allocation utilization from the ledger and the latest
// stress reading per worker.
type FleetObserver struct {
	registry ports.Registry
	budget   *BudgetService
	stress   *StressService
}

func NewFleetObserver(registry ports.Registry, budget *BudgetService, stress *StressService) *FleetObserver {
	return &FleetObserver{registry: registry, budget: budget, stress: stress}
}

// States returns a WorkerState per registered worker, sorted by name.
func (o *FleetObserver) States(ctx context.Context) ([]domain.WorkerState, error) {
	entries, err := o.registry.All(ctx)
	if err != nil {
		return nil, err
	}

	states := make([]domain.WorkerState, 0, len(entries))
	for name, entry := range entries {
		metrics := domain.Metrics{
			TokenUtilization: o.budget.utilizationFor(name),
		}

		if history := o.stress.History(name); len(history) > 0 {
			latest := history[len(history)-1]
			if latest.Mood == domain.MoodRepetitive {
				metrics.RepetitionScore = latest.Stress
			}
		}

		score := 1 - metrics.TokenUtilization
		if repetitionPenalty := metrics.RepetitionScore / 2; score > repetitionPenalty {
			score -= repetitionPenalty
		}

		states = append(states, domain.WorkerState{
			WorkerID:    name,
			Metrics:     metrics,
			Health:      healthForScore(score),
			HealthScore: score,
			CreatedAt:   entry.Created,
		})
	}

	sort.Slice(states, func(i, j int) bool { return states[i].WorkerID < states[j].WorkerID })
	return states, nil
}

func healthForScore(score float64) domain.ContextHealth {
	switch {
	case score >= 0.8:
		return domain.HealthExcellent
	case score >= 0.6:
		return domain.HealthGood
	case score >= 0.4:
		return domain.HealthFair
	case score >= 0.2:
		return domain.HealthPoor
	default:
		return domain.HealthCritical
	}
}
