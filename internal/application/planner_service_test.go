package application

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/sundial/internal/domain"
)

func workerState(worker string, metrics domain.Metrics, health domain.ContextHealth) domain.WorkerState {
	return domain.WorkerState{
		WorkerID: domain.WorkerID(worker),
		Metrics:  metrics,
		Health:   health,
	}
}

func TestPlannerCriticalUtilizationSuggestsReset(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	planner := NewPlannerService(nil, nil, clock)

	accepted, err := planner.Evaluate(context.Background(),
		workerState("apollo", domain.Metrics{TokenUtilization: 0.97}, domain.HealthGood), nil)
	require.NoError(t, err)

	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ActionReset, accepted[0].Type)
	assert.Equal(t, domain.ActionCritical, accepted[0].Priority)
	assert.Equal(t, clock.Now().Add(5*time.Minute), accepted[0].ExpiresAt)
}

func TestPlannerHighUtilizationSuggestsAggressiveCompress(t *testing.T) {
	t.Parallel()

	planner := NewPlannerService(nil, nil, newTestClock(time.Now()))

	accepted, err := planner.Evaluate(context.Background(),
		workerState("apollo", domain.Metrics{TokenUtilization: 0.88}, domain.HealthGood), nil)
	require.NoError(t, err)

	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ActionCompress, accepted[0].Type)
	assert.Equal(t, domain.ActionHigh, accepted[0].Priority)
	assert.Equal(t, "aggressive", accepted[0].Params["level"])
}

func TestPlannerPredictiveUtilizationRules(t *testing.T) {
	t.Parallel()

	planner := NewPlannerService(nil, nil, newTestClock(time.Now()))
	ctx := context.Background()

	predicted := &domain.Prediction{Metrics: domain.Metrics{TokenUtilization: 0.92}}
	accepted, err := planner.Evaluate(ctx,
		workerState("apollo", domain.Metrics{TokenUtilization: 0.78}, domain.HealthGood), predicted)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ActionCompress, accepted[0].Type)
	assert.Equal(t, domain.ActionMedium, accepted[0].Priority)

	// Without a prediction the same utilization raises nothing.
	accepted, err = planner.Evaluate(ctx,
		workerState("ergon", domain.Metrics{TokenUtilization: 0.78}, domain.HealthGood), nil)
	require.NoError(t, err)
	assert.Empty(t, accepted)
}

func TestPlannerRepetitionRules(t *testing.T) {
	t.Parallel()

	planner := NewPlannerService(nil, nil, newTestClock(time.Now()))
	ctx := context.Background()

	accepted, err := planner.Evaluate(ctx,
		workerState("apollo", domain.Metrics{RepetitionScore: 0.55}, domain.HealthGood), nil)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ActionReset, accepted[0].Type)
	assert.Equal(t, domain.ActionHigh, accepted[0].Priority)

	accepted, err = planner.Evaluate(ctx,
		workerState("ergon", domain.Metrics{RepetitionScore: 0.35}, domain.HealthGood), nil)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ActionPrune, accepted[0].Type)
	assert.Equal(t, "repetitive_sections", accepted[0].Params["target"])
}

func TestPlannerPerformanceRules(t *testing.T) {
	t.Parallel()

	planner := NewPlannerService(nil, nil, newTestClock(time.Now()))
	ctx := context.Background()

	// Severe degradation suggests dropping to a cheaper tier.
	accepted, err := planner.Evaluate(ctx,
		workerState("apollo", domain.Metrics{OutputTokenRate: 0.5, Latency: 6}, domain.HealthGood), nil)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ActionTierChange, accepted[0].Type)
	assert.Equal(t, string(domain.TierLightweight), accepted[0].Params["target_tier"])

	// Moderate degradation with a roomy context adjusts parameters instead.
	accepted, err = planner.Evaluate(ctx,
		workerState("ergon", domain.Metrics{OutputTokenRate: 2, Latency: 4, TokenUtilization: 0.3}, domain.HealthGood), nil)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ActionParameterAdjust, accepted[0].Type)
	assert.Equal(t, 0.7, accepted[0].Params["temperature"])
	assert.Equal(t, 0.9, accepted[0].Params["top_p"])

	// Same degradation with a full context compresses first.
	accepted, err = planner.Evaluate(ctx,
		workerState("numa", domain.Metrics{OutputTokenRate: 2, Latency: 4, TokenUtilization: 0.75}, domain.HealthGood), nil)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ActionCompress, accepted[0].Type)
}

func TestPlannerHealthRules(t *testing.T) {
	t.Parallel()

	planner := NewPlannerService(nil, nil, newTestClock(time.Now()))
	ctx := context.Background()

	accepted, err := planner.Evaluate(ctx,
		workerState("apollo", domain.Metrics{}, domain.HealthCritical), nil)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ActionReset, accepted[0].Type)
	assert.Equal(t, domain.ActionCritical, accepted[0].Priority)

	accepted, err = planner.Evaluate(ctx,
		workerState("ergon", domain.Metrics{RepetitionScore: 0.1}, domain.HealthPoor), nil)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ActionRefresh, accepted[0].Type)

	predicted := &domain.Prediction{Health: domain.HealthCritical}
	accepted, err = planner.Evaluate(ctx,
		workerState("numa", domain.Metrics{}, domain.HealthGood), predicted)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ActionNotify, accepted[0].Type)
	assert.Equal(t, domain.ActionLow, accepted[0].Priority)
}

func TestPlannerPreventiveRules(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC))
	planner := NewPlannerService(nil, nil, clock)

	state := workerState("apollo", domain.Metrics{TokenUtilization: 0.65}, domain.HealthGood)
	state.CreatedAt = clock.Now().Add(-4 * time.Hour)

	accepted, err := planner.Evaluate(context.Background(), state, nil)
	require.NoError(t, err)
	require.Len(t, accepted, 2)

	types := map[domain.ActionType]bool{}
	for _, action := range accepted {
		types[action.Type] = true
	}
	assert.True(t, types[domain.ActionRefresh])
	assert.True(t, types[domain.ActionNotify])
}

func TestPlannerDeduplicatesSameTypeAndPriority(t *testing.T) {
	t.Parallel()

	planner := NewPlannerService(nil, nil, newTestClock(time.Now()))
	ctx := context.Background()

	state := workerState("apollo", domain.Metrics{TokenUtilization: 0.88}, domain.HealthGood)

	accepted, err := planner.Evaluate(ctx, state, nil)
	require.NoError(t, err)
	require.Len(t, accepted, 1)

	// A second evaluation with the same findings adds nothing.
	accepted, err = planner.Evaluate(ctx, state, nil)
	require.NoError(t, err)
	assert.Empty(t, accepted)
	assert.Len(t, planner.ActionsFor("apollo"), 1)
}

func TestPlannerCapsPendingActionsByPriority(t *testing.T) {
	t.Parallel()

	planner := NewPlannerService(nil, nil, newTestClock(time.Now()), WithMaxActionsPerWorker(2))
	ctx := context.Background()

	// Trip several rules at once: critical reset, high repetition prune,
	// performance tier change.
	state := workerState("apollo", domain.Metrics{
		TokenUtilization: 0.97,
		RepetitionScore:  0.35,
		OutputTokenRate:  0.5,
		Latency:          6,
	}, domain.HealthGood)

	accepted, err := planner.Evaluate(ctx, state, nil)
	require.NoError(t, err)

	actions := planner.ActionsFor("apollo")
	require.Len(t, actions, 2)
	assert.Equal(t, domain.ActionCritical, actions[0].Priority)
	assert.Equal(t, domain.ActionHigh, actions[1].Priority)

	// The caller only hears about actions that survived the cap; a shed
	// action must never be handed out.
	require.Len(t, accepted, 2)
	pending := make(map[string]struct{}, len(actions))
	for _, action := range actions {
		pending[action.ID] = struct{}{}
	}
	for _, action := range accepted {
		assert.Contains(t, pending, action.ID)
	}
}

func TestPlannerIgnoresDegradationWithoutTelemetry(t *testing.T) {
	t.Parallel()

	planner := NewPlannerService(nil, nil, newTestClock(time.Now()))
	ctx := context.Background()

	// A worker that has reported no token rate is idle, not degraded; high
	// latency alone must not trigger a tier change.
	accepted, err := planner.Evaluate(ctx,
		workerState("apollo", domain.Metrics{OutputTokenRate: 0, Latency: 6}, domain.HealthGood), nil)
	require.NoError(t, err)
	assert.Empty(t, accepted)
	assert.Empty(t, planner.ActionsFor("apollo"))
}

func TestPlannerMarkApplied(t *testing.T) {
	t.Parallel()

	planner := NewPlannerService(nil, nil, newTestClock(time.Now()))
	ctx := context.Background()

	accepted, err := planner.Evaluate(ctx,
		workerState("apollo", domain.Metrics{TokenUtilization: 0.97}, domain.HealthGood), nil)
	require.NoError(t, err)
	require.Len(t, accepted, 1)

	require.NoError(t, planner.MarkApplied(ctx, accepted[0].ID))
	assert.Empty(t, planner.ActionsFor("apollo"))

	stats := planner.Stats()
	assert.Zero(t, stats.Pending)
	assert.Equal(t, 1, stats.Applied)

	require.ErrorIs(t, planner.MarkApplied(ctx, "no-such-action"), domain.ErrActionNotFound)
}

func TestPlannerSweepExpired(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	planner := NewPlannerService(nil, nil, clock)
	ctx := context.Background()

	_, err := planner.Evaluate(ctx,
		workerState("apollo", domain.Metrics{TokenUtilization: 0.97}, domain.HealthGood), nil)
	require.NoError(t, err)

	clock.Advance(6 * time.Minute) // past the 5m reset expiry

	dropped, err := planner.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Empty(t, planner.ActionsFor("apollo"))
}

func TestPlannerActionableNowRespectsSuggestedTime(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	planner := NewPlannerService(nil, nil, clock)
	ctx := context.Background()

	// Medium predictive compress is suggested 30s in the future.
	predicted := &domain.Prediction{Metrics: domain.Metrics{TokenUtilization: 0.92}}
	_, err := planner.Evaluate(ctx,
		workerState("apollo", domain.Metrics{TokenUtilization: 0.78}, domain.HealthGood), predicted)
	require.NoError(t, err)

	assert.Empty(t, planner.ActionableNow())

	clock.Advance(time.Minute)
	due := planner.ActionableNow()
	require.Len(t, due, 1)
	assert.Equal(t, domain.ActionCompress, due[0].Type)
}

func TestPlannerCriticalQuery(t *testing.T) {
	t.Parallel()

	planner := NewPlannerService(nil, nil, newTestClock(time.Now()))
	ctx := context.Background()

	_, err := planner.Evaluate(ctx,
		workerState("apollo", domain.Metrics{TokenUtilization: 0.97}, domain.HealthGood), nil)
	require.NoError(t, err)
	_, err = planner.Evaluate(ctx,
		workerState("ergon", domain.Metrics{TokenUtilization: 0.88}, domain.HealthGood), nil)
	require.NoError(t, err)

	critical := planner.Critical()
	require.Len(t, critical, 1)
	assert.Equal(t, domain.WorkerID("apollo"), critical[0].WorkerID)
}

func TestPlannerFlushAppliedWritesHistory(t *testing.T) {
	t.Parallel()

	planner := NewPlannerService(nil, nil, newTestClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	accepted, err := planner.Evaluate(ctx,
		workerState("apollo", domain.Metrics{TokenUtilization: 0.97}, domain.HealthGood), nil)
	require.NoError(t, err)
	require.NotEmpty(t, accepted)
	require.NoError(t, planner.MarkApplied(ctx, accepted[0].ID))

	path := filepath.Join(t.TempDir(), "applied_actions.json")
	require.NoError(t, planner.FlushApplied(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var history []domain.Action
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, accepted[0].ID, history[0].ID)
	assert.Equal(t, domain.ActionReset, history[0].Type)
}
