package application

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/sundial/internal/domain"
)

func newJobsFixture(t *testing.T) (*BudgetService, *PlannerService, *LifecycleService, *memRegistry, *testClock) {
	t.Helper()

	clock := newTestClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	registry := newMemRegistry()
	budget := newTestBudget(t, clock)
	planner := NewPlannerService(nil, nil, clock)
	lifecycle := NewLifecycleService(nil, nil, clock, registry, newMemArchive())

	require.NoError(t, registry.Upsert(context.Background(), domain.WorkerEntry{
		Name: "apollo",
		Type: domain.WorkerPoolMember,
	}))

	return budget, planner, lifecycle, registry, clock
}

func TestPlanningJobInitiatesCheckpointAtAutoThreshold(t *testing.T) {
	t.Parallel()

	budget, planner, lifecycle, registry, clock := newJobsFixture(t)
	stress := NewStressService(nil, nil, clock)
	observer := NewFleetObserver(registry, budget, stress)
	job := NewPlanningJob(observer, planner, budget, lifecycle, time.Second)
	ctx := context.Background()

	_, err := budget.Allocate(ctx, AllocationRequest{
		WorkerID:  "apollo",
		Component: "planner",
		Tokens:    10000,
	})
	require.NoError(t, err)
	_, err = budget.RecordUsage(ctx, UsageReport{WorkerID: "apollo", Component: "planner", Tokens: 9000})
	require.NoError(t, err)

	require.NoError(t, job.Run(ctx))

	assert.Equal(t, domain.PhaseCheckpointRequested, lifecycle.Phase("apollo"))
	state, err := registry.Coordination(ctx, "apollo")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(state.NextPrompt, SunsetMarker))

	// The sundown must be requested, never forced.
	assert.False(t, state.NeedsFreshStart)
}

func TestPlanningJobLeavesHealthyWorkersAlone(t *testing.T) {
	t.Parallel()

	budget, planner, lifecycle, registry, clock := newJobsFixture(t)
	stress := NewStressService(nil, nil, clock)
	observer := NewFleetObserver(registry, budget, stress)
	job := NewPlanningJob(observer, planner, budget, lifecycle, time.Second)
	ctx := context.Background()

	_, err := budget.Allocate(ctx, AllocationRequest{
		WorkerID:  "apollo",
		Component: "planner",
		Tokens:    10000,
	})
	require.NoError(t, err)
	_, err = budget.RecordUsage(ctx, UsageReport{WorkerID: "apollo", Component: "planner", Tokens: 1000})
	require.NoError(t, err)

	require.NoError(t, job.Run(ctx))

	assert.Equal(t, domain.PhaseNormal, lifecycle.Phase("apollo"))
	assert.Empty(t, planner.ActionsFor("apollo"))
}

func TestSweepJobExpiresAllocations(t *testing.T) {
	t.Parallel()

	budget, planner, _, registry, clock := newJobsFixture(t)
	job := NewSweepJob(nil, budget, planner, registry, time.Second)
	ctx := context.Background()

	_, err := budget.Allocate(ctx, AllocationRequest{
		WorkerID:  "apollo",
		Component: "planner",
		Tokens:    4000,
		TTL:       time.Minute,
	})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	require.NoError(t, job.Run(ctx))

	assert.Empty(t, budget.AllocationsFor("apollo"))
}
