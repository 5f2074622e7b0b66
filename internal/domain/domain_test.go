package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocationRecordClampsToGrant(t *testing.T) {
	t.Parallel()

	alloc := Allocation{TokensAllocated: 4_000, Active: true}

	assert.Equal(t, int64(3_000), alloc.Record(3_000))
	assert.Equal(t, int64(1_000), alloc.Record(5_000))
	assert.Equal(t, int64(0), alloc.Record(10))
	assert.Equal(t, int64(4_000), alloc.TokensUsed)
	assert.Equal(t, int64(0), alloc.Remaining())
}

func TestAllocationRecordIgnoresNonPositive(t *testing.T) {
	t.Parallel()

	alloc := Allocation{TokensAllocated: 100}
	assert.Equal(t, int64(0), alloc.Record(0))
	assert.Equal(t, int64(0), alloc.Record(-5))
	assert.Equal(t, int64(0), alloc.TokensUsed)
}

func TestDefaultAllocationForTaskAndPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		taskType string
		priority TaskPriority
		want     int64
	}{
		{name: "chat normal", taskType: "chat", priority: PriorityNormal, want: 4_000},
		{name: "coding critical", taskType: "coding", priority: PriorityCritical, want: 32_000},
		{name: "unknown task falls back to default table", taskType: "mystery", priority: PriorityLow, want: 1_000},
		{name: "unknown priority falls back to normal", taskType: "analysis", priority: TaskPriority(42), want: 8_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultAllocationFor(tt.taskType, tt.priority))
		})
	}
}

func TestResolveTierPrecedence(t *testing.T) {
	t.Parallel()

	componentTiers := map[string]BudgetTier{"indexer": TierLightweight}
	providerTiers := DefaultProviderTiers()
	modelTiers := DefaultModelTiers()

	// Exact model match wins over everything.
	assert.Equal(t, TierMidweight,
		ResolveTier("indexer", "anthropic", "claude-3-haiku", componentTiers, providerTiers, modelTiers))

	// Component override next.
	assert.Equal(t, TierLightweight,
		ResolveTier("indexer", "anthropic", "", componentTiers, providerTiers, modelTiers))

	// Provider default next.
	assert.Equal(t, TierMidweight,
		ResolveTier("scribe", "ollama", "", componentTiers, providerTiers, modelTiers))

	// Most conservative fallback.
	assert.Equal(t, TierHeavyweight,
		ResolveTier("", "", "", componentTiers, providerTiers, modelTiers))
}

func TestPolicyValidateRejectsNonPositiveLimit(t *testing.T) {
	t.Parallel()

	policy := BudgetPolicy{Type: PolicyWarn, Limit: 0, WarningThreshold: 0.8, ActionThreshold: 0.95}
	require.Error(t, policy.Validate())

	policy.Limit = 1
	require.NoError(t, policy.Validate())
}

func TestPolicyAppliesToScopeAndExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	end := now.Add(-time.Hour)

	base := BudgetPolicy{
		Type: PolicyHardLimit, Period: PeriodDaily, Tier: TierHeavyweight,
		Limit: 1_000_000, Enabled: true,
	}

	assert.True(t, base.AppliesTo(TierHeavyweight, "rhetor", "chat", now))
	assert.False(t, base.AppliesTo(TierLightweight, "rhetor", "chat", now))

	scoped := base
	scoped.Component = "apollo"
	assert.False(t, scoped.AppliesTo(TierHeavyweight, "rhetor", "chat", now))
	assert.True(t, scoped.AppliesTo(TierHeavyweight, "apollo", "chat", now))
	// Unscoped requests still match scoped policies.
	assert.True(t, scoped.AppliesTo(TierHeavyweight, "", "chat", now))

	expired := base
	expired.End = &end
	assert.False(t, expired.AppliesTo(TierHeavyweight, "rhetor", "chat", now))

	disabled := base
	disabled.Enabled = false
	assert.False(t, disabled.AppliesTo(TierHeavyweight, "rhetor", "chat", now))
}

func TestUrgencyForStressSteps(t *testing.T) {
	t.Parallel()

	assert.Equal(t, UrgencyNone, UrgencyForStress(0.45))
	assert.Equal(t, UrgencyLow, UrgencyForStress(0.46))
	assert.Equal(t, UrgencyModerate, UrgencyForStress(0.51))
	assert.Equal(t, UrgencyHigh, UrgencyForStress(0.56))
	assert.Equal(t, UrgencyCritical, UrgencyForStress(0.66))
}

func TestPromoteStaged(t *testing.T) {
	t.Parallel()

	state := CoordinationState{StagedPrompt: "prepare release notes"}

	require.True(t, state.PromoteStaged())
	assert.Equal(t, "prepare release notes", state.NextPrompt)
	assert.Empty(t, state.StagedPrompt)

	// Second promote has nothing to move.
	assert.False(t, state.PromoteStaged())
}

func TestCoordinationSteady(t *testing.T) {
	t.Parallel()

	assert.True(t, CoordinationState{}.Steady())
	assert.False(t, CoordinationState{NextPrompt: "x"}.Steady())
	assert.False(t, CoordinationState{SunriseContext: "x"}.Steady())
	assert.False(t, CoordinationState{NeedsFreshStart: true}.Steady())
}

func TestWorkerEntryValidate(t *testing.T) {
	t.Parallel()

	entry := WorkerEntry{Name: "apollo", Type: WorkerPoolMember}
	require.NoError(t, entry.Validate())

	entry.Type = "daemon"
	require.Error(t, entry.Validate())

	project := WorkerEntry{Name: "scribe", Type: WorkerProjectBound}
	require.Error(t, project.Validate())
	project.Project = "website"
	require.NoError(t, project.Validate())
}

func TestActionDueAndExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	action := Action{SuggestedAt: now.Add(time.Minute), ExpiresAt: now.Add(time.Hour)}
	assert.False(t, action.Due(now))
	assert.True(t, action.Due(now.Add(time.Minute)))
	assert.False(t, action.Expired(now))
	assert.True(t, action.Expired(now.Add(2*time.Hour)))

	// Zero suggested time means immediately actionable.
	assert.True(t, Action{}.Due(now))
}
