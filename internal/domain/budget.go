package domain

import "strings"

type BudgetTier string

const (
	TierLightweight BudgetTier = "lightweight"
	TierMidweight   BudgetTier = "midweight"
	TierHeavyweight BudgetTier = "heavyweight"
)

// Tiers lists all tiers from cheapest to most expensive.
func Tiers() []BudgetTier {
	return []BudgetTier{TierLightweight, TierMidweight, TierHeavyweight}
}

type BudgetPeriod string

const (
	PeriodHourly     BudgetPeriod = "hourly"
	PeriodDaily      BudgetPeriod = "daily"
	PeriodWeekly     BudgetPeriod = "weekly"
	PeriodMonthly    BudgetPeriod = "monthly"
	PeriodPerSession BudgetPeriod = "per-session"
	PeriodPerTask    BudgetPeriod = "per-task"
)

// CalendarPeriods are the periods whose usage counters roll over on clock
// boundaries. Per-session and per-task grants are tracked on the allocation
// itself, not in counters.
func CalendarPeriods() []BudgetPeriod {
	return []BudgetPeriod{PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly}
}

type PolicyType string

const (
	PolicyIgnore    PolicyType = "ignore"
	PolicyWarn      PolicyType = "warn"
	PolicySoftLimit PolicyType = "soft-limit"
	PolicyHardLimit PolicyType = "hard-limit"
)

type TaskPriority int

const (
	PriorityLow      TaskPriority = 3
	PriorityNormal   TaskPriority = 5
	PriorityHigh     TaskPriority = 7
	PriorityCritical TaskPriority = 10
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps an operator-facing priority label to its level.
func ParsePriority(label string) (TaskPriority, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "low":
		return PriorityLow, true
	case "", "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "critical":
		return PriorityCritical, true
	default:
		return 0, false
	}
}

// DefaultTierLimits is the synthesized quota table used when no policy file
// exists: tokens per period for each tier.
var DefaultTierLimits = map[BudgetTier]map[BudgetPeriod]int64{
	TierLightweight: {
		PeriodHourly:     1_000_000,
		PeriodDaily:      10_000_000,
		PeriodPerSession: 8_000,
	},
	TierMidweight: {
		PeriodHourly:     500_000,
		PeriodDaily:      5_000_000,
		PeriodPerSession: 16_000,
	},
	TierHeavyweight: {
		PeriodHourly:     100_000,
		PeriodDaily:      1_000_000,
		PeriodPerSession: 32_000,
	},
}

// defaultAllocations maps task type and priority to a default token grant.
var defaultAllocations = map[string]map[TaskPriority]int64{
	"default": {
		PriorityLow:      1_000,
		PriorityNormal:   2_000,
		PriorityHigh:     4_000,
		PriorityCritical: 8_000,
	},
	"chat": {
		PriorityLow:      2_000,
		PriorityNormal:   4_000,
		PriorityHigh:     8_000,
		PriorityCritical: 16_000,
	},
	"coding": {
		PriorityLow:      4_000,
		PriorityNormal:   8_000,
		PriorityHigh:     16_000,
		PriorityCritical: 32_000,
	},
	"analysis": {
		PriorityLow:      4_000,
		PriorityNormal:   8_000,
		PriorityHigh:     16_000,
		PriorityCritical: 32_000,
	},
}

// DefaultAllocationFor returns the default token grant for a task type and
// priority, falling back to the "default" task table and then to normal
// priority within the matched table.
func DefaultAllocationFor(taskType string, priority TaskPriority) int64 {
	table, ok := defaultAllocations[strings.ToLower(strings.TrimSpace(taskType))]
	if !ok {
		table = defaultAllocations["default"]
	}

	if tokens, ok := table[priority]; ok {
		return tokens
	}
	return table[PriorityNormal]
}
