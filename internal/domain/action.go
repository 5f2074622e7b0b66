package domain

import "time"

type ActionType string

const (
	ActionRefresh         ActionType = "refresh"
	ActionCompress        ActionType = "compress"
	ActionSummarize       ActionType = "summarize"
	ActionPrune           ActionType = "prune"
	ActionReset           ActionType = "reset"
	ActionTierChange      ActionType = "tier-change"
	ActionParameterAdjust ActionType = "parameter-adjust"
	ActionNotify          ActionType = "notify"
)

func ActionTypes() []ActionType {
	return []ActionType{
		ActionRefresh, ActionCompress, ActionSummarize, ActionPrune,
		ActionReset, ActionTierChange, ActionParameterAdjust, ActionNotify,
	}
}

type ActionPriority int

const (
	ActionLow      ActionPriority = 3
	ActionMedium   ActionPriority = 5
	ActionHigh     ActionPriority = 7
	ActionCritical ActionPriority = 10
)

func (p ActionPriority) String() string {
	switch p {
	case ActionLow:
		return "low"
	case ActionMedium:
		return "medium"
	case ActionHigh:
		return "high"
	case ActionCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Action is a prioritized, time-bounded corrective recommendation produced by
// a planner rule and consumed by an external applier.
type Action struct {
	ID          string
	WorkerID    WorkerID
	Type        ActionType
	Priority    ActionPriority
	Reason      string
	Params      map[string]any
	SuggestedAt time.Time
	ExpiresAt   time.Time
}

func (a Action) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && a.ExpiresAt.Before(now)
}

// Due reports whether the action's suggested time has arrived.
func (a Action) Due(now time.Time) bool {
	return a.SuggestedAt.IsZero() || !a.SuggestedAt.After(now)
}
