package domain

import (
	"fmt"
	"time"
)

// BudgetPolicy limits usage for a tier and period, optionally scoped to a
// component and task type. Warn policies fire events only; hard limits gate
// admission.
type BudgetPolicy struct {
	ID               string
	Type             PolicyType
	Period           BudgetPeriod
	Tier             BudgetTier
	Limit            int64
	WarningThreshold float64
	ActionThreshold  float64
	Component        string
	TaskType         string
	Start            time.Time
	End              *time.Time
	Enabled          bool
}

func (p BudgetPolicy) Validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", p.Limit)
	}

	switch p.Type {
	case PolicyIgnore, PolicyWarn, PolicySoftLimit, PolicyHardLimit:
	default:
		return fmt.Errorf("unsupported policy type %q", p.Type)
	}

	if p.WarningThreshold < 0 || p.WarningThreshold > 1 {
		return fmt.Errorf("warning threshold out of range: %v", p.WarningThreshold)
	}
	if p.ActionThreshold < 0 || p.ActionThreshold > 1 {
		return fmt.Errorf("action threshold out of range: %v", p.ActionThreshold)
	}

	return nil
}

// AppliesTo reports whether this policy governs the given scope at the given
// instant. A policy with no component or task-type scope applies to all.
func (p BudgetPolicy) AppliesTo(tier BudgetTier, component, taskType string, now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if p.Tier != tier {
		return false
	}
	if p.Component != "" && component != "" && p.Component != component {
		return false
	}
	if p.TaskType != "" && taskType != "" && p.TaskType != taskType {
		return false
	}
	if p.End != nil && now.After(*p.End) {
		return false
	}

	return true
}
