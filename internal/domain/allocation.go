package domain

import "time"

// Allocation is a bounded token grant to one worker context.
type Allocation struct {
	ID              string
	WorkerID        WorkerID
	Component       string
	Tier            BudgetTier
	Provider        string
	Model           string
	TaskType        string
	Priority        TaskPriority
	TokensAllocated int64
	TokensUsed      int64
	Created         time.Time
	Expires         *time.Time
	Active          bool
}

func (a Allocation) Remaining() int64 {
	remaining := a.TokensAllocated - a.TokensUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Record charges tokens against the grant, clamped so TokensUsed never
// exceeds TokensAllocated. Returns how many tokens were actually accepted.
func (a *Allocation) Record(tokens int64) int64 {
	if a == nil || tokens <= 0 {
		return 0
	}

	accepted := tokens
	if remaining := a.Remaining(); accepted > remaining {
		accepted = remaining
	}

	a.TokensUsed += accepted
	return accepted
}

func (a Allocation) Expired(now time.Time) bool {
	return a.Expires != nil && now.After(*a.Expires)
}

func (a Allocation) Utilization() float64 {
	if a.TokensAllocated <= 0 {
		return 0
	}
	return float64(a.TokensUsed) / float64(a.TokensAllocated)
}

// UsageRecord is one immutable entry in the metering audit trail.
type UsageRecord struct {
	ID           string
	AllocationID string
	WorkerID     WorkerID
	Component    string
	Provider     string
	Model        string
	TaskType     string
	Tokens       int64
	UsageType    string
	At           time.Time
}
