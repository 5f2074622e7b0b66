package domain

import "time"

// Exchange is a single prompt/response pair from a worker turn.
type Exchange struct {
	Prompt   string
	Response string
	At       time.Time
}

// CoordinationState is the per-worker signal surface shared between the
// ledger, the lifecycle coordinator, and the planner. NextPrompt and
// SunriseContext are mutually exclusive with steady conversation: when either
// is set the worker is mid-transition, not chatting.
type CoordinationState struct {
	StagedPrompt    string
	NextPrompt      string
	LastOutput      *Exchange
	SunriseContext  string
	NeedsFreshStart bool
}

// PromoteStaged moves StagedPrompt into NextPrompt and clears the staged
// slot. Returns false when nothing was staged.
func (c *CoordinationState) PromoteStaged() bool {
	if c == nil || c.StagedPrompt == "" {
		return false
	}

	c.NextPrompt = c.StagedPrompt
	c.StagedPrompt = ""
	return true
}

// Steady reports whether the worker is in normal conversation, with no
// pending instruction or restore payload.
func (c CoordinationState) Steady() bool {
	return c.NextPrompt == "" && c.SunriseContext == "" && !c.NeedsFreshStart
}
