package domain

import "time"

type LifecyclePhase string

const (
	PhaseNormal              LifecyclePhase = "normal"
	PhaseCheckpointRequested LifecyclePhase = "checkpoint-requested"
	PhaseCheckpointComplete  LifecyclePhase = "checkpoint-complete"
	PhaseRestoreStaged       LifecyclePhase = "restore-staged"
)

// CheckpointState is the durable record written when a worker completes a
// sundown summary, and read back at sunrise.
type CheckpointState struct {
	WorkerID     WorkerID
	At           time.Time
	Summary      string
	KeyDecisions []string
	Reason       string
	TokensUsed   int64
}
