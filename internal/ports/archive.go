package ports

import (
	"context"

	"github.com/bnema/sundial/internal/domain"
)

// StateArchive is the durable fallback store for checkpoint summaries, read
// at sunrise when the registry no longer holds the context.
type StateArchive interface {
	Save(ctx context.Context, state domain.CheckpointState) error

	// Latest returns the most recent checkpoint for a worker, or
	// domain.ErrNoPriorState when the worker has never checkpointed.
	Latest(ctx context.Context, worker domain.WorkerID) (domain.CheckpointState, error)

	// Load fetches a specific checkpoint by reference.
	Load(ctx context.Context, ref string) (domain.CheckpointState, error)
}
