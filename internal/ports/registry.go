package ports

import (
	"context"

	"github.com/bnema/sundial/internal/domain"
)

// CoordinationMutator edits a worker's coordination state in place while the
// registry holds its write lock.
type CoordinationMutator func(state *domain.CoordinationState) error

// Registry is the shared, concurrency-safe store of worker entries and
// coordination signals. Implementations serialize all mutations so a
// read-modify-write sequence can never lose an update.
type Registry interface {
	Get(ctx context.Context, name domain.WorkerID) (domain.WorkerEntry, error)
	Upsert(ctx context.Context, entry domain.WorkerEntry) error
	All(ctx context.Context) (map[domain.WorkerID]domain.WorkerEntry, error)
	Remove(ctx context.Context, name domain.WorkerID) error

	Coordination(ctx context.Context, name domain.WorkerID) (domain.CoordinationState, error)
	UpdateCoordination(ctx context.Context, name domain.WorkerID, mutate CoordinationMutator) error
	AllCoordination(ctx context.Context) (map[domain.WorkerID]domain.CoordinationState, error)

	SetForward(ctx context.Context, source domain.WorkerID, target string) error
	Forward(ctx context.Context, source domain.WorkerID) (string, error)

	// PruneDead removes entries whose recorded PID no longer maps to a live
	// process, returning the names removed.
	PruneDead(ctx context.Context) ([]domain.WorkerID, error)
}
