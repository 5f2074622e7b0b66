package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/sundial/internal/domain"
	"github.com/bnema/sundial/internal/ports"
)

// testClock is a mutable fixed clock shared by a test and its services.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memRegistry is an in-process ports.Registry for service tests.
type memRegistry struct {
	mu       sync.Mutex
	entries  map[domain.WorkerID]domain.WorkerEntry
	states   map[domain.WorkerID]domain.CoordinationState
	forwards map[domain.WorkerID]string
	classify ports.CheckpointClassifier
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		entries:  make(map[domain.WorkerID]domain.WorkerEntry),
		states:   make(map[domain.WorkerID]domain.CoordinationState),
		forwards: make(map[domain.WorkerID]string),
	}
}

func (r *memRegistry) Get(_ context.Context, name domain.WorkerID) (domain.WorkerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[domain.NormalizeName(name)]
	if !ok {
		return domain.WorkerEntry{}, fmt.Errorf("worker %q: %w", name, domain.ErrWorkerNotFound)
	}
	return entry, nil
}

func (r *memRegistry) Upsert(_ context.Context, entry domain.WorkerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Name = domain.NormalizeName(entry.Name)
	r.entries[entry.Name] = entry
	return nil
}

func (r *memRegistry) All(_ context.Context) (map[domain.WorkerID]domain.WorkerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[domain.WorkerID]domain.WorkerEntry, len(r.entries))
	for name, entry := range r.entries {
		out[name] = entry
	}
	return out, nil
}

func (r *memRegistry) Remove(_ context.Context, name domain.WorkerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = domain.NormalizeName(name)
	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("worker %q: %w", name, domain.ErrWorkerNotFound)
	}
	delete(r.entries, name)
	delete(r.states, name)
	delete(r.forwards, name)
	return nil
}

func (r *memRegistry) Coordination(_ context.Context, name domain.WorkerID) (domain.CoordinationState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = domain.NormalizeName(name)
	if _, ok := r.entries[name]; !ok {
		return domain.CoordinationState{}, fmt.Errorf("worker %q: %w", name, domain.ErrWorkerNotFound)
	}
	return r.states[name], nil
}

func (r *memRegistry) UpdateCoordination(_ context.Context, name domain.WorkerID, mutate ports.CoordinationMutator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = domain.NormalizeName(name)
	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("worker %q: %w", name, domain.ErrWorkerNotFound)
	}

	state := r.states[name]
	if err := mutate(&state); err != nil {
		return err
	}

	if r.classify != nil && state.LastOutput != nil && state.SunriseContext == "" {
		if r.classify(state.LastOutput.Response) {
			state.SunriseContext = state.LastOutput.Response
		}
	}

	r.states[name] = state
	return nil
}

func (r *memRegistry) AllCoordination(_ context.Context) (map[domain.WorkerID]domain.CoordinationState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[domain.WorkerID]domain.CoordinationState, len(r.states))
	for name, state := range r.states {
		out[name] = state
	}
	return out, nil
}

func (r *memRegistry) SetForward(_ context.Context, source domain.WorkerID, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forwards[domain.NormalizeName(source)] = target
	return nil
}

func (r *memRegistry) Forward(_ context.Context, source domain.WorkerID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forwards[domain.NormalizeName(source)], nil
}

func (r *memRegistry) PruneDead(context.Context) ([]domain.WorkerID, error) {
	return nil, nil
}

// memArchive is an in-process ports.StateArchive.
type memArchive struct {
	mu     sync.Mutex
	states []domain.CheckpointState
}

func newMemArchive() *memArchive {
	return &memArchive{}
}

func (a *memArchive) Save(_ context.Context, state domain.CheckpointState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states = append(a.states, state)
	return nil
}

func (a *memArchive) Latest(_ context.Context, worker domain.WorkerID) (domain.CheckpointState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	worker = domain.NormalizeName(worker)
	for i := len(a.states) - 1; i >= 0; i-- {
		if a.states[i].WorkerID == worker {
			return a.states[i], nil
		}
	}
	return domain.CheckpointState{}, fmt.Errorf("worker %q: %w", worker, domain.ErrNoPriorState)
}

func (a *memArchive) Load(_ context.Context, ref string) (domain.CheckpointState, error) {
	return domain.CheckpointState{}, fmt.Errorf("checkpoint %q: %w", ref, domain.ErrNoPriorState)
}
