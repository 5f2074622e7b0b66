package file

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/sundial/internal/domain"
	"github.com/bnema/sundial/internal/heuristics"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()

	path := filepath.Join(t.TempDir(), "registry.json")
	registry, err := NewRegistry(path, opts...)
	require.NoError(t, err)

	return registry
}

func poolMember(name string) domain.WorkerEntry {
	return domain.WorkerEntry{
		Name:         domain.WorkerID(name),
		Type:         domain.WorkerPoolMember,
		Endpoint:     "http://localhost:8312",
		Capabilities: []string{"planning"},
	}
}

func TestRegistryUpsertAndGet(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, WithClock(fixedClock{now: time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)}))
	ctx := context.Background()

	require.NoError(t, registry.Upsert(ctx, poolMember("Apollo")))

	entry, err := registry.Get(ctx, "apollo")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerID("apollo"), entry.Name)
	assert.Equal(t, domain.WorkerPoolMember, entry.Type)
	assert.Equal(t, time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC), entry.Created)

	// Names are case-insensitive, so a re-registration with different
	// casing updates the same entry and keeps its creation time.
	updated := poolMember("APOLLO")
	updated.Endpoint = "http://localhost:9000"
	require.NoError(t, registry.Upsert(ctx, updated))

	entry, err = registry.Get(ctx, "Apollo")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", entry.Endpoint)
	assert.Equal(t, time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC), entry.Created)

	all, err := registry.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegistryGetUnknownWorker(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)

	_, err := registry.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrWorkerNotFound)
}

func TestRegistryRemoveClearsAllSections(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Upsert(ctx, poolMember("apollo")))
	require.NoError(t, registry.SetForward(ctx, "apollo", "terminal-3"))
	require.NoError(t, registry.UpdateCoordination(ctx, "apollo", func(state *domain.CoordinationState) error {
		state.NextPrompt = "continue the review"
		return nil
	}))

	require.NoError(t, registry.Remove(ctx, "apollo"))

	_, err := registry.Get(ctx, "apollo")
	require.ErrorIs(t, err, domain.ErrWorkerNotFound)

	target, err := registry.Forward(ctx, "apollo")
	require.NoError(t, err)
	assert.Empty(t, target)

	require.ErrorIs(t, registry.Remove(ctx, "apollo"), domain.ErrWorkerNotFound)
}

func TestRegistryConcurrentUpsertsLoseNothing(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := context.Background()

	const writers = 12

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = registry.Upsert(ctx, poolMember(fmt.Sprintf("worker-%d", i)))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	all, err := registry.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, writers)
}

func TestRegistryLockTimeout(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "registry.json")
	registry, err := NewRegistry(path, WithLockWait(100*time.Millisecond))
	require.NoError(t, err)

	// Hold the cross-process lock the way a stuck sibling process would.
	holder := flock.New(path + lockSuffix)
	require.NoError(t, holder.Lock())
	defer func() { _ = holder.Unlock() }()

	err = registry.Upsert(context.Background(), poolMember("apollo"))
	require.ErrorIs(t, err, domain.ErrLockTimeout)
}

func TestRegistryUpdateCoordinationCapturesCheckpointSummary(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, WithCheckpointClassifier(heuristics.IsCheckpointSummary))
	ctx := context.Background()

	require.NoError(t, registry.Upsert(ctx, poolMember("apollo")))

	summary := "Current Context: reviewing the deploy pipeline.\nKey Decisions:\n- decided: ship behind a flag"
	require.NoError(t, registry.UpdateCoordination(ctx, "apollo", func(state *domain.CoordinationState) error {
		state.LastOutput = &domain.Exchange{
			Prompt:   "please write your sundown summary",
			Response: summary,
			At:       time.Now().UTC(),
		}
		return nil
	}))

	state, err := registry.Coordination(ctx, "apollo")
	require.NoError(t, err)
	assert.Equal(t, summary, state.SunriseContext)
}

func TestRegistryUpdateCoordinationIgnoresOrdinaryOutput(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, WithCheckpointClassifier(heuristics.IsCheckpointSummary))
	ctx := context.Background()

	require.NoError(t, registry.Upsert(ctx, poolMember("apollo")))
	require.NoError(t, registry.UpdateCoordination(ctx, "apollo", func(state *domain.CoordinationState) error {
		state.LastOutput = &domain.Exchange{
			Prompt:   "how is the build",
			Response: "the build is green, merging now",
			At:       time.Now().UTC(),
		}
		return nil
	}))

	state, err := registry.Coordination(ctx, "apollo")
	require.NoError(t, err)
	assert.Empty(t, state.SunriseContext)
}

func TestRegistryUpdateCoordinationKeepsExistingSunriseContext(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, WithCheckpointClassifier(heuristics.IsCheckpointSummary))
	ctx := context.Background()

	require.NoError(t, registry.Upsert(ctx, poolMember("apollo")))
	require.NoError(t, registry.UpdateCoordination(ctx, "apollo", func(state *domain.CoordinationState) error {
		state.SunriseContext = "already staged restore payload"
		return nil
	}))

	require.NoError(t, registry.UpdateCoordination(ctx, "apollo", func(state *domain.CoordinationState) error {
		state.LastOutput = &domain.Exchange{
			Prompt:   "summary please",
			Response: "Current Context: new stuff.\nKey Decisions: none.\nNext Steps: none.",
			At:       time.Now().UTC(),
		}
		return nil
	}))

	state, err := registry.Coordination(ctx, "apollo")
	require.NoError(t, err)
	assert.Equal(t, "already staged restore payload", state.SunriseContext)
}

func TestRegistryForwardRoundTrip(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Upsert(ctx, poolMember("apollo")))
	require.NoError(t, registry.SetForward(ctx, "apollo", "terminal-3"))

	target, err := registry.Forward(ctx, "apollo")
	require.NoError(t, err)
	assert.Equal(t, "terminal-3", target)

	require.NoError(t, registry.SetForward(ctx, "apollo", ""))

	target, err = registry.Forward(ctx, "apollo")
	require.NoError(t, err)
	assert.Empty(t, target)
}

func TestRegistryPruneDead(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := context.Background()

	alive := poolMember("alive")
	alive.PID = os.Getpid()
	require.NoError(t, registry.Upsert(ctx, alive))

	// A process that has already been reaped gives us a PID that is
	// guaranteed dead.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	dead := poolMember("dead")
	dead.PID = cmd.Process.Pid
	require.NoError(t, registry.Upsert(ctx, dead))

	unmanaged := poolMember("unmanaged")
	require.NoError(t, registry.Upsert(ctx, unmanaged))

	removed, err := registry.PruneDead(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.WorkerID{"dead"}, removed)

	all, err := registry.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Contains(t, all, domain.WorkerID("alive"))
	assert.Contains(t, all, domain.WorkerID("unmanaged"))
}

func TestRegistrySeedRoster(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rosterPath := filepath.Join(dir, "fleet.toml")
	roster := `version = 1

[[workers]]
name = "Apollo"
type = "pool-member"
endpoint = "http://localhost:8312"
capabilities = ["planning", "budgeting"]

[[workers]]
name = "ergon"
type = "project-bound"
project = "sundial"
`
	require.NoError(t, os.WriteFile(rosterPath, []byte(roster), 0o600))

	registry, err := NewRegistry(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)
	ctx := context.Background()

	seeded, err := registry.SeedRoster(ctx, rosterPath)
	require.NoError(t, err)
	assert.Equal(t, 2, seeded)

	entry, err := registry.Get(ctx, "apollo")
	require.NoError(t, err)
	assert.Equal(t, []string{"planning", "budgeting"}, entry.Capabilities)

	// Reseeding preserves runtime fields recorded since the first seed.
	running, err := registry.Get(ctx, "ergon")
	require.NoError(t, err)
	running.PID = os.Getpid()
	require.NoError(t, registry.Upsert(ctx, running))

	_, err = registry.SeedRoster(ctx, rosterPath)
	require.NoError(t, err)

	entry, err = registry.Get(ctx, "ergon")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), entry.PID)
}

func TestRegistrySeedRosterMissingFile(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)

	seeded, err := registry.SeedRoster(context.Background(), filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Zero(t, seeded)
}

func TestRegistryRetriesTransientReadFailure(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Upsert(ctx, poolMember("apollo")))

	// Fail the first read of every operation; the retry must salvage it.
	var reads int
	registry.readFile = func(path string) ([]byte, error) {
		reads++
		if reads == 1 {
			return nil, fmt.Errorf("read %s: %w", path, os.ErrDeadlineExceeded)
		}
		return os.ReadFile(path)
	}

	entry, err := registry.Get(ctx, "apollo")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerID("apollo"), entry.Name)
	assert.Equal(t, 2, reads)
}

func TestRegistryRetriesTransientRenameFailure(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := context.Background()

	var renames int
	registry.rename = func(oldPath, newPath string) error {
		renames++
		if renames == 1 {
			return fmt.Errorf("rename %s: %w", oldPath, os.ErrDeadlineExceeded)
		}
		return os.Rename(oldPath, newPath)
	}

	require.NoError(t, registry.Upsert(ctx, poolMember("apollo")))
	assert.Equal(t, 2, renames)

	entry, err := registry.Get(ctx, "apollo")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerID("apollo"), entry.Name)
}

func TestRegistryDoesNotRetryCorruptFile(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(registry.path, []byte("{not json"), 0o600))

	var reads int
	readFile := registry.readFile
	registry.readFile = func(path string) ([]byte, error) {
		reads++
		return readFile(path)
	}

	_, err := registry.Get(ctx, "apollo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode registry file")
	assert.Equal(t, 1, reads)
}
