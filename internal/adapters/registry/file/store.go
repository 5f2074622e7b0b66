// Package file implements the shared worker registry on a single JSON file.
// Writers hold an exclusive flock on a sibling lock file and replace the
// registry with a temp-file-plus-rename swap, so readers in other processes
// always see a complete document and concurrent read-modify-write sequences
// never lose updates.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/bnema/sundial/internal/domain"
	"github.com/bnema/sundial/internal/ports"
)

const (
	registryFileMode = 0o600
	registryDirMode  = 0o700
	lockSuffix       = ".lock"
	tempFilePattern  = ".registry-*.json.tmp"
	lockRetryDelay   = 50 * time.Millisecond
)

type Registry struct {
	path     string
	lockWait time.Duration
	classify ports.CheckpointClassifier
	clock    ports.Clock
	mu       *sync.RWMutex
	readFile func(string) ([]byte, error)
	rename   func(string, string) error
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.Registry = (*Registry)(nil)

type Option func(*Registry)

// WithCheckpointClassifier replaces the classifier run against worker output
// during UpdateCoordination.
func WithCheckpointClassifier(classify ports.CheckpointClassifier) Option {
	return func(r *Registry) {
		r.classify = classify
	}
}

func WithClock(clock ports.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithLockWait bounds how long a caller blocks on the cross-process lock
// before the operation fails with domain.ErrLockTimeout.
func WithLockWait(wait time.Duration) Option {
	return func(r *Registry) {
		r.lockWait = wait
	}
}

func NewRegistry(path string, opts ...Option) (*Registry, error) {
	if path == "" {
		return nil, errors.New("registry path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve registry path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	registry := &Registry{
		path:     absPath,
		lockWait: 5 * time.Second,
		classify: nil,
		clock:    ports.SystemClock{},
		mu:       lockForPath(absPath),
		readFile: os.ReadFile,
		rename:   os.Rename,
	}
	for _, opt := range opts {
		opt(registry)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), registryDirMode); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	return registry, nil
}

func (r *Registry) Get(ctx context.Context, name domain.WorkerID) (domain.WorkerEntry, error) {
	name = domain.NormalizeName(name)

	var entry domain.WorkerEntry
	err := r.withReadLock(ctx, func(file fileSchema) error {
		encoded, ok := file.Entries[string(name)]
		if !ok {
			return fmt.Errorf("worker %q: %w", name, domain.ErrWorkerNotFound)
		}
		entry = fromEntrySchema(encoded)
		return nil
	})

	return entry, err
}

func (r *Registry) Upsert(ctx context.Context, entry domain.WorkerEntry) error {
	entry.Name = domain.NormalizeName(entry.Name)
	entry.NormalizeCapabilities()
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("validate worker entry: %w", err)
	}

	return r.withWriteLock(ctx, func(file *fileSchema) error {
		if existing, ok := file.Entries[string(entry.Name)]; ok && entry.Created.IsZero() {
			entry.Created = existing.Created
		}
		if entry.Created.IsZero() {
			entry.Created = r.clock.Now().UTC()
		}
		if entry.LastSeen.IsZero() {
			entry.LastSeen = r.clock.Now().UTC()
		}

		file.Entries[string(entry.Name)] = toEntrySchema(entry)
		return nil
	})
}

func (r *Registry) All(ctx context.Context) (map[domain.WorkerID]domain.WorkerEntry, error) {
	var entries map[domain.WorkerID]domain.WorkerEntry
	err := r.withReadLock(ctx, func(file fileSchema) error {
		entries = make(map[domain.WorkerID]domain.WorkerEntry, len(file.Entries))
		for name, encoded := range file.Entries {
			entries[domain.WorkerID(name)] = fromEntrySchema(encoded)
		}
		return nil
	})

	return entries, err
}

func (r *Registry) Remove(ctx context.Context, name domain.WorkerID) error {
	name = domain.NormalizeName(name)

	return r.withWriteLock(ctx, func(file *fileSchema) error {
		if _, ok := file.Entries[string(name)]; !ok {
			return fmt.Errorf("worker %q: %w", name, domain.ErrWorkerNotFound)
		}

		delete(file.Entries, string(name))
		delete(file.ContextState, string(name))
		delete(file.Forwards, string(name))
		return nil
	})
}

func (r *Registry) Coordination(ctx context.Context, name domain.WorkerID) (domain.CoordinationState, error) {
	name = domain.NormalizeName(name)

	var state domain.CoordinationState
	err := r.withReadLock(ctx, func(file fileSchema) error {
		if _, ok := file.Entries[string(name)]; !ok {
			return fmt.Errorf("worker %q: %w", name, domain.ErrWorkerNotFound)
		}
		state = fromContextStateSchema(file.ContextState[string(name)])
		return nil
	})

	return state, err
}

// UpdateCoordination applies the mutator under the write lock, then runs the
// checkpoint classifier against any fresh output: when the last response reads
// as a checkpoint summary and no restore payload is staged yet, the summary is
// captured into SunriseContext so it survives even if the worker dies before
// the coordinator completes the checkpoint.
func (r *Registry) UpdateCoordination(ctx context.Context, name domain.WorkerID, mutate ports.CoordinationMutator) error {
	name = domain.NormalizeName(name)

	return r.withWriteLock(ctx, func(file *fileSchema) error {
		if _, ok := file.Entries[string(name)]; !ok {
			return fmt.Errorf("worker %q: %w", name, domain.ErrWorkerNotFound)
		}

		state := fromContextStateSchema(file.ContextState[string(name)])
		if err := mutate(&state); err != nil {
			return err
		}

		if r.classify != nil && state.LastOutput != nil && state.SunriseContext == "" {
			if r.classify(state.LastOutput.Response) {
				state.SunriseContext = state.LastOutput.Response
			}
		}

		file.ContextState[string(name)] = toContextStateSchema(state)
		return nil
	})
}

func (r *Registry) AllCoordination(ctx context.Context) (map[domain.WorkerID]domain.CoordinationState, error) {
	var states map[domain.WorkerID]domain.CoordinationState
	err := r.withReadLock(ctx, func(file fileSchema) error {
		states = make(map[domain.WorkerID]domain.CoordinationState, len(file.ContextState))
		for name, encoded := range file.ContextState {
			if _, ok := file.Entries[name]; !ok {
				continue
			}
			states[domain.WorkerID(name)] = fromContextStateSchema(encoded)
		}
		return nil
	})

	return states, err
}

func (r *Registry) SetForward(ctx context.Context, source domain.WorkerID, target string) error {
	source = domain.NormalizeName(source)

	return r.withWriteLock(ctx, func(file *fileSchema) error {
		if _, ok := file.Entries[string(source)]; !ok {
			return fmt.Errorf("worker %q: %w", source, domain.ErrWorkerNotFound)
		}

		if target == "" {
			delete(file.Forwards, string(source))
			return nil
		}

		file.Forwards[string(source)] = target
		return nil
	})
}

func (r *Registry) Forward(ctx context.Context, source domain.WorkerID) (string, error) {
	source = domain.NormalizeName(source)

	var target string
	err := r.withReadLock(ctx, func(file fileSchema) error {
		target = file.Forwards[string(source)]
		return nil
	})

	return target, err
}

func (r *Registry) PruneDead(ctx context.Context) ([]domain.WorkerID, error) {
	var removed []domain.WorkerID
	err := r.withWriteLock(ctx, func(file *fileSchema) error {
		removed = removed[:0]
		for name, entry := range file.Entries {
			if entry.PID <= 0 {
				continue
			}
			if processAlive(entry.PID) {
				continue
			}

			delete(file.Entries, name)
			delete(file.ContextState, name)
			delete(file.Forwards, name)
			removed = append(removed, domain.WorkerID(name))
		}
		return nil
	})

	return removed, err
}

func (r *Registry) withWriteLock(ctx context.Context, apply func(file *fileSchema) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	release, err := r.acquireFileLock(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	if err := apply(&file); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *Registry) withReadLock(ctx context.Context, inspect func(file fileSchema) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	release, err := r.acquireFileLock(ctx, true)
	if err != nil {
		return err
	}
	defer release()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	return inspect(file)
}

// acquireFileLock takes the cross-process flock on the sibling lock file,
// waiting at most lockWait before failing with domain.ErrLockTimeout.
func (r *Registry) acquireFileLock(ctx context.Context, shared bool) (func(), error) {
	lock := flock.New(r.path + lockSuffix)

	lockCtx, cancel := context.WithTimeout(ctx, r.lockWait)
	defer cancel()

	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = lock.TryRLockContext(lockCtx, lockRetryDelay)
	} else {
		locked, err = lock.TryLockContext(lockCtx, lockRetryDelay)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("registry lock %s: %w", r.path+lockSuffix, domain.ErrLockTimeout)
		}
		return nil, fmt.Errorf("acquire registry lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("registry lock %s: %w", r.path+lockSuffix, domain.ErrLockTimeout)
	}

	return func() { _ = lock.Unlock() }, nil
}

// Disk reads and the final rename get one immediate retry: a registry
// operation should survive a single transient I/O failure rather than
// surface it to the caller. Decode and validation failures are permanent
// and are never retried.
func (r *Registry) readSchema() (fileSchema, error) {
	var file fileSchema

	data, err := r.readFile(r.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		data, err = r.readFile(r.path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			file.applyDefaults()
			return file, nil
		}
		return fileSchema{}, fmt.Errorf("read registry file: %w", err)
	}

	if err := json.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode registry file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func (r *Registry) writeSchema(file fileSchema) error {
	file.applyDefaults()

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp registry file: %w", err)
	}

	if err := tempFile.Chmod(registryFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp registry file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp registry file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp registry file: %w", err)
	}

	if err := r.rename(tempName, r.path); err != nil {
		if err = r.rename(tempName, r.path); err != nil {
			return fmt.Errorf("replace registry file: %w", err)
		}
	}

	cleanup = false

	return nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}
