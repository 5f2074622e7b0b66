// Package file stores checkpoint records as timestamped JSON files, one per
// sundown, so restore context survives registry resets and process restarts.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bnema/sundial/internal/domain"
	"github.com/bnema/sundial/internal/ports"
)

const (
	archiveFileMode = 0o600
	archiveDirMode  = 0o700
	timestampLayout = "20060102T150405.000000000Z"
	tempFilePattern = ".checkpoint-*.json.tmp"
)

type Archive struct {
	dir   string
	clock ports.Clock
}

var _ ports.StateArchive = (*Archive)(nil)

type checkpointSchema struct {
	Worker       string    `json:"worker"`
	At           time.Time `json:"at"`
	Summary      string    `json:"summary"`
	KeyDecisions []string  `json:"key_decisions,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	TokensUsed   int64     `json:"tokens_used,omitempty"`
}

func NewArchive(dir string, clock ports.Clock) (*Archive, error) {
	if dir == "" {
		return nil, errors.New("archive directory is empty")
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve archive directory: %w", err)
	}

	if err := os.MkdirAll(absDir, archiveDirMode); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	return &Archive{dir: filepath.Clean(absDir), clock: clock}, nil
}

func (a *Archive) Save(ctx context.Context, state domain.CheckpointState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(string(state.WorkerID)) == "" {
		return errors.New("checkpoint worker is empty")
	}

	if state.At.IsZero() {
		state.At = a.clock.Now().UTC()
	}

	data, err := json.MarshalIndent(checkpointSchema{
		Worker:       string(state.WorkerID),
		At:           state.At,
		Summary:      state.Summary,
		KeyDecisions: state.KeyDecisions,
		Reason:       state.Reason,
		TokensUsed:   state.TokensUsed,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tempFile, err := os.CreateTemp(a.dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
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
		return fmt.Errorf("write temp checkpoint file: %w", err)
	}

	if err := tempFile.Chmod(archiveFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp checkpoint file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint file: %w", err)
	}

	finalPath := filepath.Join(a.dir, a.fileName(state.WorkerID, state.At))
	if err := os.Rename(tempName, finalPath); err != nil {
		return fmt.Errorf("place checkpoint file: %w", err)
	}

	cleanup = false

	return nil
}

// Latest returns the newest checkpoint for a worker, ordered by the timestamp
// embedded in the file name.
func (a *Archive) Latest(ctx context.Context, worker domain.WorkerID) (domain.CheckpointState, error) {
	if err := ctx.Err(); err != nil {
		return domain.CheckpointState{}, err
	}

	prefix := a.workerPrefix(worker)

	names, err := os.ReadDir(a.dir)
	if err != nil {
		return domain.CheckpointState{}, fmt.Errorf("read archive directory: %w", err)
	}

	var matches []string
	for _, dirEntry := range names {
		name := dirEntry.Name()
		if dirEntry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		matches = append(matches, name)
	}

	if len(matches) == 0 {
		return domain.CheckpointState{}, fmt.Errorf("worker %q: %w", worker, domain.ErrNoPriorState)
	}

	sort.Strings(matches)

	return a.Load(ctx, matches[len(matches)-1])
}

// Load reads a checkpoint by its file name within the archive directory.
func (a *Archive) Load(ctx context.Context, ref string) (domain.CheckpointState, error) {
	if err := ctx.Err(); err != nil {
		return domain.CheckpointState{}, err
	}
	if ref != filepath.Base(ref) {
		return domain.CheckpointState{}, fmt.Errorf("checkpoint ref %q must be a bare file name", ref)
	}

	data, err := os.ReadFile(filepath.Join(a.dir, ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.CheckpointState{}, fmt.Errorf("checkpoint %q: %w", ref, domain.ErrNoPriorState)
		}
		return domain.CheckpointState{}, fmt.Errorf("read checkpoint file: %w", err)
	}

	var encoded checkpointSchema
	if err := json.Unmarshal(data, &encoded); err != nil {
		return domain.CheckpointState{}, fmt.Errorf("decode checkpoint file: %w", err)
	}

	return domain.CheckpointState{
		WorkerID:     domain.WorkerID(encoded.Worker),
		At:           encoded.At,
		Summary:      encoded.Summary,
		KeyDecisions: encoded.KeyDecisions,
		Reason:       encoded.Reason,
		TokensUsed:   encoded.TokensUsed,
	}, nil
}

func (a *Archive) fileName(worker domain.WorkerID, at time.Time) string {
	return a.workerPrefix(worker) + at.UTC().Format(timestampLayout) + ".json"
}

func (a *Archive) workerPrefix(worker domain.WorkerID) string {
	name := strings.ToLower(strings.TrimSpace(string(worker)))
	name = strings.ReplaceAll(name, string(filepath.Separator), "-")
	return name + "_"
}
