package file

import (
	"context"
	"errors"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bnema/sundial/internal/domain"
)

type rosterSchema struct {
	Version int            `toml:"version"`
	Workers []rosterWorker `toml:"workers"`
}

type rosterWorker struct {
	Name         string   `toml:"name"`
	Type         string   `toml:"type"`
	Endpoint     string   `toml:"endpoint,omitempty"`
	Capabilities []string `toml:"capabilities,omitempty"`
	Project      string   `toml:"project,omitempty"`
}

// SeedRoster loads the declarative fleet roster and upserts every worker it
// names. Entries already in the registry keep their Created timestamp and
// runtime fields; a missing roster file is not an error, the fleet just
// starts empty.
func (r *Registry) SeedRoster(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read roster file: %w", err)
	}

	var roster rosterSchema
	if err := toml.Unmarshal(data, &roster); err != nil {
		return 0, fmt.Errorf("decode roster file: %w", err)
	}

	seeded := 0
	err = r.withWriteLock(ctx, func(file *fileSchema) error {
		for _, worker := range roster.Workers {
			entry := domain.WorkerEntry{
				Name:         domain.NormalizeName(domain.WorkerID(worker.Name)),
				Type:         domain.WorkerType(worker.Type),
				Endpoint:     worker.Endpoint,
				Capabilities: worker.Capabilities,
				Project:      worker.Project,
			}
			entry.NormalizeCapabilities()
			if err := entry.Validate(); err != nil {
				return fmt.Errorf("roster worker %q: %w", worker.Name, err)
			}

			now := r.clock.Now().UTC()
			if existing, ok := file.Entries[string(entry.Name)]; ok {
				entry.Created = existing.Created
				entry.LastSeen = existing.LastSeen
				entry.PID = existing.PID
			} else {
				entry.Created = now
				entry.LastSeen = now
			}

			file.Entries[string(entry.Name)] = toEntrySchema(entry)
			seeded++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return seeded, nil
}
