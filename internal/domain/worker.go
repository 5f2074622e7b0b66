package domain

import (
	"fmt"
	"strings"
	"time"
)

type WorkerID string

type WorkerType string

const (
	WorkerPoolMember   WorkerType = "pool-member"
	WorkerTerminal     WorkerType = "terminal"
	WorkerProjectBound WorkerType = "project-bound"
)

// WorkerEntry is the durable identity record for a managed CI worker.
type WorkerEntry struct {
	Name         WorkerID
	Type         WorkerType
	Endpoint     string
	Capabilities []string
	PID          int
	Project      string
	Created      time.Time
	LastSeen     time.Time
}

func (w WorkerEntry) Validate() error {
	if strings.TrimSpace(string(w.Name)) == "" {
		return fmt.Errorf("name is required")
	}

	switch w.Type {
	case WorkerPoolMember, WorkerTerminal, WorkerProjectBound:
	default:
		return fmt.Errorf("unsupported worker type %q", w.Type)
	}

	if w.Type == WorkerProjectBound && strings.TrimSpace(w.Project) == "" {
		return fmt.Errorf("project is required for project-bound workers")
	}

	return nil
}

// NormalizeName lowercases and trims a worker name; registry keys are
// case-insensitive.
func NormalizeName(name WorkerID) WorkerID {
	return WorkerID(strings.ToLower(strings.TrimSpace(string(name))))
}

func (w *WorkerEntry) NormalizeCapabilities() {
	if w == nil {
		return
	}

	caps := make([]string, 0, len(w.Capabilities))
	seen := make(map[string]struct{}, len(w.Capabilities))
	for _, capability := range w.Capabilities {
		trimmed := strings.ToLower(strings.TrimSpace(capability))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		caps = append(caps, trimmed)
	}

	w.Capabilities = caps
}
