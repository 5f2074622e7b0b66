package file

import (
	"fmt"
	"time"

	"github.com/bnema/sundial/internal/domain"
)

const schemaVersion = 1

// fileSchema is the on-disk JSON layout. A single file carries all three
// sections so one atomic rename replaces the whole registry state.
type fileSchema struct {
	Version      int                           `json:"version"`
	Entries      map[string]entrySchema        `json:"entries"`
	ContextState map[string]contextStateSchema `json:"context_state"`
	Forwards     map[string]string             `json:"forwards"`
}

type entrySchema struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Endpoint     string    `json:"endpoint,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	PID          int       `json:"pid,omitempty"`
	Project      string    `json:"project,omitempty"`
	Created      time.Time `json:"created"`
	LastSeen     time.Time `json:"last_seen"`
}

type contextStateSchema struct {
	StagedPrompt    string          `json:"staged_prompt,omitempty"`
	NextPrompt      string          `json:"next_prompt,omitempty"`
	LastOutput      *exchangeSchema `json:"last_output,omitempty"`
	SunriseContext  string          `json:"sunrise_context,omitempty"`
	NeedsFreshStart bool            `json:"needs_fresh_start,omitempty"`
}

type exchangeSchema struct {
	Prompt   string    `json:"prompt"`
	Response string    `json:"response"`
	At       time.Time `json:"at"`
}

func (f *fileSchema) applyDefaults() {
	if f.Version == 0 {
		f.Version = schemaVersion
	}
	if f.Entries == nil {
		f.Entries = map[string]entrySchema{}
	}
	if f.ContextState == nil {
		f.ContextState = map[string]contextStateSchema{}
	}
	if f.Forwards == nil {
		f.Forwards = map[string]string{}
	}
}

func (f fileSchema) validateVersion() error {
	if f.Version > schemaVersion {
		return fmt.Errorf("registry file version %d is newer than supported version %d", f.Version, schemaVersion)
	}
	return nil
}

func toEntrySchema(entry domain.WorkerEntry) entrySchema {
	return entrySchema{
		Name:         string(entry.Name),
		Type:         string(entry.Type),
		Endpoint:     entry.Endpoint,
		Capabilities: entry.Capabilities,
		PID:          entry.PID,
		Project:      entry.Project,
		Created:      entry.Created,
		LastSeen:     entry.LastSeen,
	}
}

func fromEntrySchema(entry entrySchema) domain.WorkerEntry {
	return domain.WorkerEntry{
		Name:         domain.WorkerID(entry.Name),
		Type:         domain.WorkerType(entry.Type),
		Endpoint:     entry.Endpoint,
		Capabilities: entry.Capabilities,
		PID:          entry.PID,
		Project:      entry.Project,
		Created:      entry.Created,
		LastSeen:     entry.LastSeen,
	}
}

func toContextStateSchema(state domain.CoordinationState) contextStateSchema {
	encoded := contextStateSchema{
		StagedPrompt:    state.StagedPrompt,
		NextPrompt:      state.NextPrompt,
		SunriseContext:  state.SunriseContext,
		NeedsFreshStart: state.NeedsFreshStart,
	}
	if state.LastOutput != nil {
		encoded.LastOutput = &exchangeSchema{
			Prompt:   state.LastOutput.Prompt,
			Response: state.LastOutput.Response,
			At:       state.LastOutput.At,
		}
	}
	return encoded
}

func fromContextStateSchema(state contextStateSchema) domain.CoordinationState {
	decoded := domain.CoordinationState{
		StagedPrompt:    state.StagedPrompt,
		NextPrompt:      state.NextPrompt,
		SunriseContext:  state.SunriseContext,
		NeedsFreshStart: state.NeedsFreshStart,
	}
	if state.LastOutput != nil {
		decoded.LastOutput = &domain.Exchange{
			Prompt:   state.LastOutput.Prompt,
			Response: state.LastOutput.Response,
			At:       state.LastOutput.At,
		}
	}
	return decoded
}
