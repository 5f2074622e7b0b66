package application

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/sundial/internal/domain"
)

const (
	policyFileMode  = 0o600
	policyDirMode   = 0o700
	policyTempGlob  = ".policies-*.json.tmp"
	policyVersionV1 = 1
)

// policyStore persists budget policies as a single JSON document with the
// same temp-file-plus-rename swap the registry uses. Policies are the only
// budget state that must survive restarts; counters and allocations are
// rebuilt from live traffic.
type policyStore struct {
	path string
}

type policyFileSchema struct {
	Version  int            `json:"version"`
	Policies []policySchema `json:"policies"`
}

type policySchema struct {
	ID               string     `json:"id"`
	Type             string     `json:"type"`
	Period           string     `json:"period"`
	Tier             string     `json:"tier"`
	Limit            int64      `json:"limit"`
	WarningThreshold float64    `json:"warning_threshold"`
	ActionThreshold  float64    `json:"action_threshold"`
	Component        string     `json:"component,omitempty"`
	TaskType         string     `json:"task_type,omitempty"`
	Start            time.Time  `json:"start"`
	End              *time.Time `json:"end,omitempty"`
	Enabled          bool       `json:"enabled"`
}

func newPolicyStore(path string) *policyStore {
	return &policyStore{path: path}
}

// Load returns the persisted policies. A missing or unreadable file yields
// ok=false so the caller can synthesize defaults instead of failing startup.
func (s *policyStore) Load() ([]domain.BudgetPolicy, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false
	}

	var file policyFileSchema
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, false
	}
	if file.Version > policyVersionV1 || len(file.Policies) == 0 {
		return nil, false
	}

	policies := make([]domain.BudgetPolicy, 0, len(file.Policies))
	for _, encoded := range file.Policies {
		policies = append(policies, domain.BudgetPolicy{
			ID:               encoded.ID,
			Type:             domain.PolicyType(encoded.Type),
			Period:           domain.BudgetPeriod(encoded.Period),
			Tier:             domain.BudgetTier(encoded.Tier),
			Limit:            encoded.Limit,
			WarningThreshold: encoded.WarningThreshold,
			ActionThreshold:  encoded.ActionThreshold,
			Component:        encoded.Component,
			TaskType:         encoded.TaskType,
			Start:            encoded.Start,
			End:              encoded.End,
			Enabled:          encoded.Enabled,
		})
	}

	return policies, true
}

func (s *policyStore) Save(policies []domain.BudgetPolicy) error {
	file := policyFileSchema{Version: policyVersionV1, Policies: make([]policySchema, 0, len(policies))}
	for _, policy := range policies {
		file.Policies = append(file.Policies, policySchema{
			ID:               policy.ID,
			Type:             string(policy.Type),
			Period:           string(policy.Period),
			Tier:             string(policy.Tier),
			Limit:            policy.Limit,
			WarningThreshold: policy.WarningThreshold,
			ActionThreshold:  policy.ActionThreshold,
			Component:        policy.Component,
			TaskType:         policy.TaskType,
			Start:            policy.Start,
			End:              policy.End,
			Enabled:          policy.Enabled,
		})
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode policy file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, policyDirMode); err != nil {
		return fmt.Errorf("create policy directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, policyTempGlob)
	if err != nil {
		return fmt.Errorf("create temp policy file: %w", err)
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
		return fmt.Errorf("write temp policy file: %w", err)
	}
	if err := tempFile.Chmod(policyFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp policy file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp policy file: %w", err)
	}

	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace policy file: %w", err)
	}

	cleanup = false

	return nil
}
