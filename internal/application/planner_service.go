package application

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bnema/sundial/internal/domain"
	"github.com/bnema/sundial/internal/events"
	"github.com/bnema/sundial/internal/ports"
)

const defaultMaxActionsPerWorker = 5

// plannerRule proposes actions for one concern. Rules never mutate state;
// the service owns dedup, capping, and expiry.
type plannerRule func(state domain.WorkerState, predicted *domain.Prediction, now time.Time) []domain.Action

// PlannerService evaluates an ordered rule set against worker state and
// maintains the pending-action queue each worker's applier drains.
type PlannerService struct {
	log        *zap.Logger
	bus        *events.Bus
	clock      ports.Clock
	maxActions int
	rules      []plannerRule

	mu      sync.Mutex
	pending map[domain.WorkerID][]domain.Action
	applied map[domain.WorkerID][]domain.Action
}

// PlannerStats summarizes the queue for operators.
type PlannerStats struct {
	Pending    int
	Applied    int
	ByType     map[domain.ActionType]int
	ByPriority map[domain.ActionPriority]int
}

type PlannerOption func(*PlannerService)

// WithMaxActionsPerWorker caps how many pending actions a worker can hold;
// lowest priorities are shed first.
func WithMaxActionsPerWorker(limit int) PlannerOption {
	return func(s *PlannerService) {
		if limit > 0 {
			s.maxActions = limit
		}
	}
}

func NewPlannerService(log *zap.Logger, bus *events.Bus, clock ports.Clock, opts ...PlannerOption) *PlannerService {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}

	service := &PlannerService{
		log:        log,
		bus:        bus,
		clock:      clock,
		maxActions: defaultMaxActionsPerWorker,
		rules: []plannerRule{
			tokenUtilizationRule,
			repetitionRule,
			performanceRule,
			healthRule,
			preventiveRule,
		},
		pending: make(map[domain.WorkerID][]domain.Action),
		applied: make(map[domain.WorkerID][]domain.Action),
	}
	for _, opt := range opts {
		opt(service)
	}

	return service
}

// Evaluate runs every rule against one worker's state, queueing any proposals
// that survive dedup and the per-worker cap. Returns the accepted actions.
func (s *PlannerService) Evaluate(ctx context.Context, state domain.WorkerState, predicted *domain.Prediction) ([]domain.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	worker := domain.NormalizeName(state.WorkerID)
	now := s.clock.Now().UTC()

	var proposals []domain.Action
	for _, rule := range s.rules {
		proposals = append(proposals, rule(state, predicted, now)...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var accepted []domain.Action
	for _, proposal := range proposals {
		proposal.ID = uuid.NewString()
		proposal.WorkerID = worker

		if s.duplicatePendingLocked(worker, proposal) {
			continue
		}

		s.pending[worker] = append(s.pending[worker], proposal)
		accepted = append(accepted, proposal)

		s.log.Debug("action suggested",
			zap.String("worker", string(worker)),
			zap.String("type", string(proposal.Type)),
			zap.String("priority", proposal.Priority.String()),
			zap.String("reason", proposal.Reason))
		s.publish(events.ActionCreated, worker, map[string]any{
			"action_id": proposal.ID,
			"type":      string(proposal.Type),
			"priority":  proposal.Priority.String(),
		})
	}

	s.capLocked(worker)

	// The cap may have shed some of this round's proposals; only report the
	// ones that survived.
	surviving := make(map[string]struct{}, len(s.pending[worker]))
	for _, action := range s.pending[worker] {
		surviving[action.ID] = struct{}{}
	}
	kept := accepted[:0]
	for _, action := range accepted {
		if _, ok := surviving[action.ID]; ok {
			kept = append(kept, action)
		}
	}

	return kept, nil
}

// ActionsFor returns a worker's pending actions, highest priority first.
func (s *PlannerService) ActionsFor(worker domain.WorkerID) []domain.Action {
	worker = domain.NormalizeName(worker)

	s.mu.Lock()
	defer s.mu.Unlock()

	actions := append([]domain.Action(nil), s.pending[worker]...)
	sortByPriority(actions)
	return actions
}

// HighestPriority returns the single most urgent pending action for a worker.
func (s *PlannerService) HighestPriority(worker domain.WorkerID) (domain.Action, bool) {
	actions := s.ActionsFor(worker)
	if len(actions) == 0 {
		return domain.Action{}, false
	}
	return actions[0], true
}

// ActionableNow returns every pending action across the fleet whose suggested
// time has arrived, highest priority first.
func (s *PlannerService) ActionableNow() []domain.Action {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Action
	for _, actions := range s.pending {
		for _, action := range actions {
			if action.Due(now) && !action.Expired(now) {
				due = append(due, action)
			}
		}
	}

	sortByPriority(due)
	return due
}

// Critical returns pending critical-priority actions across the fleet.
func (s *PlannerService) Critical() []domain.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	var critical []domain.Action
	for _, actions := range s.pending {
		for _, action := range actions {
			if action.Priority == domain.ActionCritical {
				critical = append(critical, action)
			}
		}
	}

	return critical
}

// MarkApplied moves a pending action to the applied history.
func (s *PlannerService) MarkApplied(ctx context.Context, actionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for worker, actions := range s.pending {
		for i, action := range actions {
			if action.ID != actionID {
				continue
			}

			s.pending[worker] = append(actions[:i], actions[i+1:]...)
			if len(s.pending[worker]) == 0 {
				delete(s.pending, worker)
			}
			s.applied[worker] = append(s.applied[worker], action)

			s.publish(events.ActionApplied, worker, map[string]any{
				"action_id": action.ID,
				"type":      string(action.Type),
			})
			return nil
		}
	}

	return fmt.Errorf("action %q: %w", actionID, domain.ErrActionNotFound)
}

// SweepExpired drops pending actions past their expiry, firing ActionExpired
// for each. Returns how many were dropped.
func (s *PlannerService) SweepExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for worker, actions := range s.pending {
		kept := actions[:0]
		for _, action := range actions {
			if !action.Expired(now) {
				kept = append(kept, action)
				continue
			}

			dropped++
			s.publish(events.ActionExpired, worker, map[string]any{
				"action_id": action.ID,
				"type":      string(action.Type),
			})
		}

		if len(kept) == 0 {
			delete(s.pending, worker)
		} else {
			s.pending[worker] = kept
		}
	}

	return dropped, nil
}

func (s *PlannerService) Stats() PlannerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := PlannerStats{
		ByType:     make(map[domain.ActionType]int),
		ByPriority: make(map[domain.ActionPriority]int),
	}
	for _, actions := range s.pending {
		stats.Pending += len(actions)
		for _, action := range actions {
			stats.ByType[action.Type]++
			stats.ByPriority[action.Priority]++
		}
	}
	for _, actions := range s.applied {
		stats.Applied += len(actions)
	}

	return stats
}

// FlushApplied writes the applied-action history to a JSON file, oldest
// first. Pending actions are deliberately not persisted; they are recomputed
// from live state on the next planning pass.
func (s *PlannerService) FlushApplied(path string) error {
	s.mu.Lock()
	applied := make([]domain.Action, 0)
	for _, actions := range s.applied {
		applied = append(applied, actions...)
	}
	s.mu.Unlock()

	sort.Slice(applied, func(i, j int) bool {
		return applied[i].SuggestedAt.Before(applied[j].SuggestedAt)
	})

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(applied, "", "  ")
	if err != nil {
		return fmt.Errorf("encode applied actions: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write applied actions: %w", err)
	}

	return nil
}

func (s *PlannerService) duplicatePendingLocked(worker domain.WorkerID, proposal domain.Action) bool {
	for _, action := range s.pending[worker] {
		if action.Type == proposal.Type && action.Priority == proposal.Priority {
			return true
		}
	}
	return false
}

func (s *PlannerService) capLocked(worker domain.WorkerID) {
	actions := s.pending[worker]
	if len(actions) <= s.maxActions {
		return
	}

	sortByPriority(actions)
	for _, shed := range actions[s.maxActions:] {
		s.publish(events.ActionExpired, worker, map[string]any{
			"action_id": shed.ID,
			"type":      string(shed.Type),
			"reason":    "capacity",
		})
	}
	s.pending[worker] = actions[:s.maxActions]
}

func (s *PlannerService) publish(eventType events.Type, worker domain.WorkerID, payload map[string]any) {
	if s.bus == nil {
		return
	}

	s.bus.Publish(events.Event{
		Type:     eventType,
		WorkerID: worker,
		At:       s.clock.Now().UTC(),
		Payload:  payload,
	})
}

// sortByPriority orders actions highest priority first, stably, so equal
// priorities keep their suggestion order.
func sortByPriority(actions []domain.Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority > actions[j].Priority
	})
}

func tokenUtilizationRule(state domain.WorkerState, predicted *domain.Prediction, now time.Time) []domain.Action {
	utilization := state.Metrics.TokenUtilization

	switch {
	case utilization > 0.95:
		return []domain.Action{{
			Type:        domain.ActionReset,
			Priority:    domain.ActionCritical,
			Reason:      fmt.Sprintf("token utilization critical: %.2f", utilization),
			SuggestedAt: now,
			ExpiresAt:   now.Add(5 * time.Minute),
		}}
	case utilization > 0.85:
		return []domain.Action{{
			Type:        domain.ActionCompress,
			Priority:    domain.ActionHigh,
			Reason:      fmt.Sprintf("token utilization high: %.2f", utilization),
			Params:      map[string]any{"level": "aggressive"},
			SuggestedAt: now,
			ExpiresAt:   now.Add(15 * time.Minute),
		}}
	case utilization > 0.75 && predicted != nil && predicted.Metrics.TokenUtilization > 0.9:
		return []domain.Action{{
			Type:        domain.ActionCompress,
			Priority:    domain.ActionMedium,
			Reason:      fmt.Sprintf("utilization %.2f trending toward %.2f", utilization, predicted.Metrics.TokenUtilization),
			Params:      map[string]any{"level": "moderate"},
			SuggestedAt: now.Add(30 * time.Second),
			ExpiresAt:   now.Add(30 * time.Minute),
		}}
	case utilization > 0.7 && predicted != nil && predicted.Metrics.TokenUtilization > 0.8:
		return []domain.Action{{
			Type:        domain.ActionCompress,
			Priority:    domain.ActionLow,
			Reason:      fmt.Sprintf("utilization %.2f trending toward %.2f", utilization, predicted.Metrics.TokenUtilization),
			Params:      map[string]any{"level": "light"},
			SuggestedAt: now.Add(time.Minute),
			ExpiresAt:   now.Add(60 * time.Minute),
		}}
	}

	return nil
}

func repetitionRule(state domain.WorkerState, predicted *domain.Prediction, now time.Time) []domain.Action {
	repetition := state.Metrics.RepetitionScore

	switch {
	case repetition > 0.5:
		return []domain.Action{{
			Type:        domain.ActionReset,
			Priority:    domain.ActionHigh,
			Reason:      fmt.Sprintf("severe repetition: %.2f", repetition),
			SuggestedAt: now,
			ExpiresAt:   now.Add(5 * time.Minute),
		}}
	case repetition > 0.3:
		return []domain.Action{{
			Type:        domain.ActionPrune,
			Priority:    domain.ActionHigh,
			Reason:      fmt.Sprintf("repetition high: %.2f", repetition),
			Params:      map[string]any{"target": "repetitive_sections"},
			SuggestedAt: now,
			ExpiresAt:   now.Add(10 * time.Minute),
		}}
	case repetition > 0.2 && predicted != nil && predicted.Metrics.RepetitionScore > repetition+0.1:
		return []domain.Action{{
			Type:        domain.ActionSummarize,
			Priority:    domain.ActionMedium,
			Reason:      fmt.Sprintf("repetition %.2f rising toward %.2f", repetition, predicted.Metrics.RepetitionScore),
			SuggestedAt: now.Add(30 * time.Second),
			ExpiresAt:   now.Add(20 * time.Minute),
		}}
	}

	return nil
}

func performanceRule(state domain.WorkerState, predicted *domain.Prediction, now time.Time) []domain.Action {
	rate := state.Metrics.OutputTokenRate
	latency := state.Metrics.Latency

	// A zero rate means no telemetry, not a stalled worker; the degradation
	// branches only fire on a measured rate.
	if rate > 0 && rate < 1 && latency > 5 {
		return []domain.Action{{
			Type:        domain.ActionTierChange,
			Priority:    domain.ActionHigh,
			Reason:      fmt.Sprintf("severe degradation: %.2f tok/s at %.1fs latency", rate, latency),
			Params:      map[string]any{"target_tier": string(domain.TierLightweight)},
			SuggestedAt: now,
			ExpiresAt:   now.Add(5 * time.Minute),
		}}
	}

	if rate > 0 && rate < 3 && latency > 3 {
		if state.Metrics.TokenUtilization > 0.7 {
			return []domain.Action{{
				Type:        domain.ActionCompress,
				Priority:    domain.ActionMedium,
				Reason:      fmt.Sprintf("degraded output at %.2f utilization", state.Metrics.TokenUtilization),
				Params:      map[string]any{"level": "moderate"},
				SuggestedAt: now,
				ExpiresAt:   now.Add(15 * time.Minute),
			}}
		}
		return []domain.Action{{
			Type:        domain.ActionParameterAdjust,
			Priority:    domain.ActionMedium,
			Reason:      fmt.Sprintf("degraded output: %.2f tok/s at %.1fs latency", rate, latency),
			Params:      map[string]any{"temperature": 0.7, "top_p": 0.9},
			SuggestedAt: now,
			ExpiresAt:   now.Add(30 * time.Minute),
		}}
	}

	if predicted != nil && predicted.Metrics.OutputTokenRate < 1 && predicted.Metrics.Latency > 5 {
		return []domain.Action{{
			Type:        domain.ActionRefresh,
			Priority:    domain.ActionMedium,
			Reason:      "predicted severe performance degradation",
			SuggestedAt: now.Add(30 * time.Second),
			ExpiresAt:   now.Add(10 * time.Minute),
		}}
	}

	return nil
}

func healthRule(state domain.WorkerState, predicted *domain.Prediction, now time.Time) []domain.Action {
	switch state.Health {
	case domain.HealthCritical:
		return []domain.Action{{
			Type:        domain.ActionReset,
			Priority:    domain.ActionCritical,
			Reason:      "context health critical",
			SuggestedAt: now,
			ExpiresAt:   now.Add(5 * time.Minute),
		}}
	case domain.HealthPoor:
		action := domain.Action{
			Priority:    domain.ActionHigh,
			Reason:      "context health poor",
			SuggestedAt: now,
			ExpiresAt:   now.Add(10 * time.Minute),
		}
		switch {
		case state.Metrics.TokenUtilization > 0.8:
			action.Type = domain.ActionCompress
		case state.Metrics.RepetitionScore > 0.3:
			action.Type = domain.ActionPrune
		default:
			action.Type = domain.ActionRefresh
		}
		return []domain.Action{action}
	case domain.HealthFair:
		if predicted != nil && (predicted.Health == domain.HealthPoor || predicted.Health == domain.HealthCritical) {
			return []domain.Action{{
				Type:        domain.ActionRefresh,
				Priority:    domain.ActionMedium,
				Reason:      fmt.Sprintf("fair health predicted to reach %s", predicted.Health),
				SuggestedAt: now.Add(time.Minute),
				ExpiresAt:   now.Add(20 * time.Minute),
			}}
		}
	case domain.HealthGood:
		if predicted != nil && predicted.Health == domain.HealthCritical {
			return []domain.Action{{
				Type:        domain.ActionNotify,
				Priority:    domain.ActionLow,
				Reason:      "good health predicted to collapse to critical",
				SuggestedAt: now.Add(2 * time.Minute),
				ExpiresAt:   now.Add(30 * time.Minute),
			}}
		}
	}

	return nil
}

func preventiveRule(state domain.WorkerState, _ *domain.Prediction, now time.Time) []domain.Action {
	if state.CreatedAt.IsZero() {
		return nil
	}

	age := now.Sub(state.CreatedAt)
	var actions []domain.Action

	if state.Metrics.TokenUtilization > 0.6 && age > time.Hour {
		actions = append(actions, domain.Action{
			Type:        domain.ActionRefresh,
			Priority:    domain.ActionLow,
			Reason:      fmt.Sprintf("preventive refresh after %s at %.2f utilization", age.Round(time.Minute), state.Metrics.TokenUtilization),
			SuggestedAt: now.Add(5 * time.Minute),
			ExpiresAt:   now.Add(time.Hour),
		})
	}

	if age > 3*time.Hour {
		actions = append(actions, domain.Action{
			Type:        domain.ActionNotify,
			Priority:    domain.ActionLow,
			Reason:      fmt.Sprintf("long-lived context: %s old", age.Round(time.Minute)),
			SuggestedAt: now.Add(5 * time.Minute),
			ExpiresAt:   now.Add(2 * time.Hour),
		})
	}

	return actions
}
