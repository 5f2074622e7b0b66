package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/sundial/internal/domain"
	"github.com/bnema/sundial/internal/events"
	"github.com/bnema/sundial/internal/heuristics"
	"github.com/bnema/sundial/internal/ports"
)

// SunsetMarker prefixes the instruction staged for a worker when a
// checkpoint is requested. Tooling downstream keys on this exact prefix.
const SunsetMarker = "SUNSET_PROTOCOL: "

// SunriseHeader opens the restore prompt staged at sunrise.
const SunriseHeader = "=== SUNRISE CONTEXT RESTORATION ==="

const sunsetInstruction = "Please write a continuation summary before your context is retired. " +
	"Cover: Current Context (what you are working on), Key Decisions made so far, " +
	"Progress Made, Unfinished Work, and Next Steps. Be specific enough that a fresh " +
	"session can resume without re-reading the history."

// LifecycleService drives the sundown/sunrise checkpoint-restore protocol.
// All durable state lives in the registry and the archive; the service keeps
// only the per-worker phase and request bookkeeping in memory.
type LifecycleService struct {
	log      *zap.Logger
	bus      *events.Bus
	clock    ports.Clock
	registry ports.Registry
	archive  ports.StateArchive
	extract  ports.DecisionExtractor
	timeout  time.Duration

	mu        sync.Mutex
	phases    map[domain.WorkerID]domain.LifecyclePhase
	requested map[domain.WorkerID]checkpointRequest

	resetLedger func(ctx context.Context, worker domain.WorkerID) error
}

type checkpointRequest struct {
	reason string
	at     time.Time
}

type LifecycleOption func(*LifecycleService)

func WithDecisionExtractor(extract ports.DecisionExtractor) LifecycleOption {
	return func(s *LifecycleService) {
		s.extract = extract
	}
}

// WithLedgerReset hooks the budget ledger into restore: the hook retires the
// worker's allocations so the fresh session gets a clean grant.
func WithLedgerReset(reset func(ctx context.Context, worker domain.WorkerID) error) LifecycleOption {
	return func(s *LifecycleService) {
		s.resetLedger = reset
	}
}

// WithCheckpointTimeout bounds how long a checkpoint request may sit
// unanswered before consolidation abandons it.
func WithCheckpointTimeout(timeout time.Duration) LifecycleOption {
	return func(s *LifecycleService) {
		s.timeout = timeout
	}
}

func NewLifecycleService(
	log *zap.Logger,
	bus *events.Bus,
	clock ports.Clock,
	registry ports.Registry,
	archive ports.StateArchive,
	opts ...LifecycleOption,
) *LifecycleService {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}

	service := &LifecycleService{
		log:       log,
		bus:       bus,
		clock:     clock,
		registry:  registry,
		archive:   archive,
		extract:   heuristics.ExtractKeyDecisions,
		timeout:   30 * time.Minute,
		phases:    make(map[domain.WorkerID]domain.LifecyclePhase),
		requested: make(map[domain.WorkerID]checkpointRequest),
	}
	for _, opt := range opts {
		opt(service)
	}

	return service
}

// Phase returns the worker's current lifecycle phase.
func (s *LifecycleService) Phase(worker domain.WorkerID) domain.LifecyclePhase {
	worker = domain.NormalizeName(worker)

	s.mu.Lock()
	defer s.mu.Unlock()

	if phase, ok := s.phases[worker]; ok {
		return phase
	}
	return domain.PhaseNormal
}

// LifecycleStatus is a snapshot of in-flight transitions.
type LifecycleStatus struct {
	PendingCheckpoints map[domain.WorkerID]string
	StagedRestores     []domain.WorkerID
}

func (s *LifecycleService) Status() LifecycleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := LifecycleStatus{PendingCheckpoints: make(map[domain.WorkerID]string, len(s.requested))}
	for worker, request := range s.requested {
		status.PendingCheckpoints[worker] = request.reason
	}
	for worker, phase := range s.phases {
		if phase == domain.PhaseRestoreStaged {
			status.StagedRestores = append(status.StagedRestores, worker)
		}
	}
	sort.Slice(status.StagedRestores, func(i, j int) bool {
		return status.StagedRestores[i] < status.StagedRestores[j]
	})

	return status
}

// InitiateCheckpoint stages the sundown instruction as the worker's next
// prompt. The worker keeps running on its current context until the summary
// arrives; the fresh-start flag is raised only at completion.
func (s *LifecycleService) InitiateCheckpoint(ctx context.Context, worker domain.WorkerID, reason string) error {
	worker = domain.NormalizeName(worker)
	now := s.clock.Now().UTC()

	s.mu.Lock()
	if phase := s.phases[worker]; phase == domain.PhaseCheckpointRequested {
		s.mu.Unlock()
		return nil // request already in flight
	}
	s.mu.Unlock()

	err := s.registry.UpdateCoordination(ctx, worker, func(state *domain.CoordinationState) error {
		state.NextPrompt = SunsetMarker + sunsetInstruction
		return nil
	})
	if err != nil {
		return fmt.Errorf("stage sundown instruction: %w", err)
	}

	s.mu.Lock()
	s.phases[worker] = domain.PhaseCheckpointRequested
	s.requested[worker] = checkpointRequest{reason: reason, at: now}
	s.mu.Unlock()

	s.log.Info("checkpoint requested",
		zap.String("worker", string(worker)),
		zap.String("reason", reason))
	s.publish(events.CheckpointRequested, worker, map[string]any{"reason": reason})

	return nil
}

// CompleteCheckpoint archives the worker's summary and marks the context
// disposable. An empty summary falls back to whatever the registry captured
// from the worker's own output.
func (s *LifecycleService) CompleteCheckpoint(ctx context.Context, worker domain.WorkerID, summary string, tokensUsed int64) (domain.CheckpointState, error) {
	worker = domain.NormalizeName(worker)
	now := s.clock.Now().UTC()

	if strings.TrimSpace(summary) == "" {
		state, err := s.registry.Coordination(ctx, worker)
		if err != nil {
			return domain.CheckpointState{}, err
		}
		summary = state.SunriseContext
	}
	if strings.TrimSpace(summary) == "" {
		return domain.CheckpointState{}, fmt.Errorf("worker %q produced no summary to checkpoint", worker)
	}

	s.mu.Lock()
	reason := s.requested[worker].reason
	s.mu.Unlock()

	checkpoint := domain.CheckpointState{
		WorkerID:     worker,
		At:           now,
		Summary:      summary,
		KeyDecisions: s.extract(summary),
		Reason:       reason,
		TokensUsed:   tokensUsed,
	}

	if err := s.archive.Save(ctx, checkpoint); err != nil {
		return domain.CheckpointState{}, fmt.Errorf("archive checkpoint: %w", err)
	}

	err := s.registry.UpdateCoordination(ctx, worker, func(state *domain.CoordinationState) error {
		state.SunriseContext = summary
		state.NextPrompt = ""
		state.NeedsFreshStart = true
		return nil
	})
	if err != nil {
		return domain.CheckpointState{}, fmt.Errorf("record checkpoint completion: %w", err)
	}

	s.mu.Lock()
	s.phases[worker] = domain.PhaseCheckpointComplete
	delete(s.requested, worker)
	s.mu.Unlock()

	s.log.Info("checkpoint completed",
		zap.String("worker", string(worker)),
		zap.Int("key_decisions", len(checkpoint.KeyDecisions)),
		zap.Int64("tokens_used", tokensUsed))
	s.publish(events.CheckpointCompleted, worker, map[string]any{
		"decisions": len(checkpoint.KeyDecisions),
		"reason":    reason,
	})

	return checkpoint, nil
}

// Restore stages the sunrise prompt built from the most recent checkpoint.
// The registry's captured context wins; the archive is the fallback when the
// registry was reset in between. Without either, the worker has no prior
// state and the caller gets domain.ErrNoPriorState.
func (s *LifecycleService) Restore(ctx context.Context, worker domain.WorkerID) (string, error) {
	worker = domain.NormalizeName(worker)

	state, err := s.registry.Coordination(ctx, worker)
	if err != nil {
		return "", err
	}

	summary := state.SunriseContext
	var decisions []string
	if summary != "" {
		decisions = s.extract(summary)
	} else {
		checkpoint, err := s.archive.Latest(ctx, worker)
		if err != nil {
			if errors.Is(err, domain.ErrNoPriorState) {
				return "", fmt.Errorf("worker %q: %w", worker, domain.ErrNoPriorState)
			}
			return "", fmt.Errorf("load archived checkpoint: %w", err)
		}
		summary = checkpoint.Summary
		decisions = checkpoint.KeyDecisions
	}

	return s.stageRestore(ctx, worker, summary, decisions)
}

// RestoreFrom stages a sunrise from a specific archived checkpoint rather
// than the most recent state.
func (s *LifecycleService) RestoreFrom(ctx context.Context, worker domain.WorkerID, ref string) (string, error) {
	worker = domain.NormalizeName(worker)

	checkpoint, err := s.archive.Load(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNoPriorState) {
			return "", fmt.Errorf("checkpoint %q: %w", ref, domain.ErrNoPriorState)
		}
		return "", fmt.Errorf("load archived checkpoint: %w", err)
	}

	return s.stageRestore(ctx, worker, checkpoint.Summary, checkpoint.KeyDecisions)
}

func (s *LifecycleService) stageRestore(ctx context.Context, worker domain.WorkerID, summary string, decisions []string) (string, error) {
	prompt := buildSunrisePrompt(summary, decisions)

	err := s.registry.UpdateCoordination(ctx, worker, func(state *domain.CoordinationState) error {
		state.NextPrompt = prompt
		state.SunriseContext = ""
		state.NeedsFreshStart = false
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("stage sunrise prompt: %w", err)
	}

	s.mu.Lock()
	s.phases[worker] = domain.PhaseRestoreStaged
	s.mu.Unlock()

	if s.resetLedger != nil {
		if err := s.resetLedger(ctx, worker); err != nil {
			s.log.Warn("ledger reset on restore failed",
				zap.String("worker", string(worker)),
				zap.Error(err))
		}
	}

	s.log.Info("restore staged", zap.String("worker", string(worker)))
	s.publish(events.RestoreStaged, worker, map[string]any{"decisions": len(decisions)})

	return prompt, nil
}

// Consolidate advances in-flight checkpoints: requests whose summary was
// auto-captured by the registry complete, and requests older than the
// timeout are abandoned so the worker is not stuck waiting forever.
func (s *LifecycleService) Consolidate(ctx context.Context) error {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	pending := make(map[domain.WorkerID]checkpointRequest, len(s.requested))
	for worker, request := range s.requested {
		pending[worker] = request
	}
	s.mu.Unlock()

	for worker, request := range pending {
		state, err := s.registry.Coordination(ctx, worker)
		if err != nil {
			if errors.Is(err, domain.ErrWorkerNotFound) {
				s.forget(worker)
				continue
			}
			return err
		}

		if state.SunriseContext != "" {
			if _, err := s.CompleteCheckpoint(ctx, worker, state.SunriseContext, 0); err != nil {
				s.log.Warn("auto-complete checkpoint failed",
					zap.String("worker", string(worker)),
					zap.Error(err))
			}
			continue
		}

		if now.Sub(request.at) > s.timeout {
			s.log.Warn("checkpoint request timed out, abandoning",
				zap.String("worker", string(worker)),
				zap.Duration("age", now.Sub(request.at)))

			err := s.registry.UpdateCoordination(ctx, worker, func(state *domain.CoordinationState) error {
				if strings.HasPrefix(state.NextPrompt, SunsetMarker) {
					state.NextPrompt = ""
				}
				return nil
			})
			if err != nil {
				return err
			}
			s.forget(worker)
		}
	}

	s.mu.Lock()
	staged := make([]domain.WorkerID, 0)
	for worker, phase := range s.phases {
		if phase == domain.PhaseRestoreStaged {
			staged = append(staged, worker)
		}
	}
	s.mu.Unlock()

	for _, worker := range staged {
		state, err := s.registry.Coordination(ctx, worker)
		if err != nil {
			if errors.Is(err, domain.ErrWorkerNotFound) {
				s.forget(worker)
				continue
			}
			return err
		}
		// The restore is consumed once the sunrise payload has left the
		// next-prompt slot; the worker is back in normal conversation.
		if !strings.HasPrefix(state.NextPrompt, SunriseHeader) {
			s.forget(worker)
		}
	}

	return nil
}

func (s *LifecycleService) forget(worker domain.WorkerID) {
	s.mu.Lock()
	delete(s.requested, worker)
	delete(s.phases, worker)
	s.mu.Unlock()
}

func (s *LifecycleService) publish(eventType events.Type, worker domain.WorkerID, payload map[string]any) {
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

func buildSunrisePrompt(summary string, decisions []string) string {
	var b strings.Builder
	b.WriteString(SunriseHeader)
	b.WriteString("\n\nYou are resuming work from a previous session. Here is the context you preserved:\n\n")
	b.WriteString(summary)

	if len(decisions) > 0 {
		b.WriteString("\n\nKey decisions to honor:\n")
		for _, decision := range decisions {
			b.WriteString("- ")
			b.WriteString(decision)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nContinue from where you left off.")
	return b.String()
}
