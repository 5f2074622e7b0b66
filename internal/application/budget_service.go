// Package application wires the domain model to the adapters: admission and
// metering of token budgets, the sundown/sunrise lifecycle, rule-based
// planning, and stress monitoring.
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bnema/sundial/internal/domain"
	"github.com/bnema/sundial/internal/events"
	"github.com/bnema/sundial/internal/ports"
)

const (
	checkpointAutoThreshold     = 0.85
	checkpointCriticalThreshold = 0.95

	defaultWarningThreshold = 0.8
	defaultActionThreshold  = 0.95

	// usageRecordWindow bounds how much of the audit trail Stop writes out.
	usageRecordWindow = 1000
)

// TierLimitOverrides replaces built-in daily limits per tier when non-zero.
type TierLimitOverrides struct {
	LightweightDaily int64
	MidweightDaily   int64
	HeavyweightDaily int64
}

// AllocationRequest asks for a token grant. Tokens of zero means "use the
// default for this task type and priority". TTL of zero means the grant never
// expires on its own.
type AllocationRequest struct {
	WorkerID  domain.WorkerID
	Component string
	Provider  string
	Model     string
	TaskType  string
	Priority  domain.TaskPriority
	Tokens    int64
	TTL       time.Duration
}

// UsageReport charges tokens against a worker's active allocation.
type UsageReport struct {
	WorkerID  domain.WorkerID
	Component string
	Tokens    int64
	UsageType string
}

// TierSummary aggregates one tier's consumption for a period bucket.
type TierSummary struct {
	Tier              domain.BudgetTier
	Period            domain.BudgetPeriod
	Limit             int64
	Used              int64
	Utilization       float64
	ActiveAllocations int
	Start             time.Time
	End               time.Time
}

// BudgetService is the admission and metering authority. Allocations and
// usage counters live in memory and are rebuilt from live traffic after a
// restart; only policies persist.
type BudgetService struct {
	log      *zap.Logger
	bus      *events.Bus
	clock    ports.Clock
	store    *policyStore
	limits   map[domain.BudgetTier]map[domain.BudgetPeriod]int64
	recorder ports.Recorder

	mu          sync.Mutex
	policies    map[string]domain.BudgetPolicy
	allocations map[string]*domain.Allocation
	active      map[string]string // worker|component -> allocation ID
	counters    map[string]map[string]int64
	records     []domain.UsageRecord
	warned      map[string]struct{}

	componentTiers map[string]domain.BudgetTier
	providerTiers  map[string]domain.BudgetTier
	modelTiers     map[string]domain.BudgetTier
}

type BudgetOption func(*BudgetService)

func WithBudgetRecorder(recorder ports.Recorder) BudgetOption {
	return func(s *BudgetService) {
		s.recorder = recorder
	}
}

func WithComponentTier(component string, tier domain.BudgetTier) BudgetOption {
	return func(s *BudgetService) {
		s.componentTiers[component] = tier
	}
}

// NewBudgetService loads persisted policies, synthesizing and writing back
// the default warn policies when no usable policy file exists.
func NewBudgetService(
	log *zap.Logger,
	bus *events.Bus,
	clock ports.Clock,
	policyPath string,
	overrides TierLimitOverrides,
	opts ...BudgetOption,
) (*BudgetService, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}

	limits := make(map[domain.BudgetTier]map[domain.BudgetPeriod]int64, len(domain.DefaultTierLimits))
	for tier, periods := range domain.DefaultTierLimits {
		limits[tier] = make(map[domain.BudgetPeriod]int64, len(periods))
		for period, limit := range periods {
			limits[tier][period] = limit
		}
	}
	if overrides.LightweightDaily > 0 {
		limits[domain.TierLightweight][domain.PeriodDaily] = overrides.LightweightDaily
	}
	if overrides.MidweightDaily > 0 {
		limits[domain.TierMidweight][domain.PeriodDaily] = overrides.MidweightDaily
	}
	if overrides.HeavyweightDaily > 0 {
		limits[domain.TierHeavyweight][domain.PeriodDaily] = overrides.HeavyweightDaily
	}

	service := &BudgetService{
		log:            log,
		bus:            bus,
		clock:          clock,
		store:          newPolicyStore(policyPath),
		limits:         limits,
		recorder:       ports.NopRecorder{},
		policies:       make(map[string]domain.BudgetPolicy),
		allocations:    make(map[string]*domain.Allocation),
		active:         make(map[string]string),
		counters:       make(map[string]map[string]int64),
		warned:         make(map[string]struct{}),
		componentTiers: make(map[string]domain.BudgetTier),
		providerTiers:  domain.DefaultProviderTiers(),
		modelTiers:     domain.DefaultModelTiers(),
	}
	for _, opt := range opts {
		opt(service)
	}

	if persisted, ok := service.store.Load(); ok {
		for _, policy := range persisted {
			service.policies[policy.ID] = policy
		}
	} else {
		defaults := service.defaultPolicies()
		for _, policy := range defaults {
			service.policies[policy.ID] = policy
		}
		if err := service.store.Save(defaults); err != nil {
			return nil, fmt.Errorf("persist default policies: %w", err)
		}
		log.Info("synthesized default budget policies", zap.Int("count", len(defaults)))
	}

	return service, nil
}

// defaultPolicies builds a warn policy for every tier and built-in period so
// a fresh install observes limits without enforcing them.
func (s *BudgetService) defaultPolicies() []domain.BudgetPolicy {
	now := s.clock.Now().UTC()

	var policies []domain.BudgetPolicy
	for _, tier := range domain.Tiers() {
		for period, limit := range s.limits[tier] {
			policies = append(policies, domain.BudgetPolicy{
				ID:               fmt.Sprintf("default-%s-%s", tier, period),
				Type:             domain.PolicyWarn,
				Period:           period,
				Tier:             tier,
				Limit:            limit,
				WarningThreshold: defaultWarningThreshold,
				ActionThreshold:  defaultActionThreshold,
				Start:            now,
				Enabled:          true,
			})
		}
	}

	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })
	return policies
}

// ResolveTier classifies a request onto a cost tier.
func (s *BudgetService) ResolveTier(component, provider, model string) domain.BudgetTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ResolveTier(component, provider, model, s.componentTiers, s.providerTiers, s.modelTiers)
}

// Allocate admits a token grant. Admission fails only when an enabled
// hard-limit policy would be exceeded and the request is below critical
// priority; critical work always gets through.
func (s *BudgetService) Allocate(ctx context.Context, req AllocationRequest) (domain.Allocation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Allocation{}, err
	}
	if strings.TrimSpace(string(req.WorkerID)) == "" {
		return domain.Allocation{}, fmt.Errorf("allocation worker is empty")
	}
	if req.Priority == 0 {
		req.Priority = domain.PriorityNormal
	}

	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	tier := domain.ResolveTier(req.Component, req.Provider, req.Model, s.componentTiers, s.providerTiers, s.modelTiers)

	tokens := req.Tokens
	if tokens <= 0 {
		tokens = domain.DefaultAllocationFor(req.TaskType, req.Priority)
	}
	if sessionLimit := s.limits[tier][domain.PeriodPerSession]; sessionLimit > 0 && tokens > sessionLimit {
		tokens = sessionLimit
	}

	if denied, policy := s.hardLimitExceeded(tier, req.Component, req.TaskType, tokens, now); denied {
		if req.Priority < domain.PriorityCritical {
			s.publish(events.BudgetExceeded, req.WorkerID, map[string]any{
				"tier":   string(tier),
				"period": string(policy.Period),
				"limit":  policy.Limit,
			})
			return domain.Allocation{}, fmt.Errorf("tier %s %s limit %d: %w",
				tier, policy.Period, policy.Limit, domain.ErrAllocationDenied)
		}
		s.log.Warn("hard limit exceeded, admitting critical request anyway",
			zap.String("worker", string(req.WorkerID)),
			zap.String("tier", string(tier)))
	}

	allocation := domain.Allocation{
		ID:              uuid.NewString(),
		WorkerID:        domain.NormalizeName(req.WorkerID),
		Component:       req.Component,
		Tier:            tier,
		Provider:        req.Provider,
		Model:           req.Model,
		TaskType:        req.TaskType,
		Priority:        req.Priority,
		TokensAllocated: tokens,
		Created:         now,
		Active:          true,
	}
	if req.TTL > 0 {
		expires := now.Add(req.TTL)
		allocation.Expires = &expires
	}

	key := s.activeKey(allocation.WorkerID, allocation.Component)
	if previousID, ok := s.active[key]; ok {
		if previous := s.allocations[previousID]; previous != nil && previous.Active {
			previous.Active = false
			s.publish(events.AllocationExpired, previous.WorkerID, map[string]any{
				"allocation_id": previous.ID,
				"reason":        "superseded",
			})
		}
	}

	s.allocations[allocation.ID] = &allocation
	s.active[key] = allocation.ID

	s.publish(events.AllocationCreated, allocation.WorkerID, map[string]any{
		"allocation_id": allocation.ID,
		"tier":          string(tier),
		"tokens":        tokens,
	})
	s.recorder.Note("allocation created", map[string]any{
		"worker": string(allocation.WorkerID),
		"tier":   string(tier),
		"tokens": tokens,
	})

	return allocation, nil
}

// RecordUsage charges tokens to the worker's active allocation, clamped to
// the grant, and rolls the accepted amount into the period counters. Returns
// how many tokens were actually charged.
func (s *BudgetService) RecordUsage(ctx context.Context, report UsageReport) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if report.Tokens <= 0 {
		return 0, fmt.Errorf("usage tokens must be positive, got %d", report.Tokens)
	}

	now := s.clock.Now().UTC()
	worker := domain.NormalizeName(report.WorkerID)

	s.mu.Lock()
	defer s.mu.Unlock()

	allocation := s.lookupActive(worker, report.Component, now)
	if allocation == nil {
		return 0, fmt.Errorf("worker %q: %w", worker, domain.ErrAllocationNotFound)
	}

	accepted := allocation.Record(report.Tokens)
	if accepted < report.Tokens {
		s.log.Warn("usage clamped to allocation",
			zap.String("worker", string(worker)),
			zap.Int64("reported", report.Tokens),
			zap.Int64("accepted", accepted))
	}

	s.addUsage(allocation.Tier, allocation.Component, allocation.TaskType, accepted, now)

	usageType := report.UsageType
	if usageType == "" {
		usageType = "total"
	}
	s.records = append(s.records, domain.UsageRecord{
		ID:           uuid.NewString(),
		AllocationID: allocation.ID,
		WorkerID:     worker,
		Component:    allocation.Component,
		Provider:     allocation.Provider,
		Model:        allocation.Model,
		TaskType:     allocation.TaskType,
		Tokens:       accepted,
		UsageType:    usageType,
		At:           now,
	})

	s.publish(events.AllocationUpdated, worker, map[string]any{
		"allocation_id": allocation.ID,
		"used":          allocation.TokensUsed,
		"remaining":     allocation.Remaining(),
	})

	s.checkWarnings(allocation.Tier, allocation.Component, allocation.TaskType, worker, now)

	return accepted, nil
}

// Active returns the worker's current allocation.
func (s *BudgetService) Active(ctx context.Context, worker domain.WorkerID, component string) (domain.Allocation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Allocation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	allocation := s.lookupActive(domain.NormalizeName(worker), component, s.clock.Now().UTC())
	if allocation == nil {
		return domain.Allocation{}, fmt.Errorf("worker %q: %w", worker, domain.ErrAllocationNotFound)
	}

	return *allocation, nil
}

// AllocationsFor returns the worker's live allocations across all components,
// newest first.
func (s *BudgetService) AllocationsFor(worker domain.WorkerID) []domain.Allocation {
	worker = domain.NormalizeName(worker)
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var allocations []domain.Allocation
	for _, allocation := range s.allocations {
		if allocation.WorkerID != worker || !allocation.Active || allocation.Expired(now) {
			continue
		}
		allocations = append(allocations, *allocation)
	}
	sort.Slice(allocations, func(i, j int) bool {
		return allocations[i].Created.After(allocations[j].Created)
	})

	return allocations
}

// ShouldCheckpoint reports whether the worker's context consumption warrants
// a sundown, and why. The session allocation is checked first, then every
// policy that governs the allocation's scope.
func (s *BudgetService) ShouldCheckpoint(ctx context.Context, worker domain.WorkerID, component string) (bool, string, error) {
	allocation, err := s.Active(ctx, worker, component)
	if err != nil {
		return false, "", err
	}

	utilization := allocation.Utilization()
	switch {
	case utilization >= checkpointCriticalThreshold:
		return true, fmt.Sprintf("critical: %.0f%% of allocation consumed", utilization*100), nil
	case utilization >= checkpointAutoThreshold:
		return true, fmt.Sprintf("auto: %.0f%% of allocation consumed", utilization*100), nil
	}

	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, policy := range s.policies {
		if policy.Type == domain.PolicyIgnore || policy.Limit <= 0 {
			continue
		}
		if !policy.AppliesTo(allocation.Tier, allocation.Component, allocation.TaskType, now) {
			continue
		}

		used := s.usageLocked(allocation.Tier, policy.Component, policy.TaskType, policy.Period, now)
		ratio := float64(used) / float64(policy.Limit)
		switch {
		case ratio >= policy.ActionThreshold:
			return true, fmt.Sprintf("critical: %.0f%% of %s %s budget consumed", ratio*100, allocation.Tier, policy.Period), nil
		case ratio >= checkpointAutoThreshold:
			return true, fmt.Sprintf("auto: %.0f%% of %s %s budget consumed", ratio*100, allocation.Tier, policy.Period), nil
		}
	}

	return false, "", nil
}

// Usage returns the tokens consumed by a tier in the period bucket containing
// now.
func (s *BudgetService) Usage(tier domain.BudgetTier, period domain.BudgetPeriod) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usageLocked(tier, "", "", period, s.clock.Now().UTC())
}

// Summary reports per-tier consumption against limits for one period.
func (s *BudgetService) Summary(period domain.BudgetPeriod) []TierSummary {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	start, end := domain.PeriodBounds(period, now)

	activeByTier := make(map[domain.BudgetTier]int)
	for _, id := range s.active {
		if allocation := s.allocations[id]; allocation != nil && allocation.Active && !allocation.Expired(now) {
			activeByTier[allocation.Tier]++
		}
	}

	summaries := make([]TierSummary, 0, len(domain.Tiers()))
	for _, tier := range domain.Tiers() {
		used := s.usageLocked(tier, "", "", period, now)
		limit := s.limits[tier][period]

		summary := TierSummary{
			Tier:              tier,
			Period:            period,
			Limit:             limit,
			Used:              used,
			ActiveAllocations: activeByTier[tier],
			Start:             start,
			End:               end,
		}
		if limit > 0 {
			summary.Utilization = float64(used) / float64(limit)
		}
		summaries = append(summaries, summary)
	}

	return summaries
}

// Records returns a copy of the usage audit trail, newest last.
func (s *BudgetService) Records(limit int) []domain.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}

	out := make([]domain.UsageRecord, limit)
	copy(out, s.records[len(s.records)-limit:])
	return out
}

// SetPolicy validates, stores, and persists a policy.
func (s *BudgetService) SetPolicy(ctx context.Context, policy domain.BudgetPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	if policy.Start.IsZero() {
		policy.Start = s.clock.Now().UTC()
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("validate policy: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[policy.ID] = policy
	if err := s.persistPoliciesLocked(); err != nil {
		return err
	}

	s.publish(events.PolicyUpdated, "", map[string]any{"policy_id": policy.ID})
	return nil
}

func (s *BudgetService) RemovePolicy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return fmt.Errorf("policy %q: %w", id, domain.ErrPolicyNotFound)
	}

	delete(s.policies, id)
	if err := s.persistPoliciesLocked(); err != nil {
		return err
	}

	s.publish(events.PolicyUpdated, "", map[string]any{"policy_id": id, "removed": true})
	return nil
}

func (s *BudgetService) Policies() []domain.BudgetPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()

	policies := make([]domain.BudgetPolicy, 0, len(s.policies))
	for _, policy := range s.policies {
		policies = append(policies, policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })

	return policies
}

// SweepExpired deactivates allocations past their expiry, returning how many
// were swept.
func (s *BudgetService) SweepExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for _, allocation := range s.allocations {
		if !allocation.Active || !allocation.Expired(now) {
			continue
		}

		allocation.Active = false
		delete(s.active, s.activeKey(allocation.WorkerID, allocation.Component))
		swept++

		s.publish(events.AllocationExpired, allocation.WorkerID, map[string]any{
			"allocation_id": allocation.ID,
			"reason":        "ttl",
		})
	}

	return swept, nil
}

// ResetWorker deactivates every active allocation a worker holds so a
// restored session starts from a fresh grant. Returns how many were retired.
func (s *BudgetService) ResetWorker(ctx context.Context, worker domain.WorkerID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	worker = domain.NormalizeName(worker)

	s.mu.Lock()
	defer s.mu.Unlock()

	retired := 0
	for key, id := range s.active {
		allocation := s.allocations[id]
		if allocation == nil || allocation.WorkerID != worker {
			continue
		}

		allocation.Active = false
		delete(s.active, key)
		retired++

		s.publish(events.AllocationExpired, worker, map[string]any{
			"allocation_id": allocation.ID,
			"reason":        "restore",
		})
	}

	return retired, nil
}

// Stop flushes policies and the tail of the usage audit trail to the data
// dir. Counters and allocations are deliberately not persisted; they rebuild
// from live traffic.
func (s *BudgetService) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistPoliciesLocked(); err != nil {
		return err
	}
	return s.flushRecordsLocked()
}

type usageRecordSchema struct {
	ID           string    `json:"id"`
	AllocationID string    `json:"allocation_id"`
	Worker       string    `json:"worker"`
	Component    string    `json:"component,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	TaskType     string    `json:"task_type,omitempty"`
	Tokens       int64     `json:"tokens"`
	UsageType    string    `json:"usage_type"`
	At           time.Time `json:"at"`
}

func (s *BudgetService) flushRecordsLocked() error {
	records := s.records
	if len(records) > usageRecordWindow {
		records = records[len(records)-usageRecordWindow:]
	}

	encoded := make([]usageRecordSchema, 0, len(records))
	for _, record := range records {
		encoded = append(encoded, usageRecordSchema{
			ID:           record.ID,
			AllocationID: record.AllocationID,
			Worker:       string(record.WorkerID),
			Component:    record.Component,
			Provider:     record.Provider,
			Model:        record.Model,
			TaskType:     record.TaskType,
			Tokens:       record.Tokens,
			UsageType:    record.UsageType,
			At:           record.At,
		})
	}

	data, err := json.MarshalIndent(encoded, "", "  ")
	if err != nil {
		return fmt.Errorf("encode usage records: %w", err)
	}

	path := filepath.Join(filepath.Dir(s.store.path), "usage_records.json")
	if err := os.MkdirAll(filepath.Dir(path), policyDirMode); err != nil {
		return fmt.Errorf("create budget directory: %w", err)
	}
	if err := os.WriteFile(path, data, policyFileMode); err != nil {
		return fmt.Errorf("write usage records: %w", err)
	}

	return nil
}

// utilizationFor returns the highest utilization among a worker's active
// allocations, zero when it holds none.
func (s *BudgetService) utilizationFor(worker domain.WorkerID) float64 {
	worker = domain.NormalizeName(worker)
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	highest := 0.0
	for _, id := range s.active {
		allocation := s.allocations[id]
		if allocation == nil || allocation.WorkerID != worker || !allocation.Active || allocation.Expired(now) {
			continue
		}
		if utilization := allocation.Utilization(); utilization > highest {
			highest = utilization
		}
	}

	return highest
}

func (s *BudgetService) lookupActive(worker domain.WorkerID, component string, now time.Time) *domain.Allocation {
	id, ok := s.active[s.activeKey(worker, component)]
	if !ok {
		return nil
	}

	allocation := s.allocations[id]
	if allocation == nil || !allocation.Active || allocation.Expired(now) {
		return nil
	}

	return allocation
}

func (s *BudgetService) activeKey(worker domain.WorkerID, component string) string {
	return string(worker) + "|" + component
}

// hardLimitExceeded reports whether admitting tokens now would push any
// enabled hard-limit policy over its limit.
func (s *BudgetService) hardLimitExceeded(tier domain.BudgetTier, component, taskType string, tokens int64, now time.Time) (bool, domain.BudgetPolicy) {
	for _, policy := range s.policies {
		if policy.Type != domain.PolicyHardLimit {
			continue
		}
		if !policy.AppliesTo(tier, component, taskType, now) {
			continue
		}

		used := s.usageLocked(tier, policy.Component, policy.TaskType, policy.Period, now)
		if used+tokens > policy.Limit {
			return true, policy
		}
	}

	return false, domain.BudgetPolicy{}
}

// checkWarnings publishes a budget.exceeded event the first time a warn or
// soft-limit policy crosses its warning threshold in the current bucket.
func (s *BudgetService) checkWarnings(tier domain.BudgetTier, component, taskType string, worker domain.WorkerID, now time.Time) {
	for _, policy := range s.policies {
		if policy.Type == domain.PolicyIgnore || policy.Type == domain.PolicyHardLimit {
			continue
		}
		if !policy.AppliesTo(tier, component, taskType, now) {
			continue
		}

		used := s.usageLocked(tier, policy.Component, policy.TaskType, policy.Period, now)
		if policy.Limit <= 0 || float64(used) < float64(policy.Limit)*policy.WarningThreshold {
			continue
		}

		warnKey := policy.ID + "|" + domain.PeriodKey(policy.Period, now)
		if _, already := s.warned[warnKey]; already {
			continue
		}
		s.warned[warnKey] = struct{}{}

		s.log.Warn("budget warning threshold crossed",
			zap.String("policy", policy.ID),
			zap.String("tier", string(tier)),
			zap.Int64("used", used),
			zap.Int64("limit", policy.Limit))
		s.publish(events.BudgetExceeded, worker, map[string]any{
			"policy_id": policy.ID,
			"tier":      string(tier),
			"used":      used,
			"limit":     policy.Limit,
		})
	}
}

// addUsage rolls accepted tokens into every calendar-period counter scope the
// charge belongs to.
func (s *BudgetService) addUsage(tier domain.BudgetTier, component, taskType string, tokens int64, now time.Time) {
	if tokens <= 0 {
		return
	}

	for _, period := range domain.CalendarPeriods() {
		bucket := domain.PeriodKey(period, now)
		for _, scope := range usageScopes(tier, component, taskType, period) {
			if s.counters[scope] == nil {
				s.counters[scope] = make(map[string]int64)
			}
			s.counters[scope][bucket] += tokens
		}
	}
}

func (s *BudgetService) usageLocked(tier domain.BudgetTier, component, taskType string, period domain.BudgetPeriod, now time.Time) int64 {
	scope := usageScope(tier, component, taskType, period)
	return s.counters[scope][domain.PeriodKey(period, now)]
}

func (s *BudgetService) persistPoliciesLocked() error {
	policies := make([]domain.BudgetPolicy, 0, len(s.policies))
	for _, policy := range s.policies {
		policies = append(policies, policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })

	if err := s.store.Save(policies); err != nil {
		return fmt.Errorf("persist policies: %w", err)
	}
	return nil
}

func (s *BudgetService) publish(eventType events.Type, worker domain.WorkerID, payload map[string]any) {
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

// usageScopes lists every counter scope a charge contributes to, from the
// tier-wide bucket down to the component and task-type slices.
func usageScopes(tier domain.BudgetTier, component, taskType string, period domain.BudgetPeriod) []string {
	scopes := []string{usageScope(tier, "", "", period)}
	if component != "" {
		scopes = append(scopes, usageScope(tier, component, "", period))
	}
	if taskType != "" {
		scopes = append(scopes, usageScope(tier, "", taskType, period))
	}
	if component != "" && taskType != "" {
		scopes = append(scopes, usageScope(tier, component, taskType, period))
	}
	return scopes
}

func usageScope(tier domain.BudgetTier, component, taskType string, period domain.BudgetPeriod) string {
	parts := []string{string(tier), string(period)}
	if component != "" {
		parts = append(parts, "c="+component)
	}
	if taskType != "" {
		parts = append(parts, "t="+taskType)
	}
	return strings.Join(parts, ":")
}
