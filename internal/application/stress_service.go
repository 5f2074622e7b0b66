package application

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bnema/sundial/internal/domain"
	"github.com/bnema/sundial/internal/events"
	"github.com/bnema/sundial/internal/ports"
)

const stressHistoryLimit = 20

var confusionMarkers = []string{
	"i'm not sure", "i am not sure", "unclear", "confused", "don't understand",
	"do not understand", "what do you mean", "could you clarify",
}

var fatigueMarkers = []string{
	"as mentioned", "as i said", "again,", "repeating", "as noted before",
	"like i said",
}

var errorMarkers = []string{
	"error", "exception", "failed", "failure", "traceback", "panic",
}

var incompleteMarkers = []string{
	"...", "[truncated]", "[incomplete]", "to be continued",
}

var concerningIndicators = []string{
	"error", "incomplete", "repetition", "declining",
}

// StressService reads behavioral signals out of worker output and context
// fill, producing the stress score and urgency the lifecycle coordinator
// keys on. Purely heuristic and deliberately cheap: it runs on every turn.
type StressService struct {
	log   *zap.Logger
	bus   *events.Bus
	clock ports.Clock

	mu      sync.Mutex
	history map[domain.WorkerID][]domain.StressAnalysis
}

func NewStressService(log *zap.Logger, bus *events.Bus, clock ports.Clock) *StressService {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &StressService{
		log:     log,
		bus:     bus,
		clock:   clock,
		history: make(map[domain.WorkerID][]domain.StressAnalysis),
	}
}

// Analyze scores one observation of a worker. lastOutput may be empty when
// only the context snapshot is available.
func (s *StressService) Analyze(ctx context.Context, worker domain.WorkerID, snapshot domain.ContextSnapshot, lastOutput string) (domain.StressAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return domain.StressAnalysis{}, err
	}

	worker = domain.NormalizeName(worker)
	now := s.clock.Now().UTC()

	var indicators []string

	stress := snapshot.FillRatio()
	if stress > 0.5 {
		indicators = append(indicators, fmt.Sprintf("context_usage: %.0f%%", stress*100))
	}

	mood, moodIndicators := assessMood(snapshot.Turns)
	indicators = append(indicators, moodIndicators...)
	stress += domain.MoodStress(mood)

	// Output-scan stress merges via max so a clean context with noisy
	// output still registers, without double counting.
	outputStress, outputIndicators := scanOutput(lastOutput)
	indicators = append(indicators, outputIndicators...)
	if outputStress > stress {
		stress = outputStress
	}

	if direction := s.trend(worker, stress); direction != "" {
		indicators = append(indicators, "stress_trend: "+direction)
		if direction == "increasing" {
			stress += 0.05
		}
	}

	if stress > 1 {
		stress = 1
	}

	urgency := domain.UrgencyForStress(stress)

	analysis := domain.StressAnalysis{
		WorkerID:   worker,
		At:         now,
		Stress:     stress,
		Mood:       mood,
		Indicators: indicators,
		Urgency:    urgency,
		Recommend:  recommend(urgency, mood),
	}

	s.mu.Lock()
	entries := append(s.history[worker], analysis)
	if len(entries) > stressHistoryLimit {
		entries = entries[len(entries)-stressHistoryLimit:]
	}
	s.history[worker] = entries
	s.mu.Unlock()

	if analysis.Urgency == domain.UrgencyHigh || analysis.Urgency == domain.UrgencyCritical {
		s.log.Warn("worker stress elevated",
			zap.String("worker", string(worker)),
			zap.Float64("stress", stress),
			zap.String("urgency", string(urgency)))
		if s.bus != nil {
			s.bus.Publish(events.Event{
				Type:     events.StressAlert,
				WorkerID: worker,
				At:       now,
				Payload: map[string]any{
					"stress":  stress,
					"urgency": string(urgency),
					"mood":    string(mood),
				},
			})
		}
	}

	return analysis, nil
}

// ShouldNotify reports whether the latest analysis warrants a gentle nudge to
// the worker or its operator.
func (s *StressService) ShouldNotify(analysis domain.StressAnalysis) bool {
	if analysis.Stress > 0.5 {
		return true
	}

	switch analysis.Mood {
	case domain.MoodConfused, domain.MoodRepetitive, domain.MoodStressed:
		return true
	}

	for _, indicator := range analysis.Indicators {
		lowered := strings.ToLower(indicator)
		for _, concerning := range concerningIndicators {
			if strings.Contains(lowered, concerning) {
				return true
			}
		}
	}

	return false
}

// History returns the retained analyses for a worker, oldest first.
func (s *StressService) History(worker domain.WorkerID) []domain.StressAnalysis {
	worker = domain.NormalizeName(worker)

	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.StressAnalysis(nil), s.history[worker]...)
}

// trend compares the new score against the last three retained samples.
func (s *StressService) trend(worker domain.WorkerID, stress float64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.history[worker]
	if len(entries) < 2 {
		return ""
	}
	if len(entries) > 3 {
		entries = entries[len(entries)-3:]
	}

	increasing, decreasing := true, true
	previous := entries[0].Stress
	for _, entry := range entries[1:] {
		if entry.Stress <= previous {
			increasing = false
		}
		if entry.Stress >= previous {
			decreasing = false
		}
		previous = entry.Stress
	}
	if stress <= previous {
		increasing = false
	}
	if stress >= previous {
		decreasing = false
	}

	switch {
	case increasing:
		return "increasing"
	case decreasing:
		return "decreasing"
	default:
		return ""
	}
}

// assessMood reads the last few assistant turns for repetition, confusion,
// fatigue, and declining response length.
func assessMood(turns []domain.Exchange) (domain.Mood, []string) {
	if len(turns) == 0 {
		return domain.MoodFocused, nil
	}

	recent := turns
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	var indicators []string

	seen := make(map[string]struct{}, len(recent))
	for _, turn := range recent {
		key := strings.TrimSpace(turn.Response)
		if key == "" {
			continue
		}
		if _, duplicate := seen[key]; duplicate {
			indicators = append(indicators, "repetition: duplicate responses")
			return domain.MoodRepetitive, indicators
		}
		seen[key] = struct{}{}
	}

	last := strings.ToLower(recent[len(recent)-1].Response)
	for _, marker := range confusionMarkers {
		if strings.Contains(last, marker) {
			indicators = append(indicators, "confusion: "+marker)
			return domain.MoodConfused, indicators
		}
	}
	for _, marker := range fatigueMarkers {
		if strings.Contains(last, marker) {
			indicators = append(indicators, "fatigue: "+marker)
			return domain.MoodFatigued, indicators
		}
	}

	if len(recent) == 3 {
		first := len(recent[0].Response)
		if first > 0 &&
			len(recent[1].Response) < first*7/10 &&
			len(recent[2].Response) < first*7/10 {
			indicators = append(indicators, "declining response length")
			return domain.MoodFatigued, indicators
		}
	}

	return domain.MoodFocused, indicators
}

// scanOutput scores the latest output for error and incompleteness markers.
// Contribution is capped at 0.3 so noisy logs cannot dominate the score.
func scanOutput(output string) (float64, []string) {
	if output == "" {
		return 0, nil
	}

	lowered := strings.ToLower(output)

	var stress float64
	var indicators []string

	for _, marker := range errorMarkers {
		if count := strings.Count(lowered, marker); count > 0 {
			stress += 0.05 * float64(count)
			indicators = append(indicators, fmt.Sprintf("error marker %q x%d", marker, count))
		}
	}
	for _, marker := range incompleteMarkers {
		if count := strings.Count(lowered, marker); count > 0 {
			stress += 0.03 * float64(count)
			indicators = append(indicators, fmt.Sprintf("incomplete marker %q x%d", marker, count))
		}
	}

	if stress > 0.3 {
		stress = 0.3
	}

	return stress, indicators
}

func recommend(urgency domain.Urgency, mood domain.Mood) domain.Recommendation {
	switch urgency {
	case domain.UrgencyHigh, domain.UrgencyCritical:
		return domain.RecommendSundown
	case domain.UrgencyModerate:
		if mood != domain.MoodFocused {
			return domain.RecommendSundown
		}
		return domain.RecommendMonitor
	case domain.UrgencyLow:
		return domain.RecommendMonitor
	default:
		return domain.RecommendNone
	}
}
