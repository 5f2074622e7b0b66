package domain

import "time"

type Mood string

const (
	MoodFocused    Mood = "focused"
	MoodConfused   Mood = "confused"
	MoodFatigued   Mood = "fatigued"
	MoodRepetitive Mood = "repetitive"
	MoodStressed   Mood = "stressed"
)

// MoodStress is the additive stress contribution of each mood.
func MoodStress(mood Mood) float64 {
	switch mood {
	case MoodConfused:
		return 0.15
	case MoodFatigued:
		return 0.1
	case MoodRepetitive:
		return 0.2
	case MoodStressed:
		return 0.25
	default:
		return 0
	}
}

type Urgency string

const (
	UrgencyNone     Urgency = "none"
	UrgencyLow      Urgency = "low"
	UrgencyModerate Urgency = "moderate"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// UrgencyForStress maps a stress score onto the urgency steps.
func UrgencyForStress(stress float64) Urgency {
	switch {
	case stress > 0.65:
		return UrgencyCritical
	case stress > 0.55:
		return UrgencyHigh
	case stress > 0.5:
		return UrgencyModerate
	case stress > 0.45:
		return UrgencyLow
	default:
		return UrgencyNone
	}
}

type Recommendation string

const (
	RecommendNone    Recommendation = ""
	RecommendMonitor Recommendation = "monitor"
	RecommendSundown Recommendation = "sundown"
)

// StressAnalysis is one ephemeral health reading for a worker.
type StressAnalysis struct {
	WorkerID   WorkerID
	At         time.Time
	Stress     float64
	Mood       Mood
	Indicators []string
	Recommend  Recommendation
	Urgency    Urgency
}

// ContextSnapshot is the observable slice of a worker's context window handed
// to the stress monitor.
type ContextSnapshot struct {
	TokenCount int64
	MaxTokens  int64
	Turns      []Exchange
}

func (s ContextSnapshot) FillRatio() float64 {
	if s.MaxTokens <= 0 {
		return 0
	}
	return float64(s.TokenCount) / float64(s.MaxTokens)
}
