package domain

import "time"

type ContextHealth string

const (
	HealthExcellent ContextHealth = "excellent"
	HealthGood      ContextHealth = "good"
	HealthFair      ContextHealth = "fair"
	HealthPoor      ContextHealth = "poor"
	HealthCritical  ContextHealth = "critical"
)

// Metrics is a point-in-time measurement of a worker context, either observed
// or predicted.
type Metrics struct {
	TokenUtilization float64
	RepetitionScore  float64
	OutputTokenRate  float64
	Latency          float64
}

// WorkerState is the planner's view of one worker: current metrics plus an
// overall health grade.
type WorkerState struct {
	WorkerID    WorkerID
	Metrics     Metrics
	Health      ContextHealth
	HealthScore float64
	CreatedAt   time.Time
}

// Prediction is a forecast of where a worker's context is heading.
type Prediction struct {
	WorkerID       WorkerID
	Metrics        Metrics
	Health         ContextHealth
	HealthScore    float64
	HorizonSeconds float64
	BasedOnSamples int
}
