package ports

// CheckpointClassifier decides whether free-form worker output reads as a
// checkpoint summary. Swappable so the heuristic can change without touching
// the lifecycle state machine.
type CheckpointClassifier func(text string) bool

// DecisionExtractor pulls a bounded list of key-decision lines out of a
// checkpoint summary.
type DecisionExtractor func(text string) []string
