package ports

// Recorder is a minimal instrumentation sink. Components note events
// unconditionally; wiring decides whether anything listens.
type Recorder interface {
	Note(event string, fields map[string]any)
}

type NopRecorder struct{}

func (NopRecorder) Note(string, map[string]any) {}
