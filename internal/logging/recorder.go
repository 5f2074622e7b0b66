package logging

import (
	"go.uber.org/zap"

	"github.com/bnema/sundial/internal/ports"
)

// Recorder writes instrumentation notes to the process logger at debug level.
type Recorder struct {
	log *zap.Logger
}

func NewRecorder(log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{log: log}
}

func (r *Recorder) Note(event string, fields map[string]any) {
	r.log.Debug(event, zap.Any("fields", fields))
}

var _ ports.Recorder = (*Recorder)(nil)
