package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a periodic background task.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Manager orchestrates the lifecycle of background jobs. A job that returns
// an error is logged and stopped; the manager never respawns it, its owner
// must restart explicitly.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	mu      sync.Mutex
	jobs    []Job
	started bool
	wg      sync.WaitGroup
}

// NewManager creates a job manager bound to the provided context.
func NewManager(parent context.Context, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		jobs:   make([]Job, 0),
	}
}

// Register adds a job to the manager. Registration after Start has no effect.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
}

// Start launches all registered jobs, each on its own goroutine.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	jobs := append([]Job(nil), m.jobs...)
	m.mu.Unlock()

	for _, job := range jobs {
		m.wg.Add(1)
		go m.runJob(job)
	}
}

// Stop signals all jobs to stop and blocks until they drain.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) runJob(job Job) {
	defer m.wg.Done()

	interval := job.Interval()
	if interval <= 0 {
		interval = time.Minute
	}

	m.log.Info("background job started",
		zap.String("job", job.Name()),
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.log.Info("background job stopped", zap.String("job", job.Name()))
			return
		case <-ticker.C:
			if err := job.Run(m.ctx); err != nil {
				m.log.Error("background job failed, not respawning",
					zap.String("job", job.Name()),
					zap.Error(err))
				return
			}
		}
	}
}
