package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/sundial/internal/domain"
)

type Type string

const (
	AllocationCreated   Type = "allocation.created"
	AllocationUpdated   Type = "allocation.updated"
	AllocationExpired   Type = "allocation.expired"
	BudgetExceeded      Type = "budget.exceeded"
	PolicyUpdated       Type = "policy.updated"
	ActionCreated       Type = "action.created"
	ActionExpired       Type = "action.expired"
	ActionApplied       Type = "action.applied"
	CheckpointRequested Type = "checkpoint.requested"
	CheckpointCompleted Type = "checkpoint.completed"
	RestoreStaged       Type = "restore.staged"
	StressAlert         Type = "stress.alert"
)

// Event is one coordination signal published on the bus.
type Event struct {
	Type     Type
	WorkerID domain.WorkerID
	At       time.Time
	Payload  any
}

type Handler func(Event)

// Bus is a typed publish/subscribe dispatcher. Every handler runs on its own
// goroutine per publish; a panicking handler is recovered and logged and
// never aborts its siblings or blocks the publisher.
type Bus struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[Type][]Handler
	wg   sync.WaitGroup
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}

	return &Bus{
		log:  log,
		subs: make(map[Type][]Handler),
	}
}

func (b *Bus) Subscribe(t Type, handler Handler) {
	if handler == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], handler)
}

func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[event.Type]))
	copy(handlers, b.subs[event.Type])
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.wg.Add(1)
		go b.dispatch(handler, event)
	}
}

func (b *Bus) dispatch(handler Handler, event Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("type", string(event.Type)),
				zap.String("worker", string(event.WorkerID)),
				zap.Any("panic", r))
		}
	}()

	handler(event)
}

// Drain blocks until all in-flight handler goroutines have returned. Used on
// shutdown so deferred handlers are not cut off mid-dispatch.
func (b *Bus) Drain() {
	b.wg.Wait()
}
