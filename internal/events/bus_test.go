package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDispatchesToAllSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)

	var count atomic.Int64
	for i := 0; i < 3; i++ {
		bus.Subscribe(ActionCreated, func(Event) { count.Add(1) })
	}
	// Different type must not fire.
	bus.Subscribe(ActionExpired, func(Event) { count.Add(100) })

	bus.Publish(Event{Type: ActionCreated, WorkerID: "apollo", At: time.Now()})
	bus.Drain()

	assert.Equal(t, int64(3), count.Load())
}

func TestBusIsolatesPanickingHandler(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)

	var mu sync.Mutex
	var seen []string

	bus.Subscribe(BudgetExceeded, func(Event) { panic("handler blew up") })
	bus.Subscribe(BudgetExceeded, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(e.WorkerID))
	})

	bus.Publish(Event{Type: BudgetExceeded, WorkerID: "rhetor"})
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"rhetor"}, seen)
}

func TestBusPublishWithoutSubscribersIsHarmless(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	bus.Publish(Event{Type: StressAlert})
	bus.Drain()
}
