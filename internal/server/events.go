package server

import (
	"sync"

	"github.com/djkaif/status-monitor/internal/models"
)

// eventQueue holds transition events until a consumer drains them.
// Unbounded: transitions are rare (one per edge) and the drain endpoint
// clears the queue on every read.
type eventQueue struct {
	mu     sync.Mutex
	events []models.TransitionEvent
}

func newEventQueue() *eventQueue {
	return &eventQueue{events: make([]models.TransitionEvent, 0, 16)}
}

// Append adds an event to the back of the queue.
func (q *eventQueue) Append(ev models.TransitionEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
}

// Drain returns all pending events and empties the queue.
func (q *eventQueue) Drain() []models.TransitionEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = make([]models.TransitionEvent, 0, 16)
	return out
}

// Len reports the number of pending events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
