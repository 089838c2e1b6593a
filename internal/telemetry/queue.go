package telemetry

import (
	"sync"

	"github.com/patrickwarner/videoadserve/internal/models"
)

// Queue is an ordered, unbounded buffer of non-critical events awaiting a
// batch send.
type Queue struct {
	mu     sync.Mutex
	events []models.InteractionEvent
}

// Append adds ev at the tail.
func (q *Queue) Append(ev models.InteractionEvent) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return len(q.events)
}

// Take removes and returns up to n events from the head, oldest first.
func (q *Queue) Take(n int) []models.InteractionEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.events) == 0 {
		return nil
	}
	if n > len(q.events) {
		n = len(q.events)
	}
	out := make([]models.InteractionEvent, n)
	copy(out, q.events[:n])
	rest := make([]models.InteractionEvent, len(q.events)-n)
	copy(rest, q.events[n:])
	q.events = rest
	return out
}

// Prepend puts events back at the head in their original order, ahead of
// anything appended since they were taken.
func (q *Queue) Prepend(events []models.InteractionEvent) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(events) == 0 {
		return len(q.events)
	}
	merged := make([]models.InteractionEvent, 0, len(events)+len(q.events))
	merged = append(merged, events...)
	merged = append(merged, q.events...)
	q.events = merged
	return len(q.events)
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Snapshot returns a copy of the queued events without removing them.
func (q *Queue) Snapshot() []models.InteractionEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.InteractionEvent(nil), q.events...)
}
