// Package orchestrator coordinates planning, routing, and execution of
// requests across the agent registry.
package orchestrator

import (
	"log"
	"sync/atomic"
	"time"
)

// EventEmitter handles event emission for the orchestrator.
// It provides a simple, thread-safe way to emit events to subscribers.
type EventEmitter struct {
	events       chan Event
	subscribed   atomic.Bool
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel.
// Without a subscriber the event is counted and dropped immediately, so
// an unconsumed stream never slows the engine down. With a subscriber,
// a full channel gets a short grace period before the drop.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	if !e.subscribed.Load() {
		e.droppedCount.Add(1)
		return
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[orchestrator] WARNING: Event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events and marks the stream as
// subscribed. Subscribers (serve loop, tests) receive updates from it.
func (e *EventEmitter) Events() <-chan Event {
	e.subscribed.Store(true)
	return e.events
}

// Close closes the events channel.
// This should be called when the orchestrator is stopped.
func (e *EventEmitter) Close() {
	close(e.events)
}
