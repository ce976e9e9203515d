package orchestrator

import "time"

// EventType identifies the kind of orchestrator event.
type EventType string

const (
	// EventRequestAccepted fires when a request is admitted and planned.
	EventRequestAccepted EventType = "request_accepted"
	// EventRequestFinished fires when a request's result is aggregated.
	EventRequestFinished EventType = "request_finished"
	// EventTaskRouted fires when a task is assigned to an agent.
	EventTaskRouted EventType = "task_routed"
	// EventTaskCompleted fires when a task completes.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed fires when a task fails an attempt, retryable or not.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetrying fires when a failed task is scheduled for retry.
	EventTaskRetrying EventType = "task_retrying"
	// EventAgentStateChanged fires when an agent changes lifecycle state.
	EventAgentStateChanged EventType = "agent_state_changed"
	// EventStopped fires when the orchestrator finishes stopping.
	EventStopped EventType = "stopped"
)

// Event is a single orchestrator lifecycle event.
type Event struct {
	// Type identifies the event kind.
	Type EventType `json:"type"`
	// RequestID is set for request and task events.
	RequestID string `json:"request_id,omitempty"`
	// TaskID is set for task events.
	TaskID string `json:"task_id,omitempty"`
	// AgentID is set for routing and agent events.
	AgentID string `json:"agent_id,omitempty"`
	// Detail carries a human-readable message.
	Detail string `json:"detail,omitempty"`
	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}
