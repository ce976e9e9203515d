package models

import "time"

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	// TaskStatePending indicates the task is admitted and awaiting dispatch.
	TaskStatePending TaskState = "pending"
	// TaskStateRouted indicates the task has been selected for execution
	// and is being assigned to an agent.
	TaskStateRouted TaskState = "routed"
	// TaskStateRunning indicates an agent is executing the task.
	TaskStateRunning TaskState = "running"
	// TaskStateCompleted indicates the task finished successfully. Terminal.
	TaskStateCompleted TaskState = "completed"
	// TaskStateFailed indicates the task failed. Terminal once the retry
	// budget is exhausted.
	TaskStateFailed TaskState = "failed"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStatePending, TaskStateRouted, TaskStateRunning,
		TaskStateCompleted, TaskStateFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state ends the task lifecycle.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// ErrorKind classifies execution-level task failures for aggregation.
type ErrorKind string

const (
	// ErrorKindAgent indicates the assigned agent's handler returned an error.
	ErrorKindAgent ErrorKind = "agent_error"
	// ErrorKindTimeout indicates the task ran past its deadline.
	ErrorKindTimeout ErrorKind = "task_timeout"
	// ErrorKindNoAgent indicates no active agent declared the capability.
	ErrorKindNoAgent ErrorKind = "no_agent_available"
	// ErrorKindDependency indicates a dependency task failed permanently.
	ErrorKindDependency ErrorKind = "dependency_failed"
	// ErrorKindStopped indicates the orchestrator aborted in-flight work.
	ErrorKindStopped ErrorKind = "orchestrator_stopped"
)

// Task is one unit of routed, executable work derived from a request.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// RequestID is the owning request identifier.
	RequestID string `json:"request_id"`
	// AgentID is the assigned agent, empty until routed.
	AgentID string `json:"agent_id,omitempty"`
	// LastAgentID is the agent of the previous failed attempt, set across
	// a retry so routing can avoid it.
	LastAgentID string `json:"last_agent_id,omitempty"`
	// Capability is the named capability required to execute the task.
	Capability string `json:"capability"`
	// Input is the structured input payload.
	Input map[string]any `json:"input"`
	// Output is the structured output payload, set only on completion.
	Output map[string]any `json:"output,omitempty"`
	// State is the current lifecycle state.
	State TaskState `json:"state"`
	// DependsOn lists task IDs that must complete before this task runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// RetryCount is the number of failed attempts so far.
	RetryCount int `json:"retry_count"`
	// Deadline is an optional per-task execution deadline.
	Deadline time.Duration `json:"deadline,omitempty"`
	// ErrKind classifies the failure, set only on failure.
	ErrKind ErrorKind `json:"error_kind,omitempty"`
	// ErrDetail is the failure message, set only on failure.
	ErrDetail string `json:"error_detail,omitempty"`
	// CreatedAt is when the task was created by the planner.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution began.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the task reached a terminal state.
	FinishedAt time.Time `json:"finished_at"`
}

// ResponseTime returns the wall-clock execution duration, or zero if the
// task has not finished.
func (t *Task) ResponseTime() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}
