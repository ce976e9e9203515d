package models

import "time"

// RequestState is the overall state of a request, derived from its tasks.
type RequestState string

const (
	// RequestStateInProgress indicates at least one task is not terminal.
	RequestStateInProgress RequestState = "in_progress"
	// RequestStateCompleted indicates every task completed.
	RequestStateCompleted RequestState = "completed"
	// RequestStateFailed indicates at least one task exhausted its retries.
	RequestStateFailed RequestState = "failed"
	// RequestStateUnroutable indicates no portion of the goal matched a
	// known capability. Structural, not an execution failure.
	RequestStateUnroutable RequestState = "unroutable"
)

// Request is a caller's goal plus context and constraints, decomposed into
// one or more tasks.
type Request struct {
	// ID is the unique identifier for this request.
	ID string `json:"id"`
	// Goal is the free-text or structured goal from the caller.
	Goal string `json:"goal"`
	// Context carries caller-supplied context (record references, identity).
	Context map[string]any `json:"context,omitempty"`
	// Constraints carries caller-supplied constraints (max_tasks, timeout).
	Constraints map[string]any `json:"constraints,omitempty"`
	// TaskIDs lists constituent task identifiers in plan order.
	TaskIDs []string `json:"task_ids"`
	// State is the derived overall state.
	State RequestState `json:"state"`
	// CreatedAt is when the orchestrator accepted the request.
	CreatedAt time.Time `json:"created_at"`
	// FinishedAt is when aggregation completed.
	FinishedAt time.Time `json:"finished_at"`
}

// TaskResult is the per-task slice of an aggregated result.
type TaskResult struct {
	// TaskID identifies the task.
	TaskID string `json:"task_id"`
	// Capability is the capability the task required.
	Capability string `json:"capability"`
	// AgentID is the agent that executed the task, if any.
	AgentID string `json:"agent_id,omitempty"`
	// Output is the task output, present when the task completed.
	Output map[string]any `json:"output,omitempty"`
	// ErrKind classifies the failure, present when the task failed.
	ErrKind ErrorKind `json:"error_kind,omitempty"`
	// ErrDetail is the failure message, present when the task failed.
	ErrDetail string `json:"error_detail,omitempty"`
	// Retries is the number of failed attempts before the terminal state.
	Retries int `json:"retries"`
}

// Result is the aggregated outcome of a request. It is always a value,
// never an error: partial failures enumerate the failed tasks while still
// carrying the outputs of tasks that succeeded.
type Result struct {
	// RequestID identifies the request.
	RequestID string `json:"request_id"`
	// State is the final request state.
	State RequestState `json:"state"`
	// Tasks holds per-task outcomes in plan order.
	Tasks []TaskResult `json:"tasks,omitempty"`
	// Unmatched lists goal portions no capability matched, for unroutable
	// or partially routable goals.
	Unmatched []string `json:"unmatched,omitempty"`
	// Duration is the wall-clock time from acceptance to aggregation.
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether every task completed.
func (r *Result) Succeeded() bool {
	return r.State == RequestStateCompleted
}

// FailedTasks returns the subset of task results that failed.
func (r *Result) FailedTasks() []TaskResult {
	var failed []TaskResult
	for _, tr := range r.Tasks {
		if tr.ErrKind != "" {
			failed = append(failed, tr)
		}
	}
	return failed
}
