// Package queue implements the task queue and its lifecycle state machine:
// pending -> routed -> running -> {completed | failed}, with failed tasks
// re-entering pending while retry budget remains.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mwhitlock/chorus/pkg/models"
)

// ErrInvalidTransition indicates a task state change the state machine does
// not permit.
var ErrInvalidTransition = errors.New("invalid task state transition")

// ErrDependencyUnmet indicates a task was enqueued before one of its
// dependency tasks completed.
var ErrDependencyUnmet = errors.New("task dependency not completed")

// ErrUnknownTask indicates the task identifier is not held by the queue.
var ErrUnknownTask = errors.New("unknown task")

// ErrDuplicateTask indicates the task identifier is already enqueued.
var ErrDuplicateTask = errors.New("task already enqueued")

// RetryPolicy controls automatic re-enqueue of failed tasks.
type RetryPolicy struct {
	// MaxAttempts is the total number of execution attempts per task.
	MaxAttempts int
	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration
	// BackoffCap bounds the exponential backoff delay.
	BackoffCap time.Duration
}

// DefaultRetryPolicy mirrors the orchestrator defaults: three attempts,
// exponential backoff from 500ms capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 500 * time.Millisecond,
		BackoffCap:  30 * time.Second,
	}
}

// Delay returns the backoff delay before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if p.BackoffCap > 0 && d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}

// Notification reports a task reaching a terminal state. Dependent-task
// admission and request aggregation key off these instead of polling.
type Notification struct {
	// TaskID identifies the task.
	TaskID string
	// RequestID is the task's owning request.
	RequestID string
	// State is the terminal state reached.
	State models.TaskState
}

// Queue holds tasks awaiting or undergoing execution. All state transitions
// are serialized under one lock, so a task never has more than one live
// execution context.
type Queue struct {
	// tasks maps task IDs to tasks. The queue owns every state transition.
	tasks map[string]*models.Task
	// order is the FIFO admission order of task IDs.
	order []string
	// policy is the retry policy applied on failure.
	policy RetryPolicy
	// notifications carries terminal transitions to the dispatcher.
	notifications chan Notification
	// wake signals the dispatcher that a task may be dequeueable.
	wake chan struct{}
	// timers holds pending retry timers by task ID.
	timers map[string]*time.Timer
	// closed stops retry timers from re-admitting tasks after Close.
	closed bool
	// mu protects all fields.
	mu sync.Mutex
}

// New creates an empty queue with the given retry policy.
func New(policy RetryPolicy) *Queue {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Queue{
		tasks:         make(map[string]*models.Task),
		policy:        policy,
		notifications: make(chan Notification, 256),
		wake:          make(chan struct{}, 1),
		timers:        make(map[string]*time.Timer),
	}
}

// Notifications returns the terminal-transition channel.
func (q *Queue) Notifications() <-chan Notification {
	return q.notifications
}

// Wake returns a signal channel that fires when a task may be ready.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Enqueue admits a task in pending state. A task whose declared dependency
// is not yet completed is rejected with ErrDependencyUnmet; the caller is
// expected to defer admission until the dependency's completion notification.
func (q *Queue) Enqueue(t *models.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tasks[t.ID]; ok {
		return fmt.Errorf("enqueue %s: %w", t.ID, ErrDuplicateTask)
	}
	for _, depID := range t.DependsOn {
		dep, ok := q.tasks[depID]
		if !ok || dep.State != models.TaskStateCompleted {
			return fmt.Errorf("enqueue %s: dependency %s: %w", t.ID, depID, ErrDependencyUnmet)
		}
	}

	t.State = models.TaskStatePending
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	q.tasks[t.ID] = t
	q.order = append(q.order, t.ID)
	q.signalWake()
	return nil
}

// Dequeue atomically selects the next pending task whose dependencies are
// satisfied, transitions it to routed, and returns it. Selection is FIFO by
// admission order. Returns nil when nothing is dispatchable.
func (q *Queue) Dequeue() *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		t := q.tasks[id]
		if t.State != models.TaskStatePending {
			continue
		}
		if !q.depsCompletedLocked(t) {
			continue
		}
		t.State = models.TaskStateRouted
		return t
	}
	return nil
}

// MarkRunning records that an agent accepted the task: routed -> running.
func (q *Queue) MarkRunning(taskID, agentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("mark running %s: %w", taskID, ErrUnknownTask)
	}
	if t.State != models.TaskStateRouted {
		return fmt.Errorf("mark running %s: state %s: %w", taskID, t.State, ErrInvalidTransition)
	}
	t.State = models.TaskStateRunning
	t.AgentID = agentID
	t.StartedAt = time.Now()
	return nil
}

// Complete transitions running -> completed and records the output.
func (q *Queue) Complete(taskID string, output map[string]any) error {
	q.mu.Lock()
	t, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("complete %s: %w", taskID, ErrUnknownTask)
	}
	if t.State != models.TaskStateRunning {
		q.mu.Unlock()
		return fmt.Errorf("complete %s: state %s: %w", taskID, t.State, ErrInvalidTransition)
	}
	t.State = models.TaskStateCompleted
	t.Output = output
	t.FinishedAt = time.Now()
	n := Notification{TaskID: t.ID, RequestID: t.RequestID, State: t.State}
	q.mu.Unlock()

	q.notify(n)
	q.signalWake()
	return nil
}

// Fail transitions the task to failed and, while retry budget remains,
// schedules re-admission as pending after an exponential backoff delay.
// Routing failures arrive before an agent accepts the task, so failed is
// reachable from routed as well as running.
func (q *Queue) Fail(taskID string, kind models.ErrorKind, detail string) error {
	return q.fail(taskID, kind, detail, true)
}

// Abort transitions the task to terminal failed regardless of remaining
// retry budget. Used when the orchestrator stops without draining.
func (q *Queue) Abort(taskID string, kind models.ErrorKind, detail string) error {
	return q.fail(taskID, kind, detail, false)
}

// AbortAll force-fails every task that is not yet terminal, including
// tasks waiting on a retry timer. Returns the IDs of aborted tasks.
func (q *Queue) AbortAll(kind models.ErrorKind, detail string) []string {
	q.mu.Lock()
	var ids []string
	for _, id := range q.order {
		t := q.tasks[id]
		switch t.State {
		case models.TaskStatePending, models.TaskStateRouted, models.TaskStateRunning:
			ids = append(ids, id)
		case models.TaskStateFailed:
			if _, ok := q.timers[id]; ok {
				ids = append(ids, id)
			}
		}
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.fail(id, kind, detail, false)
	}
	return ids
}

func (q *Queue) fail(taskID string, kind models.ErrorKind, detail string, retryable bool) error {
	q.mu.Lock()
	t, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("fail %s: %w", taskID, ErrUnknownTask)
	}
	switch t.State {
	case models.TaskStateRunning, models.TaskStateRouted:
	case models.TaskStatePending:
		// Abort may cut off tasks still waiting to run; a normal failure
		// may not.
		if retryable {
			q.mu.Unlock()
			return fmt.Errorf("fail %s: state %s: %w", taskID, t.State, ErrInvalidTransition)
		}
	case models.TaskStateFailed:
		// Abort may cut off a task waiting on its retry timer. A failed
		// task without a timer is terminal and stays untouched.
		timer, ok := q.timers[taskID]
		if retryable || !ok {
			q.mu.Unlock()
			return fmt.Errorf("fail %s: state %s: %w", taskID, t.State, ErrInvalidTransition)
		}
		timer.Stop()
		delete(q.timers, taskID)
	default:
		q.mu.Unlock()
		return fmt.Errorf("fail %s: state %s: %w", taskID, t.State, ErrInvalidTransition)
	}

	t.State = models.TaskStateFailed
	t.ErrKind = kind
	t.ErrDetail = detail
	t.FinishedAt = time.Now()
	t.RetryCount++

	if retryable && t.RetryCount < q.policy.MaxAttempts && !q.closed {
		delay := q.policy.Delay(t.RetryCount)
		q.timers[taskID] = time.AfterFunc(delay, func() { q.requeue(taskID) })
		q.mu.Unlock()
		return nil
	}

	n := Notification{TaskID: t.ID, RequestID: t.RequestID, State: t.State}
	q.mu.Unlock()

	q.notify(n)
	q.signalWake()
	return nil
}

// requeue re-admits a failed task as pending once its backoff delay expires.
func (q *Queue) requeue(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.timers, taskID)
	if q.closed {
		return
	}
	t, ok := q.tasks[taskID]
	if !ok || t.State != models.TaskStateFailed {
		return
	}
	t.State = models.TaskStatePending
	if t.AgentID != "" {
		t.LastAgentID = t.AgentID
	}
	t.AgentID = ""
	t.ErrKind = ""
	t.ErrDetail = ""
	t.StartedAt = time.Time{}
	t.FinishedAt = time.Time{}
	q.signalWake()
}

// Get returns the task with the given ID.
func (q *Queue) Get(taskID string) (*models.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", taskID, ErrUnknownTask)
	}
	return t, nil
}

// Depth returns the number of tasks per state.
func (q *Queue) Depth() map[models.TaskState]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := make(map[models.TaskState]int)
	for _, t := range q.tasks {
		depth[t.State]++
	}
	return depth
}

// InFlight returns the IDs of tasks currently routed or running.
func (q *Queue) InFlight() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for _, id := range q.order {
		t := q.tasks[id]
		if t.State == models.TaskStateRouted || t.State == models.TaskStateRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

// Pending returns the IDs of tasks awaiting dispatch, in admission order.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for _, id := range q.order {
		if q.tasks[id].State == models.TaskStatePending {
			ids = append(ids, id)
		}
	}
	return ids
}

// Close cancels pending retry timers. Tasks already terminal stay terminal;
// the notification channel stays open for late readers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
}

func (q *Queue) depsCompletedLocked(t *models.Task) bool {
	for _, depID := range t.DependsOn {
		dep, ok := q.tasks[depID]
		if !ok || dep.State != models.TaskStateCompleted {
			return false
		}
	}
	return true
}

func (q *Queue) notify(n Notification) {
	// The buffer absorbs bursts; a full channel means the dispatcher is
	// wedged, and blocking here would wedge the queue too.
	select {
	case q.notifications <- n:
	case <-time.After(5 * time.Second):
	}
}

func (q *Queue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
