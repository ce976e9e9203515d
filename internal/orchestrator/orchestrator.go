package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwhitlock/chorus/internal/agent"
	"github.com/mwhitlock/chorus/internal/planner"
	"github.com/mwhitlock/chorus/internal/queue"
	"github.com/mwhitlock/chorus/internal/registry"
	"github.com/mwhitlock/chorus/internal/router"
	"github.com/mwhitlock/chorus/internal/store"
	"github.com/mwhitlock/chorus/pkg/models"
)

var (
	// ErrNotRunning indicates the orchestrator has not been started.
	ErrNotRunning = errors.New("orchestrator not running")
	// ErrAlreadyRunning indicates Start was called twice.
	ErrAlreadyRunning = errors.New("orchestrator already running")
	// ErrStopping indicates the orchestrator is shutting down and not
	// accepting new requests. It matches ErrNotRunning under errors.Is,
	// so callers can treat both rejections uniformly.
	ErrStopping = fmt.Errorf("%w: stopping", ErrNotRunning)
)

// Orchestrator is the engine façade: it accepts goals, plans them into
// tasks, routes tasks to agents, executes them with retry, and
// aggregates per-request results.
type Orchestrator struct {
	registry *registry.Registry
	runtime  *agent.Runtime
	queue    *queue.Queue
	planner  *planner.Planner
	router   *router.Router
	db       store.Store
	emitter  *EventEmitter
	logger   *DebugLogger

	workers      int
	taskDeadline time.Duration
	abortOnStop  bool

	mu       sync.Mutex
	running  bool
	stopping bool
	requests map[string]*requestTracker
	cancel   context.CancelFunc

	// sem bounds concurrent task executions to the worker count.
	sem chan struct{}
	// execWG tracks execution goroutines.
	execWG sync.WaitGroup
	// loopWG tracks the dispatch and notification loops.
	loopWG sync.WaitGroup
	// reqWG tracks requests from admission to aggregation.
	reqWG sync.WaitGroup
}

// requestTracker follows one request's tasks to their terminal states.
type requestTracker struct {
	mu sync.Mutex
	// req is the request being tracked.
	req *models.Request
	// order is the task IDs in plan order.
	order []string
	// tasks maps task IDs to tasks, including deferred ones.
	tasks map[string]*models.Task
	// deferred holds tasks withheld until their dependencies complete.
	deferred map[string]*models.Task
	// completed marks tasks that reached completed.
	completed map[string]bool
	// remaining is the count of tasks not yet terminal.
	remaining int
	// unmatched carries goal portions the planner could not route.
	unmatched []string
	// result is set by finalize before done is closed.
	result *models.Result
	// done is closed once the result is aggregated.
	done chan struct{}
}

// New creates an Orchestrator. The registry and runtime are required;
// everything else defaults sensibly and is tunable through options.
func New(cfg RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("new orchestrator: nil registry")
	}
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("new orchestrator: nil runtime")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	q := queue.New(o.retryPolicy)
	orch := &Orchestrator{
		registry:     cfg.Registry,
		runtime:      cfg.Runtime,
		queue:        q,
		planner:      planner.New(cfg.Registry, o.matcher),
		router:       router.New(cfg.Registry),
		db:           o.db,
		emitter:      NewEventEmitter(o.eventBuffer),
		logger:       o.logger,
		workers:      o.workers,
		taskDeadline: o.taskDeadline,
		abortOnStop:  o.abortOnStop,
		requests:     make(map[string]*requestTracker),
		sem:          make(chan struct{}, o.workers),
	}
	if orch.logger == nil {
		orch.logger = NopLogger()
	}
	return orch, nil
}

// Events returns the orchestrator event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Start launches the dispatch and notification loops. It returns
// immediately. The loops take ctx's values but not its cancellation:
// only Stop shuts them down, after in-flight requests have drained or
// been aborted. A caller-scoped context (a signal context, say) going
// away therefore cannot strand waiters mid-drain.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}

	ictx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.running = true
	o.stopping = false

	o.loopWG.Add(2)
	go o.dispatchLoop(ictx)
	go o.notifyLoop(ictx)

	o.logger.Log("orchestrator started: workers=%d deadline=%s", o.workers, o.taskDeadline)
	return nil
}

// Stop shuts the orchestrator down. By default in-flight requests are
// drained first; with AbortOnStop every non-terminal task is failed
// with an orchestrator-stopped error. ctx bounds the wait either way.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.stopping = true
	o.mu.Unlock()

	if o.abortOnStop {
		o.abortAll()
	}

	// Wait for active requests to aggregate.
	drained := make(chan struct{})
	go func() {
		o.reqWG.Wait()
		close(drained)
	}()
	var waitErr error
	select {
	case <-drained:
	case <-ctx.Done():
		waitErr = fmt.Errorf("stop orchestrator: %w", ctx.Err())
	}

	o.mu.Lock()
	o.running = false
	o.cancel()
	o.mu.Unlock()

	o.queue.Close()
	o.execWG.Wait()
	o.loopWG.Wait()

	o.emitter.Emit(Event{Type: EventStopped})
	o.emitter.Close()
	o.logger.Log("orchestrator stopped (abort=%v, err=%v)", o.abortOnStop, waitErr)
	return waitErr
}

// abortAll force-fails every task not yet terminal.
func (o *Orchestrator) abortAll() {
	aborted := o.queue.AbortAll(models.ErrorKindStopped, "orchestrator stopped")
	o.logger.Log("aborted %d queued task(s)", len(aborted))

	// Deferred tasks never reached the queue; fail them through their
	// trackers.
	o.mu.Lock()
	trackers := make([]*requestTracker, 0, len(o.requests))
	for _, tr := range o.requests {
		trackers = append(trackers, tr)
	}
	o.mu.Unlock()
	for _, tr := range trackers {
		o.failDeferred(tr, "", models.ErrorKindStopped, "orchestrator stopped")
	}
}

// ProcessRequest plans the goal, executes its tasks, and blocks until
// the aggregated result is ready or ctx is done. Task failures are
// reported inside the result, not as an error.
func (o *Orchestrator) ProcessRequest(ctx context.Context, goal string, reqContext, constraints map[string]any) (*models.Result, error) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil, ErrNotRunning
	}
	if o.stopping {
		o.mu.Unlock()
		return nil, ErrStopping
	}
	o.mu.Unlock()

	plan, err := o.planner.Decompose(ctx, goal, reqContext, constraints)
	if err != nil {
		return nil, fmt.Errorf("process request: %w", err)
	}

	req := &models.Request{
		ID:          uuid.New().String(),
		Goal:        goal,
		Context:     reqContext,
		Constraints: constraints,
		State:       models.RequestStateInProgress,
		CreatedAt:   time.Now(),
	}

	if plan.Unroutable() {
		req.State = models.RequestStateUnroutable
		req.FinishedAt = time.Now()
		o.persistRequest(req)
		o.logger.Log("request %s unroutable: %q", req.ID, goal)
		o.emitter.Emit(Event{Type: EventRequestFinished, RequestID: req.ID, Detail: "unroutable"})
		return &models.Result{
			RequestID: req.ID,
			State:     models.RequestStateUnroutable,
			Unmatched: plan.Unmatched,
			Duration:  req.FinishedAt.Sub(req.CreatedAt),
		}, nil
	}

	tr := o.buildTracker(req, plan)

	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return nil, ErrStopping
	}
	o.requests[req.ID] = tr
	o.reqWG.Add(1)
	o.mu.Unlock()

	o.persistRequest(req)
	for _, id := range tr.order {
		o.persistTask(tr.tasks[id])
	}

	// Admit independent tasks now; dependents wait for completions.
	for _, id := range tr.order {
		t := tr.tasks[id]
		if len(t.DependsOn) > 0 {
			continue
		}
		if err := o.queue.Enqueue(t); err != nil {
			o.logger.Log("enqueue %s: %v", t.ID, err)
		}
	}

	o.logger.Log("request %s accepted: %d task(s) for %q", req.ID, len(tr.order), goal)
	o.emitter.Emit(Event{Type: EventRequestAccepted, RequestID: req.ID, Detail: goal})

	select {
	case <-tr.done:
		return tr.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// buildTracker materializes plan specs into tasks and sets up tracking.
func (o *Orchestrator) buildTracker(req *models.Request, plan *planner.Plan) *requestTracker {
	tr := &requestTracker{
		req:       req,
		tasks:     make(map[string]*models.Task, len(plan.Tasks)),
		deferred:  make(map[string]*models.Task),
		completed: make(map[string]bool),
		remaining: len(plan.Tasks),
		unmatched: plan.Unmatched,
		done:      make(chan struct{}),
	}

	ids := make([]string, len(plan.Tasks))
	for i := range plan.Tasks {
		ids[i] = uuid.New().String()
	}
	for i, spec := range plan.Tasks {
		t := &models.Task{
			ID:         ids[i],
			RequestID:  req.ID,
			Capability: spec.Capability,
			Input:      spec.Input,
			State:      models.TaskStatePending,
			CreatedAt:  time.Now(),
		}
		for _, dep := range spec.DependsOn {
			t.DependsOn = append(t.DependsOn, ids[dep])
		}
		tr.tasks[t.ID] = t
		if len(t.DependsOn) > 0 {
			tr.deferred[t.ID] = t
		}
	}
	tr.order = ids
	req.TaskIDs = ids
	return tr
}

// Result returns the stored result of a finished request, or the live
// tracker state for one still in progress.
func (o *Orchestrator) Result(requestID string) (*models.Result, error) {
	o.mu.Lock()
	_, active := o.requests[requestID]
	o.mu.Unlock()
	if active {
		return &models.Result{
			RequestID: requestID,
			State:     models.RequestStateInProgress,
		}, nil
	}

	if o.db == nil {
		return nil, fmt.Errorf("result %s: request not found", requestID)
	}
	req, err := o.db.GetRequest(requestID)
	if err != nil {
		return nil, fmt.Errorf("result %s: %w", requestID, err)
	}
	if req == nil {
		return nil, fmt.Errorf("result %s: request not found", requestID)
	}
	tasks, err := o.db.ListTasksByRequest(requestID)
	if err != nil {
		return nil, fmt.Errorf("result %s: %w", requestID, err)
	}
	result := &models.Result{
		RequestID: req.ID,
		State:     req.State,
		Duration:  req.FinishedAt.Sub(req.CreatedAt),
	}
	for i := range tasks {
		result.Tasks = append(result.Tasks, taskResult(&tasks[i]))
	}
	return result, nil
}

func (o *Orchestrator) persistRequest(r *models.Request) {
	if o.db == nil {
		return
	}
	if err := o.db.SaveRequest(r); err != nil {
		o.logger.Log("persist request %s: %v", r.ID, err)
	}
}

func (o *Orchestrator) persistTask(t *models.Task) {
	if o.db == nil {
		return
	}
	if err := o.db.SaveTask(t); err != nil {
		o.logger.Log("persist task %s: %v", t.ID, err)
	}
}

func taskResult(t *models.Task) models.TaskResult {
	return models.TaskResult{
		TaskID:     t.ID,
		Capability: t.Capability,
		AgentID:    t.AgentID,
		Output:     t.Output,
		ErrKind:    t.ErrKind,
		ErrDetail:  t.ErrDetail,
		Retries:    t.RetryCount,
	}
}
