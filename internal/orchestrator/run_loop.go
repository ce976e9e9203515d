package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/mwhitlock/chorus/internal/queue"
	"github.com/mwhitlock/chorus/internal/router"
	"github.com/mwhitlock/chorus/pkg/models"
)

// dispatchLoop pulls dispatchable tasks off the queue, routes each to
// an agent, and hands it to a worker. It sleeps on the queue's wake
// signal between passes.
func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	defer o.loopWG.Done()
	for {
		o.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-o.queue.Wake():
		}
	}
}

// dispatch routes and launches tasks until the queue is empty or all
// worker slots are taken.
func (o *Orchestrator) dispatch(ctx context.Context) {
	for {
		select {
		case o.sem <- struct{}{}:
		default:
			// All workers busy; a finishing worker wakes the loop.
			return
		}

		t := o.queue.Dequeue()
		if t == nil {
			<-o.sem
			return
		}

		// Retries steer away from the agent that just failed, unless
		// it is the only one left for the capability.
		var exclude []string
		if t.LastAgentID != "" {
			exclude = append(exclude, t.LastAgentID)
		}
		ag, err := o.router.Route(t.Capability, exclude...)
		if errors.Is(err, router.ErrNoAgentAvailable) && len(exclude) > 0 {
			ag, err = o.router.Route(t.Capability)
		}
		if err != nil {
			<-o.sem
			o.logger.Log("route %s (%s): %v", t.ID, t.Capability, err)
			kind := models.ErrorKindAgent
			if errors.Is(err, router.ErrNoAgentAvailable) {
				kind = models.ErrorKindNoAgent
			}
			if ferr := o.queue.Fail(t.ID, kind, err.Error()); ferr != nil {
				o.logger.Log("fail %s: %v", t.ID, ferr)
			}
			o.emitter.Emit(Event{Type: EventTaskFailed, RequestID: t.RequestID, TaskID: t.ID, Detail: err.Error()})
			continue
		}

		if err := o.queue.MarkRunning(t.ID, ag.ID); err != nil {
			<-o.sem
			o.logger.Log("mark running %s: %v", t.ID, err)
			continue
		}
		o.registry.IncLoad(ag.ID)
		o.emitter.Emit(Event{Type: EventTaskRouted, RequestID: t.RequestID, TaskID: t.ID, AgentID: ag.ID})

		o.execWG.Add(1)
		go o.execute(ctx, ag, t)
	}
}

// execute runs one task on its agent and feeds the outcome back into
// the queue.
func (o *Orchestrator) execute(ctx context.Context, ag *models.Agent, t *models.Task) {
	defer o.execWG.Done()
	defer func() { <-o.sem }()

	deadline := t.Deadline
	if deadline == 0 {
		deadline = o.taskDeadline
	}
	ectx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	started := time.Now()
	out, err := o.runtime.Execute(ectx, ag, t)
	elapsed := time.Since(started)

	switch {
	case err == nil:
		o.registry.DecLoad(ag.ID, true, elapsed)
		if cerr := o.queue.Complete(t.ID, out); cerr != nil {
			o.logger.Log("complete %s: %v", t.ID, cerr)
			return
		}
		o.logger.Log("task %s completed by %s in %s", t.ID, ag.ID, elapsed)
		o.emitter.Emit(Event{Type: EventTaskCompleted, RequestID: t.RequestID, TaskID: t.ID, AgentID: ag.ID})

	case errors.Is(err, context.DeadlineExceeded):
		o.registry.DecLoad(ag.ID, false, elapsed)
		o.failTask(t, ag.ID, models.ErrorKindTimeout, "task deadline exceeded")

	case errors.Is(err, context.Canceled):
		// Shutdown path; the abort already marked the task.
		o.registry.DecLoad(ag.ID, false, elapsed)
		if ferr := o.queue.Abort(t.ID, models.ErrorKindStopped, "orchestrator stopped"); ferr != nil {
			o.logger.Log("abort %s: %v", t.ID, ferr)
		}

	default:
		o.registry.DecLoad(ag.ID, false, elapsed)
		if serr := o.registry.SetState(ag.ID, models.AgentStateError, err.Error()); serr != nil {
			o.logger.Log("set agent %s error state: %v", ag.ID, serr)
		} else {
			o.emitter.Emit(Event{Type: EventAgentStateChanged, AgentID: ag.ID, Detail: string(models.AgentStateError)})
		}
		o.persistAgentState(ag.ID, models.AgentStateError, err.Error())
		o.failTask(t, ag.ID, models.ErrorKindAgent, err.Error())
	}
}

// failTask records a task failure and emits the matching event. The
// queue decides whether the task retries or goes terminal.
func (o *Orchestrator) failTask(t *models.Task, agentID string, kind models.ErrorKind, detail string) {
	if err := o.queue.Fail(t.ID, kind, detail); err != nil {
		o.logger.Log("fail %s: %v", t.ID, err)
		return
	}
	o.logger.Log("task %s failed on %s: %s: %s", t.ID, agentID, kind, detail)

	if got, err := o.queue.Get(t.ID); err == nil && !got.State.Terminal() {
		o.emitter.Emit(Event{Type: EventTaskRetrying, RequestID: t.RequestID, TaskID: t.ID, AgentID: agentID, Detail: detail})
		return
	}
	o.emitter.Emit(Event{Type: EventTaskFailed, RequestID: t.RequestID, TaskID: t.ID, AgentID: agentID, Detail: detail})
}

// notifyLoop consumes terminal-transition notifications: it persists
// outcomes, admits dependents of completed tasks, cascades dependency
// failures, and finalizes requests once every task is terminal.
func (o *Orchestrator) notifyLoop(ctx context.Context) {
	defer o.loopWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-o.queue.Notifications():
			o.handleTerminal(n)
		}
	}
}

func (o *Orchestrator) handleTerminal(n queue.Notification) {
	o.mu.Lock()
	tr, ok := o.requests[n.RequestID]
	o.mu.Unlock()
	if !ok {
		return
	}

	t, err := o.queue.Get(n.TaskID)
	if err != nil {
		o.logger.Log("notification for unknown task %s", n.TaskID)
		return
	}
	o.persistTask(t)

	tr.mu.Lock()
	tr.remaining--
	if n.State == models.TaskStateCompleted {
		tr.completed[n.TaskID] = true
		o.admitDependentsLocked(tr)
	}
	finished := tr.remaining == 0
	tr.mu.Unlock()

	if n.State == models.TaskStateFailed {
		// Anything waiting on this task can never run.
		o.failDeferred(tr, n.TaskID, models.ErrorKindDependency, "dependency task "+n.TaskID+" failed")
		tr.mu.Lock()
		finished = tr.remaining == 0
		tr.mu.Unlock()
	}

	if finished {
		o.finalize(tr)
	}
}

// admitDependentsLocked enqueues deferred tasks whose dependencies have
// all completed. Caller holds tr.mu.
func (o *Orchestrator) admitDependentsLocked(tr *requestTracker) {
	for id, t := range tr.deferred {
		ready := true
		for _, dep := range t.DependsOn {
			if !tr.completed[dep] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		delete(tr.deferred, id)
		if err := o.queue.Enqueue(t); err != nil {
			o.logger.Log("enqueue dependent %s: %v", id, err)
		}
	}
}

// failDeferred fails deferred tasks that depend, directly or through
// other deferred tasks, on the given task. An empty failedID fails
// every deferred task, used on abort.
func (o *Orchestrator) failDeferred(tr *requestTracker, failedID string, kind models.ErrorKind, detail string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	failed := map[string]bool{failedID: true}
	all := failedID == ""
	for {
		progressed := false
		for id, t := range tr.deferred {
			hit := all
			for _, dep := range t.DependsOn {
				if failed[dep] {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
			delete(tr.deferred, id)
			failed[id] = true
			t.State = models.TaskStateFailed
			t.ErrKind = kind
			t.ErrDetail = detail
			t.FinishedAt = time.Now()
			tr.remaining--
			o.persistTask(t)
			o.emitter.Emit(Event{Type: EventTaskFailed, RequestID: tr.req.ID, TaskID: id, Detail: detail})
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

// finalize aggregates a request's task outcomes into its result and
// releases its waiter.
func (o *Orchestrator) finalize(tr *requestTracker) {
	o.mu.Lock()
	if _, ok := o.requests[tr.req.ID]; !ok {
		o.mu.Unlock()
		return
	}
	delete(o.requests, tr.req.ID)
	o.mu.Unlock()

	tr.mu.Lock()
	result := &models.Result{
		RequestID: tr.req.ID,
		State:     models.RequestStateCompleted,
		Unmatched: tr.unmatched,
	}
	for _, id := range tr.order {
		t := tr.tasks[id]
		result.Tasks = append(result.Tasks, taskResult(t))
		if t.State == models.TaskStateFailed {
			result.State = models.RequestStateFailed
		}
	}

	tr.req.State = result.State
	tr.req.FinishedAt = time.Now()
	result.Duration = tr.req.FinishedAt.Sub(tr.req.CreatedAt)
	tr.result = result
	tr.mu.Unlock()

	o.persistRequest(tr.req)
	o.logger.Log("request %s finished: %s in %s", tr.req.ID, result.State, result.Duration)
	o.emitter.Emit(Event{Type: EventRequestFinished, RequestID: tr.req.ID, Detail: string(result.State)})

	close(tr.done)
	o.reqWG.Done()
}

// persistAgentState mirrors a registry state change into the store.
func (o *Orchestrator) persistAgentState(agentID string, state models.AgentState, detail string) {
	if o.db == nil {
		return
	}
	if err := o.db.UpdateAgentState(agentID, state, detail); err != nil {
		o.logger.Log("persist agent state %s: %v", agentID, err)
	}
}
