package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwhitlock/chorus/internal/agent"
	"github.com/mwhitlock/chorus/internal/queue"
	"github.com/mwhitlock/chorus/internal/registry"
	"github.com/mwhitlock/chorus/pkg/models"
)

func activeAgent(id string, typ models.AgentType, caps ...string) *models.Agent {
	return &models.Agent{
		ID:           id,
		Name:         id,
		Type:         typ,
		Capabilities: caps,
		State:        models.AgentStateActive,
	}
}

// newTestOrchestrator builds an orchestrator with custom handlers and
// fast retries so failure paths finish inside the test timeout.
func newTestOrchestrator(t *testing.T, agents []*models.Agent, handlers map[string]agent.HandlerFunc, opts ...Option) *Orchestrator {
	t.Helper()

	reg := registry.New()
	for _, a := range agents {
		if err := reg.Register(a, false); err != nil {
			t.Fatalf("register %s: %v", a.ID, err)
		}
	}

	// Tests register their own handlers, so the nil record store is
	// never touched.
	rt := agent.NewRuntime(nil)
	for c, h := range handlers {
		rt.Replace(c, h)
	}

	base := []Option{
		WithRetryPolicy(queue.RetryPolicy{MaxAttempts: 3, BackoffBase: 5 * time.Millisecond, BackoffCap: 20 * time.Millisecond}),
		WithTaskDeadline(2 * time.Second),
	}
	o, err := New(RequiredConfig{Registry: reg, Runtime: rt}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.Stop(ctx)
	})
	return o
}

func TestProcessRequest_SingleTask(t *testing.T) {
	o := newTestOrchestrator(t,
		[]*models.Agent{activeAgent("crm-1", models.AgentTypeCRM, "crm")},
		map[string]agent.HandlerFunc{
			"crm": func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
				return map[string]any{"lead_id": "L1", "status": "created"}, nil
			},
		},
	)

	res, err := o.ProcessRequest(context.Background(), "create a lead for Acme", nil, nil)
	if err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("result state = %s, want completed", res.State)
	}
	if len(res.Tasks) != 1 {
		t.Fatalf("got %d task results, want 1", len(res.Tasks))
	}
	tr := res.Tasks[0]
	if tr.Capability != "crm" || tr.AgentID != "crm-1" {
		t.Errorf("task routed to %s/%s, want crm/crm-1", tr.Capability, tr.AgentID)
	}
	if tr.Output["lead_id"] != "L1" {
		t.Errorf("output = %v, want lead_id L1", tr.Output)
	}
}

func TestProcessRequest_CompoundGoal(t *testing.T) {
	handler := func(output map[string]any) agent.HandlerFunc {
		return func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
			return output, nil
		}
	}
	o := newTestOrchestrator(t,
		[]*models.Agent{
			activeAgent("crm-1", models.AgentTypeCRM, "crm"),
			activeAgent("sales-1", models.AgentTypeSales, "sales"),
		},
		map[string]agent.HandlerFunc{
			"crm":   handler(map[string]any{"done": "crm"}),
			"sales": handler(map[string]any{"done": "sales"}),
		},
	)

	res, err := o.ProcessRequest(context.Background(), "create a lead for Acme and create an order for widgets", nil, nil)
	if err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("result state = %s, want completed (tasks=%+v)", res.State, res.Tasks)
	}
	if len(res.Tasks) != 2 {
		t.Fatalf("got %d task results, want 2", len(res.Tasks))
	}
	// Results come back in plan order regardless of execution order.
	if res.Tasks[0].Capability != "crm" || res.Tasks[1].Capability != "sales" {
		t.Errorf("plan order = [%s %s], want [crm sales]", res.Tasks[0].Capability, res.Tasks[1].Capability)
	}
}

func TestProcessRequest_Unroutable(t *testing.T) {
	o := newTestOrchestrator(t,
		[]*models.Agent{activeAgent("crm-1", models.AgentTypeCRM, "crm")},
		nil,
	)

	res, err := o.ProcessRequest(context.Background(), "reticulate splines", nil, nil)
	if err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if res.State != models.RequestStateUnroutable {
		t.Fatalf("state = %s, want unroutable", res.State)
	}
	if len(res.Tasks) != 0 {
		t.Errorf("unroutable request produced %d tasks", len(res.Tasks))
	}
	if len(res.Unmatched) == 0 {
		t.Error("unroutable result should name the unmatched portions")
	}
}

func TestProcessRequest_NoAgentRetriesThenFails(t *testing.T) {
	// The sales capability is declared by an agent stuck in error state,
	// so routing fails every attempt until the retry budget runs out.
	sales := activeAgent("sales-1", models.AgentTypeSales, "sales")
	o := newTestOrchestrator(t,
		[]*models.Agent{
			activeAgent("crm-1", models.AgentTypeCRM, "crm"),
			sales,
		},
		map[string]agent.HandlerFunc{
			"crm": func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
				return map[string]any{"ok": true}, nil
			},
		},
	)
	if err := o.registry.SetState("sales-1", models.AgentStateError, "down"); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}

	res, err := o.ProcessRequest(context.Background(), "create a lead and create an order", nil, nil)
	if err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if res.State != models.RequestStateFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}

	failed := res.FailedTasks()
	if len(failed) != 1 {
		t.Fatalf("got %d failed tasks, want 1 (tasks=%+v)", len(failed), res.Tasks)
	}
	if failed[0].Capability != "sales" {
		t.Errorf("failed capability = %s, want sales", failed[0].Capability)
	}
	if failed[0].ErrKind != models.ErrorKindNoAgent {
		t.Errorf("error kind = %s, want %s", failed[0].ErrKind, models.ErrorKindNoAgent)
	}
	if failed[0].Retries != 3 {
		t.Errorf("retries = %d, want 3 attempts", failed[0].Retries)
	}

	// The crm task still succeeded: partial failure, not total.
	for _, tr := range res.Tasks {
		if tr.Capability == "crm" && tr.ErrKind != "" {
			t.Errorf("crm task failed unexpectedly: %+v", tr)
		}
	}
}

func TestProcessRequest_RetrySucceedsAfterTransientError(t *testing.T) {
	var attempts atomic.Int32
	o := newTestOrchestrator(t,
		[]*models.Agent{activeAgent("crm-1", models.AgentTypeCRM, "crm")},
		map[string]agent.HandlerFunc{
			"crm": func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
				if attempts.Add(1) == 1 {
					return nil, errors.New("transient backend error")
				}
				return map[string]any{"status": "created"}, nil
			},
		},
	)

	// The first attempt errors, which also moves the only agent to error
	// state, so the retries find no one to route to.
	res, err := o.ProcessRequest(context.Background(), "create a lead", nil, nil)
	if err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if res.State != models.RequestStateFailed {
		t.Fatalf("state = %s, want failed while agent is in error state", res.State)
	}
	if attempts.Load() != 1 {
		t.Errorf("handler ran %d times, want 1 before the agent errored out", attempts.Load())
	}

	// Reset the agent and run again to show recovery works.
	if err := o.registry.Reset("crm-1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := o.registry.SetState("crm-1", models.AgentStateActive, ""); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	res, err = o.ProcessRequest(context.Background(), "create a lead", nil, nil)
	if err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("state after recovery = %s, want completed", res.State)
	}
	if attempts.Load() != 2 {
		t.Errorf("handler ran %d times total, want 2", attempts.Load())
	}
}

func TestProcessRequest_SequentialDependencies(t *testing.T) {
	var order []string
	done := make(chan string, 2)
	o := newTestOrchestrator(t,
		[]*models.Agent{
			activeAgent("crm-1", models.AgentTypeCRM, "crm"),
			activeAgent("sales-1", models.AgentTypeSales, "sales"),
		},
		map[string]agent.HandlerFunc{
			"crm": func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
				done <- "crm"
				return map[string]any{"ok": true}, nil
			},
			"sales": func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
				done <- "sales"
				return map[string]any{"ok": true}, nil
			},
		},
	)

	res, err := o.ProcessRequest(context.Background(),
		"create a lead and create an order", nil,
		map[string]any{"sequential": true})
	if err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("state = %s, want completed (tasks=%+v)", res.State, res.Tasks)
	}
	for i := 0; i < 2; i++ {
		order = append(order, <-done)
	}
	if order[0] != "crm" || order[1] != "sales" {
		t.Errorf("execution order = %v, want [crm sales]", order)
	}
}

func TestProcessRequest_DependencyFailureCascades(t *testing.T) {
	o := newTestOrchestrator(t,
		[]*models.Agent{
			activeAgent("crm-1", models.AgentTypeCRM, "crm"),
			activeAgent("sales-1", models.AgentTypeSales, "sales"),
		},
		map[string]agent.HandlerFunc{
			"crm": func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
				return nil, errors.New("permanent failure")
			},
			"sales": func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
				t.Error("dependent task ran despite failed dependency")
				return map[string]any{}, nil
			},
		},
	)

	res, err := o.ProcessRequest(context.Background(),
		"create a lead and create an order", nil,
		map[string]any{"sequential": true})
	if err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if res.State != models.RequestStateFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if len(res.Tasks) != 2 {
		t.Fatalf("got %d task results, want 2", len(res.Tasks))
	}
	if res.Tasks[1].ErrKind != models.ErrorKindDependency {
		t.Errorf("dependent error kind = %s, want %s", res.Tasks[1].ErrKind, models.ErrorKindDependency)
	}
}

func TestProcessRequest_TaskTimeout(t *testing.T) {
	o := newTestOrchestrator(t,
		[]*models.Agent{activeAgent("crm-1", models.AgentTypeCRM, "crm")},
		map[string]agent.HandlerFunc{
			"crm": func(ctx context.Context, inv agent.Invocation) (map[string]any, error) {
				select {
				case <-time.After(10 * time.Second):
					return map[string]any{}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		},
		WithTaskDeadline(30*time.Millisecond),
		WithRetryPolicy(queue.RetryPolicy{MaxAttempts: 1, BackoffBase: time.Millisecond, BackoffCap: time.Millisecond}),
	)

	res, err := o.ProcessRequest(context.Background(), "create a lead", nil, nil)
	if err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if res.State != models.RequestStateFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if res.Tasks[0].ErrKind != models.ErrorKindTimeout {
		t.Errorf("error kind = %s, want %s", res.Tasks[0].ErrKind, models.ErrorKindTimeout)
	}
}

func TestProcessRequest_RetryAvoidsTimedOutAgent(t *testing.T) {
	o := newTestOrchestrator(t,
		[]*models.Agent{
			activeAgent("crm-1", models.AgentTypeCRM, "crm"),
			activeAgent("crm-2", models.AgentTypeCRM, "crm"),
		},
		map[string]agent.HandlerFunc{
			"crm": func(ctx context.Context, inv agent.Invocation) (map[string]any, error) {
				// crm-1 never answers in time; it stays active, so
				// only the retry routing keeps it from being picked
				// again.
				if inv.Agent.ID == "crm-1" {
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return map[string]any{"ok": true}, nil
			},
		},
		WithTaskDeadline(30*time.Millisecond),
		WithRetryPolicy(queue.RetryPolicy{MaxAttempts: 2, BackoffBase: time.Millisecond, BackoffCap: time.Millisecond}),
	)

	res, err := o.ProcessRequest(context.Background(), "create a lead", nil, nil)
	if err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("result state = %s, want completed (tasks=%+v)", res.State, res.Tasks)
	}
	if res.Tasks[0].AgentID != "crm-2" {
		t.Errorf("retry ran on %s, want crm-2", res.Tasks[0].AgentID)
	}
}

func TestStop_DrainsInFlightWork(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	o := newTestOrchestrator(t,
		[]*models.Agent{
			activeAgent("crm-1", models.AgentTypeCRM, "crm"),
			activeAgent("sales-1", models.AgentTypeSales, "sales"),
		},
		map[string]agent.HandlerFunc{
			"crm": func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
				started <- struct{}{}
				<-release
				return map[string]any{"ok": true}, nil
			},
			"sales": func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
				started <- struct{}{}
				<-release
				return map[string]any{"ok": true}, nil
			},
		},
	)

	resCh := make(chan *models.Result, 1)
	go func() {
		res, err := o.ProcessRequest(context.Background(), "create a lead and create an order", nil, nil)
		if err != nil {
			t.Errorf("ProcessRequest failed: %v", err)
		}
		resCh <- res
	}()

	// Both tasks are running when Stop begins.
	<-started
	<-started

	stopDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopDone <- o.Stop(ctx)
	}()

	// Stop must not return while tasks are still running.
	select {
	case err := <-stopDone:
		t.Fatalf("Stop returned before tasks finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// New requests are rejected while stopping, and the rejection
	// reads as not-running to callers that only check for that.
	if _, err := o.ProcessRequest(context.Background(), "create a lead", nil, nil); !errors.Is(err, ErrStopping) || !errors.Is(err, ErrNotRunning) {
		t.Errorf("ProcessRequest during stop = %v, want ErrStopping matching ErrNotRunning", err)
	}

	close(release)

	if err := <-stopDone; err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	res := <-resCh
	if res == nil || !res.Succeeded() {
		t.Errorf("drained request result = %+v, want completed", res)
	}

	// Fully stopped now.
	if _, err := o.ProcessRequest(context.Background(), "create a lead", nil, nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ProcessRequest after stop = %v, want ErrNotRunning", err)
	}
}

func TestStop_AbortFailsPendingTasks(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	o := newTestOrchestrator(t,
		[]*models.Agent{activeAgent("crm-1", models.AgentTypeCRM, "crm")},
		map[string]agent.HandlerFunc{
			"crm": func(ctx context.Context, inv agent.Invocation) (map[string]any, error) {
				started <- struct{}{}
				select {
				case <-release:
					return map[string]any{"ok": true}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		},
		WithAbortOnStop(true),
	)
	defer close(release)

	resCh := make(chan *models.Result, 1)
	go func() {
		res, _ := o.ProcessRequest(context.Background(), "create a lead", nil, nil)
		resCh <- res
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	res := <-resCh
	if res == nil {
		t.Fatal("aborted request returned no result")
	}
	if res.State != models.RequestStateFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if res.Tasks[0].ErrKind != models.ErrorKindStopped {
		t.Errorf("error kind = %s, want %s", res.Tasks[0].ErrKind, models.ErrorKindStopped)
	}
}

func TestStop_DrainsAfterStartContextCanceled(t *testing.T) {
	reg := registry.New()
	if err := reg.Register(activeAgent("crm-1", models.AgentTypeCRM, "crm"), false); err != nil {
		t.Fatalf("register: %v", err)
	}
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	rt := agent.NewRuntime(nil)
	rt.Replace("crm", func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
		started <- struct{}{}
		<-release
		return map[string]any{"ok": true}, nil
	})

	o, err := New(RequiredConfig{Registry: reg, Runtime: rt},
		WithTaskDeadline(2*time.Second),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	startCtx, cancelStart := context.WithCancel(context.Background())
	if err := o.Start(startCtx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resCh := make(chan *models.Result, 1)
	go func() {
		res, err := o.ProcessRequest(context.Background(), "create a lead", nil, nil)
		if err != nil {
			t.Errorf("ProcessRequest failed: %v", err)
		}
		resCh <- res
	}()
	<-started

	// The caller's context going away must not tear the loops down
	// while a request is still in flight.
	cancelStart()

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case res := <-resCh:
		if res == nil || !res.Succeeded() {
			t.Fatalf("result = %+v, want completed", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request result never arrived")
	}
}

func TestProcessRequest_NotRunning(t *testing.T) {
	reg := registry.New()
	rt := agent.NewRuntime(nil)
	o, err := New(RequiredConfig{Registry: reg, Runtime: rt})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := o.ProcessRequest(context.Background(), "anything", nil, nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ProcessRequest before Start = %v, want ErrNotRunning", err)
	}
}

func TestEvents_RequestLifecycle(t *testing.T) {
	o := newTestOrchestrator(t,
		[]*models.Agent{activeAgent("crm-1", models.AgentTypeCRM, "crm")},
		map[string]agent.HandlerFunc{
			"crm": func(_ context.Context, inv agent.Invocation) (map[string]any, error) {
				return map[string]any{"ok": true}, nil
			},
		},
	)

	if _, err := o.ProcessRequest(context.Background(), "create a lead", nil, nil); err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}

	seen := map[EventType]bool{}
	timeout := time.After(2 * time.Second)
	for !(seen[EventRequestAccepted] && seen[EventTaskRouted] && seen[EventTaskCompleted] && seen[EventRequestFinished]) {
		select {
		case ev := <-o.Events():
			seen[ev.Type] = true
		case <-timeout:
			t.Fatalf("missing lifecycle events, saw %v", seen)
		}
	}
}
