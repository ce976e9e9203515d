// Package agent provides the execution runtime for Chorus agents.
// Handlers are registered per capability; the runtime resolves the
// handler for a task's capability, runs it with the agent's identity
// and the task input, and returns the structured output. Builtin
// handlers cover the stock business capabilities; custom handlers can
// be registered alongside them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mwhitlock/chorus/internal/store"
	"github.com/mwhitlock/chorus/pkg/models"
)

var (
	// ErrNoHandler indicates no handler is registered for a capability.
	ErrNoHandler = errors.New("no handler for capability")
	// ErrHandlerExists indicates a handler is already registered for a
	// capability.
	ErrHandlerExists = errors.New("handler already registered")
)

// Invocation carries everything a handler needs for one task execution.
type Invocation struct {
	// Agent is the agent the task was routed to.
	Agent *models.Agent
	// Task is the task being executed.
	Task *models.Task
	// Records gives handlers access to business record persistence.
	Records store.RecordStore
}

// Input returns the task's input payload, never nil.
func (inv Invocation) Input() map[string]any {
	if inv.Task == nil || inv.Task.Input == nil {
		return map[string]any{}
	}
	return inv.Task.Input
}

// Goal returns the goal portion assigned to this task, if any.
func (inv Invocation) Goal() string {
	s, _ := inv.Input()["goal"].(string)
	return s
}

// HandlerFunc executes one task and returns its structured output.
// Handlers must honor ctx cancellation for long-running work.
type HandlerFunc func(ctx context.Context, inv Invocation) (map[string]any, error)

// Runtime resolves and executes capability handlers.
type Runtime struct {
	handlers map[string]HandlerFunc
	records  store.RecordStore
	mu       sync.RWMutex
}

// NewRuntime creates a runtime with the builtin handlers registered.
func NewRuntime(records store.RecordStore) *Runtime {
	rt := &Runtime{
		handlers: make(map[string]HandlerFunc),
		records:  records,
	}
	rt.handlers["crm"] = handleCRM
	rt.handlers["sales"] = handleSales
	rt.handlers["inventory"] = handleInventory
	rt.handlers["accounting"] = handleAccounting
	rt.handlers["hr"] = handleHR
	rt.handlers["custom"] = handleCustom
	return rt
}

// Register adds a handler for a capability. Registering a capability
// twice is an error; use Replace to swap a builtin out.
func (rt *Runtime) Register(capability string, h HandlerFunc) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.handlers[capability]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, capability)
	}
	rt.handlers[capability] = h
	return nil
}

// Replace sets the handler for a capability, overwriting any existing one.
func (rt *Runtime) Replace(capability string, h HandlerFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.handlers[capability] = h
}

// Handles reports whether a handler is registered for the capability.
func (rt *Runtime) Handles(capability string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	_, ok := rt.handlers[capability]
	return ok
}

// resolve finds the handler for a task. Lookup falls back from the
// task capability to the agent's type tag, then to the custom handler
// so bespoke capabilities still execute.
func (rt *Runtime) resolve(a *models.Agent, t *models.Task) HandlerFunc {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if h, ok := rt.handlers[t.Capability]; ok {
		return h
	}
	if h, ok := rt.handlers[string(a.Type)]; ok {
		return h
	}
	return rt.handlers["custom"]
}

// Execute runs the task on the given agent and returns its output.
// The handler runs on its own goroutine so a ctx deadline interrupts
// the wait even if the handler ignores cancellation.
func (rt *Runtime) Execute(ctx context.Context, a *models.Agent, t *models.Task) (map[string]any, error) {
	h := rt.resolve(a, t)
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, t.Capability)
	}

	inv := Invocation{Agent: a, Task: t, Records: rt.records}

	type outcome struct {
		output map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := h(ctx, inv)
		done <- outcome{out, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.output, o.err
	}
}
