package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mwhitlock/chorus/internal/registry"
	"github.com/mwhitlock/chorus/pkg/models"
)

// AgentStatus is the point-in-time view of one agent.
type AgentStatus struct {
	// ID is the agent identifier.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Type is the agent type.
	Type models.AgentType `json:"type"`
	// State is the lifecycle state.
	State models.AgentState `json:"state"`
	// Capabilities lists the declared capabilities.
	Capabilities []string `json:"capabilities"`
	// Load is the number of tasks currently assigned.
	Load int `json:"load"`
	// Stats holds completion counters and timing.
	Stats models.AgentStats `json:"stats"`
	// LastError is the most recent failure message, if any.
	LastError string `json:"last_error,omitempty"`
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	// Running reports whether the orchestrator loops are live.
	Running bool `json:"running"`
	// Agents holds per-agent status in registration order.
	Agents []AgentStatus `json:"agents"`
	// Queue is the task count per lifecycle state.
	Queue map[models.TaskState]int `json:"queue"`
	// ActiveRequests is the number of requests not yet aggregated.
	ActiveRequests int `json:"active_requests"`
	// EventsDropped counts events dropped from a full event channel.
	EventsDropped uint64 `json:"events_dropped"`
}

// GetStatus assembles a snapshot of the orchestrator, its agents, and
// its queue.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	running := o.running
	active := len(o.requests)
	o.mu.Unlock()

	st := Status{
		Running:        running,
		Queue:          o.queue.Depth(),
		ActiveRequests: active,
		EventsDropped:  o.emitter.DroppedCount(),
	}
	for _, a := range o.registry.All() {
		st.Agents = append(st.Agents, AgentStatus{
			ID:           a.ID,
			Name:         a.Name,
			Type:         a.Type,
			State:        a.State,
			Capabilities: a.Capabilities,
			Load:         o.registry.Load(a.ID),
			Stats:        o.registry.Stats(a.ID),
			LastError:    a.LastError,
		})
	}
	return st
}

// AgentStatusByID returns the status of a single agent.
func (o *Orchestrator) AgentStatusByID(agentID string) (*AgentStatus, error) {
	a, err := o.registry.Get(agentID)
	if err != nil {
		return nil, err
	}
	return &AgentStatus{
		ID:           a.ID,
		Name:         a.Name,
		Type:         a.Type,
		State:        a.State,
		Capabilities: a.Capabilities,
		Load:         o.registry.Load(a.ID),
		Stats:        o.registry.Stats(a.ID),
		LastError:    a.LastError,
	}, nil
}

// ExecuteDirect runs a single task on a named agent, bypassing the
// planner and router. Used by the execute_agent protocol tool.
func (o *Orchestrator) ExecuteDirect(ctx context.Context, agentID string, input map[string]any) (map[string]any, error) {
	a, err := o.registry.Get(agentID)
	if err != nil {
		return nil, err
	}
	if a.State != models.AgentStateActive {
		return nil, fmt.Errorf("execute on %s: %w", agentID, registry.ErrAgentNotActive)
	}

	t := &models.Task{
		ID:         uuid.New().String(),
		Capability: firstCapability(a),
		Input:      input,
		State:      models.TaskStateRunning,
		CreatedAt:  time.Now(),
		StartedAt:  time.Now(),
	}

	deadline := o.taskDeadline
	ectx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	o.registry.IncLoad(a.ID)
	started := time.Now()
	out, err := o.runtime.Execute(ectx, a, t)
	o.registry.DecLoad(a.ID, err == nil, time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("execute on %s: %w", agentID, err)
	}
	return out, nil
}

func firstCapability(a *models.Agent) string {
	if len(a.Capabilities) > 0 {
		return a.Capabilities[0]
	}
	return string(a.Type)
}
