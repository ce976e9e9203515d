// Package registry tracks known agents, their declared capabilities, and
// their operational state. It is the single source of truth the router
// consults when assigning tasks.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mwhitlock/chorus/pkg/models"
)

// ErrDuplicateIdentifier indicates a register call collided with an existing
// agent that declares a different capability set, without the update flag.
var ErrDuplicateIdentifier = errors.New("duplicate agent identifier")

// ErrInvalidTransition indicates a state change not permitted by the agent
// state graph.
var ErrInvalidTransition = errors.New("invalid agent state transition")

// ErrAgentNotFound indicates the requested agent is not registered.
var ErrAgentNotFound = errors.New("agent not found")

// ErrAgentNotActive indicates the agent exists but is not in the active state.
var ErrAgentNotActive = errors.New("agent not active")

// Registry provides thread-safe storage and resolution of agents.
// State changes are visible to subsequent Resolve calls immediately.
type Registry struct {
	// agents maps agent IDs to agent models.
	agents map[string]*models.Agent
	// loads maps agent IDs to the number of currently running tasks.
	loads map[string]int
	// stats maps agent IDs to performance accounting.
	stats map[string]*models.AgentStats
	// nextSeq is the registration order counter.
	nextSeq int
	// mu protects all fields.
	mu sync.RWMutex
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]*models.Agent),
		loads:  make(map[string]int),
		stats:  make(map[string]*models.AgentStats),
	}
}

// Register adds an agent, or updates it when update is true. Registering an
// existing identifier with a different capability set and update=false fails
// with ErrDuplicateIdentifier. The agent's type tag counts as an implicitly
// declared capability.
func (r *Registry) Register(a *models.Agent, update bool) error {
	if a.ID == "" {
		return fmt.Errorf("register agent: missing identifier")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("register agent %s: unknown type %q", a.ID, a.Type)
	}
	if a.State == "" {
		a.State = models.AgentStateInactive
	}
	if !a.State.Valid() {
		return fmt.Errorf("register agent %s: unknown state %q", a.ID, a.State)
	}
	if !a.DeclaresCapability(string(a.Type)) {
		a.Capabilities = append(a.Capabilities, string(a.Type))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.agents[a.ID]
	if ok && !update {
		if !sameCapabilities(existing.Capabilities, a.Capabilities) {
			return fmt.Errorf("register agent %s: %w", a.ID, ErrDuplicateIdentifier)
		}
		// Re-registering an identical capability set is a no-op.
		return nil
	}

	if ok {
		// Preserve registration order and stats across updates.
		a.Seq = existing.Seq
	} else {
		a.Seq = r.nextSeq
		r.nextSeq++
		r.stats[a.ID] = &models.AgentStats{}
	}
	// Keep a private copy so the caller's struct does not alias
	// registry state.
	r.agents[a.ID] = snapshotLocked(a)
	return nil
}

// Resolve returns the active agents declaring the given capability, ordered
// by registration order. An empty result is not an error; the caller decides
// whether that is fatal.
//
// Resolve, Get, GetByType, and All return detached copies: callers read them
// without racing SetState or load accounting, and mutating a returned agent
// never reaches the registry.
func (r *Registry) Resolve(capability string) []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.Agent
	for _, a := range r.agents {
		if a.State == models.AgentStateActive && a.DeclaresCapability(capability) {
			matched = append(matched, snapshotLocked(a))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Seq < matched[j].Seq
	})
	return matched
}

// snapshotLocked copies an agent out of the registry's internal state.
// Caller must hold r.mu.
func snapshotLocked(a *models.Agent) *models.Agent {
	c := *a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	if a.Config != nil {
		c.Config = make(map[string]any, len(a.Config))
		for k, v := range a.Config {
			c.Config[k] = v
		}
	}
	return &c
}

// SetState transitions an agent through the fixed state graph
// {inactive<->active, active->error, error->inactive}. Detail carries the
// error message when entering the error state.
func (r *Registry) SetState(agentID string, next models.AgentState, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("set state %s: %w", agentID, ErrAgentNotFound)
	}
	if !a.State.CanTransitionTo(next) {
		return fmt.Errorf("set state %s: %s -> %s: %w", agentID, a.State, next, ErrInvalidTransition)
	}

	a.State = next
	switch next {
	case models.AgentStateError:
		a.LastError = detail
	case models.AgentStateInactive:
		// Reset clears the recorded failure.
		a.LastError = ""
	}
	return nil
}

// Reset moves an errored agent back to inactive. Explicit operator action.
func (r *Registry) Reset(agentID string) error {
	return r.SetState(agentID, models.AgentStateInactive, "")
}

// Get returns the agent with the given ID.
func (r *Registry) Get(agentID string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("get agent %s: %w", agentID, ErrAgentNotFound)
	}
	return snapshotLocked(a), nil
}

// GetByType returns the first active agent of the given type in
// registration order.
func (r *Registry) GetByType(t models.AgentType) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.Agent
	found := false
	for _, a := range r.agents {
		if a.Type != t {
			continue
		}
		found = true
		if a.State != models.AgentStateActive {
			continue
		}
		if best == nil || a.Seq < best.Seq {
			best = a
		}
	}
	if best != nil {
		return snapshotLocked(best), nil
	}
	if found {
		return nil, fmt.Errorf("agent type %s: %w", t, ErrAgentNotActive)
	}
	return nil, fmt.Errorf("agent type %s: %w", t, ErrAgentNotFound)
}

// All returns every registered agent in registration order.
func (r *Registry) All() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := r.allLocked()
	out := make([]*models.Agent, len(agents))
	for i, a := range agents {
		out[i] = snapshotLocked(a)
	}
	return out
}

// allLocked returns agents in registration order. Caller must hold r.mu.
func (r *Registry) allLocked() []*models.Agent {
	agents := make([]*models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].Seq < agents[j].Seq
	})
	return agents
}

// Capabilities returns the deduplicated capabilities declared by active
// agents. Business categories come first in their canonical order, then any
// custom capabilities in registration order. The planner consumes this.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	declared := make(map[string]bool)
	var custom []string
	for _, a := range r.allLocked() {
		if a.State != models.AgentStateActive {
			continue
		}
		for _, c := range a.Capabilities {
			if !declared[c] {
				declared[c] = true
				if !canonicalCapability(c) {
					custom = append(custom, c)
				}
			}
		}
	}

	var caps []string
	for _, c := range canonicalOrder {
		if declared[c] {
			caps = append(caps, c)
		}
	}
	return append(caps, custom...)
}

// canonicalOrder fixes how business capabilities are reported and matched.
// Planner and router coordination capabilities are deliberately absent:
// they are never planned as executable tasks.
var canonicalOrder = []string{"crm", "sales", "inventory", "accounting", "hr"}

func canonicalCapability(c string) bool {
	if c == string(models.AgentTypePlanner) || c == string(models.AgentTypeRouter) {
		return true
	}
	for _, known := range canonicalOrder {
		if c == known {
			return true
		}
	}
	return false
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Load returns the number of tasks currently running on the agent.
func (r *Registry) Load(agentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loads[agentID]
}

// IncLoad records that a task started running on the agent.
func (r *Registry) IncLoad(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads[agentID]++
	if a, ok := r.agents[agentID]; ok {
		a.LastActivity = time.Now()
	}
}

// DecLoad records that a task finished on the agent and folds the outcome
// into the agent's performance stats.
func (r *Registry) DecLoad(agentID string, completed bool, responseTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loads[agentID] > 0 {
		r.loads[agentID]--
	}
	st, ok := r.stats[agentID]
	if !ok {
		return
	}
	st.TotalTasks++
	if completed {
		// Running mean keeps the accounting O(1) per task.
		total := st.AvgResponseTime*time.Duration(st.CompletedTasks) + responseTime
		st.CompletedTasks++
		st.AvgResponseTime = total / time.Duration(st.CompletedTasks)
	}
}

// Stats returns a copy of the agent's performance accounting.
func (r *Registry) Stats(agentID string) models.AgentStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if st, ok := r.stats[agentID]; ok {
		return *st
	}
	return models.AgentStats{}
}

func sameCapabilities(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, c := range a {
		seen[c] = true
	}
	for _, c := range b {
		if !seen[c] {
			return false
		}
	}
	return true
}
