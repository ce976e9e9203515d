// Package router assigns a concrete agent to each task. Selection is
// load-aware: among the active agents declaring a capability, the one with
// the fewest running tasks wins, falling back to registration order.
package router

import (
	"errors"
	"fmt"

	"github.com/mwhitlock/chorus/internal/registry"
	"github.com/mwhitlock/chorus/pkg/models"
)

// ErrNoAgentAvailable indicates no active agent declares the required
// capability.
var ErrNoAgentAvailable = errors.New("no agent available")

// Router selects agents for tasks from the registry.
type Router struct {
	registry *registry.Registry
}

// New creates a Router backed by the given registry.
func New(reg *registry.Registry) *Router {
	return &Router{registry: reg}
}

// Route selects exactly one active agent for the capability. Agents in the
// exclude list are skipped, which is how re-routing after an agent failure
// avoids the agent that just failed. Fails with ErrNoAgentAvailable when
// the resolved set is empty.
func (r *Router) Route(capability string, exclude ...string) (*models.Agent, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	var best *models.Agent
	bestLoad := 0
	// Resolve returns registration order, so the first agent at the
	// minimum load wins exact ties.
	for _, a := range r.registry.Resolve(capability) {
		if excluded[a.ID] {
			continue
		}
		load := r.registry.Load(a.ID)
		if best == nil || load < bestLoad {
			best = a
			bestLoad = load
		}
	}
	if best == nil {
		return nil, fmt.Errorf("route capability %q: %w", capability, ErrNoAgentAvailable)
	}
	return best, nil
}
