package models

import "time"

// AgentType is the capability category an agent belongs to.
type AgentType string

const (
	// AgentTypePlanner decomposes goals into task plans.
	AgentTypePlanner AgentType = "planner"
	// AgentTypeRouter assigns tasks to specialized agents.
	AgentTypeRouter AgentType = "router"
	// AgentTypeCRM handles lead and customer operations.
	AgentTypeCRM AgentType = "crm"
	// AgentTypeSales handles order and quotation operations.
	AgentTypeSales AgentType = "sales"
	// AgentTypeInventory handles stock and warehouse operations.
	AgentTypeInventory AgentType = "inventory"
	// AgentTypeAccounting handles invoice and financial operations.
	AgentTypeAccounting AgentType = "accounting"
	// AgentTypeHR handles employee operations.
	AgentTypeHR AgentType = "hr"
	// AgentTypeCustom is the extension point for operator-defined agents.
	AgentTypeCustom AgentType = "custom"
)

// Valid returns true if the type is a known value.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypePlanner, AgentTypeRouter, AgentTypeCRM, AgentTypeSales,
		AgentTypeInventory, AgentTypeAccounting, AgentTypeHR, AgentTypeCustom:
		return true
	default:
		return false
	}
}

// AgentState represents the operational state of an agent.
type AgentState string

const (
	// AgentStateInactive indicates the agent is registered but not routable.
	AgentStateInactive AgentState = "inactive"
	// AgentStateActive indicates the agent accepts routed tasks.
	AgentStateActive AgentState = "active"
	// AgentStateError indicates the agent failed and is excluded from
	// routing until an explicit reset.
	AgentStateError AgentState = "error"
)

// Valid returns true if the state is a known value.
func (s AgentState) Valid() bool {
	switch s {
	case AgentStateInactive, AgentStateActive, AgentStateError:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the agent state graph permits moving
// to the given state. The graph is fixed: inactive<->active, active->error,
// and error->inactive (explicit reset).
func (s AgentState) CanTransitionTo(next AgentState) bool {
	switch s {
	case AgentStateInactive:
		return next == AgentStateActive
	case AgentStateActive:
		return next == AgentStateInactive || next == AgentStateError
	case AgentStateError:
		return next == AgentStateInactive
	default:
		return false
	}
}

// Agent represents a unit of specialized execution capability.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is the human-readable agent name.
	Name string `json:"name"`
	// Type is the capability category of this agent.
	Type AgentType `json:"type"`
	// Capabilities lists the named capabilities this agent declares.
	Capabilities []string `json:"capabilities"`
	// State is the operational state of the agent.
	State AgentState `json:"state"`
	// Config is an opaque configuration blob passed to the agent's handler.
	Config map[string]any `json:"config,omitempty"`
	// Seq is the registration order, used as the default routing priority.
	Seq int `json:"seq"`
	// LastError is the most recent failure detail, set when State is error.
	LastError string `json:"last_error,omitempty"`
	// LastActivity is when the agent last executed a task.
	LastActivity time.Time `json:"last_activity"`
}

// DeclaresCapability reports whether the agent declares the given capability.
func (a *Agent) DeclaresCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// AgentStats holds per-agent performance accounting.
type AgentStats struct {
	// TotalTasks is the number of tasks executed by the agent.
	TotalTasks int `json:"total_tasks"`
	// CompletedTasks is the number of tasks that completed successfully.
	CompletedTasks int `json:"completed_tasks"`
	// AvgResponseTime is the mean wall-clock duration of completed tasks.
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// SuccessRate returns the completion percentage, or 0 with no history.
func (s AgentStats) SuccessRate() float64 {
	if s.TotalTasks == 0 {
		return 0
	}
	return float64(s.CompletedTasks) / float64(s.TotalTasks) * 100
}
