package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mwhitlock/chorus/pkg/models"
)

// AgentDef is one agent definition in agents.yaml.
type AgentDef struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Type         string         `yaml:"type"`
	Capabilities []string       `yaml:"capabilities"`
	Config       map[string]any `yaml:"config,omitempty"`
}

// agentsFile is the top-level agents.yaml document.
type agentsFile struct {
	Agents []AgentDef `yaml:"agents"`
}

// AgentsPath returns the agents.yaml path inside the state directory.
func AgentsPath(stateDir string) string {
	return filepath.Join(stateDir, "agents.yaml")
}

// LoadAgents reads agent definitions from a YAML file and validates
// them into registry-ready models. Agents start inactive; activation
// is an explicit lifecycle step.
func LoadAgents(path string) ([]*models.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agents file: %w", err)
	}

	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	agents := make([]*models.Agent, 0, len(f.Agents))
	seen := make(map[string]bool)
	for i, def := range f.Agents {
		if def.ID == "" {
			return nil, fmt.Errorf("agent %d: missing id", i)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("agent %d: duplicate id %q", i, def.ID)
		}
		seen[def.ID] = true

		agentType := models.AgentType(def.Type)
		if !agentType.Valid() {
			return nil, fmt.Errorf("agent %q: unknown type %q", def.ID, def.Type)
		}

		name := def.Name
		if name == "" {
			name = def.ID
		}

		agents = append(agents, &models.Agent{
			ID:           def.ID,
			Name:         name,
			Type:         agentType,
			Capabilities: def.Capabilities,
			State:        models.AgentStateInactive,
			Config:       def.Config,
		})
	}
	return agents, nil
}

// EnsureAgentsFile writes the default agent definitions to path if no
// file exists yet. It returns true when the file was created.
func EnsureAgentsFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking agents file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("creating state directory: %w", err)
	}

	data, err := yaml.Marshal(agentsFile{Agents: DefaultAgents()})
	if err != nil {
		return false, fmt.Errorf("encoding default agents: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("writing agents file: %w", err)
	}
	return true, nil
}

// DefaultAgents returns the built-in agent roster. One agent per
// business area, plus the planner and router agents that represent
// the engine's own decomposition and routing stages.
func DefaultAgents() []AgentDef {
	return []AgentDef{
		{
			ID:           "planner-agent",
			Name:         "Planner Agent",
			Type:         "planner",
			Capabilities: []string{"planning", "coordination", "task_breakdown"},
		},
		{
			ID:           "router-agent",
			Name:         "Router Agent",
			Type:         "router",
			Capabilities: []string{"routing", "request_analysis", "agent_selection"},
		},
		{
			ID:           "crm-agent",
			Name:         "CRM Agent",
			Type:         "crm",
			Capabilities: []string{"crm", "lead_management", "opportunity_tracking", "customer_analysis"},
		},
		{
			ID:           "sales-agent",
			Name:         "Sales Agent",
			Type:         "sales",
			Capabilities: []string{"sales", "order_management", "quotation_handling", "sales_analysis"},
		},
		{
			ID:           "inventory-agent",
			Name:         "Inventory Agent",
			Type:         "inventory",
			Capabilities: []string{"inventory", "stock_management", "warehouse_operations", "inventory_analysis"},
		},
		{
			ID:           "accounting-agent",
			Name:         "Accounting Agent",
			Type:         "accounting",
			Capabilities: []string{"accounting", "invoice_management", "financial_reporting", "account_analysis"},
		},
		{
			ID:           "hr-agent",
			Name:         "HR Agent",
			Type:         "hr",
			Capabilities: []string{"hr", "employee_management", "attendance_tracking", "hr_analytics"},
		},
	}
}
