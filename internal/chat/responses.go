package chat

import (
	"fmt"
	"strings"

	"github.com/mwhitlock/chorus/pkg/models"
)

// helpMessage describes what the assistant can do, grouped by the
// business areas the default agents cover.
func (s *Session) helpMessage() string {
	var b strings.Builder

	b.WriteString(s.render(s.labelStyle, "I'm your AI assistant. I can help with:"))
	b.WriteString("\n\n")

	sections := []struct {
		title    string
		examples []string
	}{
		{"CRM", []string{
			"Create a new lead for ABC Company",
			"Find all leads for Acme",
		}},
		{"Sales", []string{
			"Create a sales order for customer ABC Corp",
		}},
		{"Inventory", []string{
			"Check stock levels for product XYZ",
		}},
		{"Accounting", []string{
			"Create an invoice for customer XYZ",
		}},
		{"HR", []string{
			"Find employees in the sales department",
		}},
	}
	for _, sec := range sections {
		b.WriteString(s.render(s.labelStyle, sec.title+":"))
		b.WriteString("\n")
		for _, ex := range sec.examples {
			b.WriteString("  • \"" + ex + "\"\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(s.render(s.dimStyle,
		"Ask \"status\" for system health or \"agents\" to list agents."))
	return b.String()
}

// statusMessage summarizes orchestrator and agent health.
func (s *Session) statusMessage() string {
	st := s.orch.GetStatus()

	state := "stopped"
	if st.Running {
		state = "running"
	}

	active := 0
	for _, a := range st.Agents {
		if a.State == models.AgentStateActive {
			active++
		}
	}

	var totalTasks, completed int
	for _, a := range st.Agents {
		totalTasks += a.Stats.TotalTasks
		completed += a.Stats.CompletedTasks
	}
	successRate := 0.0
	if totalTasks > 0 {
		successRate = float64(completed) / float64(totalTasks) * 100
	}

	var b strings.Builder
	b.WriteString(s.render(s.labelStyle, "System Status:"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  • Orchestrator: %s\n", state))
	b.WriteString(fmt.Sprintf("  • Active Agents: %d/%d\n", active, len(st.Agents)))
	b.WriteString(fmt.Sprintf("  • Total Tasks: %d\n", totalTasks))
	b.WriteString(fmt.Sprintf("  • Success Rate: %.1f%%\n", successRate))
	b.WriteString(fmt.Sprintf("  • Active Requests: %d", st.ActiveRequests))
	return b.String()
}

// agentsMessage lists the registered agents with their state and
// per-agent statistics.
func (s *Session) agentsMessage() string {
	st := s.orch.GetStatus()
	if len(st.Agents) == 0 {
		return s.render(s.dimStyle, "No agents are currently registered.")
	}

	var b strings.Builder
	b.WriteString(s.render(s.labelStyle, "Available Agents:"))
	b.WriteString("\n")
	for _, a := range st.Agents {
		marker := s.render(s.failStyle, "●")
		if a.State == models.AgentStateActive {
			marker = s.render(s.okStyle, "●")
		}
		b.WriteString(fmt.Sprintf("%s %s (%s)\n",
			marker, s.render(s.labelStyle, a.Name), a.Type))
		b.WriteString(s.render(s.dimStyle, fmt.Sprintf(
			"   tasks: %d, success: %.1f%%, load: %d",
			a.Stats.TotalTasks, a.Stats.SuccessRate(), a.Load)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
