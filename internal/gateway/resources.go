package gateway

import (
	"strings"
	"time"
)

// Resource URIs exposed by the gateway.
const (
	resourceAgents       = "ai://agents"
	resourceAgentPrefix  = "ai://agent/"
	resourceOrchestrator = "ai://orchestrator/status"
)

func (s *Server) resourcesList() map[string]any {
	resources := []map[string]any{
		{
			"uri":         resourceAgents,
			"name":        "agents",
			"description": "List all registered agents",
			"mimeType":    "application/json",
		},
		{
			"uri":         resourceAgentPrefix + "{agent_id}",
			"name":        "agent",
			"description": "Detailed information about a specific agent",
			"mimeType":    "application/json",
		},
		{
			"uri":         resourceOrchestrator,
			"name":        "orchestrator-status",
			"description": "Orchestrator status and queue depth",
			"mimeType":    "application/json",
		},
	}
	return map[string]any{"resources": resources}
}

func (s *Server) resourcesRead(params any) (any, *jsonRPCError) {
	paramsMap, ok := params.(map[string]any)
	if !ok {
		return nil, &jsonRPCError{Code: -32602, Message: "invalid params"}
	}
	uri, _ := paramsMap["uri"].(string)

	switch {
	case uri == resourceAgents:
		return resourceContent(uri, mustJSON(s.agentList())), nil

	case strings.HasPrefix(uri, resourceAgentPrefix):
		agentID := strings.TrimPrefix(uri, resourceAgentPrefix)
		details, rpcErr := s.agentDetails(agentID)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return resourceContent(uri, mustJSON(details)), nil

	case uri == resourceOrchestrator:
		return resourceContent(uri, mustJSON(s.orchestratorStatus())), nil

	default:
		return nil, &jsonRPCError{Code: -32602, Message: "unknown resource: " + uri}
	}
}

func (s *Server) agentList() []map[string]any {
	agents := s.reg.All()
	list := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		list = append(list, map[string]any{
			"id":           a.ID,
			"name":         a.Name,
			"type":         a.Type,
			"state":        a.State,
			"capabilities": a.Capabilities,
		})
	}
	return list
}

func (s *Server) agentDetails(agentID string) (map[string]any, *jsonRPCError) {
	st, err := s.orch.AgentStatusByID(agentID)
	if err != nil {
		return nil, &jsonRPCError{Code: -32602, Message: "agent not found: " + agentID}
	}
	details := map[string]any{
		"id":           st.ID,
		"name":         st.Name,
		"type":         st.Type,
		"state":        st.State,
		"capabilities": st.Capabilities,
		"performance": map[string]any{
			"total_tasks":       st.Stats.TotalTasks,
			"success_rate":      st.Stats.SuccessRate(),
			"avg_response_time": st.Stats.AvgResponseTime.String(),
		},
		"load": st.Load,
	}
	if st.LastError != "" {
		details["last_error"] = st.LastError
	}
	return details, nil
}

func (s *Server) orchestratorStatus() map[string]any {
	st := s.orch.GetStatus()
	queue := make(map[string]int, len(st.Queue))
	for state, n := range st.Queue {
		queue[string(state)] = n
	}
	agentsByState := map[string]int{}
	for _, a := range st.Agents {
		agentsByState[string(a.State)]++
	}
	return map[string]any{
		"running":         st.Running,
		"task_queue":      queue,
		"active_requests": st.ActiveRequests,
		"agents":          agentsByState,
		"events_dropped":  st.EventsDropped,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
}

// resourceContent wraps a payload in the MCP resource content envelope.
func resourceContent(uri, text string) map[string]any {
	return map[string]any{
		"contents": []map[string]any{
			{"uri": uri, "mimeType": "application/json", "text": text},
		},
	}
}
