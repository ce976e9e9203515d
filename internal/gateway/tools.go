package gateway

import (
	"context"
	"fmt"

	"github.com/mwhitlock/chorus/pkg/models"
)

func (s *Server) toolsList() map[string]any {
	tools := []map[string]any{
		{
			"name": "process_request", "description": "Process a goal through the orchestrator",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"goal":        map[string]any{"type": "string"},
					"context":     map[string]any{"type": "object"},
					"constraints": map[string]any{"type": "object"},
				},
				"required": []string{"goal"},
			},
		},
		{
			"name": "execute_agent", "description": "Execute a task directly on an agent of the given type",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_type": map[string]any{"type": "string"},
					"task_data":  map[string]any{"type": "object"},
				},
				"required": []string{"agent_type"},
			},
		},
		{
			"name": "get_agent_status", "description": "Get status of all agents",
			"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
	return map[string]any{"tools": tools}
}

func (s *Server) toolsCall(ctx context.Context, params any) (any, *jsonRPCError) {
	paramsMap, ok := params.(map[string]any)
	if !ok {
		return nil, &jsonRPCError{Code: -32602, Message: "invalid params"}
	}
	toolName, _ := paramsMap["name"].(string)
	args, _ := paramsMap["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	switch toolName {
	case "process_request":
		return s.processRequest(ctx, args)
	case "execute_agent":
		return s.executeAgent(ctx, args)
	case "get_agent_status":
		return s.agentStatus()
	default:
		return nil, &jsonRPCError{Code: -32601, Message: fmt.Sprintf("unknown tool: %s", toolName)}
	}
}

func (s *Server) processRequest(ctx context.Context, args map[string]any) (any, *jsonRPCError) {
	goal, _ := args["goal"].(string)
	if goal == "" {
		return nil, &jsonRPCError{Code: -32602, Message: "goal is required"}
	}
	reqContext, _ := args["context"].(map[string]any)
	constraints, _ := args["constraints"].(map[string]any)

	result, err := s.orch.ProcessRequest(ctx, goal, reqContext, constraints)
	if err != nil {
		return nil, &jsonRPCError{Code: -32603, Message: err.Error()}
	}
	return textContent(mustJSON(result)), nil
}

func (s *Server) executeAgent(ctx context.Context, args map[string]any) (any, *jsonRPCError) {
	agentType, _ := args["agent_type"].(string)
	if agentType == "" {
		return nil, &jsonRPCError{Code: -32602, Message: "agent_type is required"}
	}
	taskData, _ := args["task_data"].(map[string]any)
	if taskData == nil {
		taskData = map[string]any{}
	}

	a, err := s.reg.GetByType(models.AgentType(agentType))
	if err != nil {
		return nil, &jsonRPCError{Code: -32602, Message: fmt.Sprintf("agent type %q: %v", agentType, err)}
	}
	out, err := s.orch.ExecuteDirect(ctx, a.ID, taskData)
	if err != nil {
		return nil, &jsonRPCError{Code: -32603, Message: err.Error()}
	}
	return textContent(mustJSON(out)), nil
}

// agentStatus mirrors the status shape of the engine: one entry per
// agent keyed by name.
func (s *Server) agentStatus() (any, *jsonRPCError) {
	st := s.orch.GetStatus()
	status := make(map[string]any, len(st.Agents))
	for _, a := range st.Agents {
		entry := map[string]any{
			"type":         a.Type,
			"state":        a.State,
			"total_tasks":  a.Stats.TotalTasks,
			"success_rate": a.Stats.SuccessRate(),
			"load":         a.Load,
		}
		if a.LastError != "" {
			entry["last_error"] = a.LastError
		}
		status[a.Name] = entry
	}
	return textContent(mustJSON(status)), nil
}

// textContent wraps a payload in the MCP tool-result content envelope.
func textContent(text string) map[string]any {
	return map[string]any{"content": []map[string]any{{"type": "text", "text": text}}}
}
