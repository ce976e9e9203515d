package agent

import (
	"context"
	"fmt"
	"strings"
)

// Builtin handlers for the stock business capabilities. Each accepts an
// explicit "action" in the task input and falls back to inferring one
// from the goal text, since planner-produced tasks carry only the goal.

func handleCRM(_ context.Context, inv Invocation) (map[string]any, error) {
	input := inv.Input()
	switch action(input, inv.Goal(), "create_lead", "search_leads") {
	case "create_lead":
		data := payload(input, "lead_data")
		if _, ok := data["name"]; !ok {
			data["name"] = inv.Goal()
		}
		id, err := inv.Records.CreateRecord("lead", data)
		if err != nil {
			return nil, fmt.Errorf("create lead: %w", err)
		}
		return map[string]any{"lead_id": id, "status": "created"}, nil

	case "search_leads":
		records, err := inv.Records.SearchRecords("lead", queryTerm(input, inv.Goal()))
		if err != nil {
			return nil, fmt.Errorf("search leads: %w", err)
		}
		leads := make([]map[string]any, 0, len(records))
		for _, r := range records {
			leads = append(leads, map[string]any{"id": r.ID, "name": r.Data["name"]})
		}
		return map[string]any{"leads": leads, "count": len(leads)}, nil
	}
	return map[string]any{"status": "unknown_action"}, nil
}

func handleSales(_ context.Context, inv Invocation) (map[string]any, error) {
	input := inv.Input()
	switch action(input, inv.Goal(), "create_order") {
	case "create_order":
		data := payload(input, "order_data")
		if _, ok := data["description"]; !ok {
			data["description"] = inv.Goal()
		}
		id, err := inv.Records.CreateRecord("order", data)
		if err != nil {
			return nil, fmt.Errorf("create order: %w", err)
		}
		return map[string]any{"order_id": id, "status": "created"}, nil
	}
	return map[string]any{"status": "unknown_action"}, nil
}

func handleInventory(_ context.Context, inv Invocation) (map[string]any, error) {
	input := inv.Input()
	switch action(input, inv.Goal(), "check_stock") {
	case "check_stock":
		product, _ := input["product"].(string)
		if product == "" {
			product = queryTerm(input, inv.Goal())
		}
		records, err := inv.Records.SearchRecords("product", product)
		if err != nil {
			return nil, fmt.Errorf("check stock: %w", err)
		}
		if len(records) == 0 {
			return map[string]any{"product": product, "available_qty": 0, "status": "not_found"}, nil
		}
		r := records[0]
		qty, _ := r.Data["available_qty"].(float64)
		return map[string]any{
			"product_id":    r.ID,
			"product":       r.Data["name"],
			"available_qty": qty,
			"status":        "in_stock",
		}, nil
	}
	return map[string]any{"status": "unknown_action"}, nil
}

func handleAccounting(_ context.Context, inv Invocation) (map[string]any, error) {
	input := inv.Input()
	switch action(input, inv.Goal(), "create_invoice") {
	case "create_invoice":
		data := payload(input, "invoice_data")
		if _, ok := data["description"]; !ok {
			data["description"] = inv.Goal()
		}
		id, err := inv.Records.CreateRecord("invoice", data)
		if err != nil {
			return nil, fmt.Errorf("create invoice: %w", err)
		}
		return map[string]any{"invoice_id": id, "status": "created"}, nil
	}
	return map[string]any{"status": "unknown_action"}, nil
}

func handleHR(_ context.Context, inv Invocation) (map[string]any, error) {
	input := inv.Input()
	switch action(input, inv.Goal(), "search_employees") {
	case "search_employees":
		records, err := inv.Records.SearchRecords("employee", queryTerm(input, inv.Goal()))
		if err != nil {
			return nil, fmt.Errorf("search employees: %w", err)
		}
		employees := make([]map[string]any, 0, len(records))
		for _, r := range records {
			employees = append(employees, map[string]any{"id": r.ID, "name": r.Data["name"]})
		}
		return map[string]any{"employees": employees, "count": len(employees)}, nil
	}
	return map[string]any{"status": "unknown_action"}, nil
}

// handleCustom echoes the task back. It is the terminal fallback, so
// bespoke capabilities without a registered handler still complete.
func handleCustom(_ context.Context, inv Invocation) (map[string]any, error) {
	return map[string]any{
		"status":     "custom_task_executed",
		"capability": inv.Task.Capability,
		"data":       inv.Input(),
	}, nil
}

// action returns the explicit "action" from the input when present,
// otherwise infers one from the goal text. The first known action whose
// verb class matches the goal wins; with no match the first known
// action is the default.
func action(input map[string]any, goal string, known ...string) string {
	if a, ok := input["action"].(string); ok && a != "" {
		return a
	}
	lower := strings.ToLower(goal)
	for _, a := range known {
		switch {
		case strings.HasPrefix(a, "create_") && containsAny(lower, "create", "new", "add", "open", "generate", "make"):
			return a
		case strings.HasPrefix(a, "search_") && containsAny(lower, "search", "find", "list", "show", "lookup", "look up"):
			return a
		case strings.HasPrefix(a, "check_") && containsAny(lower, "check", "stock", "available", "quantity", "how many"):
			return a
		}
	}
	if len(known) > 0 {
		return known[0]
	}
	return ""
}

// payload returns the named map from the input, or an empty map.
// The result is a copy so handlers can fill defaults safely.
func payload(input map[string]any, key string) map[string]any {
	out := map[string]any{}
	if m, ok := input[key].(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// queryTerm extracts the search query from the input, falling back to
// the goal with leading verb words stripped.
func queryTerm(input map[string]any, goal string) string {
	if q, ok := input["query"].(string); ok {
		return q
	}
	words := strings.Fields(strings.ToLower(goal))
	for len(words) > 0 && isVerbWord(words[0]) {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func isVerbWord(w string) bool {
	switch w {
	case "search", "find", "list", "show", "lookup", "check", "for", "the", "all", "a", "an":
		return true
	default:
		return false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
