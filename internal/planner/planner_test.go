package planner

import (
	"context"
	"testing"
)

type staticCaps []string

func (s staticCaps) Capabilities() []string { return s }

var businessCaps = staticCaps{"crm", "sales", "inventory", "accounting", "hr"}

func TestKeywordMatcher_SingleCapability(t *testing.T) {
	m := NewKeywordMatcher()

	matches, unmatched, err := m.Match(context.Background(), "create a lead for Acme", businessCaps)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(matches) != 1 || matches[0].Capability != "crm" {
		t.Fatalf("Match() = %v, want single crm match", matches)
	}
	if len(unmatched) != 0 {
		t.Errorf("unmatched = %v, want none", unmatched)
	}
}

func TestKeywordMatcher_CompoundGoal(t *testing.T) {
	m := NewKeywordMatcher()

	matches, unmatched, err := m.Match(context.Background(),
		"create a lead for Acme and draft a sales quotation", businessCaps)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Match() = %v, want 2 matches", matches)
	}
	if matches[0].Capability != "crm" || matches[1].Capability != "sales" {
		t.Errorf("matched capabilities = %s, %s; want crm, sales",
			matches[0].Capability, matches[1].Capability)
	}
	if len(unmatched) != 0 {
		t.Errorf("unmatched = %v, want none", unmatched)
	}
}

func TestKeywordMatcher_PartiallyRoutable(t *testing.T) {
	m := NewKeywordMatcher()

	matches, unmatched, err := m.Match(context.Background(),
		"check stock for widgets and water the office plants", businessCaps)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(matches) != 1 || matches[0].Capability != "inventory" {
		t.Fatalf("Match() = %v, want single inventory match", matches)
	}
	if len(unmatched) != 1 {
		t.Fatalf("unmatched = %v, want one portion", unmatched)
	}
}

func TestKeywordMatcher_CustomCapabilityMatchesOwnName(t *testing.T) {
	m := NewKeywordMatcher()

	matches, _, err := m.Match(context.Background(),
		"run the payroll export", staticCaps{"crm", "payroll"})
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(matches) != 1 || matches[0].Capability != "payroll" {
		t.Fatalf("Match() = %v, want single payroll match", matches)
	}
}

func TestPlanner_Decompose_SingleTask(t *testing.T) {
	p := New(businessCaps, nil)

	plan, err := p.Decompose(context.Background(), "create a lead for Acme",
		map[string]any{"user": "demo"}, nil)
	if err != nil {
		t.Fatalf("Decompose() error: %v", err)
	}
	if plan.Unroutable() {
		t.Fatal("plan unexpectedly unroutable")
	}
	if len(plan.Tasks) != 1 {
		t.Fatalf("plan has %d tasks, want 1", len(plan.Tasks))
	}

	spec := plan.Tasks[0]
	if spec.Capability != "crm" {
		t.Errorf("capability = %s, want crm", spec.Capability)
	}
	if spec.Input["goal"] != "create a lead for Acme" {
		t.Errorf("input goal = %v", spec.Input["goal"])
	}
	if len(spec.DependsOn) != 0 {
		t.Errorf("independent task has dependencies: %v", spec.DependsOn)
	}
}

func TestPlanner_Decompose_Unroutable(t *testing.T) {
	p := New(businessCaps, nil)

	plan, err := p.Decompose(context.Background(), "compose a symphony", nil, nil)
	if err != nil {
		t.Fatalf("Decompose() error: %v", err)
	}
	if !plan.Unroutable() {
		t.Fatal("expected unroutable plan")
	}
	if len(plan.Unmatched) != 1 || plan.Unmatched[0] != "compose a symphony" {
		t.Errorf("Unmatched = %v, want the whole goal", plan.Unmatched)
	}
}

func TestPlanner_Decompose_SequentialConstraint(t *testing.T) {
	p := New(businessCaps, nil)

	plan, err := p.Decompose(context.Background(),
		"create a lead for Acme and then create a sales order",
		nil, map[string]any{"sequential": true})
	if err != nil {
		t.Fatalf("Decompose() error: %v", err)
	}
	if len(plan.Tasks) != 2 {
		t.Fatalf("plan has %d tasks, want 2", len(plan.Tasks))
	}
	if len(plan.Tasks[0].DependsOn) != 0 {
		t.Errorf("first task has dependencies: %v", plan.Tasks[0].DependsOn)
	}
	if len(plan.Tasks[1].DependsOn) != 1 || plan.Tasks[1].DependsOn[0] != 0 {
		t.Errorf("second task DependsOn = %v, want [0]", plan.Tasks[1].DependsOn)
	}
}

func TestPlanner_Decompose_MaxTasksConstraint(t *testing.T) {
	p := New(businessCaps, nil)

	// max_tasks arrives as float64 when decoded from JSON.
	plan, err := p.Decompose(context.Background(),
		"create a lead and create an order and check stock",
		nil, map[string]any{"max_tasks": float64(2)})
	if err != nil {
		t.Fatalf("Decompose() error: %v", err)
	}
	if len(plan.Tasks) != 2 {
		t.Fatalf("plan has %d tasks, want 2", len(plan.Tasks))
	}
	if len(plan.Unmatched) != 1 {
		t.Errorf("Unmatched = %v, want the dropped portion", plan.Unmatched)
	}
}

func TestPlanner_Decompose_EmptyGoal(t *testing.T) {
	p := New(businessCaps, nil)
	if _, err := p.Decompose(context.Background(), "", nil, nil); err == nil {
		t.Fatal("Decompose(\"\") returned nil error")
	}
}

func TestParseMatcherResponse(t *testing.T) {
	text := "```json\n{\"matches\": [{\"capability\": \"crm\", \"portion\": \"create a lead\"}], \"unmatched\": []}\n```"
	parsed, err := parseMatcherResponse(text)
	if err != nil {
		t.Fatalf("parseMatcherResponse() error: %v", err)
	}
	if len(parsed.Matches) != 1 || parsed.Matches[0].Capability != "crm" {
		t.Errorf("parsed = %+v", parsed)
	}

	if _, err := parseMatcherResponse("no json here"); err == nil {
		t.Error("expected error for response without JSON")
	}
}
