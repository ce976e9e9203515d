// Package planner decomposes goals into task specifications the router can
// assign. Decomposition is a pure function of the goal, its context and
// constraints, and the capability metadata of registered agents; the planner
// never mutates the task queue or the registry.
package planner

import (
	"context"
	"fmt"
)

// CapabilitySource supplies the capabilities currently known to the engine.
// The registry implements this.
type CapabilitySource interface {
	Capabilities() []string
}

// TaskSpec is one planned unit of work: the capability it requires, its
// input payload, and the plan-local indices of the specs it depends on.
type TaskSpec struct {
	// Capability is the named capability required to execute the task.
	Capability string `json:"capability"`
	// Input is the structured input payload for the assigned agent.
	Input map[string]any `json:"input"`
	// DependsOn lists indices of specs that must complete first.
	DependsOn []int `json:"depends_on,omitempty"`
}

// Plan is the ordered decomposition of a goal. A plan with no tasks is
// unroutable: the result is reported, never raised, so the orchestrator
// decides whether it is user-visible.
type Plan struct {
	// Goal is the goal the plan was built from.
	Goal string `json:"goal"`
	// Tasks holds the planned specs, independent tasks first.
	Tasks []TaskSpec `json:"tasks"`
	// Unmatched lists goal portions no capability covers.
	Unmatched []string `json:"unmatched,omitempty"`
}

// Unroutable reports whether no portion of the goal matched a capability.
func (p *Plan) Unroutable() bool {
	return len(p.Tasks) == 0
}

// Planner builds plans using a pluggable capability matcher.
type Planner struct {
	caps    CapabilitySource
	matcher Matcher
}

// New creates a Planner. A nil matcher falls back to the keyword matcher.
func New(caps CapabilitySource, matcher Matcher) *Planner {
	if matcher == nil {
		matcher = NewKeywordMatcher()
	}
	return &Planner{caps: caps, matcher: matcher}
}

// Decompose produces a plan for the goal. A goal matching a single
// capability yields exactly one task; a compound goal yields one task per
// matched capability. Recognized constraints:
//
//   - max_tasks (number): caps the plan size; excess matches are dropped
//     from the tail and reported as unmatched.
//   - sequential (bool): chains the tasks so each depends on the previous
//     one's completion.
func (p *Planner) Decompose(ctx context.Context, goal string, reqContext, constraints map[string]any) (*Plan, error) {
	if goal == "" {
		return nil, fmt.Errorf("decompose: empty goal")
	}

	matches, unmatched, err := p.matcher.Match(ctx, goal, p.caps.Capabilities())
	if err != nil {
		return nil, fmt.Errorf("decompose: match goal: %w", err)
	}

	plan := &Plan{Goal: goal, Unmatched: unmatched}
	if len(matches) == 0 {
		return plan, nil
	}

	if max, ok := intConstraint(constraints, "max_tasks"); ok && max > 0 && len(matches) > max {
		for _, dropped := range matches[max:] {
			plan.Unmatched = append(plan.Unmatched, dropped.Portion)
		}
		matches = matches[:max]
	}

	sequential, _ := constraints["sequential"].(bool)
	for i, m := range matches {
		spec := TaskSpec{
			Capability: m.Capability,
			Input: map[string]any{
				"goal":    m.Portion,
				"context": reqContext,
			},
		}
		if sequential && i > 0 {
			spec.DependsOn = []int{i - 1}
		}
		plan.Tasks = append(plan.Tasks, spec)
	}
	return plan, nil
}

// intConstraint reads a numeric constraint that may arrive as any JSON
// number type.
func intConstraint(constraints map[string]any, key string) (int, bool) {
	switch v := constraints[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
