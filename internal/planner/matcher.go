package planner

import (
	"context"
	"strings"
)

// Match pairs a goal portion with the capability that will handle it.
type Match struct {
	// Capability is the matched capability name.
	Capability string
	// Portion is the slice of the goal the capability was matched against.
	Portion string
}

// Matcher maps a free-text goal onto known capabilities. The algorithm is
// pluggable; the contract is fixed: matched portions come back as Match
// entries, portions no capability covers come back in unmatched.
type Matcher interface {
	Match(ctx context.Context, goal string, capabilities []string) (matches []Match, unmatched []string, err error)
}

// capabilityKeywords is the keyword table used to classify goal portions.
// Capabilities without an entry match on their own name.
var capabilityKeywords = map[string][]string{
	"crm":        {"lead", "customer", "opportunity", "crm"},
	"sales":      {"sale", "sales", "order", "quotation"},
	"inventory":  {"stock", "inventory", "warehouse", "product"},
	"accounting": {"account", "financial", "invoice", "payment"},
	"hr":         {"employee", "hr", "attendance", "recruitment"},
}

// KeywordMatcher classifies goals by case-folded keyword lookup. Compound
// goals are split into clauses so a partially routable goal still reports
// exactly which portion could not be matched.
type KeywordMatcher struct{}

// NewKeywordMatcher creates the default matcher.
func NewKeywordMatcher() *KeywordMatcher {
	return &KeywordMatcher{}
}

// Match implements Matcher. Each clause of the goal is matched against the
// keyword table restricted to the given capabilities; within one clause,
// capabilities are reported in the order they were offered.
func (m *KeywordMatcher) Match(_ context.Context, goal string, capabilities []string) ([]Match, []string, error) {
	var matches []Match
	var unmatched []string
	seen := make(map[string]bool)

	for _, clause := range splitClauses(goal) {
		lower := strings.ToLower(clause)
		found := false
		for _, capability := range capabilities {
			if seen[capability] {
				continue
			}
			if matchesCapability(lower, capability) {
				matches = append(matches, Match{Capability: capability, Portion: clause})
				seen[capability] = true
				found = true
			}
		}
		if !found {
			unmatched = append(unmatched, clause)
		}
	}
	return matches, unmatched, nil
}

func matchesCapability(lowerClause, capability string) bool {
	keywords, ok := capabilityKeywords[capability]
	if !ok {
		keywords = []string{strings.ToLower(capability)}
	}
	for _, kw := range keywords {
		if strings.Contains(lowerClause, kw) {
			return true
		}
	}
	return false
}

// splitClauses breaks a compound goal into independently matchable clauses.
func splitClauses(goal string) []string {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil
	}

	replacer := strings.NewReplacer(";", "\x00", ", and ", "\x00", " and then ", "\x00", " and ", "\x00", " then ", "\x00")
	var clauses []string
	for _, part := range strings.Split(replacer.Replace(goal), "\x00") {
		part = strings.TrimSpace(part)
		if part != "" {
			clauses = append(clauses, part)
		}
	}
	if len(clauses) == 0 {
		return []string{goal}
	}
	return clauses
}
