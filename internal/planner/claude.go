package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const matcherSystemPrompt = `You map a user goal onto a fixed set of capability names.
Respond with JSON only, no prose:
{"matches": [{"capability": "<name>", "portion": "<goal portion>"}], "unmatched": ["<portion>"]}
Use only capabilities from the provided list. Every part of the goal must
appear in exactly one of matches or unmatched.`

// ClaudeMatcher classifies goals with the Anthropic API instead of the
// keyword table. It satisfies the same Matcher contract, so the planner is
// unaware which matcher is wired.
type ClaudeMatcher struct {
	client anthropic.Client
	model  anthropic.Model
}

// ClaudeMatcherConfig configures a ClaudeMatcher.
type ClaudeMatcherConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// Model is the Claude model to use.
	Model anthropic.Model
}

// NewClaudeMatcher creates a matcher backed by the Anthropic API.
func NewClaudeMatcher(cfg ClaudeMatcherConfig) (*ClaudeMatcher, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaude3_5Haiku20241022
	}

	return &ClaudeMatcher{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Match implements Matcher.
func (m *ClaudeMatcher) Match(ctx context.Context, goal string, capabilities []string) ([]Match, []string, error) {
	prompt := fmt.Sprintf("Capabilities: %s\nGoal: %s", strings.Join(capabilities, ", "), goal)

	resp, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     m.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: matcherSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("claude matcher: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	parsed, err := parseMatcherResponse(text)
	if err != nil {
		return nil, nil, fmt.Errorf("claude matcher: %w", err)
	}

	// Discard hallucinated capability names; their portions are unroutable.
	known := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		known[c] = true
	}
	var matches []Match
	unmatched := parsed.Unmatched
	for _, m := range parsed.Matches {
		if known[m.Capability] {
			matches = append(matches, Match{Capability: m.Capability, Portion: m.Portion})
		} else {
			unmatched = append(unmatched, m.Portion)
		}
	}
	return matches, unmatched, nil
}

type matcherResponse struct {
	Matches []struct {
		Capability string `json:"capability"`
		Portion    string `json:"portion"`
	} `json:"matches"`
	Unmatched []string `json:"unmatched"`
}

// parseMatcherResponse extracts the JSON object from the model output,
// tolerating markdown fences around it.
func parseMatcherResponse(text string) (*matcherResponse, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in response %q", text)
	}

	var parsed matcherResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &parsed, nil
}
