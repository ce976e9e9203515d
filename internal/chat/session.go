// Package chat provides a conversational front end over the
// orchestrator. Messages that look like business requests are
// decomposed and executed; meta questions (help, status, agents)
// are answered directly.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/mwhitlock/chorus/internal/orchestrator"
	"github.com/mwhitlock/chorus/internal/store"
	"github.com/mwhitlock/chorus/pkg/models"
)

// requestKeywords marks a message as a business request worth
// sending through the orchestrator.
var requestKeywords = []string{
	"create", "find", "search", "check", "analyze", "report",
	"generate", "lead", "order", "invoice", "stock", "employee",
	"help me", "can you", "please",
}

// Session handles chat turns for a single user.
type Session struct {
	orch  *orchestrator.Orchestrator
	conv  store.ConversationStore
	user  string
	plain bool

	replyStyle lipgloss.Style
	labelStyle lipgloss.Style
	okStyle    lipgloss.Style
	failStyle  lipgloss.Style
	dimStyle   lipgloss.Style
}

// Option configures a Session.
type Option func(*Session)

// WithConversationStore persists each turn.
func WithConversationStore(cs store.ConversationStore) Option {
	return func(s *Session) { s.conv = cs }
}

// WithPlainOutput disables ANSI styling.
func WithPlainOutput() Option {
	return func(s *Session) { s.plain = true }
}

// NewSession creates a chat session for the named user.
func NewSession(orch *orchestrator.Orchestrator, user string, opts ...Option) (*Session, error) {
	if orch == nil {
		return nil, fmt.Errorf("chat: orchestrator is required")
	}
	if user == "" {
		user = "anonymous"
	}

	s := &Session{
		orch: orch,
		user: user,

		replyStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		labelStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")),
		okStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
		failStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleMessage processes one user turn and returns the rendered
// reply. Orchestrator errors are folded into the reply text so the
// conversation keeps flowing; the error return covers persistence
// failures only.
func (s *Session) HandleMessage(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return s.render(s.dimStyle, "Say something and I'll try to help."), nil
	}

	var reply, requestID string
	switch {
	case s.isBusinessRequest(message):
		reply, requestID = s.processRequest(ctx, message)
	case isHelpRequest(message):
		reply = s.helpMessage()
	case isStatusRequest(message):
		reply = s.statusMessage()
	case isAgentsRequest(message):
		reply = s.agentsMessage()
	default:
		reply = s.render(s.dimStyle,
			"I didn't recognize that as a request. Try \"help\" to see what I can do.")
	}

	if s.conv != nil {
		err := s.conv.SaveConversation(&models.Conversation{
			ID:        uuid.NewString(),
			User:      s.user,
			RequestID: requestID,
			Message:   message,
			Reply:     reply,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return reply, fmt.Errorf("save conversation: %w", err)
		}
	}
	return reply, nil
}

// History returns the most recent turns for this session's user,
// newest first.
func (s *Session) History(limit int) ([]models.Conversation, error) {
	if s.conv == nil {
		return nil, nil
	}
	return s.conv.ListConversations(s.user, limit)
}

func (s *Session) isBusinessRequest(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range requestKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (s *Session) processRequest(ctx context.Context, message string) (reply, requestID string) {
	result, err := s.orch.ProcessRequest(ctx, message, map[string]any{"user": s.user}, nil)
	if err != nil {
		return s.render(s.failStyle,
			"Sorry, I couldn't process that request: "+err.Error()), ""
	}
	return s.formatResult(message, result), result.RequestID
}

// formatResult renders an orchestrator result as a chat reply with
// one line per executed task.
func (s *Session) formatResult(goal string, result *models.Result) string {
	var b strings.Builder

	b.WriteString(s.render(s.labelStyle, "Goal:"))
	b.WriteString(" " + goal + "\n")

	if result.State == models.RequestStateUnroutable {
		b.WriteString(s.render(s.failStyle,
			"No agent can handle this request."))
		if len(result.Unmatched) > 0 {
			b.WriteString("\n" + s.render(s.dimStyle,
				"Unmatched: "+strings.Join(result.Unmatched, ", ")))
		}
		return b.String()
	}

	b.WriteString(s.render(s.labelStyle, "Results:"))
	b.WriteString("\n")
	for i, task := range result.Tasks {
		if task.ErrKind == "" {
			b.WriteString(s.render(s.okStyle,
				fmt.Sprintf("  ✓ Step %d (%s): completed", i+1, task.Capability)))
		} else {
			b.WriteString(s.render(s.failStyle,
				fmt.Sprintf("  ✗ Step %d (%s): %s", i+1, task.Capability, task.ErrDetail)))
		}
		b.WriteString("\n")
	}

	b.WriteString(s.render(s.dimStyle,
		fmt.Sprintf("Finished in %s", result.Duration.Round(time.Millisecond))))
	return b.String()
}

func (s *Session) render(style lipgloss.Style, text string) string {
	if s.plain {
		return text
	}
	return style.Render(text)
}

func isHelpRequest(message string) bool {
	return containsAnyKeyword(message,
		"help", "what can you do", "capabilities", "features")
}

func isStatusRequest(message string) bool {
	return containsAnyKeyword(message,
		"status", "health", "system")
}

func isAgentsRequest(message string) bool {
	return containsAnyKeyword(message,
		"agents", "list agents", "show agents", "available agents")
}

func containsAnyKeyword(message string, keywords ...string) bool {
	lower := strings.ToLower(message)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
