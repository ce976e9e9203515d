package chat

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mwhitlock/chorus/internal/agent"
	"github.com/mwhitlock/chorus/internal/orchestrator"
	"github.com/mwhitlock/chorus/internal/queue"
	"github.com/mwhitlock/chorus/internal/registry"
	"github.com/mwhitlock/chorus/internal/store"
	"github.com/mwhitlock/chorus/pkg/models"
)

func setupSession(t *testing.T, opts ...Option) *Session {
	t.Helper()

	reg := registry.New()
	crm := &models.Agent{
		ID:           "crm-1",
		Name:         "CRM Agent",
		Type:         models.AgentTypeCRM,
		Capabilities: []string{"crm"},
		State:        models.AgentStateActive,
	}
	if err := reg.Register(crm, false); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	rt := agent.NewRuntime(nil)
	rt.Replace("crm", func(context.Context, agent.Invocation) (map[string]any, error) {
		return map[string]any{"lead_id": "L1", "status": "created"}, nil
	})

	orch, err := orchestrator.New(
		orchestrator.RequiredConfig{Registry: reg, Runtime: rt},
		orchestrator.WithRetryPolicy(queue.RetryPolicy{MaxAttempts: 1, BackoffBase: time.Millisecond, BackoffCap: time.Millisecond}),
	)
	if err != nil {
		t.Fatalf("orchestrator.New failed: %v", err)
	}
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("orchestrator.Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		orch.Stop(ctx)
	})

	s, err := NewSession(orch, "alice", append([]Option{WithPlainOutput()}, opts...)...)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s
}

func TestHandleMessage_BusinessRequest(t *testing.T) {
	s := setupSession(t)

	reply, err := s.HandleMessage(context.Background(), "create a lead for Acme")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !strings.Contains(reply, "Goal: create a lead for Acme") {
		t.Errorf("reply missing goal line: %q", reply)
	}
	if !strings.Contains(reply, "✓ Step 1 (crm): completed") {
		t.Errorf("reply missing task line: %q", reply)
	}
}

func TestHandleMessage_Unroutable(t *testing.T) {
	s := setupSession(t)

	reply, err := s.HandleMessage(context.Background(), "please schedule my dentist appointment")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !strings.Contains(reply, "No agent can handle this request") {
		t.Errorf("reply = %q, want unroutable notice", reply)
	}
}

func TestHandleMessage_Help(t *testing.T) {
	s := setupSession(t)

	reply, err := s.HandleMessage(context.Background(), "what can you do")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	for _, want := range []string{"CRM", "Sales", "Inventory", "Accounting", "HR"} {
		if !strings.Contains(reply, want) {
			t.Errorf("help reply missing %q", want)
		}
	}
}

func TestHandleMessage_Status(t *testing.T) {
	s := setupSession(t)

	reply, err := s.HandleMessage(context.Background(), "system status")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !strings.Contains(reply, "Orchestrator: running") {
		t.Errorf("status reply = %q, want running orchestrator", reply)
	}
	if !strings.Contains(reply, "Active Agents: 1/1") {
		t.Errorf("status reply = %q, want agent count", reply)
	}
}

func TestHandleMessage_Agents(t *testing.T) {
	s := setupSession(t)

	reply, err := s.HandleMessage(context.Background(), "show agents")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !strings.Contains(reply, "CRM Agent") {
		t.Errorf("agents reply = %q, want CRM Agent", reply)
	}
}

func TestHandleMessage_Unrecognized(t *testing.T) {
	s := setupSession(t)

	reply, err := s.HandleMessage(context.Background(), "the weather is nice")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !strings.Contains(reply, "didn't recognize") {
		t.Errorf("reply = %q, want fallback hint", reply)
	}
}

func TestHandleMessage_PersistsConversation(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	s := setupSession(t, WithConversationStore(db))

	if _, err := s.HandleMessage(context.Background(), "create a lead for Acme"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if _, err := s.HandleMessage(context.Background(), "what can you do"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	turns, err := s.History(10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	// Newest first.
	if turns[0].Message != "what can you do" {
		t.Errorf("turns[0].Message = %q", turns[0].Message)
	}
	if turns[1].RequestID == "" {
		t.Error("business turn should carry a request id")
	}
	if turns[0].RequestID != "" {
		t.Error("help turn should not carry a request id")
	}
}
