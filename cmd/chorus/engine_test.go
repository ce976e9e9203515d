package main

import (
	"path/filepath"
	"testing"

	"github.com/mwhitlock/chorus/internal/config"
	"github.com/mwhitlock/chorus/internal/registry"
	"github.com/mwhitlock/chorus/internal/store"
	"github.com/mwhitlock/chorus/pkg/models"
)

func TestBuildMatcher(t *testing.T) {
	if m, err := buildMatcher(&config.Config{}); err != nil || m != nil {
		t.Errorf("empty matcher config: got (%v, %v), want keyword default", m, err)
	}
	if m, err := buildMatcher(&config.Config{Planner: config.PlannerConfig{Matcher: "keyword"}}); err != nil || m != nil {
		t.Errorf("keyword matcher config: got (%v, %v)", m, err)
	}
	if _, err := buildMatcher(&config.Config{Planner: config.PlannerConfig{Matcher: "telepathy"}}); err == nil {
		t.Error("expected error for unknown matcher")
	}
}

func TestLoadRoster(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "state")
	db, err := store.Open(store.DefaultDBPath(stateDir))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	agentsPath := config.AgentsPath(stateDir)

	reg := registry.New()
	if err := loadRoster(db, reg, agentsPath, true); err != nil {
		t.Fatalf("loadRoster failed: %v", err)
	}
	if reg.Count() != 7 {
		t.Fatalf("registered %d agents, want 7", reg.Count())
	}
	for _, a := range reg.All() {
		if a.State != models.AgentStateActive {
			t.Errorf("agent %s state = %s, want active after activation", a.ID, a.State)
		}
	}

	// Stored error state survives a reload instead of being activated.
	if err := db.UpdateAgentState("crm-agent", models.AgentStateError, "boom"); err != nil {
		t.Fatalf("UpdateAgentState failed: %v", err)
	}
	reg2 := registry.New()
	if err := loadRoster(db, reg2, agentsPath, true); err != nil {
		t.Fatalf("second loadRoster failed: %v", err)
	}
	crm, err := reg2.Get("crm-agent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if crm.State != models.AgentStateError || crm.LastError != "boom" {
		t.Errorf("crm state = %s (%q), want preserved error", crm.State, crm.LastError)
	}
}
