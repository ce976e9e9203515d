package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mwhitlock/chorus/pkg/models"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "chorus.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	agent := &models.Agent{
		ID:           "crm-1",
		Name:         "CRM Agent",
		Type:         models.AgentTypeCRM,
		Capabilities: []string{"crm", "lead_management"},
		State:        models.AgentStateActive,
		Config:       map[string]any{"max_load": float64(5)},
		Seq:          1,
		LastActivity: time.Now().UTC().Truncate(time.Second),
	}
	if err := db.SaveAgent(agent); err != nil {
		t.Fatalf("SaveAgent failed: %v", err)
	}

	got, err := db.GetAgent("crm-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetAgent returned nil for existing agent")
	}
	if got.Name != agent.Name || got.Type != agent.Type || got.State != agent.State {
		t.Errorf("GetAgent = %+v, want %+v", got, agent)
	}
	if len(got.Capabilities) != 2 || got.Capabilities[1] != "lead_management" {
		t.Errorf("Capabilities = %v, want %v", got.Capabilities, agent.Capabilities)
	}
	if got.Config["max_load"] != float64(5) {
		t.Errorf("Config[max_load] = %v, want 5", got.Config["max_load"])
	}
	if !got.LastActivity.Equal(agent.LastActivity) {
		t.Errorf("LastActivity = %v, want %v", got.LastActivity, agent.LastActivity)
	}
}

func TestSaveAgent_Upsert(t *testing.T) {
	db := setupTestDB(t)

	agent := &models.Agent{ID: "a1", Name: "first", Type: models.AgentTypeCustom, State: models.AgentStateInactive}
	if err := db.SaveAgent(agent); err != nil {
		t.Fatalf("SaveAgent failed: %v", err)
	}
	agent.Name = "second"
	agent.State = models.AgentStateActive
	if err := db.SaveAgent(agent); err != nil {
		t.Fatalf("SaveAgent upsert failed: %v", err)
	}

	got, err := db.GetAgent("a1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.Name != "second" || got.State != models.AgentStateActive {
		t.Errorf("upsert not applied: got %+v", got)
	}

	agents, err := db.ListAgents()
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(agents) != 1 {
		t.Errorf("ListAgents returned %d agents, want 1", len(agents))
	}
}

func TestGetAgent_Missing(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetAgent("nope")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetAgent = %+v, want nil", got)
	}
}

func TestUpdateAgentState(t *testing.T) {
	db := setupTestDB(t)

	if err := db.SaveAgent(&models.Agent{ID: "a1", Name: "a", Type: models.AgentTypeSales, State: models.AgentStateActive}); err != nil {
		t.Fatalf("SaveAgent failed: %v", err)
	}
	if err := db.UpdateAgentState("a1", models.AgentStateError, "handler crashed"); err != nil {
		t.Fatalf("UpdateAgentState failed: %v", err)
	}

	got, err := db.GetAgent("a1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.State != models.AgentStateError || got.LastError != "handler crashed" {
		t.Errorf("state update not applied: got %+v", got)
	}

	if err := db.UpdateAgentState("missing", models.AgentStateActive, ""); err == nil {
		t.Error("UpdateAgentState on missing agent should fail")
	}
}

func TestRequestAndTaskRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	req := &models.Request{
		ID:          "req-1",
		Goal:        "create a lead for acme",
		Context:     map[string]any{"user": "alice"},
		Constraints: map[string]any{"max_tasks": float64(3)},
		TaskIDs:     []string{"t1"},
		State:       models.RequestStateInProgress,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := db.SaveRequest(req); err != nil {
		t.Fatalf("SaveRequest failed: %v", err)
	}

	task := &models.Task{
		ID:         "t1",
		RequestID:  "req-1",
		Capability: "crm",
		Input:      map[string]any{"goal": "create a lead for acme"},
		State:      models.TaskStatePending,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	// Finish the task and verify the update path.
	task.AgentID = "crm-1"
	task.State = models.TaskStateCompleted
	task.Output = map[string]any{"record_id": "r-42"}
	task.StartedAt = task.CreatedAt
	task.FinishedAt = task.CreatedAt.Add(time.Second)
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("SaveTask update failed: %v", err)
	}

	got, err := db.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.State != models.TaskStateCompleted || got.AgentID != "crm-1" {
		t.Errorf("GetTask = %+v, want completed by crm-1", got)
	}
	if got.Output["record_id"] != "r-42" {
		t.Errorf("Output = %v, want record_id r-42", got.Output)
	}
	if !got.FinishedAt.Equal(task.FinishedAt) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, task.FinishedAt)
	}

	tasks, err := db.ListTasksByRequest("req-1")
	if err != nil {
		t.Fatalf("ListTasksByRequest failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("ListTasksByRequest = %v, want [t1]", tasks)
	}

	gotReq, err := db.GetRequest("req-1")
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if gotReq.Goal != req.Goal || gotReq.Context["user"] != "alice" {
		t.Errorf("GetRequest = %+v, want %+v", gotReq, req)
	}
	if len(gotReq.TaskIDs) != 1 || gotReq.TaskIDs[0] != "t1" {
		t.Errorf("TaskIDs = %v, want [t1]", gotReq.TaskIDs)
	}
}

func TestListRecentRequests(t *testing.T) {
	db := setupTestDB(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"old", "mid", "new"} {
		req := &models.Request{
			ID:        id,
			Goal:      "goal " + id,
			State:     models.RequestStateCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.SaveRequest(req); err != nil {
			t.Fatalf("SaveRequest failed: %v", err)
		}
	}

	reqs, err := db.ListRecentRequests(2)
	if err != nil {
		t.Fatalf("ListRecentRequests failed: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	if reqs[0].ID != "new" || reqs[1].ID != "mid" {
		t.Errorf("order = [%s %s], want [new mid]", reqs[0].ID, reqs[1].ID)
	}
}

func TestPruneFinished(t *testing.T) {
	db := setupTestDB(t)

	old := &models.Request{
		ID:        "old",
		Goal:      "stale",
		State:     models.RequestStateCompleted,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	fresh := &models.Request{
		ID:        "fresh",
		Goal:      "recent",
		State:     models.RequestStateCompleted,
		CreatedAt: time.Now(),
	}
	active := &models.Request{
		ID:        "active",
		Goal:      "in flight",
		State:     models.RequestStateInProgress,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	for _, r := range []*models.Request{old, fresh, active} {
		if err := db.SaveRequest(r); err != nil {
			t.Fatalf("SaveRequest failed: %v", err)
		}
	}
	if err := db.SaveTask(&models.Task{
		ID: "t-old", RequestID: "old", Capability: "crm",
		State: models.TaskStateCompleted, CreatedAt: old.CreatedAt,
	}); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	n, err := db.PruneFinished(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneFinished failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d requests, want 1", n)
	}

	if got, _ := db.GetRequest("old"); got != nil {
		t.Error("old request should have been pruned")
	}
	if got, _ := db.GetTask("t-old"); got != nil {
		t.Error("old task should have been pruned")
	}
	if got, _ := db.GetRequest("fresh"); got == nil {
		t.Error("fresh request should survive pruning")
	}
	if got, _ := db.GetRequest("active"); got == nil {
		t.Error("in-progress request should survive pruning regardless of age")
	}
}
