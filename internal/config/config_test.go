package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Orchestrator.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Orchestrator.Workers)
	}

	if cfg.Orchestrator.TaskDeadline != 60*time.Second {
		t.Errorf("expected task deadline 60s, got %v", cfg.Orchestrator.TaskDeadline)
	}

	if cfg.Orchestrator.Retry.MaxAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", cfg.Orchestrator.Retry.MaxAttempts)
	}

	if cfg.Gateway.ListenAddr != "127.0.0.1:7900" {
		t.Errorf("expected default listen addr, got %q", cfg.Gateway.ListenAddr)
	}

	if cfg.Planner.Matcher != "keyword" {
		t.Errorf("expected keyword matcher, got %q", cfg.Planner.Matcher)
	}

	if cfg.Store.StateDir == "" {
		t.Error("expected non-empty state dir")
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
orchestrator:
  workers: 8
  task_deadline: 90s
  retry:
    max_attempts: 5
    backoff_base: 1s
    backoff_cap: 10s
gateway:
  listen_addr: 0.0.0.0:9000
  auth_token: secret
store:
  state_dir: /tmp/chorus-test
planner:
  matcher: claude
anthropic:
  api_key: test-key
  model: claude-3-5-haiku-20241022
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Orchestrator.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Orchestrator.Workers)
	}
	if cfg.Orchestrator.TaskDeadline != 90*time.Second {
		t.Errorf("expected task deadline 90s, got %v", cfg.Orchestrator.TaskDeadline)
	}
	if cfg.Orchestrator.Retry.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Orchestrator.Retry.MaxAttempts)
	}
	if cfg.Orchestrator.Retry.BackoffBase != time.Second {
		t.Errorf("expected backoff base 1s, got %v", cfg.Orchestrator.Retry.BackoffBase)
	}
	if cfg.Gateway.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("expected listen addr override, got %q", cfg.Gateway.ListenAddr)
	}
	if cfg.Gateway.AuthToken != "secret" {
		t.Errorf("expected auth token, got %q", cfg.Gateway.AuthToken)
	}
	if cfg.Store.StateDir != "/tmp/chorus-test" {
		t.Errorf("expected state dir override, got %q", cfg.Store.StateDir)
	}
	if cfg.Planner.Matcher != "claude" {
		t.Errorf("expected claude matcher, got %q", cfg.Planner.Matcher)
	}
	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api key, got %q", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPath_PartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
gateway:
  listen_addr: 127.0.0.1:8123
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Gateway.ListenAddr != "127.0.0.1:8123" {
		t.Errorf("expected overridden listen addr, got %q", cfg.Gateway.ListenAddr)
	}
	if cfg.Orchestrator.Workers != 4 {
		t.Errorf("expected default workers, got %d", cfg.Orchestrator.Workers)
	}
	if cfg.Orchestrator.Retry.BackoffCap != 30*time.Second {
		t.Errorf("expected default backoff cap, got %v", cfg.Orchestrator.Retry.BackoffCap)
	}
}

func TestLoadFromPath_ExpandsEnvReferences(t *testing.T) {
	t.Setenv("CHORUS_TEST_KEY", "expanded-key")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
anthropic:
  api_key: ${CHORUS_TEST_KEY}
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Anthropic.APIKey != "expanded-key" {
		t.Errorf("expected expanded key, got %q", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
