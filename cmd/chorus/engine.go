package main

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/mwhitlock/chorus/internal/agent"
	"github.com/mwhitlock/chorus/internal/config"
	"github.com/mwhitlock/chorus/internal/orchestrator"
	"github.com/mwhitlock/chorus/internal/planner"
	"github.com/mwhitlock/chorus/internal/queue"
	"github.com/mwhitlock/chorus/internal/registry"
	"github.com/mwhitlock/chorus/internal/store"
	"github.com/mwhitlock/chorus/pkg/models"
)

// engine bundles the wired components every command needs.
type engine struct {
	cfg        *config.Config
	db         *store.DB
	reg        *registry.Registry
	orch       *orchestrator.Orchestrator
	logger     *orchestrator.DebugLogger
	agentsPath string
}

// buildEngine opens the store, loads the agent roster, and assembles
// an orchestrator. When activate is true, loaded agents that are not
// in an error state are brought active immediately.
func buildEngine(cfg *config.Config, activate bool) (*engine, error) {
	db, err := store.Open(store.DefaultDBPath(cfg.Store.StateDir))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	reg := registry.New()
	agentsPath := config.AgentsPath(cfg.Store.StateDir)
	if err := loadRoster(db, reg, agentsPath, activate); err != nil {
		db.Close()
		return nil, err
	}

	matcher, err := buildMatcher(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger := orchestrator.NewDebugLoggerForDir(cfg.Store.StateDir)
	opts := []orchestrator.Option{
		orchestrator.WithWorkers(cfg.Orchestrator.Workers),
		orchestrator.WithTaskDeadline(cfg.Orchestrator.TaskDeadline),
		orchestrator.WithRetryPolicy(queue.RetryPolicy{
			MaxAttempts: cfg.Orchestrator.Retry.MaxAttempts,
			BackoffBase: cfg.Orchestrator.Retry.BackoffBase,
			BackoffCap:  cfg.Orchestrator.Retry.BackoffCap,
		}),
		orchestrator.WithStore(db),
		orchestrator.WithLogger(logger),
	}
	if cfg.Orchestrator.AbortOnStop {
		opts = append(opts, orchestrator.WithAbortOnStop(true))
	}
	if matcher != nil {
		opts = append(opts, orchestrator.WithMatcher(matcher))
	}

	orch, err := orchestrator.New(orchestrator.RequiredConfig{
		Registry: reg,
		Runtime:  agent.NewRuntime(db),
	}, opts...)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	return &engine{
		cfg:        cfg,
		db:         db,
		reg:        reg,
		orch:       orch,
		logger:     logger,
		agentsPath: agentsPath,
	}, nil
}

// loadRoster reads agents.yaml (bootstrapping it with the default
// roster on first run), reconciles each definition against the store,
// and registers the result.
func loadRoster(db *store.DB, reg *registry.Registry, agentsPath string, activate bool) error {
	if _, err := config.EnsureAgentsFile(agentsPath); err != nil {
		return err
	}

	agents, err := config.LoadAgents(agentsPath)
	if err != nil {
		return err
	}

	for _, a := range agents {
		// Stored lifecycle state survives restarts; the YAML file
		// defines identity and capabilities only.
		stored, err := db.GetAgent(a.ID)
		if err != nil {
			return fmt.Errorf("load agent %s: %w", a.ID, err)
		}
		if stored != nil {
			a.State = stored.State
			a.LastError = stored.LastError
			a.LastActivity = stored.LastActivity
		}

		if activate && a.State == models.AgentStateInactive {
			a.State = models.AgentStateActive
		}

		if err := reg.Register(a, true); err != nil {
			return fmt.Errorf("register agent %s: %w", a.ID, err)
		}
		if err := db.SaveAgent(a); err != nil {
			return fmt.Errorf("save agent %s: %w", a.ID, err)
		}
	}
	return nil
}

// reloadRoster re-reads agents.yaml and upserts definitions into the
// live registry. Used by the serve command's file watcher.
func (e *engine) reloadRoster() error {
	return loadRoster(e.db, e.reg, e.agentsPath, true)
}

// buildMatcher returns the configured capability matcher, or nil for
// the keyword default.
func buildMatcher(cfg *config.Config) (planner.Matcher, error) {
	switch cfg.Planner.Matcher {
	case "", "keyword":
		return nil, nil
	case "claude":
		apiKey, _, err := config.ResolveAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("claude matcher: %w", err)
		}
		if err := config.ValidateAPIKey(apiKey); err != nil {
			return nil, fmt.Errorf("claude matcher: %w", err)
		}
		return planner.NewClaudeMatcher(planner.ClaudeMatcherConfig{
			APIKey: apiKey,
			Model:  anthropic.Model(cfg.Anthropic.Model),
		})
	default:
		return nil, fmt.Errorf("unknown planner matcher %q (want keyword or claude)", cfg.Planner.Matcher)
	}
}

// Close releases the engine's resources.
func (e *engine) Close() error {
	return e.db.Close()
}
