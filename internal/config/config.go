// Package config handles configuration loading and management for Chorus.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Chorus.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Store        StoreConfig        `mapstructure:"store"`
	Planner      PlannerConfig      `mapstructure:"planner"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
}

// OrchestratorConfig holds engine settings.
type OrchestratorConfig struct {
	// Workers bounds concurrent task executions.
	Workers int `mapstructure:"workers"`
	// TaskDeadline is the default per-task execution deadline.
	TaskDeadline time.Duration `mapstructure:"task_deadline"`
	// Retry controls failed-task retry behavior.
	Retry RetryConfig `mapstructure:"retry"`
	// AbortOnStop fails queued tasks on shutdown instead of draining.
	AbortOnStop bool `mapstructure:"abort_on_stop"`
}

// RetryConfig holds retry settings for failed tasks.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

// GatewayConfig holds MCP gateway settings.
type GatewayConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// StateDir is the directory for the database and debug logs.
	StateDir string `mapstructure:"state_dir"`
}

// PlannerConfig holds goal decomposition settings.
type PlannerConfig struct {
	// Matcher selects the capability matcher: "keyword" or "claude".
	Matcher string `mapstructure:"matcher"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, CHORUS_GATEWAY_AUTH_TOKEN)
// 2. Project config (.chorus.yaml in current directory or parent)
// 3. User config (~/.config/chorus/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("gateway.auth_token", "CHORUS_GATEWAY_AUTH_TOKEN")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Store.StateDir = expandEnv(cfg.Store.StateDir)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Store.StateDir = expandEnv(cfg.Store.StateDir)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("orchestrator.workers", cfg.Orchestrator.Workers)
	v.Set("orchestrator.task_deadline", cfg.Orchestrator.TaskDeadline.String())
	v.Set("orchestrator.retry.max_attempts", cfg.Orchestrator.Retry.MaxAttempts)
	v.Set("orchestrator.retry.backoff_base", cfg.Orchestrator.Retry.BackoffBase.String())
	v.Set("orchestrator.retry.backoff_cap", cfg.Orchestrator.Retry.BackoffCap.String())
	v.Set("orchestrator.abort_on_stop", cfg.Orchestrator.AbortOnStop)
	v.Set("gateway.listen_addr", cfg.Gateway.ListenAddr)
	v.Set("gateway.auth_token", cfg.Gateway.AuthToken)
	v.Set("store.state_dir", cfg.Store.StateDir)
	v.Set("planner.matcher", cfg.Planner.Matcher)
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.workers", 4)
	v.SetDefault("orchestrator.task_deadline", "60s")
	v.SetDefault("orchestrator.retry.max_attempts", 3)
	v.SetDefault("orchestrator.retry.backoff_base", "500ms")
	v.SetDefault("orchestrator.retry.backoff_cap", "30s")
	v.SetDefault("orchestrator.abort_on_stop", false)

	v.SetDefault("gateway.listen_addr", "127.0.0.1:7900")
	v.SetDefault("gateway.auth_token", "")

	v.SetDefault("store.state_dir", defaultStateDir())

	v.SetDefault("planner.matcher", "keyword")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
}

// defaultStateDir returns the directory for the database, agent
// definitions, and debug logs.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chorus"
	}
	return filepath.Join(home, ".chorus")
}

// getUserConfigDir returns the XDG config directory for Chorus.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "chorus")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "chorus")
	}
	return filepath.Join(home, ".config", "chorus")
}

// findProjectConfig searches for .chorus.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".chorus.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			Workers:      4,
			TaskDeadline: 60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BackoffBase: 500 * time.Millisecond,
				BackoffCap:  30 * time.Second,
			},
		},
		Gateway: GatewayConfig{
			ListenAddr: "127.0.0.1:7900",
		},
		Store: StoreConfig{
			StateDir: defaultStateDir(),
		},
		Planner: PlannerConfig{
			Matcher: "keyword",
		},
	}
}
