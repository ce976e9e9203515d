package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwhitlock/chorus/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Chorus configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value and saves it.

Configuration is stored at ~/.config/chorus/config.yaml
Project-specific overrides can be placed in .chorus.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			return displayConfigKey(cfg, args[0])
		default:
			return setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints every configuration value. Secrets are masked.
func displayAllConfig(cfg *config.Config) {
	key, src, _ := config.ResolveAPIKey(cfg)

	fmt.Printf("orchestrator.workers: %d\n", cfg.Orchestrator.Workers)
	fmt.Printf("orchestrator.task_deadline: %s\n", cfg.Orchestrator.TaskDeadline)
	fmt.Printf("orchestrator.retry.max_attempts: %d\n", cfg.Orchestrator.Retry.MaxAttempts)
	fmt.Printf("orchestrator.retry.backoff_base: %s\n", cfg.Orchestrator.Retry.BackoffBase)
	fmt.Printf("orchestrator.retry.backoff_cap: %s\n", cfg.Orchestrator.Retry.BackoffCap)
	fmt.Printf("orchestrator.abort_on_stop: %t\n", cfg.Orchestrator.AbortOnStop)
	fmt.Printf("gateway.listen_addr: %s\n", cfg.Gateway.ListenAddr)
	fmt.Printf("gateway.auth_token: %s\n", maskToken(cfg.Gateway.AuthToken))
	fmt.Printf("store.state_dir: %s\n", cfg.Store.StateDir)
	fmt.Printf("planner.matcher: %s\n", cfg.Planner.Matcher)
	fmt.Printf("anthropic.api_key: %s (source: %s)\n", config.MaskAPIKey(key), src)
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) error {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

// setConfigKey sets a configuration value and writes the user config file.
func setConfigKey(cfg *config.Config, key, value string) error {
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	shown := value
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		shown = config.MaskAPIKey(value)
	case "gateway.auth_token":
		shown = maskToken(value)
	}
	fmt.Printf("Set %s = %s\n", key, shown)
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "orchestrator.workers":
		return strconv.Itoa(cfg.Orchestrator.Workers), nil
	case "orchestrator.task_deadline":
		return cfg.Orchestrator.TaskDeadline.String(), nil
	case "orchestrator.retry.max_attempts":
		return strconv.Itoa(cfg.Orchestrator.Retry.MaxAttempts), nil
	case "orchestrator.retry.backoff_base":
		return cfg.Orchestrator.Retry.BackoffBase.String(), nil
	case "orchestrator.retry.backoff_cap":
		return cfg.Orchestrator.Retry.BackoffCap.String(), nil
	case "orchestrator.abort_on_stop":
		return strconv.FormatBool(cfg.Orchestrator.AbortOnStop), nil
	case "gateway.listen_addr":
		return cfg.Gateway.ListenAddr, nil
	case "gateway.auth_token":
		return maskToken(cfg.Gateway.AuthToken), nil
	case "store.state_dir":
		return cfg.Store.StateDir, nil
	case "planner.matcher":
		return cfg.Planner.Matcher, nil
	case "anthropic.api_key":
		key, src, _ := config.ResolveAPIKey(cfg)
		return fmt.Sprintf("%s (source: %s)", config.MaskAPIKey(key), src), nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "orchestrator.workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for workers: %w", err)
		}
		cfg.Orchestrator.Workers = n
	case "orchestrator.task_deadline":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for task_deadline: %w", err)
		}
		cfg.Orchestrator.TaskDeadline = d
	case "orchestrator.retry.max_attempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_attempts: %w", err)
		}
		cfg.Orchestrator.Retry.MaxAttempts = n
	case "orchestrator.retry.backoff_base":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for backoff_base: %w", err)
		}
		cfg.Orchestrator.Retry.BackoffBase = d
	case "orchestrator.retry.backoff_cap":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for backoff_cap: %w", err)
		}
		cfg.Orchestrator.Retry.BackoffCap = d
	case "orchestrator.abort_on_stop":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for abort_on_stop: %w", err)
		}
		cfg.Orchestrator.AbortOnStop = b
	case "gateway.listen_addr":
		cfg.Gateway.ListenAddr = value
	case "gateway.auth_token":
		cfg.Gateway.AuthToken = value
	case "store.state_dir":
		cfg.Store.StateDir = value
	case "planner.matcher":
		if value != "keyword" && value != "claude" {
			return fmt.Errorf("invalid planner.matcher %q (want keyword or claude)", value)
		}
		cfg.Planner.Matcher = value
	case "anthropic.api_key":
		if err := config.ValidateAPIKey(value); err != nil {
			return err
		}
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func maskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	return "****"
}
