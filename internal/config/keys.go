package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no Anthropic API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// KeySource says where the effective API key came from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// ResolveAPIKey returns the effective Anthropic API key and its source.
// The ANTHROPIC_API_KEY environment variable wins over the config file.
// A config value may itself be an env reference like ${MY_KEY}; an
// unset reference counts as no key.
func ResolveAPIKey(cfg *Config) (string, KeySource, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, KeySourceEnv, nil
	}
	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig, nil
		}
	}
	return "", KeySourceNone, ErrNoAPIKey
}

// ValidateAPIKey checks the key's shape without calling Anthropic.
func ValidateAPIKey(key string) error {
	switch {
	case key == "":
		return ErrNoAPIKey
	case !strings.HasPrefix(key, "sk-ant-"):
		return errors.New("invalid API key: expected sk-ant- prefix")
	case len(key) < 20:
		return errors.New("invalid API key: too short")
	}
	return nil
}

// MaskAPIKey renders a key for display without revealing it: the
// sk-ant- prefix and the last four characters.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 15:
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
