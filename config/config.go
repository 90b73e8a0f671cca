// Package config loads engine and server settings from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for the conductor server and CLI.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// Model is the model identifier sent to the provider.
	Model string `yaml:"model"`
	// BaseURL overrides the provider endpoint. Empty uses the default
	// OpenRouter endpoint.
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates with the provider. Usually left empty in the
	// file and supplied via OPENROUTER_API_KEY or OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// WorkspaceRoot is the directory under which per-session sandboxes
	// are created.
	WorkspaceRoot string `yaml:"workspace_root"`
	// EventBuffer is the per-turn event queue capacity.
	EventBuffer int `yaml:"event_buffer"`
	// CommandTimeoutSeconds bounds execute_command.
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds"`
	// SafeCommandTimeoutSeconds bounds execute_safe_command.
	SafeCommandTimeoutSeconds int `yaml:"safe_command_timeout_seconds"`
	// SessionTTLMinutes controls idle session eviction. Zero disables it.
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
	// Experts tunes per-expert limits without redefining the experts.
	Experts []ExpertOverride `yaml:"experts"`
}

// ExpertOverride adjusts the limits of a built-in expert.
type ExpertOverride struct {
	ID             string `yaml:"id"`
	IterationLimit int    `yaml:"iteration_limit"`
	LoopThreshold  int    `yaml:"loop_threshold"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Listen:                    ":8080",
		Model:                     "openai/gpt-4o",
		WorkspaceRoot:             "./workspaces",
		EventBuffer:               64,
		CommandTimeoutSeconds:     120,
		SafeCommandTimeoutSeconds: 30,
		SessionTTLMinutes:         120,
	}
}

// Load reads the configuration file at path, merges it over the
// defaults, and applies environment overrides. An empty path skips the
// file and uses defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONDUCTOR_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("CONDUCTOR_MODEL"); v != "" {
		cfg.Model = v
	} else if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("CONDUCTOR_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("CONDUCTOR_WORKSPACE_ROOT"); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv("CONDUCTOR_COMMAND_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CommandTimeoutSeconds = n
		}
	}
}

// Validate checks for values the engine cannot work with.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root must not be empty")
	}
	if c.CommandTimeoutSeconds < 0 || c.SafeCommandTimeoutSeconds < 0 {
		return fmt.Errorf("command timeouts must not be negative")
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("event_buffer must not be negative")
	}
	for _, o := range c.Experts {
		if o.ID == "" {
			return fmt.Errorf("expert override missing id")
		}
	}
	return nil
}

// CommandTimeout returns the execute_command budget as a duration.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// SafeCommandTimeout returns the execute_safe_command budget.
func (c Config) SafeCommandTimeout() time.Duration {
	return time.Duration(c.SafeCommandTimeoutSeconds) * time.Second
}

// SessionTTL returns the idle eviction window; zero disables eviction.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}
