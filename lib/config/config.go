// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Courier configuration from a single YAML file.
//
// The file is specified by the COURIER_CONFIG environment variable or
// an explicit path (--config flag). There is no automatic discovery
// and environment variables do not override file values; the only
// expansion performed is ${VAR} / ${VAR:-default} substitution, so
// secrets like API keys can be referenced rather than written into
// the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for Courier.
type Config struct {
	// Provider configures the LLM backend.
	Provider ProviderConfig `yaml:"provider"`

	// Storage configures the SQLite database.
	Storage StorageConfig `yaml:"storage"`

	// Prompts configures the default persona texts.
	Prompts PromptsConfig `yaml:"prompts"`

	// Chat configures conversation handling.
	Chat ChatConfig `yaml:"chat"`

	// Logging configures diagnostic output.
	Logging LoggingConfig `yaml:"logging"`
}

// ProviderConfig selects and parameterizes the LLM backend.
type ProviderConfig struct {
	// Name chooses the backend family: "openai" or "groq".
	Name string `yaml:"name"`

	// APIKey authenticates requests. Usually written as
	// ${OPENAI_API_KEY} or ${GROQ_API_KEY} in the file.
	APIKey string `yaml:"api_key"`

	// Model is the backend model identifier.
	Model string `yaml:"model"`

	// BaseURL overrides the API origin, for proxies or compatible
	// servers. Empty means the backend's default.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each backend request.
	Timeout time.Duration `yaml:"timeout"`

	// MaxResponseTokens caps generated reply length.
	MaxResponseTokens int `yaml:"max_response_tokens"`

	// ReserveTokens is withheld from the context window to leave room
	// for the generated response.
	ReserveTokens int `yaml:"reserve_tokens"`

	// Stream enables incremental reply delivery.
	Stream bool `yaml:"stream"`
}

// StorageConfig configures the SQLite database.
type StorageConfig struct {
	// Path is the database file location.
	Path string `yaml:"path"`

	// PoolSize is the connection pool size. Zero picks a default from
	// CPU count.
	PoolSize int `yaml:"pool_size"`
}

// PromptsConfig configures the default persona texts.
type PromptsConfig struct {
	// Private is the system prompt body for one-on-one chats.
	Private string `yaml:"private"`

	// Group is the system prompt body for multi-party chats.
	Group string `yaml:"group"`

	// Timezone is the IANA zone for the prompt's current-time header.
	Timezone string `yaml:"timezone"`
}

// ChatConfig configures conversation handling.
type ChatConfig struct {
	// OwnerID is the platform user ID that is always authorized and
	// may manage access grants and personas.
	OwnerID int64 `yaml:"owner_id"`

	// KeepGroupRecent is how many messages group retention keeps per
	// chat.
	KeepGroupRecent int `yaml:"keep_group_recent"`

	// CleanupInterval is how often group retention runs. Zero
	// disables the background pass.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// MaxConcurrent bounds how many provider calls run at once.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// LoggingConfig configures diagnostic output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the base configuration merged under the loaded
// file. The defaults keep every field at a workable value; the file
// must still supply the provider credentials.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:              "openai",
			Model:             "gpt-5-mini",
			Timeout:           60 * time.Second,
			MaxResponseTokens: 1024,
			ReserveTokens:     1500,
			Stream:            true,
		},
		Storage: StorageConfig{
			Path: "courier.db",
		},
		Prompts: PromptsConfig{
			Private:  "You are a helpful assistant.",
			Group:    "You are a helpful assistant in a group conversation. Messages are prefixed with the sender's name in brackets.",
			Timezone: "UTC",
		},
		Chat: ChatConfig{
			KeepGroupRecent: 100,
			CleanupInterval: time.Hour,
			MaxConcurrent:   4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the file named by COURIER_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("COURIER_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("COURIER_CONFIG environment variable not set; " +
			"set it to the path of your courier.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, merging over [Default] and
// expanding ${VAR} references.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in the fields
// that commonly reference the environment.
func (c *Config) expandVariables() {
	c.Provider.APIKey = expandVars(c.Provider.APIKey)
	c.Provider.BaseURL = expandVars(c.Provider.BaseURL)
	c.Storage.Path = expandVars(c.Storage.Path)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors. All problems are
// reported at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Name {
	case "openai", "groq":
	default:
		errs = append(errs, fmt.Errorf("provider.name must be openai or groq, got %q", c.Provider.Name))
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, errors.New("provider.api_key is required"))
	}
	if c.Provider.Model == "" {
		errs = append(errs, errors.New("provider.model is required"))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, errors.New("provider.timeout must be positive"))
	}
	if c.Provider.ReserveTokens < 0 {
		errs = append(errs, errors.New("provider.reserve_tokens must not be negative"))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Chat.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("chat.max_concurrent must be positive"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}
