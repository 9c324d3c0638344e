// Package agent – config.go defines the configuration tree for the
// tenantline assistant, loaded from config.yaml with .env overrides.
package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name shown in responses.
	Name string `yaml:"name"`

	// Instructions are the base system preamble instructions.
	Instructions string `yaml:"instructions"`

	// Timezone is the operator's timezone (e.g. "America/New_York").
	Timezone string `yaml:"timezone"`

	// API configures the generation capability endpoint.
	API APIConfig `yaml:"api"`

	// Compaction configures the token-budget history compactor.
	Compaction CompactionConfig `yaml:"compaction"`

	// Envelope configures the tool result summarization wrapper.
	Envelope EnvelopeConfig `yaml:"envelope"`

	// Memory configures the sandboxed workspace store.
	Memory MemoryConfig `yaml:"memory"`

	// Tools configures approval gating and outbound delivery.
	Tools ToolsConfig `yaml:"tools"`

	// Gateway configures the HTTP API surface.
	Gateway GatewayConfig `yaml:"gateway"`

	// Scheduler configures periodic inbound-email polling.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Database configures conversation persistence.
	Database DatabaseConfig `yaml:"database"`

	// Logging configures slog output.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig points at an OpenAI-compatible chat completions endpoint.
type APIConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"` // least secure; keyring and env win
	Model        string `yaml:"model"`
	SummaryModel string `yaml:"summary_model"` // defaults to Model
	TimeoutSecs  int    `yaml:"timeout_seconds"`
}

// EnvelopeConfig controls the tool result wrapper.
type EnvelopeConfig struct {
	// ThresholdChars is the raw-output size that triggers summarization.
	ThresholdChars int `yaml:"threshold_chars"`
}

// MemoryConfig controls the sandboxed workspace.
type MemoryConfig struct {
	// Workspace is the root directory for memory files.
	Workspace string `yaml:"workspace"`

	// PreambleFile is a workspace file injected into every turn's preamble.
	PreambleFile string `yaml:"preamble_file"`

	// MaxReadBytes caps agent-visible file reads.
	MaxReadBytes int `yaml:"max_read_bytes"`
}

// ToolsConfig controls tool gating and outbound message delivery.
type ToolsConfig struct {
	// RequireApproval lists additional tool names forced through the gate.
	RequireApproval []string `yaml:"require_approval"`

	// OutboundWebhook receives side-effecting deliveries (send_sms,
	// send_email) as JSON POSTs; the transport behind it is out of scope.
	OutboundWebhook string `yaml:"outbound_webhook"`
}

// GatewayConfig configures the HTTP API.
type GatewayConfig struct {
	Address   string `yaml:"address"`
	AuthToken string `yaml:"auth_token"`
}

// SchedulerConfig configures the email poll trigger.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// EmailPoll is the cron spec for the inbox poll job.
	EmailPoll string `yaml:"email_poll"`

	// InboxURL is the HTTP endpoint that serves unread inbound email as
	// JSON. The mail transport behind it is an external collaborator.
	InboxURL string `yaml:"inbox_url"`

	// InboxToken is the bearer token sent on inbox fetches.
	InboxToken string `yaml:"inbox_token"`
}

// DatabaseConfig configures SQLite persistence.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns a runnable baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:     "Tenantline",
		Timezone: "UTC",
		Instructions: "You are Tenantline, a property-operations assistant. " +
			"You answer tenants and operators, track maintenance issues, and " +
			"send messages only after the operator approves them.",
		API: APIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			TimeoutSecs: 120,
		},
		Compaction: DefaultCompactionConfig(),
		Envelope:   EnvelopeConfig{ThresholdChars: DefaultEnvelopeThreshold},
		Memory: MemoryConfig{
			Workspace:    "./data/memory",
			PreambleFile: "MEMORY.md",
			MaxReadBytes: 64 * 1024,
		},
		Gateway: GatewayConfig{Address: ":8086"},
		Scheduler: SchedulerConfig{
			Enabled:   false,
			EmailPoll: "@every 2m",
		},
		Database: DatabaseConfig{Path: "./data/tenantline.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML config file, layering it over defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
