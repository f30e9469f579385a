package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config represents the main switchboard configuration
type Config struct {
	// Data directory for sessions, bridge db, jobs and isolation roots
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Path to the model capability catalog (models.yaml)
	CatalogPath string `json:"catalog_path" mapstructure:"catalog_path"`

	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
	Gateway     GatewayConfig     `json:"gateway" mapstructure:"gateway"`
	Agents      AgentsConfig      `json:"agents" mapstructure:"agents"`
	Summarizer  SummarizerConfig  `json:"summarizer" mapstructure:"summarizer"`
	Advisory    AdvisoryConfig    `json:"advisory" mapstructure:"advisory"`
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds the HTTP/WebSocket gateway configuration
type GatewayConfig struct {
	Host                  string `json:"host" mapstructure:"host"`
	Port                  int    `json:"port" mapstructure:"port"`
	SharedSecret          string `json:"shared_secret" mapstructure:"shared_secret"`
	RateLimitPerMinute    int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
	MaxBodyBytes          int64  `json:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// AgentsConfig holds CLI agent execution configuration
type AgentsConfig struct {
	TimeoutSeconds     int  `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxConcurrent      int  `json:"max_concurrent" mapstructure:"max_concurrent"`
	MaxOutputBytes     int  `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	ResponseMaxChars   int  `json:"response_max_chars" mapstructure:"response_max_chars"`
	ContextTokenBudget int  `json:"context_token_budget" mapstructure:"context_token_budget"`
	SyncBudgetSeconds  int  `json:"sync_budget_seconds" mapstructure:"sync_budget_seconds"`
	AllowExtraArgs     bool `json:"allow_extra_args" mapstructure:"allow_extra_args"`
}

// SummarizerConfig holds the summarization capability configuration
type SummarizerConfig struct {
	Provider    string `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model       string `json:"model" mapstructure:"model"`
	APIKey      string `json:"api_key" mapstructure:"api_key"`
	TargetChars int    `json:"target_chars" mapstructure:"target_chars"`
}

// AdvisoryConfig holds API keys and limits for direct model calls
type AdvisoryConfig struct {
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
	MaxTokens       int    `json:"max_tokens" mapstructure:"max_tokens"`
}

// MaintenanceConfig holds retention and sweep schedules
type MaintenanceConfig struct {
	MappingTTLDays       int    `json:"mapping_ttl_days" mapstructure:"mapping_ttl_days"`
	SessionRetentionDays int    `json:"session_retention_days" mapstructure:"session_retention_days"`
	SweepSchedule        string `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron expression
}

// DefaultConfig returns a configuration with sane defaults
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    false,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Host:                  "127.0.0.1",
			Port:                  8372,
			RateLimitPerMinute:    120,
			RequestTimeoutSeconds: 55,
			MaxBodyBytes:          1 << 20,
		},
		Agents: AgentsConfig{
			TimeoutSeconds:     300,
			MaxConcurrent:      4,
			MaxOutputBytes:     1 << 20,
			ResponseMaxChars:   8000,
			ContextTokenBudget: 6000,
			SyncBudgetSeconds:  45,
		},
		Summarizer: SummarizerConfig{
			Provider:    "anthropic",
			Model:       "claude-3-5-haiku-20241022",
			TargetChars: 2000,
		},
		Advisory: AdvisoryConfig{
			MaxTokens: 1024,
		},
		Maintenance: MaintenanceConfig{
			MappingTTLDays:       30,
			SessionRetentionDays: 90,
			SweepSchedule:        "17 3 * * *",
		},
	}
}

// SessionsDir returns the conversation turn store directory.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// IsolationDir returns the root of the per-(session, agent) isolation trees.
func (c *Config) IsolationDir() string {
	return filepath.Join(c.DataDir, "isolation")
}

// BridgePath returns the session bridge database path.
func (c *Config) BridgePath() string {
	return filepath.Join(c.DataDir, "bridge.db")
}

// JobsRegistryPath returns the async job registry path.
func (c *Config) JobsRegistryPath() string {
	return filepath.Join(c.DataDir, "jobs.json")
}

// AuditLogPath returns the audit log path.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.DataDir, "audit.jsonl")
}

// PIDFilePath returns the daemon PID file path.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.DataDir, "switchboard.pid")
}

// String returns a JSON representation with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "***"
	}
	if masked.Summarizer.APIKey != "" {
		masked.Summarizer.APIKey = "***"
	}
	if masked.Advisory.AnthropicAPIKey != "" {
		masked.Advisory.AnthropicAPIKey = "***"
	}
	if masked.Advisory.OpenAIAPIKey != "" {
		masked.Advisory.OpenAIAPIKey = "***"
	}

	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return "<unprintable config>"
	}
	return string(data)
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".switchboard", "switchboard.json"), nil
}
