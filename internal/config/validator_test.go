package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateAPIKey(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAPIKey("sk-ant-abc123", "anthropic"))
	assert.NoError(t, v.ValidateAPIKey("sk-abc123", "openai"))
	assert.Error(t, v.ValidateAPIKey("", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("notakey", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("ant-abc", "openai"))
}

func TestValidator_ValidateDefaults(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Validate(DefaultConfig()))
}

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Gateway.Port = 0 }},
		{"bad rate limit", func(c *Config) { c.Gateway.RateLimitPerMinute = 0 }},
		{"bad timeout", func(c *Config) { c.Agents.TimeoutSeconds = 0 }},
		{"bad concurrency", func(c *Config) { c.Agents.MaxConcurrent = 0 }},
		{"tiny output cap", func(c *Config) { c.Agents.MaxOutputBytes = 10 }},
		{"sync budget above request timeout", func(c *Config) { c.Agents.SyncBudgetSeconds = 100 }},
		{"unknown summarizer provider", func(c *Config) { c.Summarizer.Provider = "cohere" }},
		{"tiny summarizer target", func(c *Config) { c.Summarizer.TargetChars = 10 }},
		{"bad summarizer key", func(c *Config) { c.Summarizer.APIKey = "nope" }},
		{"bad advisory anthropic key", func(c *Config) { c.Advisory.AnthropicAPIKey = "nope" }},
		{"bad mapping ttl", func(c *Config) { c.Maintenance.MappingTTLDays = 0 }},
		{"bad retention", func(c *Config) { c.Maintenance.SessionRetentionDays = -1 }},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, v.Validate(cfg))
		})
	}
}
