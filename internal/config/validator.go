package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// Validate checks the configuration for invalid values
func (v *Validator) Validate(cfg *Config) error {
	if cfg.Gateway.Port < 1 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port must be between 1 and 65535, got %d", cfg.Gateway.Port)
	}

	if cfg.Gateway.RateLimitPerMinute < 1 {
		return fmt.Errorf("gateway rate limit must be positive, got %d", cfg.Gateway.RateLimitPerMinute)
	}

	if cfg.Agents.TimeoutSeconds < 1 {
		return fmt.Errorf("agent timeout must be positive, got %d", cfg.Agents.TimeoutSeconds)
	}

	if cfg.Agents.MaxConcurrent < 1 {
		return fmt.Errorf("agent max_concurrent must be positive, got %d", cfg.Agents.MaxConcurrent)
	}

	if cfg.Agents.MaxOutputBytes < 1024 {
		return fmt.Errorf("agent max_output_bytes must be at least 1024, got %d", cfg.Agents.MaxOutputBytes)
	}

	if cfg.Agents.SyncBudgetSeconds >= cfg.Gateway.RequestTimeoutSeconds {
		return fmt.Errorf("agents sync_budget_seconds (%d) must be below gateway request_timeout_seconds (%d)",
			cfg.Agents.SyncBudgetSeconds, cfg.Gateway.RequestTimeoutSeconds)
	}

	switch cfg.Summarizer.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("summarizer provider must be anthropic or openai, got %q", cfg.Summarizer.Provider)
	}

	if cfg.Summarizer.TargetChars < 100 {
		return fmt.Errorf("summarizer target_chars must be at least 100, got %d", cfg.Summarizer.TargetChars)
	}

	if cfg.Summarizer.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Summarizer.APIKey, cfg.Summarizer.Provider); err != nil {
			return fmt.Errorf("summarizer: %w", err)
		}
	}

	if cfg.Advisory.AnthropicAPIKey != "" {
		if err := v.ValidateAPIKey(cfg.Advisory.AnthropicAPIKey, "anthropic"); err != nil {
			return fmt.Errorf("advisory: %w", err)
		}
	}
	if cfg.Advisory.OpenAIAPIKey != "" {
		if err := v.ValidateAPIKey(cfg.Advisory.OpenAIAPIKey, "openai"); err != nil {
			return fmt.Errorf("advisory: %w", err)
		}
	}

	if cfg.Maintenance.MappingTTLDays < 1 {
		return fmt.Errorf("maintenance mapping_ttl_days must be positive, got %d", cfg.Maintenance.MappingTTLDays)
	}

	if cfg.Maintenance.SessionRetentionDays < 1 {
		return fmt.Errorf("maintenance session_retention_days must be positive, got %d", cfg.Maintenance.SessionRetentionDays)
	}

	return nil
}
