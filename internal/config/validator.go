package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
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
	case "gemini":
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Gemini API key format (should start with AIza)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateBackupSchedule validates the cron spec used for store backups
func (v *Validator) ValidateBackupSchedule(spec string) error {
	if spec == "" {
		return nil // Backups disabled
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := cfg.Validate(); err != nil {
		errors = append(errors, err)
	}

	if cfg.Turn.SubAgentMaxCalls <= 0 {
		errors = append(errors, fmt.Errorf("turn.sub_agent_max_calls must be positive"))
	}
	if cfg.Turn.Timeout < 0 {
		errors = append(errors, fmt.Errorf("turn.timeout must be >= 0"))
	}

	keys := map[string]string{
		"anthropic": cfg.Providers.Anthropic.APIKey,
		"openai":    cfg.Providers.OpenAI.APIKey,
		"gemini":    cfg.Providers.Gemini.APIKey,
	}
	for _, provider := range []string{"anthropic", "openai", "gemini"} {
		if keys[provider] == "" {
			continue // Provider not configured
		}
		if err := v.ValidateAPIKey(keys[provider], provider); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateTemperature(cfg.Providers.Temperature); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxTokens(cfg.Providers.MaxTokens); err != nil {
		errors = append(errors, err)
	}

	if cfg.Tools.Timeout < 0 {
		errors = append(errors, fmt.Errorf("tools.timeout must be >= 0"))
	}
	if cfg.Tools.MaxOutputBytes < 0 {
		errors = append(errors, fmt.Errorf("tools.max_output_bytes must be >= 0"))
	}

	if cfg.Queue.MaxConcurrent <= 0 {
		errors = append(errors, fmt.Errorf("queue.max_concurrent must be positive"))
	}

	if err := v.ValidateBackupSchedule(cfg.Models.BackupSchedule); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
