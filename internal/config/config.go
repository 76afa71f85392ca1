package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Jarvis configuration
type Config struct {
	// HTTP host
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Turn orchestration
	Turn TurnConfig `json:"turn" mapstructure:"turn"`

	// Agent profiles
	Agents AgentsConfig `json:"agents" mapstructure:"agents"`

	// Model selection store
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// LLM providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Turn queue
	Queue QueueConfig `json:"queue" mapstructure:"queue"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing and metrics
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds the chat server configuration
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"read_timeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"write_timeout" mapstructure:"write_timeout"` // seconds
	RateLimit    int    `json:"rate_limit" mapstructure:"rate_limit"`       // requests per minute per IP
	WebSocket    bool   `json:"websocket" mapstructure:"websocket"`
}

// TurnConfig holds the per-turn orchestration settings
type TurnConfig struct {
	MaxCalls         int    `json:"max_calls" mapstructure:"max_calls"`
	InitialCallCount int    `json:"initial_call_count" mapstructure:"initial_call_count"`
	Timeout          int    `json:"timeout" mapstructure:"timeout"` // seconds, 0 disables
	ParallelTools    bool   `json:"parallel_tools" mapstructure:"parallel_tools"`
	RetryOnFailure   bool   `json:"retry_on_failure" mapstructure:"retry_on_failure"`
	DelegateTool     string `json:"delegate_tool" mapstructure:"delegate_tool"`
	SubAgentMaxCalls int    `json:"sub_agent_max_calls" mapstructure:"sub_agent_max_calls"`
}

// AgentsConfig points at the agent profile file and names the two roles
type AgentsConfig struct {
	ProfilesPath string `json:"profiles_path" mapstructure:"profiles_path"`
	Primary      string `json:"primary" mapstructure:"primary"`
	Sub          string `json:"sub" mapstructure:"sub"`
}

// ModelsConfig holds the model selection store settings
type ModelsConfig struct {
	Path           string `json:"path" mapstructure:"path"`
	BackupPath     string `json:"backup_path" mapstructure:"backup_path"`
	BackupSchedule string `json:"backup_schedule" mapstructure:"backup_schedule"` // cron spec, empty disables
	Watch          bool   `json:"watch" mapstructure:"watch"`
}

// ProvidersConfig holds credentials and endpoints for every LLM provider
type ProvidersConfig struct {
	Anthropic   ProviderConfig `json:"anthropic" mapstructure:"anthropic"`
	OpenAI      ProviderConfig `json:"openai" mapstructure:"openai"`
	Gemini      ProviderConfig `json:"gemini" mapstructure:"gemini"`
	Ollama      ProviderConfig `json:"ollama" mapstructure:"ollama"`
	Temperature float64        `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int            `json:"max_tokens" mapstructure:"max_tokens"`
}

// ProviderConfig represents a single provider endpoint
type ProviderConfig struct {
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// ToolsConfig holds tool execution settings
type ToolsConfig struct {
	WorkingDir     string   `json:"working_dir" mapstructure:"working_dir"`
	Timeout        int      `json:"timeout" mapstructure:"timeout"` // seconds
	MaxOutputBytes int      `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	Allow          []string `json:"allow" mapstructure:"allow"`
	Deny           []string `json:"deny" mapstructure:"deny"`
}

// QueueConfig holds turn queue settings
type QueueConfig struct {
	MaxConcurrent int `json:"max_concurrent" mapstructure:"max_concurrent"`
	DedupWindow   int `json:"dedup_window" mapstructure:"dedup_window"` // seconds
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TelemetryConfig holds tracing and metrics switches
type TelemetryConfig struct {
	ServiceName    string `json:"service_name" mapstructure:"service_name"`
	TracingEnabled bool   `json:"tracing_enabled" mapstructure:"tracing_enabled"`
	MetricsEnabled bool   `json:"metrics_enabled" mapstructure:"metrics_enabled"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         5000,
			ReadTimeout:  30,
			WriteTimeout: 330,
			RateLimit:    60,
			WebSocket:    true,
		},
		Turn: TurnConfig{
			MaxCalls:         6,
			InitialCallCount: 0,
			Timeout:          300,
			ParallelTools:    false,
			RetryOnFailure:   false,
			DelegateTool:     "call_coder",
			SubAgentMaxCalls: 6,
		},
		Agents: AgentsConfig{
			Primary: "jarvis",
			Sub:     "coder",
		},
		Models: ModelsConfig{
			Watch: true,
		},
		Providers: ProvidersConfig{
			Ollama: ProviderConfig{
				BaseURL: "http://localhost:11434",
			},
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Tools: ToolsConfig{
			Timeout:        30,
			MaxOutputBytes: 10 * 1024,
			Allow:          []string{"*"},
			Deny:           []string{},
		},
		Queue: QueueConfig{
			MaxConcurrent: 4,
			DedupWindow:   10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "jarvis",
			TracingEnabled: false,
			MetricsEnabled: true,
		},
	}
}

// TurnTimeout returns the per-turn deadline as a duration
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Turn.Timeout) * time.Second
}

// ToolTimeout returns the per-tool timeout as a duration
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Tools.Timeout) * time.Second
}

// Address returns the host:port the chat server listens on
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Providers.Anthropic.APIKey = maskSecret(c.Providers.Anthropic.APIKey)
	masked.Providers.OpenAI.APIKey = maskSecret(c.Providers.OpenAI.APIKey)
	masked.Providers.Gemini.APIKey = maskSecret(c.Providers.Gemini.APIKey)
	masked.Providers.Ollama.APIKey = maskSecret(c.Providers.Ollama.APIKey)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Turn.MaxCalls <= 0 {
		return fmt.Errorf("turn.max_calls must be positive, got %d", c.Turn.MaxCalls)
	}
	if c.Turn.InitialCallCount < 0 {
		return fmt.Errorf("turn.initial_call_count must be >= 0, got %d", c.Turn.InitialCallCount)
	}
	if c.Turn.DelegateTool == "" {
		return fmt.Errorf("turn.delegate_tool is required")
	}
	if c.Agents.Primary == "" || c.Agents.Sub == "" {
		return fmt.Errorf("agents.primary and agents.sub are required")
	}
	if c.Agents.Primary == c.Agents.Sub {
		return fmt.Errorf("primary and sub agent must differ, both are %s", c.Agents.Primary)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Models.Path == "" {
		return fmt.Errorf("models.path is required")
	}

	return nil
}
