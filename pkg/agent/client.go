package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LluisCV99/jarvis/internal/observability"
	"github.com/LluisCV99/jarvis/internal/tracing"
	"github.com/LluisCV99/jarvis/pkg/models"
	"github.com/LluisCV99/jarvis/pkg/orchestrator"
	"github.com/LluisCV99/jarvis/pkg/toolexecutor"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "jarvis.agent"

// ModelResolver returns the model an agent currently runs on
type ModelResolver interface {
	Active(agent string) (models.Selection, error)
}

// ToolSource lists the tools an agent may request
type ToolSource interface {
	Definitions() []toolexecutor.ToolDefinition
}

// Config holds client configuration
type Config struct {
	// Name is the agent name used to resolve its model
	Name      string
	Models    ModelResolver
	Providers ProviderSource

	Tools ToolSource
	// ExtraTools are advertised but never executed by this client, such
	// as the delegation tool
	ExtraTools []toolexecutor.ToolDefinition

	Temperature float64
	MaxTokens   int
	MaxRetries  int
	// RetryDelay is the first backoff delay, doubled on each retry
	RetryDelay time.Duration

	Logger zerolog.Logger
}

// Client invokes one agent role. The model is resolved on every call so
// switching it takes effect on the next invocation.
type Client struct {
	name        string
	models      ModelResolver
	providers   ProviderSource
	tools       ToolSource
	extraTools  []toolexecutor.ToolDefinition
	temperature float64
	maxTokens   int
	maxRetries  int
	retryDelay  time.Duration
	logger      zerolog.Logger
}

// NewClient creates a new agent client
func NewClient(cfg Config) (*Client, error) {
	observability.EnsureRegistered()

	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Models == nil {
		return nil, fmt.Errorf("model resolver is required")
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider source is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &Client{
		name:        cfg.Name,
		models:      cfg.Models,
		providers:   cfg.Providers,
		tools:       cfg.Tools,
		extraTools:  cfg.ExtraTools,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		logger:      cfg.Logger.With().Str("agent", cfg.Name).Logger(),
	}, nil
}

// Name returns the agent name
func (c *Client) Name() string {
	return c.name
}

// Invoke sends transcript to the agent's active model
func (c *Client) Invoke(ctx context.Context, transcript []orchestrator.Message) (orchestrator.Reply, error) {
	invocationID := uuid.NewString()
	ctx = tracing.WithAgent(ctx, c.name)
	logger := tracing.LoggerFromContext(ctx, c.logger).With().Str("invocation_id", invocationID).Logger()

	sel, err := c.models.Active(c.name)
	if err != nil {
		return orchestrator.Reply{}, fmt.Errorf("failed to resolve model: %w", err)
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.invoke",
		attribute.String("agent", c.name),
		attribute.String("provider", sel.Provider),
		attribute.String("model", sel.Model),
	)
	defer span.End()

	start := time.Now()
	response, err := c.call(ctx, logger, sel, transcript)
	observability.RecordAgentCall(c.name, sel.Provider, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Str("model", sel.String()).Msg("Agent call failed")
		return orchestrator.Reply{}, err
	}

	reply := orchestrator.Reply{Text: response.Content}
	for _, tc := range response.ToolCalls {
		reply.ToolRequests = append(reply.ToolRequests, orchestrator.ToolRequest{
			ID:   tc.ID,
			Name: tc.Name,
			Args: tc.Parameters,
		})
	}

	event := logger.Debug().
		Str("model", sel.String()).
		Int("tool_requests", len(reply.ToolRequests)).
		Dur("duration", time.Since(start))
	if response.Usage != nil {
		event = event.Int("input_tokens", response.Usage.InputTokens).Int("output_tokens", response.Usage.OutputTokens)
	}
	event.Msg("Agent replied")

	return reply, nil
}

func (c *Client) call(ctx context.Context, logger zerolog.Logger, sel models.Selection, transcript []orchestrator.Message) (*LLMResponse, error) {
	provider, err := c.providers.Provider(ctx, sel.Provider)
	if err != nil {
		return nil, err
	}

	systemPrompt, messages := convertTranscript(transcript)
	request := LLMRequest{
		Model:        sel.Model,
		Messages:     messages,
		Tools:        c.toolSpecs(),
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		SystemPrompt: systemPrompt,
	}

	return c.callWithRetry(ctx, logger, provider, request)
}

// callWithRetry calls the provider with exponential backoff retry
func (c *Client) callWithRetry(ctx context.Context, logger zerolog.Logger, provider LLMProvider, request LLMRequest) (*LLMResponse, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		response, err := provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		// Don't retry on permanent errors
		if !IsRetryableError(err) {
			return nil, err
		}

		if attempt == c.maxRetries-1 {
			break
		}

		delay := c.retryDelay * time.Duration(1<<attempt)
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

func (c *Client) toolSpecs() []ToolSpec {
	var defs []toolexecutor.ToolDefinition
	if c.tools != nil {
		defs = append(defs, c.tools.Definitions()...)
	}
	defs = append(defs, c.extraTools...)

	specs := make([]ToolSpec, 0, len(defs))
	for _, def := range defs {
		specs = append(specs, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.JSONSchema(),
		})
	}
	return specs
}

// convertTranscript folds system messages into one prompt and maps
// delegate replies onto tool results, which is how providers expect the
// answer to a tool call
func convertTranscript(transcript []orchestrator.Message) (string, []AgentMessage) {
	var system []string
	messages := make([]AgentMessage, 0, len(transcript))

	for _, m := range transcript {
		switch m.Role {
		case orchestrator.RoleSystem:
			if m.Content != "" {
				system = append(system, m.Content)
			}
		case orchestrator.RoleUser:
			messages = append(messages, AgentMessage{Role: RoleUser, Content: m.Content})
		case orchestrator.RoleAssistant:
			msg := AgentMessage{Role: RoleAssistant, Content: m.Content}
			for _, r := range m.ToolRequests {
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: r.ID, Name: r.Name, Parameters: r.Args})
			}
			messages = append(messages, msg)
		case orchestrator.RoleTool, orchestrator.RoleDelegate:
			messages = append(messages, AgentMessage{
				Role:       RoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolRequestID,
				Name:       m.Name,
			})
		}
	}

	return strings.Join(system, "\n\n"), messages
}
