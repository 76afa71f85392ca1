package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LluisCV99/jarvis/internal/observability"
	"github.com/LluisCV99/jarvis/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "jarvis.orchestrator"

// FallbackText is the final text of a turn in which no agent produced any text
const FallbackText = "I couldn't produce a response for this request."

// Orchestrator runs turns. It holds only immutable collaborators, so one
// instance serves concurrent turns.
type Orchestrator struct {
	primary       AgentClient
	subAgent      AgentClient
	tools         ToolRegistry
	subAgentTools ToolRegistry
	commands      CommandInterceptor
	delegations   DelegationTracker

	primaryName      string
	subAgentName     string
	systemPrompt     string
	subAgentPrompt   string
	delegateTool     string
	subAgentMaxCalls int
	parallelTools    bool
	retryOnFailure   bool
	timeout          time.Duration

	logger zerolog.Logger
}

// Config holds orchestrator configuration
type Config struct {
	Primary       AgentClient
	SubAgent      AgentClient
	Tools         ToolRegistry
	SubAgentTools ToolRegistry
	Commands      CommandInterceptor
	Delegations   DelegationTracker

	PrimaryName      string
	SubAgentName     string
	SystemPrompt     string
	SubAgentPrompt   string
	DelegateTool     string
	SubAgentMaxCalls int

	// ParallelTools runs the requests of one reply concurrently
	ParallelTools bool

	// RetryOnFailure re-invokes the primary agent after a failed call while
	// budget remains instead of ending the turn
	RetryOnFailure bool

	// Timeout is the single per-turn deadline, zero disables it
	Timeout time.Duration

	Logger zerolog.Logger
}

// New creates a new orchestrator
func New(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Primary == nil {
		return nil, fmt.Errorf("primary agent client is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.SubAgent != nil && cfg.DelegateTool == "" {
		return nil, fmt.Errorf("delegate tool name is required when a sub-agent is configured")
	}

	o := &Orchestrator{
		primary:          cfg.Primary,
		subAgent:         cfg.SubAgent,
		tools:            cfg.Tools,
		subAgentTools:    cfg.SubAgentTools,
		commands:         cfg.Commands,
		delegations:      cfg.Delegations,
		primaryName:      cfg.PrimaryName,
		subAgentName:     cfg.SubAgentName,
		systemPrompt:     cfg.SystemPrompt,
		subAgentPrompt:   cfg.SubAgentPrompt,
		delegateTool:     cfg.DelegateTool,
		subAgentMaxCalls: cfg.SubAgentMaxCalls,
		parallelTools:    cfg.ParallelTools,
		retryOnFailure:   cfg.RetryOnFailure,
		timeout:          cfg.Timeout,
		logger:           cfg.Logger.With().Str("component", "orchestrator").Logger(),
	}

	if o.primaryName == "" {
		o.primaryName = "primary"
	}
	if o.subAgentName == "" {
		o.subAgentName = "sub-agent"
	}
	if o.subAgentMaxCalls <= 0 {
		o.subAgentMaxCalls = 1
	}

	return o, nil
}

// RunTurn drives one user turn to a terminal state. The returned error is
// non-nil only for malformed requests or a broken routing invariant; agent
// and tool failures are reported in Response.Errors.
func (o *Orchestrator) RunTurn(ctx context.Context, req Request) (Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := NewSession(req, o.retryOnFailure)
	if err != nil {
		return Response{}, err
	}

	ctx = tracing.NewTurnContext(ctx)
	ctx = tracing.WithAgent(ctx, o.primaryName)
	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"turn.run",
		attribute.Int("turn.max_calls", req.MaxCalls),
		attribute.Int("turn.call_count", req.CallCount),
	)
	defer span.End()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	logger := tracing.LoggerFromContext(ctx, o.logger)
	start := time.Now()

	path := []State{StateStart}
	o.start(ctx, s, req.UserText)

	limit := StepLimit(req.MaxCalls, req.CallCount)
	for steps := 1; ; steps++ {
		next := Route(s)
		path = append(path, next)
		logger.Debug().
			Str("from", s.state.String()).
			Str("to", next.String()).
			Int("call_count", s.callCount).
			Msg("Routed")

		if next.IsTerminal() {
			s.state = next
			break
		}
		if steps >= limit {
			err := fmt.Errorf("%w: %d steps", ErrStepLimit, steps)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Response{}, err
		}

		s.state = next
		switch next {
		case StateInvokingPrimaryAgent:
			o.invokePrimary(ctx, s)
		case StateInvokingTools:
			o.invokeTools(ctx, s)
		case StateInvokingSubAgent:
			o.invokeSubAgent(ctx, s)
		}
	}

	resp := Response{
		Errors:     s.Errors(),
		CallCount:  s.callCount,
		State:      s.state,
		Path:       path,
		Transcript: s.Transcript(),
	}
	if text, ok := s.finalText(); ok {
		resp.FinalText = text
	} else {
		resp.FinalText = FallbackText
	}
	if s.state == StateEnded && s.BudgetExhausted() {
		resp.Cause = ErrBudgetExceeded
	}

	outcome := s.state.String()
	if errors.Is(resp.Cause, ErrBudgetExceeded) {
		outcome = "budget_exhausted"
	}
	observability.RecordTurn(outcome, time.Since(start), s.callCount-req.CallCount, len(resp.Errors))

	span.SetAttributes(
		attribute.String("turn.outcome", outcome),
		attribute.Int("turn.errors", len(resp.Errors)),
	)
	logger.Info().
		Str("outcome", outcome).
		Int("call_count", resp.CallCount).
		Int("errors", len(resp.Errors)).
		Dur("duration", time.Since(start)).
		Msg("Turn completed")

	return resp, nil
}

// start consults the command interceptor and otherwise seeds the transcript
func (o *Orchestrator) start(ctx context.Context, s *Session, userText string) {
	if o.commands != nil {
		if handled, response := o.commands.TryHandle(ctx, userText); handled {
			s.intercept(response)
			return
		}
	}

	if o.systemPrompt != "" {
		s.append(Message{Role: RoleSystem, Content: o.systemPrompt})
	}
	s.append(Message{Role: RoleUser, Content: userText})
}
