package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/LluisCV99/jarvis/internal/observability"
	"github.com/LluisCV99/jarvis/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// invokePrimary calls the primary agent once. The call counts against the
// budget whether or not it succeeds.
func (o *Orchestrator) invokePrimary(ctx context.Context, s *Session) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "turn.primary_agent",
		attribute.Int("turn.call", s.callCount+1),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)

	reply, err := o.primary.Invoke(ctx, s.Transcript())
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	s.callCount++

	if err != nil {
		s.lastCallFailed = true
		s.recordError(fmt.Errorf("%w: %s: %v", ErrAgentInvocation, o.primaryName, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Int("call_count", s.callCount).Msg("Primary agent call failed")
		return
	}
	s.lastCallFailed = false

	msg := Message{
		Role:         RoleAssistant,
		Content:      reply.Text,
		ToolRequests: assignRequestIDs(reply.ToolRequests, s.callCount),
		Name:         o.primaryName,
	}
	s.append(msg)

	if d := o.findDelegation(msg, s); d != nil {
		s.pendingDelegation = d
	}

	span.SetAttributes(attribute.Int("turn.tool_requests", len(msg.ToolRequests)))
	logger.Debug().
		Int("call_count", s.callCount).
		Int("tool_requests", len(msg.ToolRequests)).
		Bool("delegation", s.pendingDelegation != nil).
		Msg("Primary agent replied")
}

// assignRequestIDs gives every request an ID so results correlate by identity
func assignRequestIDs(reqs []ToolRequest, call int) []ToolRequest {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]ToolRequest, len(reqs))
	for i, r := range reqs {
		if r.ID == "" {
			r.ID = fmt.Sprintf("call_%d_%d", call, i)
		}
		out[i] = r
	}
	return out
}

// findDelegation returns the delegation requested by msg through the
// reserved tool, or nil
func (o *Orchestrator) findDelegation(msg Message, s *Session) *Delegation {
	if o.subAgent == nil || o.delegateTool == "" {
		return nil
	}

	for _, r := range msg.ToolRequests {
		if r.Name != o.delegateTool {
			continue
		}
		task := stringArg(r.Args, "prompt", "task", "request")
		if task == "" {
			task = strings.TrimSpace(msg.Content)
		}
		if task == "" {
			task = lastUserText(s.transcript)
		}
		return &Delegation{
			RequestID: r.ID,
			Agent:     o.subAgentName,
			Task:      task,
		}
	}

	return nil
}

func stringArg(args map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func lastUserText(transcript []Message) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == RoleUser {
			return transcript[i].Content
		}
	}
	return ""
}

// invokeTools executes every request of the fresh reply and appends the
// results in request order
func (o *Orchestrator) invokeTools(ctx context.Context, s *Session) {
	reply, ok := s.freshReply()
	if !ok {
		return
	}
	reqs := reply.ToolRequests

	ctx, span := tracing.StartSpan(ctx, tracerName, "turn.tools",
		attribute.Int("turn.tool_requests", len(reqs)),
	)
	defer span.End()

	results := executeAll(ctx, o.tools, reqs, o.parallelTools)

	msgs := make([]Message, len(reqs))
	for i, r := range reqs {
		msgs[i] = Message{
			Role:          RoleTool,
			Content:       results[i],
			ToolRequestID: r.ID,
			Name:          r.Name,
		}
	}
	s.append(msgs...)
}

// executeAll runs reqs against registry. Results are indexed by request
// position, never by completion order.
func executeAll(ctx context.Context, registry ToolRegistry, reqs []ToolRequest, parallel bool) []string {
	results := make([]string, len(reqs))

	if !parallel || len(reqs) < 2 {
		for i, r := range reqs {
			results[i] = registry.Execute(ctx, r.Name, r.Args)
		}
		return results
	}

	var wg sync.WaitGroup
	for i, r := range reqs {
		wg.Add(1)
		go func(index int, req ToolRequest) {
			defer wg.Done()
			results[index] = registry.Execute(ctx, req.Name, req.Args)
		}(i, r)
	}
	wg.Wait()

	return results
}

// invokeSubAgent runs the pending delegation and folds the reply back into
// the primary transcript
func (o *Orchestrator) invokeSubAgent(ctx context.Context, s *Session) {
	d := s.pendingDelegation
	if d == nil {
		return
	}
	reply, _ := s.freshReply()

	subCtx := tracing.PropagateToSubAgent(ctx, d.Agent)
	subCtx, span := tracing.StartSpan(subCtx, tracerName, "turn.sub_agent",
		attribute.String("turn.sub_agent", d.Agent),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(subCtx, o.logger)

	var runID string
	if o.delegations != nil {
		runID = o.delegations.Begin(subCtx, d.Agent, d.Task)
	}

	text, err := o.runSubAgent(subCtx, d)
	if err != nil {
		s.recordError(fmt.Errorf("%w: %s: %v", ErrAgentInvocation, d.Agent, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Msg("Sub-agent call failed")
		text = ""
	}
	observability.RecordDelegation(err == nil)
	if o.delegations != nil {
		o.delegations.Complete(runID, text, err)
	}

	// Every request of the delegating reply gets exactly one result
	var msgs []Message
	delegated := false
	for _, r := range reply.ToolRequests {
		if r.ID == d.RequestID && !delegated {
			delegated = true
			msgs = append(msgs, Message{
				Role:          RoleDelegate,
				Content:       text,
				ToolRequestID: r.ID,
				Name:          d.Agent,
			})
			continue
		}
		msgs = append(msgs, Message{
			Role:          RoleTool,
			Content:       fmt.Sprintf("not executed: request superseded by delegation to %s", d.Agent),
			ToolRequestID: r.ID,
			Name:          r.Name,
		})
	}
	s.append(msgs...)
	s.pendingDelegation = nil
}

// runSubAgent gives the sub-agent a fresh transcript and lets it use its
// own tools for at most subAgentMaxCalls invocations. The private
// transcript is discarded.
func (o *Orchestrator) runSubAgent(ctx context.Context, d *Delegation) (string, error) {
	var transcript []Message
	if o.subAgentPrompt != "" {
		transcript = append(transcript, Message{Role: RoleSystem, Content: o.subAgentPrompt})
	}
	transcript = append(transcript, Message{Role: RoleUser, Content: d.Task})

	for calls := 1; ; calls++ {
		reply, err := o.subAgent.Invoke(ctx, transcript)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			return "", err
		}

		msg := Message{
			Role:         RoleAssistant,
			Content:      reply.Text,
			ToolRequests: assignRequestIDs(reply.ToolRequests, calls),
			Name:         d.Agent,
		}
		transcript = append(transcript, msg)

		if !msg.HasToolRequests() || o.subAgentTools == nil || calls >= o.subAgentMaxCalls {
			return reply.Text, nil
		}

		results := executeAll(ctx, o.subAgentTools, msg.ToolRequests, o.parallelTools)
		for i, r := range msg.ToolRequests {
			transcript = append(transcript, Message{
				Role:          RoleTool,
				Content:       results[i],
				ToolRequestID: r.ID,
				Name:          r.Name,
			})
		}
	}
}
