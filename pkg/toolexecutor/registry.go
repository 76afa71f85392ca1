package toolexecutor

import (
	"context"
	"time"

	"github.com/LluisCV99/jarvis/internal/observability"
	"github.com/LluisCV99/jarvis/internal/tracing"
)

// RegistryOptions scopes a Registry to one agent
type RegistryOptions struct {
	Agent      string
	WorkingDir string
	Timeout    time.Duration
	Policy     *ToolPolicy
}

// Registry is the view of an executor one agent gets. Execute never fails:
// unknown tools, policy violations and tool errors all come back as text.
type Registry struct {
	executor *ToolExecutor
	execCtx  ExecutionContext
}

// NewRegistry creates a registry over executor
func NewRegistry(executor *ToolExecutor, opts RegistryOptions) *Registry {
	return &Registry{
		executor: executor,
		execCtx: ExecutionContext{
			Agent:      opts.Agent,
			WorkingDir: opts.WorkingDir,
			Timeout:    opts.Timeout,
			Policy:     opts.Policy,
		},
	}
}

// Execute runs the tool and renders its result as text
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) string {
	start := time.Now()
	execCtx := r.execCtx

	result := r.executor.Execute(ctx, name, args, &execCtx)
	duration := time.Since(start)

	observability.RecordToolExecution(name, duration, result.Success)

	status := "success"
	if !result.Success {
		status = "failed"
	}
	meta := map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"truncated":   result.Truncated,
	}
	if result.Error != "" {
		meta["error"] = result.Error
	}
	if turnID := tracing.GetTurnID(ctx); turnID != "" {
		meta["turn_id"] = turnID
	}
	observability.RecordToolAudit(ctx, name, r.execCtx.Agent, status, meta)

	return result.Text()
}

// Definitions returns the tools this registry's agent may call
func (r *Registry) Definitions() []ToolDefinition {
	return r.executor.Definitions(r.execCtx.Policy)
}

// Agent returns the agent the registry is scoped to
func (r *Registry) Agent() string {
	return r.execCtx.Agent
}
