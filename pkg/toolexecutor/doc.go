// Package toolexecutor registers and executes structured tools for agents.
//
// Invariants:
// - Tool names are unique.
// - Parameters are schema-validated before execution.
// - Every execution is bounded by a timeout and its output by a size limit.
// - A Registry never returns an error: failures become result text.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.Config{Timeout: 30 * time.Second})
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	})
//	registry := toolexecutor.NewRegistry(exec, toolexecutor.RegistryOptions{Agent: "jarvis"})
//	text := registry.Execute(ctx, "echo", map[string]interface{}{"text": "hi"})
package toolexecutor
