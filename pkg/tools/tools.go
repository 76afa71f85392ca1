// Package tools holds the built-in tools of the jarvis and coder agents.
package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/LluisCV99/jarvis/pkg/toolexecutor"
)

// Options configures tool registration.
type Options struct {
	WorkingDir     string
	HTTPClient     *http.Client
	SearchEndpoint string
}

// PrimaryToolNames are the tools of the jarvis agent
var PrimaryToolNames = []string{"get_Weather", "get_location", "add_numbers"}

// CoderToolNames are the tools of the coder agent
var CoderToolNames = []string{"read_file", "write_file", "list_files", "run_command", "web_search"}

// Register registers every built-in tool. Which agent sees which tool is
// decided by the registry policies, not here.
func Register(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.SearchEndpoint == "" {
		opts.SearchEndpoint = DefaultSearchEndpoint
	}

	defs := []toolexecutor.ToolDefinition{
		weatherTool(),
		locationTool(),
		addNumbersTool(),
		readFileTool(opts),
		writeFileTool(opts),
		listFilesTool(opts),
		runCommandTool(opts),
		webSearchTool(opts),
	}

	for _, def := range defs {
		if err := executor.RegisterTool(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

// DelegationTool describes the reserved tool the primary agent calls to hand
// a task to the sub-agent. It is advertised to the agent but never executed
// by a registry: the orchestrator intercepts it.
func DelegationTool(name, subAgent string) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        name,
		Description: fmt.Sprintf("Calls the expert %s model. Use it for any request to write, review or explain code.", subAgent),
		Category:    toolexecutor.CategoryAgent,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "prompt", Type: "string", Description: "The complete task for the coder, with all the context it needs", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("%s is handled by the orchestrator", name)
		},
	}
}
