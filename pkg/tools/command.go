package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/LluisCV99/jarvis/pkg/toolexecutor"
)

func runCommandTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "run_command",
		Description: "Runs a command in the terminal and returns its output.",
		Category:    toolexecutor.CategoryShell,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "command", Type: "string", Description: "Shell command line", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			command, _ := params["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return nil, fmt.Errorf("command is required")
			}

			dir, err := workingDir(ctx, opts)
			if err != nil {
				return nil, err
			}

			var cmd *exec.Cmd
			if runtime.GOOS == "windows" {
				cmd = exec.CommandContext(ctx, "cmd", "/C", command)
			} else {
				cmd = exec.CommandContext(ctx, "sh", "-c", command)
			}
			cmd.Dir = dir

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			if err := cmd.Run(); err != nil {
				if msg := strings.TrimSpace(stderr.String()); msg != "" {
					return nil, fmt.Errorf("%w: %s", err, msg)
				}
				return nil, err
			}
			return stdout.String(), nil
		},
	}
}
