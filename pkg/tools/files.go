package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/LluisCV99/jarvis/pkg/toolexecutor"
)

const maxReadBytes = 200000

func readFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "read_file",
		Description: "Reads the content of a file.",
		Category:    toolexecutor.CategoryRead,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "Path of the file, relative to the working directory", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target, err := resolvePath(ctx, opts, params["file_path"])
			if err != nil {
				return nil, err
			}

			data, truncated, err := readFileWithLimit(target, maxReadBytes)
			if err != nil {
				return nil, err
			}
			if truncated {
				return string(data) + "\n... [file truncated]", nil
			}
			return string(data), nil
		},
	}
}

func writeFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "write_file",
		Description: "Writes the content of a file, replacing what was there.",
		Category:    toolexecutor.CategoryWrite,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "Path of the file, relative to the working directory", Required: true},
			{Name: "content", Type: "string", Description: "New file content", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target, err := resolvePath(ctx, opts, params["file_path"])
			if err != nil {
				return nil, err
			}
			content, _ := params["content"].(string)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(target, []byte(content), 0644); err != nil {
				return nil, err
			}
			return "File written successfully.", nil
		},
	}
}

func listFilesTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "list_files",
		Description: "Lists the files in a directory.",
		Category:    toolexecutor.CategoryRead,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "directory", Type: "string", Description: "Directory, relative to the working directory", Required: false, Default: "."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			dir := params["directory"]
			if s, _ := dir.(string); strings.TrimSpace(s) == "" {
				dir = "."
			}
			target, err := resolvePath(ctx, opts, dir)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return nil, err
			}

			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return strings.Join(names, "\n"), nil
		},
	}
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

func workingDir(ctx context.Context, opts Options) (string, error) {
	if execCtx := toolexecutor.ExecContextFromContext(ctx); execCtx != nil && strings.TrimSpace(execCtx.WorkingDir) != "" {
		return filepath.Clean(execCtx.WorkingDir), nil
	}
	if strings.TrimSpace(opts.WorkingDir) != "" {
		return filepath.Clean(opts.WorkingDir), nil
	}
	return os.Getwd()
}

// resolvePath keeps tool file access inside the working directory
func resolvePath(ctx context.Context, opts Options, value interface{}) (string, error) {
	root, err := workingDir(ctx, opts)
	if err != nil {
		return "", err
	}

	raw, _ := value.(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(raw, "://") {
		return "", fmt.Errorf("path must be a local file")
	}

	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the working directory", raw)
	}
	return candidate, nil
}
