package toolexecutor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(cfg Config) *ToolExecutor {
	logger := zerolog.New(io.Discard)
	cfg.Logger = &logger
	return New(cfg)
}

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo input",
		Category:    CategoryRead,
		Parameters: []ToolParameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["text"], nil
		},
	}
}

func TestToolExecutor_RegisterTool(t *testing.T) {
	te := newTestExecutor(Config{})

	require.NoError(t, te.RegisterTool(echoTool()))

	tool := te.GetTool("echo")
	require.NotNil(t, tool)
	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, []string{"echo"}, te.ListTools())

	err := te.RegisterTool(echoTool())
	assert.ErrorContains(t, err, "already registered")

	te.UnregisterTool("echo")
	assert.Nil(t, te.GetTool("echo"))
}

func TestToolExecutor_RegisterTool_InvalidDefinition(t *testing.T) {
	te := newTestExecutor(Config{})
	noop := func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil }

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{name: "empty name", def: ToolDefinition{Description: "Test", Handler: noop}},
		{name: "empty description", def: ToolDefinition{Name: "test", Handler: noop}},
		{name: "nil handler", def: ToolDefinition{Name: "test", Description: "Test"}},
		{name: "bad category", def: ToolDefinition{Name: "test", Description: "Test", Handler: noop, Category: "magic"}},
		{
			name: "bad parameter type",
			def: ToolDefinition{
				Name: "test", Description: "Test", Handler: noop,
				Parameters: []ToolParameter{{Name: "x", Type: "date", Description: "x"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, te.RegisterTool(tt.def))
		})
	}
}

func TestToolExecutor_Execute(t *testing.T) {
	te := newTestExecutor(Config{Timeout: 100 * time.Millisecond, MaxOutputBytes: 16})
	require.NoError(t, te.RegisterTool(echoTool()))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "fail",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("disk full")
		},
	}))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "slow",
		Description: "Never finishes in time",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			time.Sleep(500 * time.Millisecond)
			return "late", nil
		},
	}))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "panics",
		Description: "Panics",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("oops")
		},
	}))

	t.Run("should return output", func(t *testing.T) {
		result := te.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"}, nil)
		assert.True(t, result.Success)
		assert.Equal(t, "hi", result.Text())
	})

	t.Run("should report unknown tools", func(t *testing.T) {
		result := te.Execute(context.Background(), "search", nil, nil)
		assert.False(t, result.Success)
		assert.Equal(t, "tool not found: search", result.Text())
		assert.ErrorIs(t, result.Err(), ErrToolNotFound)
	})

	t.Run("should validate parameters", func(t *testing.T) {
		result := te.Execute(context.Background(), "echo", map[string]interface{}{"text": 5}, nil)
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err(), ErrInvalidParameters)

		result = te.Execute(context.Background(), "echo", nil, nil)
		assert.ErrorIs(t, result.Err(), ErrInvalidParameters)
	})

	t.Run("should wrap handler errors", func(t *testing.T) {
		result := te.Execute(context.Background(), "fail", nil, nil)
		assert.ErrorIs(t, result.Err(), ErrToolExecution)
		assert.Contains(t, result.Text(), "disk full")
	})

	t.Run("should time out", func(t *testing.T) {
		result := te.Execute(context.Background(), "slow", nil, nil)
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err(), ErrToolTimeout)
	})

	t.Run("should recover from panics", func(t *testing.T) {
		result := te.Execute(context.Background(), "panics", nil, nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "oops")
	})

	t.Run("should truncate large output", func(t *testing.T) {
		result := te.Execute(context.Background(), "echo", map[string]interface{}{"text": strings.Repeat("x", 64)}, nil)
		assert.True(t, result.Success)
		assert.True(t, result.Truncated)
		assert.True(t, strings.HasSuffix(result.Text(), "[output truncated]"))
	})

	t.Run("should truncate on a rune boundary", func(t *testing.T) {
		text := "x" + strings.Repeat("é", 20)
		result := te.Execute(context.Background(), "echo", map[string]interface{}{"text": text}, nil)
		assert.True(t, result.Truncated)
		assert.True(t, utf8.ValidString(result.Text()))
		assert.Equal(t, "x"+strings.Repeat("é", 7)+"\n... [output truncated]", result.Text())
	})

	t.Run("should enforce the agent policy", func(t *testing.T) {
		execCtx := &ExecutionContext{Agent: "jarvis", Policy: AllowOnly("fail")}
		result := te.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"}, execCtx)
		assert.ErrorIs(t, result.Err(), ErrPolicyViolation)
		assert.Equal(t, true, result.Metadata["policy_violation"])
	})

	t.Run("should pass the execution context to handlers", func(t *testing.T) {
		var seen *ExecutionContext
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "where",
			Description: "Reports the working dir",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				seen = ExecContextFromContext(ctx)
				return "ok", nil
			},
		}))

		te.Execute(context.Background(), "where", nil, &ExecutionContext{WorkingDir: "/tmp/work"})
		require.NotNil(t, seen)
		assert.Equal(t, "/tmp/work", seen.WorkingDir)
	})
}

func TestToolResult_Text(t *testing.T) {
	assert.Equal(t, "", ToolResult{Success: true}.Text())
	assert.Equal(t, `{"a":1}`, ToolResult{Success: true, Output: map[string]int{"a": 1}}.Text())
	assert.Equal(t, "boom", ToolResult{Error: "boom"}.Text())
}

func TestToolDefinition_JSONSchema(t *testing.T) {
	schema := echoTool().JSONSchema()

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"text"}, schema["required"])
	props := schema["properties"].(map[string]interface{})
	assert.Contains(t, props, "text")
}
