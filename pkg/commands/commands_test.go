package commands

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LluisCV99/jarvis/pkg/models"
	"github.com/LluisCV99/jarvis/pkg/orchestrator"
	"github.com/LluisCV99/jarvis/pkg/subagent"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ orchestrator.CommandInterceptor = (*Interceptor)(nil)

type fakeStats subagent.Stats

func (s fakeStats) GetStats() subagent.Stats { return subagent.Stats(s) }

func setup(t *testing.T, stats StatsSource) (*Interceptor, *models.FileStore) {
	t.Helper()
	store, err := models.Open(filepath.Join(t.TempDir(), "conf.json"), zerolog.New(io.Discard))
	require.NoError(t, err)

	i, err := New(Config{Store: store, Stats: stats, Logger: zerolog.New(io.Discard)})
	require.NoError(t, err)
	return i, store
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	i, _ := setup(t, nil)
	names := []string{}
	for _, c := range i.Commands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"/model", "/models", "/status", "/help"}, names)
}

func TestTryHandle(t *testing.T) {
	i, _ := setup(t, nil)
	ctx := context.Background()

	t.Run("should ignore plain input", func(t *testing.T) {
		handled, resp := i.TryHandle(ctx, "hello /model")
		assert.False(t, handled)
		assert.Empty(t, resp)
	})

	t.Run("should answer unknown commands", func(t *testing.T) {
		handled, resp := i.TryHandle(ctx, "  /Foo bar")
		assert.True(t, handled)
		assert.Equal(t, "❌ Unknown command `/foo`. Type `/help` to see available commands.", resp)

		_, err := i.Execute(ctx, "/foo")
		assert.ErrorIs(t, err, ErrUnknownCommand)
	})

	t.Run("should handle a bare prefix", func(t *testing.T) {
		handled, resp := i.TryHandle(ctx, "/")
		assert.True(t, handled)
		assert.Contains(t, resp, "Unknown command `/`")
	})
}

func TestModelCommand(t *testing.T) {
	i, store := setup(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "usage",
			input: "/model jarvis ollama",
			want:  "⚠️ Usage: `/model <agent> <provider> <model>`\nExample: `/model jarvis ollama gpt-oss:20b`",
		},
		{
			name:  "unknown agent",
			input: "/model nobody ollama gpt-oss:20b",
			want:  "❌ Unknown agent `nobody`. Available agents: jarvis, coder",
		},
		{
			name:  "unknown provider",
			input: "/model jarvis mistral large",
			want:  "❌ Unknown provider `mistral` for `jarvis`. Available providers: ollama, gemini, openai, anthropic",
		},
		{
			name:  "unknown model",
			input: "/model coder anthropic claude-opus",
			want:  "❌ Model `claude-opus` not found for `coder` on `anthropic`. Available: `claude-sonnet-4-5`",
		},
	}

	for _, tt := range tests {
		t.Run("should reject "+tt.name, func(t *testing.T) {
			handled, resp := i.TryHandle(ctx, tt.input)
			assert.True(t, handled)
			assert.Equal(t, tt.want, resp)
		})
	}

	t.Run("should change the model case-insensitively", func(t *testing.T) {
		_, resp := i.TryHandle(ctx, "/MODEL Jarvis Gemini gemini-flash-latest")
		assert.Equal(t, "✅ `jarvis` model changed to `gemini-flash-latest` on `gemini`", resp)

		sel, err := store.Active("jarvis")
		require.NoError(t, err)
		assert.Equal(t, models.Selection{Provider: "gemini", Model: "gemini-flash-latest"}, sel)
	})

	t.Run("should report a store write failure", func(t *testing.T) {
		i, store := setup(t, nil)

		// a non-empty directory at the store path makes the rename fail
		require.NoError(t, os.Remove(store.Path()))
		require.NoError(t, os.MkdirAll(filepath.Join(store.Path(), "locked"), 0755))

		handled, resp := i.TryHandle(ctx, "/model coder anthropic claude-sonnet-4-5")
		assert.True(t, handled)
		assert.True(t, strings.HasPrefix(resp, "❌ Failed to change model:"), resp)

		sel, err := store.Active("coder")
		require.NoError(t, err)
		assert.Equal(t, "ollama", sel.Provider)
	})
}

func TestModelsCommand(t *testing.T) {
	i, _ := setup(t, nil)
	ctx := context.Background()

	t.Run("should list every agent", func(t *testing.T) {
		_, resp := i.TryHandle(ctx, "/models")
		assert.True(t, strings.HasPrefix(resp, "📋 **Available Models:**\n\n### jarvis\n  **ollama**\n    - `gpt-oss:20b`"))
		assert.Less(t, strings.Index(resp, "### jarvis"), strings.Index(resp, "### coder"))
	})

	t.Run("should list one agent", func(t *testing.T) {
		_, resp := i.TryHandle(ctx, "/models CODER")
		assert.True(t, strings.HasPrefix(resp, "📋 **Models for coder:**\n\n  **ollama**\n    - `qwen3-coder:30b`"))

		_, resp = i.TryHandle(ctx, "/models nobody")
		assert.Contains(t, resp, "Unknown agent `nobody`")
	})

	t.Run("should list one provider", func(t *testing.T) {
		_, resp := i.TryHandle(ctx, "/models coder anthropic")
		assert.Equal(t, "📋 **Models for coder (anthropic):**\n\n  - `claude-sonnet-4-5`", resp)

		_, resp = i.TryHandle(ctx, "/models coder openai")
		assert.Equal(t, "❌ Unknown provider `openai` for `coder`. Available providers: ollama, gemini, anthropic", resp)
	})
}

func TestStatusCommand(t *testing.T) {
	t.Run("should show active models", func(t *testing.T) {
		i, _ := setup(t, nil)
		_, resp := i.TryHandle(context.Background(), "/status")

		assert.Equal(t, strings.Join([]string{
			"📊 **System Status:**\n",
			"**jarvis**",
			"  - Provider: `ollama`",
			"  - Model: `gpt-oss:20b`",
			"  - Status: 🟢 Active",
			"",
			"**coder**",
			"  - Provider: `ollama`",
			"  - Model: `qwen3-coder:30b`",
			"  - Status: 🟢 Active",
			"",
		}, "\n"), resp)
	})

	t.Run("should include delegation stats", func(t *testing.T) {
		i, _ := setup(t, fakeStats{TotalRuns: 4, ActiveRuns: 1, CompletedRuns: 2, FailedRuns: 1})
		_, resp := i.TryHandle(context.Background(), "/status")

		assert.Contains(t, resp, "**delegations**\n  - Total: 4\n  - Active: 1\n  - Completed: 2\n  - Failed: 1")
	})
}

func TestHelpCommand(t *testing.T) {
	i, _ := setup(t, nil)
	i.Register(Command{
		Name:        "/PING",
		Description: "Reply with pong",
		Usage:       "/ping",
		Handler:     func(CommandContext) string { return "pong" },
	})

	_, resp := i.TryHandle(context.Background(), "/help")
	assert.True(t, strings.HasPrefix(resp, "💡 **Available Commands:**\n\n**`/model`** — Change the active model of an agent\n  Usage: `/model <agent> <provider> <model>`\n"))
	assert.Contains(t, resp, "**`/ping`** — Reply with pong")

	_, resp = i.TryHandle(context.Background(), "/ping")
	assert.Equal(t, "pong", resp)
}
