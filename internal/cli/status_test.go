package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("should report a stopped server", func(t *testing.T) {
		out, err := run(t, "status", "--config", tempConfig(t))
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
	})

	t.Run("should list active models once the store exists", func(t *testing.T) {
		cfg := tempConfig(t)
		_, err := run(t, "models", "status", "--config", cfg)
		require.NoError(t, err)

		out, err := run(t, "status", "--config", cfg)
		require.NoError(t, err)
		assert.Contains(t, out, "jarvis: ollama/gpt-oss:20b")
	})
}
