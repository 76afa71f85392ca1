package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LluisCV99/jarvis/internal/config"
	"github.com/LluisCV99/jarvis/internal/logger"
	"github.com/LluisCV99/jarvis/pkg/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Models.Path = filepath.Join(tmpDir, "conf.json")
	cfg.Models.Watch = false
	cfg.Agents.ProfilesPath = filepath.Join(tmpDir, "agents.yaml")
	cfg.Tools.WorkingDir = tmpDir
	cfg.Server.Port = freePort(t)
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestNew(t *testing.T) {
	t.Run("should require config and logger", func(t *testing.T) {
		_, err := New(nil, testLogger(t))
		assert.Error(t, err)

		_, err = New(testConfig(t), nil)
		assert.Error(t, err)
	})

	t.Run("should reject an invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Turn.MaxCalls = 0
		_, err := New(cfg, testLogger(t))
		assert.ErrorContains(t, err, "max_calls")
	})

	t.Run("should wire the core modules", func(t *testing.T) {
		cfg := testConfig(t)
		d, err := New(cfg, testLogger(t))
		require.NoError(t, err)
		defer d.Close()

		assert.NotNil(t, d.GetOrchestrator())
		assert.NotNil(t, d.GetQueue())
		assert.NotNil(t, d.GetSubagentCoordinator())
		assert.Nil(t, d.GetChatServer())

		// the model store seeds its file
		_, err = os.Stat(cfg.Models.Path)
		assert.NoError(t, err)
		assert.Equal(t, []string{"coder", "jarvis"}, d.GetModelStore().Agents())
	})

	t.Run("should fail on an unknown primary agent", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Agents.Primary = "friday"
		_, err := New(cfg, testLogger(t))
		assert.ErrorContains(t, err, "friday")
	})
}

func TestLoadProfilesFromFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agents.Primary = "friday"
	cfg.Agents.Sub = "builder"
	profiles := `agents:
  - name: friday
    role: primary
    system_prompt: You are Friday.
    tools: [add_numbers]
  - name: builder
    role: sub
    system_prompt: You build things.
    tools: [read_file]
`
	require.NoError(t, os.WriteFile(cfg.Agents.ProfilesPath, []byte(profiles), 0644))

	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, []string{"builder", "friday"}, d.profiles.Names())
}

func TestAskInterceptsCommands(t *testing.T) {
	d, err := New(testConfig(t), testLogger(t))
	require.NoError(t, err)
	defer d.Close()

	resp, err := d.Ask(context.Background(), "/status")
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StateCommandIntercepted, resp.State)
	assert.Contains(t, resp.FinalText, "**jarvis**")
	assert.Contains(t, resp.FinalText, "**delegations**")
	assert.Equal(t, 0, resp.CallCount)
}

func TestStartStop(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)

	require.NoError(t, d.Start())
	assert.True(t, d.Status().Running)
	assert.Error(t, d.Start())

	_, err = os.Stat(filepath.Join(cfg.DataDir, "jarvis.pid"))
	assert.NoError(t, err)

	url := fmt.Sprintf("http://%s/chat", cfg.Server.Address())
	require.Eventually(t, func() bool {
		resp, err := http.Post(url, "application/json", strings.NewReader(`{"message":"/help"}`))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.Error(t, d.Stop())

	_, err = os.Stat(filepath.Join(cfg.DataDir, "jarvis.pid"))
	assert.True(t, os.IsNotExist(err))
}
