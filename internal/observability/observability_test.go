package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	RecordTurn("ended", 1500*time.Millisecond, 2, 0)
	RecordCommand("/status")
	RecordAgentCall("jarvis", "ollama", time.Second, true)
	RecordToolExecution("get_location", 10*time.Millisecond, true)
	RecordDelegation(false)
	RecordQueueEnqueue("127.0.0.1", 1)
	RecordQueueCompletion("127.0.0.1", time.Second, true, 0)
	RecordStoreReload(true)
	RecordStoreBackup("cron", true)

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `jarvis_turn_total{outcome="ended"}`)
	assert.Contains(t, out, `jarvis_command_total{command="/status"}`)
	assert.Contains(t, out, `jarvis_agent_call_total{agent="jarvis",provider="ollama",status="success"}`)
	assert.Contains(t, out, `jarvis_tool_execution_total{status="success",tool="get_location"}`)
	assert.Contains(t, out, `jarvis_delegation_total{status="error"}`)
	assert.Contains(t, out, `jarvis_model_store_backup_total{status="success",trigger="cron"}`)
}

func TestAuditLoggerRecord(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLogger(&buf)

	audit.Record(context.Background(), AuditEvent{
		Type:     "config",
		Actor:    "127.0.0.1",
		Action:   "model_changed",
		Status:   "success",
		Metadata: map[string]interface{}{"agent": "coder"},
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "config", entry["type"])
	assert.Equal(t, "model_changed", entry["action"])
	assert.Equal(t, "coder", entry["metadata"].(map[string]interface{})["agent"])
}

func TestInitAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	require.NoError(t, InitAuditLogger(path))
	defer GetAuditLogger().Close()

	RecordConfigAudit(context.Background(), "backup_created", "cli", "success", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "backup_created")
}
