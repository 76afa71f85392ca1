package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoopRun(t *testing.T) {
	d, err := New(testConfig(t), testLogger(t))
	require.NoError(t, err)
	defer d.Close()

	loop := NewEventLoop(d)
	loop.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event loop did not stop")
	}
}

func TestEventLoopPrunesDelegations(t *testing.T) {
	d, err := New(testConfig(t), testLogger(t))
	require.NoError(t, err)
	defer d.Close()

	coord := d.GetSubagentCoordinator()
	runID := coord.Begin(context.Background(), "coder", "task")
	coord.Complete(runID, "done", nil)

	NewEventLoop(d).processTasks(context.Background())

	// recent runs survive the retention window
	_, ok := coord.GetRun(runID)
	assert.True(t, ok)
}
