// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order.
// - Tasks in different lanes may execute concurrently, up to a global cap.
// - A request ID is accepted once per dedup window.
// - Queue activity is observable through enqueued/completed events and metrics.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Config{MaxConcurrent: 4})
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, "client:10.0.0.1", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, &commandqueue.TaskOptions{RequestID: "req-1"})
package commandqueue
