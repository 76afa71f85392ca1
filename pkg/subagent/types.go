package subagent

import "time"

// RunRecord represents one delegation to a sub-agent
type RunRecord struct {
	ID          string    `json:"id"`
	Agent       string    `json:"agent"`
	TurnID      string    `json:"turn_id,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
	Task        string    `json:"task"`
	Status      RunStatus `json:"status"`
	StartedAt   int64     `json:"started_at"`
	CompletedAt *int64    `json:"completed_at,omitempty"`
	Reply       string    `json:"reply,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Duration returns how long the run took, or has been running
func (r *RunRecord) Duration() time.Duration {
	end := time.Now().UnixMilli()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return time.Duration(end-r.StartedAt) * time.Millisecond
}

// RunStatus represents the execution state of a delegation
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusAborted   RunStatus = "aborted"
)

// IsTerminal returns true if the status is terminal
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Registry represents the persistent storage format
type Registry struct {
	Version     int          `json:"version"`
	Runs        []*RunRecord `json:"runs"`
	LastUpdated int64        `json:"last_updated"`
}

// Stats contains coordinator statistics
type Stats struct {
	TotalRuns     int `json:"total_runs"`
	ActiveRuns    int `json:"active_runs"`
	CompletedRuns int `json:"completed_runs"`
	FailedRuns    int `json:"failed_runs"`
	AbortedRuns   int `json:"aborted_runs"`
}

// EventHandler is a function that handles coordinator events
type EventHandler func(record RunRecord)

// Event names
const (
	EventRunRegistered = "run:registered"
	EventRunUpdated    = "run:updated"
)
