// Package subagent tracks delegations from the primary agent to sub-agents.
// Coordinator implements orchestrator.DelegationTracker.
package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/LluisCV99/jarvis/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const maxStoredReply = 2000

// Coordinator manages delegation lifecycle and tracking
type Coordinator struct {
	runs         map[string]*RunRecord
	registryPath string
	autoSave     bool
	logger       zerolog.Logger
	mu           sync.RWMutex

	// Event handlers
	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// Config holds coordinator configuration
type Config struct {
	// RegistryPath persists runs across restarts. Empty keeps runs in memory.
	RegistryPath string
	AutoSave     bool
	Logger       zerolog.Logger
}

// NewCoordinator creates a new delegation coordinator
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		runs:          make(map[string]*RunRecord),
		registryPath:  cfg.RegistryPath,
		autoSave:      cfg.AutoSave && cfg.RegistryPath != "",
		logger:        cfg.Logger.With().Str("component", "subagent").Logger(),
		eventHandlers: make(map[string][]EventHandler),
	}
}

// Initialize loads the registry from disk. Runs that were in flight when
// the registry was saved are marked aborted.
func (c *Coordinator) Initialize() error {
	if c.registryPath == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.registryPath)
	if os.IsNotExist(err) {
		c.logger.Info().Msg("Registry file does not exist, starting with empty registry")
		return nil
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to read registry file")
		return nil // Continue with empty registry
	}

	var registry Registry
	if err := json.Unmarshal(data, &registry); err != nil {
		c.logger.Error().Err(err).Msg("Failed to parse registry file, starting with empty registry")
		return nil
	}

	for _, run := range registry.Runs {
		if !run.Status.IsTerminal() {
			now := time.Now().UnixMilli()
			run.Status = StatusAborted
			run.CompletedAt = &now
		}
		c.runs[run.ID] = run
	}

	c.logger.Info().Int("runs", len(c.runs)).Msg("Registry loaded")
	return nil
}

// Close saves the registry
func (c *Coordinator) Close() error {
	if c.registryPath == "" {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveRegistry()
}

// Begin registers a delegation and marks it running. It returns the run ID.
func (c *Coordinator) Begin(ctx context.Context, agent, task string) string {
	runID, err := gonanoid.New()
	if err != nil {
		// nanoid only fails when the system random source does
		runID = fmt.Sprintf("run-%d", time.Now().UnixNano())
	}

	record := &RunRecord{
		ID:        runID,
		Agent:     agent,
		TurnID:    tracing.GetTurnID(ctx),
		TraceID:   tracing.GetTraceID(ctx),
		Task:      task,
		Status:    StatusPending,
		StartedAt: time.Now().UnixMilli(),
	}

	c.mu.Lock()
	c.runs[runID] = record
	c.persistLocked("registration")
	snapshot := *record
	c.mu.Unlock()

	c.logger.Info().
		Str("run_id", runID).
		Str("agent", agent).
		Str("turn_id", record.TurnID).
		Msg("Delegation registered")
	c.emit(EventRunRegistered, snapshot)

	if err := c.UpdateRunStatus(runID, StatusRunning, "", ""); err != nil {
		c.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to start delegation")
	}
	return runID
}

// Complete records the outcome of a delegation started with Begin
func (c *Coordinator) Complete(runID string, reply string, err error) {
	status := StatusCompleted
	var errMsg string
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = StatusAborted
		errMsg = err.Error()
	default:
		status = StatusFailed
		errMsg = err.Error()
	}

	if err := c.UpdateRunStatus(runID, status, reply, errMsg); err != nil {
		c.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to complete delegation")
	}
}

// UpdateRunStatus moves a run to status. Terminal runs cannot change.
func (c *Coordinator) UpdateRunStatus(runID string, status RunStatus, reply, errMsg string) error {
	c.mu.Lock()

	record, exists := c.runs[runID]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("run not found: %s", runID)
	}
	if record.Status.IsTerminal() {
		c.mu.Unlock()
		return fmt.Errorf("run %s already %s", runID, record.Status)
	}

	record.Status = status
	if status.IsTerminal() {
		now := time.Now().UnixMilli()
		record.CompletedAt = &now
	}
	if reply != "" {
		if len(reply) > maxStoredReply {
			reply = reply[:maxStoredReply]
		}
		record.Reply = reply
	}
	if errMsg != "" {
		record.Error = errMsg
	}

	c.persistLocked("status update")
	snapshot := *record
	c.mu.Unlock()

	c.logger.Debug().
		Str("run_id", runID).
		Str("status", string(status)).
		Msg("Run status updated")
	c.emit(EventRunUpdated, snapshot)

	return nil
}

// GetRun retrieves a copy of a run by ID
func (c *Coordinator) GetRun(runID string) (RunRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.runs[runID]
	if !ok {
		return RunRecord{}, false
	}
	return *record, true
}

// ListByTurn returns the runs started by one turn, oldest first
func (c *Coordinator) ListByTurn(turnID string) []RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []RunRecord{}
	for _, record := range c.runs {
		if record.TurnID == turnID {
			out = append(out, *record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt < out[j].StartedAt })
	return out
}

// Recent returns up to limit runs, newest first
func (c *Coordinator) Recent(limit int) []RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]RunRecord, 0, len(c.runs))
	for _, record := range c.runs {
		out = append(out, *record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Cleanup removes terminal runs older than retention
func (c *Coordinator) Cleanup(retention time.Duration) int {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-retention).UnixMilli()
	removed := 0

	for runID, record := range c.runs {
		if !record.Status.IsTerminal() {
			continue
		}
		if record.CompletedAt != nil && *record.CompletedAt < cutoff {
			delete(c.runs, runID)
			removed++
		}
	}

	if removed > 0 {
		c.persistLocked("cleanup")
	}

	c.logger.Info().Int("removed", removed).Msg("Cleanup completed")
	return removed
}

// GetStats returns coordinator statistics
func (c *Coordinator) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		TotalRuns: len(c.runs),
	}

	for _, record := range c.runs {
		switch record.Status {
		case StatusPending, StatusRunning:
			stats.ActiveRuns++
		case StatusCompleted:
			stats.CompletedRuns++
		case StatusFailed:
			stats.FailedRuns++
		case StatusAborted:
			stats.AbortedRuns++
		}
	}

	return stats
}

// On registers an event handler
func (c *Coordinator) On(eventType string, handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], handler)
}

// Off removes all handlers for an event type
func (c *Coordinator) Off(eventType string) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	delete(c.eventHandlers, eventType)
}

func (c *Coordinator) emit(eventType string, record RunRecord) {
	c.eventMu.RLock()
	handlers := c.eventHandlers[eventType]
	c.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(record)
	}
}

// persistLocked saves the registry when autosave is on. Caller holds mu.
func (c *Coordinator) persistLocked(reason string) {
	if !c.autoSave {
		return
	}
	if err := c.saveRegistry(); err != nil {
		c.logger.Error().Err(err).Str("reason", reason).Msg("Failed to save registry")
	}
}

// saveRegistry persists the registry to disk using atomic writes
func (c *Coordinator) saveRegistry() error {
	dir := filepath.Dir(c.registryPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	runs := make([]*RunRecord, 0, len(c.runs))
	for _, record := range c.runs {
		runs = append(runs, record)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt < runs[j].StartedAt })

	registry := Registry{
		Version:     1,
		Runs:        runs,
		LastUpdated: time.Now().UnixMilli(),
	}

	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tempPath := c.registryPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp registry file: %w", err)
	}

	if err := os.Rename(tempPath, c.registryPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename registry file: %w", err)
	}

	c.logger.Debug().Msg("Registry saved")
	return nil
}
