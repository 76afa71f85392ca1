package models

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// BackupScheduler writes periodic backups of a FileStore
type BackupScheduler struct {
	store *FileStore
	cron  *cron.Cron
	path  string
}

// NewBackupScheduler schedules backups of store to path (the default backup
// path when empty) on a five-field cron expression
func NewBackupScheduler(store *FileStore, expr, path string) (*BackupScheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	s := &BackupScheduler{store: store, cron: c, path: path}
	if _, err := c.AddFunc(expr, s.run); err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", expr, err)
	}
	return s, nil
}

func (s *BackupScheduler) run() {
	if _, err := s.store.backup(s.path, "scheduled"); err != nil {
		s.store.logger.Error().Err(err).Msg("Scheduled backup failed")
	}
}

// Start starts the scheduler in the background
func (s *BackupScheduler) Start() {
	s.cron.Start()
	s.store.logger.Info().Msg("Model store backup scheduler started")
}

// Stop stops the scheduler and waits for a running backup
func (s *BackupScheduler) Stop() {
	<-s.cron.Stop().Done()
}
