package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/LluisCV99/jarvis/internal/observability"
	"github.com/rs/zerolog"
)

// Store is read by agents on every call and written by the command layer
type Store interface {
	Active(agent string) (Selection, error)
	Agents() []string
	Available(agent string) (Catalog, error)
	Update(agent, provider, model string) error
}

// FileStore keeps the document in memory and persists every change
// atomically. Reads never touch the disk.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	doc    *Document
	logger zerolog.Logger
}

// Open loads the document at path, writing the default document when the
// file does not exist yet
func Open(path string, logger zerolog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("model store path is required")
	}

	s := &FileStore{
		path:   path,
		logger: logger.With().Str("component", "models").Logger(),
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.doc = DefaultDocument()
		if err := writeAtomic(path, s.doc); err != nil {
			return nil, fmt.Errorf("failed to create model store: %w", err)
		}
		s.logger.Info().Str("path", path).Msg("Created default model store")
		return s, nil
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the document path
func (s *FileStore) Path() string {
	return s.path
}

// DefaultBackupPath returns <name>_backup.json next to the document
func (s *FileStore) DefaultBackupPath() string {
	ext := filepath.Ext(s.path)
	return strings.TrimSuffix(s.path, ext) + "_backup" + ext
}

// Reload re-reads the document from disk. An invalid file leaves the
// current document in place.
func (s *FileStore) Reload() error {
	doc, err := readDocument(s.path)
	observability.RecordStoreReload(err == nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	s.logger.Debug().Str("path", s.path).Int("agents", len(doc.Agents)).Msg("Model store loaded")
	return nil
}

// Active returns the active selection of agent, else its default
func (s *FileStore) Active(agent string) (Selection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.doc.Agents[strings.ToLower(agent)]
	if !ok {
		return Selection{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}
	return a.Current(), nil
}

// Default returns the default selection of agent
func (s *FileStore) Default(agent string) (Selection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.doc.Agents[strings.ToLower(agent)]
	if !ok {
		return Selection{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}
	return a.Default, nil
}

// Agents returns the configured agent names, sorted
func (s *FileStore) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.doc.Agents))
	for name := range s.doc.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available returns the catalog of agent. An empty agent merges the
// catalogs of every agent, de-duplicated in first-seen order.
func (s *FileStore) Available(agent string) (Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agent == "" {
		names := make([]string, 0, len(s.doc.Agents))
		for name := range s.doc.Agents {
			names = append(names, name)
		}
		sort.Strings(names)

		var merged Catalog
		for _, name := range names {
			merged = merged.merge(s.doc.Agents[name].Available)
		}
		return merged, nil
	}

	a, ok := s.doc.Agents[strings.ToLower(agent)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}
	return Catalog(nil).merge(a.Available), nil
}

// Check validates a selection against the catalog of agent
func (s *FileStore) Check(agent, provider, model string) error {
	catalog, err := s.Available(agent)
	if err != nil {
		return err
	}
	if _, ok := catalog.Models(provider); !ok {
		return fmt.Errorf("%w: %s for %s", ErrUnknownProvider, provider, agent)
	}
	if !catalog.Has(provider, model) {
		return fmt.Errorf("%w: %s for %s on %s", ErrUnknownModel, model, agent, provider)
	}
	return nil
}

// Update sets the active selection of agent and persists the document
func (s *FileStore) Update(agent, provider, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(agent)
	if _, ok := s.doc.Agents[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}

	next := s.doc.clone()
	next.Agents[key].Active = &Selection{Provider: provider, Model: model}
	if err := writeAtomic(s.path, next); err != nil {
		return fmt.Errorf("failed to save model store: %w", err)
	}
	s.doc = next

	s.logger.Info().
		Str("agent", key).
		Str("provider", provider).
		Str("model", model).
		Msg("Active model changed")
	return nil
}

// Backup copies the current document to path, or to the default backup path
func (s *FileStore) Backup(path string) (string, error) {
	return s.backup(path, "manual")
}

func (s *FileStore) backup(path, trigger string) (string, error) {
	if path == "" {
		path = s.DefaultBackupPath()
	}

	s.mu.RLock()
	doc := s.doc.clone()
	s.mu.RUnlock()

	err := writeAtomic(path, doc)
	observability.RecordStoreBackup(trigger, err == nil)
	observability.RecordConfigAudit(context.Background(), "backup_created", trigger, auditStatus(err), map[string]interface{}{
		"path": path,
	})
	if err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	s.logger.Info().Str("path", path).Str("trigger", trigger).Msg("Model store backed up")
	return path, nil
}

// Restore replaces the document with the backup at path, or at the default
// backup path
func (s *FileStore) Restore(path string) error {
	if path == "" {
		path = s.DefaultBackupPath()
	}

	doc, err := readDocument(path)
	if errors.Is(err, os.ErrNotExist) {
		err = fmt.Errorf("%w: %s", ErrNoBackup, path)
	}
	if err == nil {
		s.mu.Lock()
		err = writeAtomic(s.path, doc)
		if err == nil {
			s.doc = doc
		}
		s.mu.Unlock()
	}

	observability.RecordConfigAudit(context.Background(), "backup_restored", "operator", auditStatus(err), map[string]interface{}{
		"path": path,
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("path", path).Msg("Model store restored from backup")
	return nil
}

func auditStatus(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func readDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse model store %s: %w", path, err)
	}

	// Agent names are matched case-insensitively
	normalized := make(map[string]*AgentModels, len(doc.Agents))
	for name, a := range doc.Agents {
		normalized[strings.ToLower(name)] = a
	}
	doc.Agents = normalized

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model store %s: %w", path, err)
	}
	return &doc, nil
}

// writeAtomic writes doc through a temp file and a rename
func writeAtomic(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal model store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
