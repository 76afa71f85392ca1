package models

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a FileStore when its file changes on disk
type Watcher struct {
	store     *FileStore
	watcher   *fsnotify.Watcher
	threshold time.Duration
	onReload  func(error)

	done     chan struct{}
	timer    *time.Timer
	timerMu  sync.Mutex
	stopOnce sync.Once
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	// StabilityThreshold collapses bursts of writes into one reload
	StabilityThreshold time.Duration
	// OnReload is called after each reload attempt
	OnReload func(error)
}

// NewWatcher creates a watcher for store
func NewWatcher(store *FileStore, config WatcherConfig) (*Watcher, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if config.StabilityThreshold == 0 {
		config.StabilityThreshold = 100 * time.Millisecond
	}

	return &Watcher{
		store:     store,
		watcher:   fw,
		threshold: config.StabilityThreshold,
		onReload:  config.OnReload,
		done:      make(chan struct{}),
	}, nil
}

// Start watches the directory of the store file. Atomic writes replace the
// file, so watching the file itself would lose track of it.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.eventLoop()

	w.store.logger.Info().Str("path", w.store.Path()).Msg("Model store watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	target := filepath.Clean(w.store.Path())

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.logger.Error().Err(err).Msg("Model store watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.threshold, func() {
		select {
		case <-w.done:
			return
		default:
		}

		err := w.store.Reload()
		if err != nil {
			w.store.logger.Warn().Err(err).Msg("Model store reload failed, keeping previous document")
		}
		if w.onReload != nil {
			w.onReload(err)
		}
	})
}
