package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hireboard/accesscore/pkg/audit"
	"github.com/hireboard/accesscore/pkg/metrics"
)

// ReloadedEvent represents a policy table reload
type ReloadedEvent struct {
	Timestamp time.Time
	Path      string
	Error     error
}

// FileWatcher reloads a YAML rule table into an Evaluator when the file changes
type FileWatcher struct {
	watcher         *fsnotify.Watcher
	path            string
	evaluator       *Evaluator
	logger          *zap.Logger
	metrics         metrics.Metrics
	audit           audit.Logger
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	eventChan       chan ReloadedEvent
	stopChan        chan struct{}
	mu              sync.RWMutex
	isWatching      bool
}

// NewFileWatcher creates a watcher for the table file at path. The
// evaluator's metrics, audit logger and logger are reused.
func NewFileWatcher(path string, evaluator *Evaluator) (*FileWatcher, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:         watcher,
		path:            filepath.Clean(path),
		evaluator:       evaluator,
		logger:          evaluator.logger,
		metrics:         evaluator.metrics,
		audit:           evaluator.audit,
		debounceTimeout: 500 * time.Millisecond,
		eventChan:       make(chan ReloadedEvent, 10),
		stopChan:        make(chan struct{}),
	}, nil
}

// Watch starts watching the table file. The parent directory is watched so
// that editors replacing the file by rename are noticed.
func (fw *FileWatcher) Watch(ctx context.Context) error {
	fw.mu.Lock()
	if fw.isWatching {
		fw.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	fw.isWatching = true
	fw.mu.Unlock()

	if err := fw.watcher.Add(filepath.Dir(fw.path)); err != nil {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		return fmt.Errorf("failed to add path to watcher: %w", err)
	}

	fw.logger.Info("Starting policy table watcher",
		zap.String("path", fw.path),
		zap.Duration("debounce", fw.debounceTimeout),
	)

	go fw.watchLoop(ctx)
	return nil
}

// watchLoop processes file system events with debouncing
func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer func() {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		fw.logger.Info("Policy table watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopChan:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fw.shouldProcessEvent(event) {
				fw.handleEvent(event)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

// shouldProcessEvent keeps writes, creates and renames of the table file
func (fw *FileWatcher) shouldProcessEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != fw.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// handleEvent schedules a reload after the debounce timeout
func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.logger.Debug("Policy table change detected",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(fw.debounceTimeout, fw.Reload)
}

// Reload loads the table file and installs it. A table that fails to parse
// or validate leaves the current one in place.
func (fw *FileWatcher) Reload() {
	err := fw.reload()
	fw.metrics.RecordPolicyReload(err == nil)

	event := audit.NewEvent(audit.EventTypePolicyReload)
	event.Data = map[string]interface{}{"path": fw.path}
	if err != nil {
		event.Reason = err.Error()
		fw.logger.Error("Failed to reload policy table",
			zap.String("path", fw.path),
			zap.Error(err),
		)
	} else {
		fw.logger.Info("Policy table reloaded", zap.String("path", fw.path))
	}
	if auditErr := fw.audit.Log(event); auditErr != nil {
		fw.logger.Warn("Failed to write audit event", zap.Error(auditErr))
	}

	select {
	case fw.eventChan <- ReloadedEvent{Timestamp: time.Now(), Path: fw.path, Error: err}:
	default:
		fw.logger.Warn("Reload event dropped, channel full")
	}
}

func (fw *FileWatcher) reload() error {
	table, err := LoadTableFile(fw.path)
	if err != nil {
		return err
	}
	return fw.evaluator.SetTable(table)
}

// EventChan returns a channel for receiving reload events
func (fw *FileWatcher) EventChan() <-chan ReloadedEvent {
	return fw.eventChan
}

// Stop stops watching for file changes
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.isWatching {
		return nil
	}
	fw.isWatching = false

	close(fw.stopChan)

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}

	if err := fw.watcher.Close(); err != nil {
		fw.logger.Error("Error closing watcher", zap.Error(err))
		return err
	}
	return nil
}

// SetDebounceTimeout sets the debounce timeout for file changes
func (fw *FileWatcher) SetDebounceTimeout(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.debounceTimeout = d
}

// IsWatching returns true if the watcher is currently active
func (fw *FileWatcher) IsWatching() bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	return fw.isWatching
}
