package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file when it changes and hands every valid
// result to onChange. Invalid edits are logged and skipped.
type Watcher struct {
	path      string
	onChange  func(*Config) error
	logger    *zap.Logger
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration

	mu      sync.RWMutex
	current *Config
	timer   *time.Timer
}

// NewWatcher loads path and prepares a watcher for it
func NewWatcher(path string, logger *zap.Logger, onChange func(*Config) error) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		path:      filepath.Clean(path),
		onChange:  onChange,
		logger:    logger,
		fsWatcher: fsWatcher,
		debounce:  500 * time.Millisecond,
		current:   cfg,
	}, nil
}

// Watch blocks until ctx is done. The parent directory is watched so that
// editors replacing the file by rename are picked up too.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			w.fsWatcher.Close()
			return ctx.Err()

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.logger.Debug("config file changed", zap.String("op", event.Op.String()))
			w.schedule()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload() {
	w.logger.Info("reloading config", zap.String("path", w.path))

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("failed to load config", zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error("invalid config", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	if w.onChange == nil {
		return
	}
	if err := w.onChange(cfg); err != nil {
		w.logger.Error("failed to apply config", zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", zap.Int("devices", len(cfg.Devices)))
}

// Get returns the last valid configuration
func (w *Watcher) Get() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher
func (w *Watcher) Close() error {
	w.stopTimer()
	return w.fsWatcher.Close()
}
