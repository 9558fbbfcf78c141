package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/BoardAI/catalysst/pkg/engine"
	"github.com/BoardAI/catalysst/pkg/telemetry"
)

const reloadDelay = 500 * time.Millisecond

// DefaultsWatcher serves the server-side defaults file layered between the
// built-in defaults and each repository file. Reloads swap the whole value;
// a file that fails to load keeps the previous defaults in place.
type DefaultsWatcher struct {
	path      string
	current   atomic.Pointer[engine.RepoConfig]
	validator *validator.Validate
	logger    zerolog.Logger
	metrics   *telemetry.Metrics

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewDefaultsWatcher loads path and returns a watcher serving its contents.
// The initial load must succeed.
func NewDefaultsWatcher(path string, logger zerolog.Logger, metrics *telemetry.Metrics) (*DefaultsWatcher, error) {
	w := &DefaultsWatcher{
		path:      filepath.Clean(path),
		validator: validator.New(),
		logger:    logger.With().Str("component", "defaults-watcher").Logger(),
		metrics:   metrics,
	}

	cfg, err := w.load()
	if err != nil {
		return nil, err
	}
	w.current.Store(cfg)

	return w, nil
}

// Defaults implements DefaultsProvider. The result is a private copy.
func (w *DefaultsWatcher) Defaults() *engine.RepoConfig {
	return Clone(w.current.Load())
}

// Reload re-reads the file and swaps it in if it is valid.
func (w *DefaultsWatcher) Reload() error {
	cfg, err := w.load()
	if err != nil {
		w.metrics.RecordConfigReload(false)
		w.logger.Error().Err(err).Str("file", w.path).Msg("Keeping previous defaults")
		return err
	}

	w.current.Store(cfg)
	w.metrics.RecordConfigReload(true)
	w.logger.Info().
		Str("file", w.path).
		Str("workspace", cfg.Workspace).
		Int("branch_mappings", len(cfg.BranchMappings)).
		Msg("Defaults reloaded")
	return nil
}

func (w *DefaultsWatcher) load() (*engine.RepoConfig, error) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read defaults file: %w", err)
	}

	file, err := ParseFile(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse defaults file %s: %w", w.path, err)
	}

	cfg := Merge(Defaults(), file)
	if err := w.validator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid defaults file %s: %w", w.path, err)
	}
	return cfg, nil
}

// Watch reloads the file whenever it changes until ctx is cancelled. The
// parent directory is watched so editors that replace the file by rename
// are picked up.
func (w *DefaultsWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.processEvents(ctx, watcher)

	w.logger.Info().Str("file", w.path).Msg("Started watching defaults file")
	return nil
}

func (w *DefaultsWatcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Defaults file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				_ = w.Reload()
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (w *DefaultsWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}
