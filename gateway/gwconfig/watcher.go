// =============================================================================
// Configuration file watcher
// =============================================================================
// Watches the active config file for changes and triggers a reload
// callback, debounced so a burst of writes from an editor or a config
// management tool collapses into a single reload.
// =============================================================================
package gwconfig

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc is invoked with the freshly reloaded Config after a debounced
// file-change event. A returned error is logged but never stops watching.
type ReloadFunc func(*Config) error

// Watcher watches one config file and reloads it on change.
type Watcher struct {
	mu            sync.Mutex
	path          string
	envPrefix     string
	debounceDelay time.Duration
	logger        *zap.Logger
	callbacks     []ReloadFunc
}

func NewWatcher(path, envPrefix string, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:          path,
		envPrefix:     envPrefix,
		debounceDelay: 250 * time.Millisecond,
		logger:        logger.With(zap.String("component", "gwconfig.watcher")),
	}
}

// OnReload registers a callback invoked with each successfully reloaded
// Config.
func (w *Watcher) OnReload(cb ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start watches the config file's directory (fsnotify on most platforms
// requires watching a directory, not a single file, to survive editors
// that replace the file via rename-into-place) until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	go w.loop(ctx, fsw)
	w.logger.Info("watching config file", zap.String("path", w.path))
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.debounceDelay)
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := NewLoader().WithConfigPath(w.path).WithEnvPrefix(w.envPrefix).Load()
	if err != nil {
		w.logger.Error("config reload failed, keeping previous generation", zap.Error(err))
		return
	}

	w.mu.Lock()
	callbacks := append([]ReloadFunc(nil), w.callbacks...)
	w.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			w.logger.Error("config reload callback failed", zap.Error(err))
		}
	}
	w.logger.Info("config reloaded", zap.String("path", w.path))
}
