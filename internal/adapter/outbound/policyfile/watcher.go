package policyfile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of editor writes into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher calls a reload function when the policy file changes. It watches
// the parent directory so atomic rename-into-place saves are seen.
type Watcher struct {
	path     string
	debounce time.Duration
	reload   func(ctx context.Context) error
	logger   *slog.Logger
}

// NewWatcher creates a Watcher. A debounce <= 0 uses DefaultDebounce.
func NewWatcher(path string, debounce time.Duration, reload func(ctx context.Context) error, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{path: filepath.Clean(path), debounce: debounce, reload: reload, logger: logger}
}

// Run watches until ctx is done. Reload errors are logged, not returned;
// the running snapshot stays in place.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching policy file", "path", w.path)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.logger.Debug("policy file event", "op", ev.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("policy watcher error", "error", err)
		case <-timer.C:
			if err := w.reload(ctx); err != nil {
				w.logger.Error("policy reload from file change failed", "error", err)
			}
		}
	}
}
