package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors emit on save.
const reloadDebounce = 250 * time.Millisecond

// Watcher reloads a YAML config file when it changes on disk.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
}

// NewWatcher watches the directory holding path. The directory is watched
// instead of the file so rename-on-save editors keep working.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{path: filepath.Clean(path), watcher: w, onChange: onChange}, nil
}

// Run delivers reloaded configs to onChange until ctx is done.
// Invalid files are logged and skipped.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(reloadDebounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		case <-pending:
			pending = nil
			cfg, err := LoadFrom(w.path)
			if err != nil {
				slog.Warn("config reload failed", "path", w.path, "error", err)
				continue
			}
			slog.Info("config reloaded", "path", w.path)
			w.onChange(cfg)
		}
	}
}
