package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file on write and fans the freshly parsed result
// out to a caller-supplied callback. fsnotify (unlike polling os.Stat) lets
// this block on the filesystem's own change notifications instead of a
// ticker, so a config edit is picked up on the next event loop tick rather
// than within some fixed poll interval.
type Watcher struct {
	fsw  *fsnotify.Watcher
	path string
}

// NewWatcher opens an fsnotify watch on path's containing directory. Editors
// commonly replace a file rather than write it in place (write-new,
// rename-over-old), which only a directory-level watch reliably observes.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}
	return &Watcher{fsw: fsw, path: filepath.Clean(path)}, nil
}

// Close stops the underlying fsnotify watch.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Run blocks, reloading and delivering path's config to onReload on every
// write, create, or rename event that touches it, until ctx is cancelled or
// the watcher is closed. A reload that fails to parse is logged and skipped:
// a bad in-progress edit must not tear down the watch loop.
func (w *Watcher) Run(ctx context.Context, logger *slog.Logger, onReload func(*FileConfig)) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			cfg, err := Load(w.path)
			if err != nil {
				logger.Error("config reload failed", "path", w.path, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", w.path)
			onReload(cfg)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}
