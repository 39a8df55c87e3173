package knowledge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a disk-backed library when its knowledge files change.
// Events are debounced so a burst of writes (editor save, rsync) triggers a
// single reload.
type Watcher struct {
	lib      *Library
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher watches the library's knowledge directory and its immediate
// subdirectories.
func NewWatcher(lib *Library, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := []string{lib.dir}
	entries, err := os.ReadDir(lib.dir)
	if err != nil {
		fw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(lib.dir, e.Name()))
		}
	}
	for _, d := range dirs {
		if err := fw.Add(d); err != nil {
			fw.Close()
			return nil, err
		}
	}

	return &Watcher{
		lib:      lib,
		watcher:  fw,
		debounce: 500 * time.Millisecond,
		logger:   logger,
	}, nil
}

// Run processes filesystem events until ctx is cancelled. Reload failures
// are logged and the previous snapshot stays active.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("knowledge watcher error", "error", err)

		case <-fire:
			timer = nil
			fire = nil
			if err := w.lib.Reload(); err != nil {
				w.logger.Error("knowledge reload failed, keeping previous snapshot", "error", err)
				continue
			}
			w.logger.Info("knowledge reloaded", "dir", w.lib.dir)
		}
	}
}
