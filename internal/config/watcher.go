// Package config provides hot-reload watching for the agent's rule seed
// file (spec.md §3, ambient config stack).
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the directory containing the rule seed file and
// fires OnChange whenever that specific file is written or created.
// Ported from the guardrail-proxy pattern of watching a directory (since
// editors commonly write-then-rename rather than truncate-in-place) and
// matching on basename.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher creates a file watcher for seedPath's containing directory.
// onChange fires (from the watcher's own goroutine) whenever seedPath
// itself is created or written.
func NewWatcher(seedPath string, onChange func()) (*Watcher, error) {
	dir := filepath.Dir(seedPath)
	base := filepath.Base(seedPath)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &Watcher{fsWatcher: fw, done: make(chan struct{})}
	go w.processEvents(base, onChange)

	slog.Info("rule seed watcher started", "path", seedPath)
	return w, nil
}

func (w *Watcher) processEvents(base string, onChange func()) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			slog.Info("rule seed file changed, reloading", "path", event.Name)
			if onChange != nil {
				onChange()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("rule seed watcher error", "err", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
