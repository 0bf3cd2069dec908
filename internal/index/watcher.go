package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher on the bank root and keeps the index in
// step with file changes until ctx is cancelled. Create and write events
// update the affected entry in place; removes drop it; renames drop the old
// path and schedule a debounced rebuild to catch the new one. Directories
// created at runtime are added to the watch set.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := m.ops.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	m.logger.Info("watcher: started", slog.String("root", root))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			m.handleEvent(ctx, w, root, ev)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, w *fsnotify.Watcher, root string, ev fsnotify.Event) {
	abs := ev.Name

	// New directories join the watch set; their existing documents are picked
	// up by the debounced rebuild.
	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
			if strings.HasPrefix(filepath.Base(abs), ".") {
				return
			}
			if addErr := addDirsRecursive(w, abs); addErr != nil {
				m.logger.Warn("watcher: add new dir failed",
					slog.String("path", abs),
					slog.String("error", addErr.Error()))
			}
			m.TriggerAutoRebuild()
			return
		}
	}

	rel, relErr := filepath.Rel(root, abs)
	if relErr != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, ".") || !m.matchesPattern(rel) {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if err := m.UpdateEntry(ctx, rel); err != nil {
			m.logger.Warn("watcher: update failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
			return
		}
		m.logger.Debug("watcher: indexed", slog.String("path", rel))

	case ev.Op&fsnotify.Remove != 0:
		if err := m.RemoveEntry(ctx, rel); err != nil {
			m.logger.Warn("watcher: remove failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
			return
		}
		m.logger.Debug("watcher: removed", slog.String("path", rel))

	case ev.Op&fsnotify.Rename != 0:
		// fsnotify fires Rename on the old path only; the new path arrives
		// as a separate Create if it lands in a watched dir. Drop the old
		// entry now and let the debounced rebuild reconcile stragglers.
		if err := m.RemoveEntry(ctx, rel); err != nil {
			m.logger.Warn("watcher: rename remove failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
		}
		m.TriggerAutoRebuild()
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
