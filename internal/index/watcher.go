package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/storage"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted"; path is relative to the
// notebook root.
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on the notebook root and feeds observed
// changes into the index until ctx is cancelled. The watcher is the external
// scheduler here: it sees the real-world change first, then asks the index
// to re-validate the node. It calls cb (if non-nil) after each successful
// index mutation.
//
// New directories created at runtime are added to the watch list and picked
// up by an incremental pass rooted near them. Rename events fire on the old
// path only, so a short debounced full check reconciles any stragglers.
func Watch(ctx context.Context, ix *Index, store storage.Provider, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if err := ix.CheckAndUpdate(); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil || rel == "." {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&fsnotify.Create != 0:
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel), slog.String("error", addErr.Error()))
					}
					// Folders are never added ad hoc; an incremental pass
					// rooted here discovers the subtree via its parent.
					node := store.FolderNode(rel)
					if err := ix.checkAndUpdateAt(&node); err != nil {
						logger.Warn("watcher: rooted check failed",
							slog.String("path", rel), slog.String("error", err.Error()))
						continue
					}
					if cb != nil {
						cb("created", rel)
					}
					continue
				}
				handleFileEvent(ix, store, logger, cb, rel, "created")

			case ev.Op&fsnotify.Write != 0:
				handleFileEvent(ix, store, logger, cb, rel, "updated")

			case ev.Op&fsnotify.Remove != 0:
				handleGoneEvent(ix, store, logger, cb, rel)

			case ev.Op&fsnotify.Rename != 0:
				// Rename fires on the old path only; the new path arrives
				// as a separate Create when it stays inside the tree.
				handleGoneEvent(ix, store, logger, cb, rel)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// handleFileEvent re-validates a path that now exists as a regular file.
func handleFileEvent(ix *Index, store storage.Provider, logger *slog.Logger, cb EventCallback, rel, kind string) {
	if recorded, ok, err := ix.RecordedKind(rel); err != nil {
		logger.Warn("watcher: kind lookup failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	} else if ok && recorded != storage.KindFile {
		// The path changed kind under us; let a rooted pass sort it out.
		node := store.FolderNode(rel)
		if err := ix.checkAndUpdateAt(&node); err != nil {
			logger.Warn("watcher: rooted check failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		return
	}
	if err := ix.UpdateFile(store.FileNode(rel)); err != nil {
		logger.Warn("watcher: update failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
	if cb != nil {
		cb(kind, rel)
	}
}

// handleGoneEvent re-validates a path that disappeared, using the recorded
// kind since the node can no longer be inspected on disk.
func handleGoneEvent(ix *Index, store storage.Provider, logger *slog.Logger, cb EventCallback, rel string) {
	recorded, ok, err := ix.RecordedKind(rel)
	if err != nil {
		logger.Warn("watcher: kind lookup failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if !ok {
		return // nothing recorded, nothing to retire
	}
	var node storage.Node
	if recorded == storage.KindFolder {
		node = store.FolderNode(rel)
	} else {
		node = store.FileNode(rel)
	}
	if err := ix.UpdateFile(node); err != nil {
		logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	logger.Debug("watcher: removed", slog.String("path", rel))
	if cb != nil {
		cb("deleted", rel)
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
