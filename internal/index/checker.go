package index

import (
	"database/sql"

	"github.com/starford/ansuz/internal/storage"
)

// FilesIndexChecker walks a recorded subtree and flags rows whose stored
// state disagrees with the notebook tree. It produces one boolean per item
// examined; true means the row was flagged NEED_UPDATE as a side effect.
// The sequence is finite and cannot be restarted once partially consumed.
type FilesIndexChecker struct {
	store    storage.Provider
	files    *FilesIndexer
	pending  *storage.Node
	resolved bool
	queue    []FileRow
}

func newFilesIndexChecker(store storage.Provider, files *FilesIndexer) *FilesIndexChecker {
	return &FilesIndexChecker{store: store, files: files}
}

// QueueCheck enqueues node for checking; nil means the whole tree. A path
// with no recorded row falls back to its nearest indexed ancestor.
func (c *FilesIndexChecker) QueueCheck(node *storage.Node) {
	c.pending = node
}

func (c *FilesIndexChecker) resolve(tx *sql.Tx) error {
	c.resolved = true
	path := "."
	if c.pending != nil {
		path = c.pending.Path()
	}
	for {
		row, err := c.files.lookupByPath(tx, path)
		if err != nil {
			return err
		}
		if row != nil {
			c.queue = append(c.queue, *row)
			return nil
		}
		if path == "." {
			return nil // cache has no root row yet, nothing to check
		}
		path = parentPath(path)
	}
}

// Next examines one recorded item. ok is false once the sequence is drained.
func (c *FilesIndexChecker) Next(tx *sql.Tx) (flagged, ok bool, err error) {
	if !c.resolved {
		if err := c.resolve(tx); err != nil {
			return false, false, err
		}
	}
	if len(c.queue) == 0 {
		return false, false, nil
	}
	row := c.queue[0]
	c.queue = c.queue[1:]

	var disagrees bool
	switch row.Kind {
	case storage.KindFolder:
		node := c.store.FolderNode(row.Path)
		disagrees = !node.Exists() || mtimeOf(node) != row.Mtime
		if node.Exists() {
			children, err := c.files.children(tx, row.ID)
			if err != nil {
				return false, false, err
			}
			c.queue = append(c.queue, children...)
		}
	default:
		node := c.store.FileNode(row.Path)
		disagrees = !node.Exists() || mtimeOf(node) != row.Mtime
	}

	// A row still flagged from an interrupted pass counts as out of date.
	if row.Status == statusNeedUpdate {
		disagrees = true
	}
	if disagrees {
		if err := c.files.flagRow(tx, row.ID); err != nil {
			return false, false, err
		}
	}
	return disagrees, true, nil
}
