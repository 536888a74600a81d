package index

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/storage"
)

// fileStatus is the persisted index_status of a files row. The update pass
// derives its worklist from this flag alone, never from in-memory results.
type fileStatus int

const (
	statusUpToDate   fileStatus = 0
	statusNeedUpdate fileStatus = 1
)

// FileRow is one row of the files table: a file or folder observed in the
// notebook tree. A row exists from first observation until its backing node
// is confirmed absent and the deletion has flowed through the pipeline.
type FileRow struct {
	ID       int64
	ParentID int64
	Path     string // slash-separated, relative to the notebook root; "." is the root
	Kind     storage.Kind
	Mtime    string
	Checksum string
	Status   fileStatus
}

// FileObserver receives file events from the files indexer. Events arrive
// inside the batch transaction; observers must write through tx only.
type FileObserver interface {
	StartUpdate(tx *sql.Tx) error
	FinishUpdate(tx *sql.Tx) error
	FileChanged(tx *sql.Tx, row FileRow, content []byte) error
	FileDeleted(tx *sql.Tx, row FileRow) error
}

// FilesIndexer owns the files table and pushes file events down the pipeline.
type FilesIndexer struct {
	store     storage.Provider
	logger    *slog.Logger
	observers []FileObserver
}

func newFilesIndexer(store storage.Provider, logger *slog.Logger) *FilesIndexer {
	return &FilesIndexer{store: store, logger: logger}
}

// Observe registers an observer for file events. Registration happens at
// pipeline construction; late attachment is unsupported.
func (fi *FilesIndexer) Observe(obs FileObserver) {
	fi.observers = append(fi.observers, obs)
}

func (fi *FilesIndexer) initSchema(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE files (
			id           INTEGER PRIMARY KEY,
			parent       INTEGER NOT NULL DEFAULT 0,
			path         TEXT UNIQUE NOT NULL,
			kind         INTEGER NOT NULL,
			mtime        TEXT NOT NULL DEFAULT '',
			checksum     TEXT NOT NULL DEFAULT '',
			index_status INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX idx_files_parent ON files(parent);
		CREATE INDEX idx_files_status ON files(index_status);
	`); err != nil {
		return fmt.Errorf("index: create files schema: %w", err)
	}
	// The root folder row seeds the first update pass.
	if _, err := tx.Exec(`INSERT INTO files (path, kind, index_status) VALUES ('.', ?, ?)`,
		storage.KindFolder, statusNeedUpdate); err != nil {
		return fmt.Errorf("index: seed root file row: %w", err)
	}
	return nil
}

// StartUpdate brackets the beginning of a batch of file events.
func (fi *FilesIndexer) StartUpdate(tx *sql.Tx) error {
	for _, obs := range fi.observers {
		if err := obs.StartUpdate(tx); err != nil {
			return err
		}
	}
	return nil
}

// FinishUpdate brackets the end of a batch of file events.
func (fi *FilesIndexer) FinishUpdate(tx *sql.Tx) error {
	for _, obs := range fi.observers {
		if err := obs.FinishUpdate(tx); err != nil {
			return err
		}
	}
	return nil
}

func (fi *FilesIndexer) emitChanged(tx *sql.Tx, row FileRow, content []byte) error {
	for _, obs := range fi.observers {
		if err := obs.FileChanged(tx, row, content); err != nil {
			return err
		}
	}
	return nil
}

func (fi *FilesIndexer) emitDeleted(tx *sql.Tx, row FileRow) error {
	for _, obs := range fi.observers {
		if err := obs.FileDeleted(tx, row); err != nil {
			return err
		}
	}
	return nil
}

const fileRowCols = `id, parent, path, kind, mtime, checksum, index_status`

func scanFileRow(row *sql.Row) (*FileRow, error) {
	var r FileRow
	err := row.Scan(&r.ID, &r.ParentID, &r.Path, &r.Kind, &r.Mtime, &r.Checksum, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: scan file row: %w", err)
	}
	return &r, nil
}

func (fi *FilesIndexer) lookupByPath(q querier, path string) (*FileRow, error) {
	return scanFileRow(q.QueryRow(`SELECT `+fileRowCols+` FROM files WHERE path = ?`, path))
}

func (fi *FilesIndexer) lookupByID(q querier, id int64) (*FileRow, error) {
	return scanFileRow(q.QueryRow(`SELECT `+fileRowCols+` FROM files WHERE id = ?`, id))
}

func (fi *FilesIndexer) children(q querier, parent int64) ([]FileRow, error) {
	rows, err := q.Query(`SELECT `+fileRowCols+` FROM files WHERE parent = ? ORDER BY path`, parent)
	if err != nil {
		return nil, fmt.Errorf("index: list child rows: %w", err)
	}
	defer rows.Close()
	var out []FileRow
	for rows.Next() {
		var r FileRow
		if err := rows.Scan(&r.ID, &r.ParentID, &r.Path, &r.Kind, &r.Mtime, &r.Checksum, &r.Status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (fi *FilesIndexer) flagRow(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(`UPDATE files SET index_status = ? WHERE id = ?`, statusNeedUpdate, id)
	return err
}

// updateStep processes the next row flagged NEED_UPDATE, pushing the
// resulting events down the pipeline. It reports whether a row was processed;
// false means the persisted worklist is drained.
func (fi *FilesIndexer) updateStep(tx *sql.Tx) (bool, error) {
	row, err := scanFileRow(tx.QueryRow(
		`SELECT ` + fileRowCols + ` FROM files WHERE index_status = 1 ORDER BY path LIMIT 1`))
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	switch row.Kind {
	case storage.KindFile:
		node := fi.store.FileNode(row.Path)
		if node.Exists() {
			err = fi.UpdateFile(tx, row, node)
		} else {
			err = fi.DeleteFile(tx, row)
		}
	case storage.KindFolder:
		node := fi.store.FolderNode(row.Path)
		if node.Exists() {
			err = fi.UpdateFolder(tx, row, node)
		} else {
			err = fi.DeleteFolder(tx, row)
		}
	default:
		panic(fmt.Sprintf("index: invalid kind %d in files row %d", row.Kind, row.ID))
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateFile re-reads one file and pushes a change event when its content
// checksum moved. The row's flag is cleared afterwards.
func (fi *FilesIndexer) UpdateFile(tx *sql.Tx, row *FileRow, node storage.Node) error {
	data, err := fi.store.Read(row.Path)
	if err != nil {
		// Unreadable but present: keep the stale row rather than fail the
		// whole pass; the next check flags it again.
		fi.logger.Warn("index: read failed during update",
			slog.String("path", row.Path), slog.String("error", err.Error()))
		_, err := tx.Exec(`UPDATE files SET index_status = ? WHERE id = ?`, statusUpToDate, row.ID)
		return err
	}
	cs := checksum.Sum(data)
	if cs != row.Checksum {
		updated := *row
		updated.Checksum = cs
		if err := fi.emitChanged(tx, updated, data); err != nil {
			return err
		}
	}
	_, err = tx.Exec(`UPDATE files SET mtime = ?, checksum = ?, index_status = ? WHERE id = ?`,
		mtimeOf(node), cs, statusUpToDate, row.ID)
	return err
}

// DeleteFile pushes the deletion event and removes the row.
func (fi *FilesIndexer) DeleteFile(tx *sql.Tx, row *FileRow) error {
	if err := fi.emitDeleted(tx, *row); err != nil {
		return err
	}
	_, err := tx.Exec(`DELETE FROM files WHERE id = ?`, row.ID)
	return err
}

// UpdateFolder reconciles one folder row against the real directory listing:
// unseen children gain rows (flagged for update), children recorded but gone
// from disk are flagged so their own processing deletes them. The folder's
// contents are not descended into here; the persisted flags carry the rest.
func (fi *FilesIndexer) UpdateFolder(tx *sql.Tx, row *FileRow, node storage.Node) error {
	entries, err := fi.store.ListDir(row.Path)
	if err != nil {
		fi.logger.Warn("index: list failed during update",
			slog.String("path", row.Path), slog.String("error", err.Error()))
		_, err := tx.Exec(`UPDATE files SET index_status = ? WHERE id = ?`, statusUpToDate, row.ID)
		return err
	}

	known, err := fi.children(tx, row.ID)
	if err != nil {
		return err
	}
	byPath := make(map[string]FileRow, len(known))
	for _, c := range known {
		byPath[c.Path] = c
	}

	onDisk := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		p := childPath(row.Path, e.Name)
		onDisk[p] = struct{}{}
		existing, ok := byPath[p]
		if ok && existing.Kind == e.Kind {
			continue
		}
		if ok {
			// Kind changed under the same path: retire the old row first.
			if existing.Kind == storage.KindFile {
				if err := fi.DeleteFile(tx, &existing); err != nil {
					return err
				}
			} else {
				if err := fi.DeleteFolder(tx, &existing); err != nil {
					return err
				}
			}
		}
		if _, err := tx.Exec(`INSERT INTO files (parent, path, kind, index_status) VALUES (?, ?, ?, ?)`,
			row.ID, p, e.Kind, statusNeedUpdate); err != nil {
			return fmt.Errorf("index: insert file row %s: %w", p, err)
		}
	}

	for _, c := range known {
		if _, ok := onDisk[c.Path]; !ok {
			if err := fi.flagRow(tx, c.ID); err != nil {
				return err
			}
		}
	}

	_, err = tx.Exec(`UPDATE files SET mtime = ?, index_status = ? WHERE id = ?`,
		mtimeOf(node), statusUpToDate, row.ID)
	return err
}

// DeleteFolder removes a folder row and its whole recorded subtree, pushing
// a deletion event for every file row it retires.
func (fi *FilesIndexer) DeleteFolder(tx *sql.Tx, row *FileRow) error {
	children, err := fi.children(tx, row.ID)
	if err != nil {
		return err
	}
	for i := range children {
		c := children[i]
		if c.Kind == storage.KindFile {
			if err := fi.DeleteFile(tx, &c); err != nil {
				return err
			}
		} else {
			if err := fi.DeleteFolder(tx, &c); err != nil {
				return err
			}
		}
	}
	_, err = tx.Exec(`DELETE FROM files WHERE id = ?`, row.ID)
	return err
}

// InteractiveAddFile inserts a first-time file row, creating any missing
// ancestor folder rows, and processes it immediately. Folders are never
// added this way; they are discovered by the tree walk.
func (fi *FilesIndexer) InteractiveAddFile(tx *sql.Tx, node storage.Node) error {
	parent, err := fi.ensureFolderRows(tx, parentPath(node.Path()))
	if err != nil {
		return err
	}
	res, err := tx.Exec(`INSERT INTO files (parent, path, kind, index_status) VALUES (?, ?, ?, ?)`,
		parent, node.Path(), storage.KindFile, statusNeedUpdate)
	if err != nil {
		return fmt.Errorf("index: insert file row %s: %w", node.Path(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	row, err := fi.lookupByID(tx, id)
	if err != nil {
		return err
	}
	return fi.UpdateFile(tx, row, node)
}

// ensureFolderRows walks up from dir to the root, inserting folder rows for
// any ancestors not recorded yet, and returns dir's row id. New ancestor
// rows are flagged so the next pass reconciles their listings.
func (fi *FilesIndexer) ensureFolderRows(tx *sql.Tx, dir string) (int64, error) {
	row, err := fi.lookupByPath(tx, dir)
	if err != nil {
		return 0, err
	}
	if row != nil {
		return row.ID, nil
	}
	parent, err := fi.ensureFolderRows(tx, parentPath(dir))
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(`INSERT INTO files (parent, path, kind, index_status) VALUES (?, ?, ?, ?)`,
		parent, dir, storage.KindFolder, statusNeedUpdate)
	if err != nil {
		return 0, fmt.Errorf("index: insert folder row %s: %w", dir, err)
	}
	return res.LastInsertId()
}

// mtimeOf renders a node's modification time in the form stored in the
// files table; absent nodes store the empty string.
func mtimeOf(node storage.Node) string {
	t, ok := node.ModTime()
	if !ok {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
