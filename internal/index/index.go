package index

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/ansuz/internal/storage"
)

// Index is the public entry point of the cache: lifecycle, the process-wide
// write lock, per-file update shortcuts, placeholder management, flush, and
// the "changed" notification. It only orchestrates writes and exposes raw
// key/value and existence checks; navigation queries live in the view
// methods built atop committed data.
type Index struct {
	dbpath string
	store  storage.Provider
	logger *slog.Logger

	// mu serializes every state-mutating facade operation. Commit is the
	// visibility boundary: read paths are not guarded and observe whatever
	// was last committed.
	mu sync.Mutex

	db        *sql.DB
	updates   *UpdateIter
	iterHooks []func(*UpdateIter)
	changed   signal[struct{}]
}

// Option configures an Index at open time.
type Option func(*Index)

// WithLogger sets the logger; the default discards nothing and writes to the
// process default.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) { ix.logger = logger }
}

// WithUpdateIterHook registers a hook fired once per UpdateIter construction,
// the only supported point for attaching additional indexers to the pipeline.
func WithUpdateIterHook(hook func(*UpdateIter)) Option {
	return func(ix *Index) { ix.iterHooks = append(ix.iterHooks, hook) }
}

// Open opens (or creates) the cache at dbpath, mirroring the notebook served
// by store. dbpath may be ":memory:" for a throwaway cache. Schema drift and
// on-disk corruption are recovered transparently by a destructive rebuild.
func Open(dbpath string, store storage.Provider, opts ...Option) (*Index, error) {
	ix := &Index{
		dbpath: dbpath,
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}

	db, err := openConn(dbpath)
	if err != nil {
		return nil, err
	}
	ix.db = db
	ix.updates = newUpdateIter(ix)
	ix.updates.OnCommit(func() { ix.changed.emit(struct{}{}) })

	if err := ix.dbCheck(); err != nil {
		_ = ix.db.Close()
		return nil, err
	}
	return ix, nil
}

// Close releases the cache handle. In-flight runs must be closed first.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// OnChanged registers a handler fired after every commit that went through
// the facade's mutating paths. Handlers run synchronously, in registration
// order, outside the write lock.
func (ix *Index) OnChanged(fn func()) {
	ix.changed.connect(func(struct{}) { fn() })
}

// UpdateIter exposes the pipeline, e.g. for read access to the indexers.
func (ix *Index) UpdateIter() *UpdateIter { return ix.updates }

// IsUpToDate reports whether no recorded file still needs an update pass.
// It is an existence check, not a tree scan.
func (ix *Index) IsUpToDate() (bool, error) {
	var one int
	err := ix.db.QueryRow(`SELECT 1 FROM files WHERE index_status = ? LIMIT 1`, statusNeedUpdate).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("index: up-to-date check: %w", err)
	}
	return false, nil
}

// CheckAndUpdate synchronously re-scans and reindexes the whole tree.
func (ix *Index) CheckAndUpdate() error {
	return ix.checkAndUpdateAt(nil)
}

func (ix *Index) checkAndUpdateAt(node *storage.Node) error {
	run, err := ix.CheckAndUpdateIter(node)
	if err != nil {
		return err
	}
	defer run.Close()
	for {
		more, err := run.Step()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// CheckAndUpdateIter starts a pull-driven incremental pass rooted at node
// (nil = whole tree). The returned Run holds the write lock until it
// finishes or is closed; the caller controls pacing by how fast it steps.
func (ix *Index) CheckAndUpdateIter(node *storage.Node) (*Run, error) {
	ix.mu.Lock()
	return ix.updates.newRun(node, ix.mu.Unlock)
}

// Update eagerly drains the persisted update worklist without a preceding
// check phase, committing once.
func (ix *Index) Update() error {
	ix.mu.Lock()
	run, err := ix.updates.newUpdateRun(ix.mu.Unlock)
	if err != nil {
		return err
	}
	defer run.Close()
	for {
		more, err := run.Step()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// UpdateFile applies a targeted update for one file or folder, typically
// driven by a filesystem-change notification the caller already observed.
// A node with no cache row that does not exist in storage is a silent no-op:
// no commit, no notification. Passing a node whose kind contradicts the
// recorded row, or a folder that was never discovered by a tree walk, is a
// programming error and panics.
func (ix *Index) UpdateFile(n storage.Node) error {
	committed, err := ix.updateFileLocked(n)
	if err != nil {
		return err
	}
	if committed {
		ix.changed.emit(struct{}{})
	}
	return nil
}

func (ix *Index) updateFileLocked(n storage.Node) (committed bool, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	files := ix.updates.Files
	row, err := files.lookupByPath(ix.db, n.Path())
	if err != nil {
		return false, err
	}
	if row == nil && !n.Exists() {
		return false, nil
	}

	tx, err := ix.db.Begin()
	if err != nil {
		return false, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := files.StartUpdate(tx); err != nil {
		return false, err
	}

	if row != nil {
		if row.Kind != n.Kind() {
			panic(fmt.Sprintf("index: node kind mismatch for %s: recorded %s, got %s",
				n.Path(), row.Kind, n.Kind()))
		}
		switch n.Kind() {
		case storage.KindFile:
			if n.Exists() {
				err = files.UpdateFile(tx, row, n)
			} else {
				err = files.DeleteFile(tx, row)
			}
		case storage.KindFolder:
			if n.Exists() {
				err = files.UpdateFolder(tx, row, n)
			} else {
				err = files.DeleteFolder(tx, row)
			}
		default:
			panic(fmt.Sprintf("index: invalid node kind %d", n.Kind()))
		}
	} else {
		switch n.Kind() {
		case storage.KindFile:
			err = files.InteractiveAddFile(tx, n)
		case storage.KindFolder:
			panic("index: folders are discovered by tree walk, not added directly: " + n.Path())
		default:
			panic(fmt.Sprintf("index: invalid node kind %d", n.Kind()))
		}
	}
	if err != nil {
		return false, err
	}

	if err := files.FinishUpdate(tx); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("index: commit update: %w", err)
	}
	return true, nil
}

// FileMoved records a move the caller already performed in storage. A moved
// file is two targeted updates; a moved folder is a targeted update of the
// old path plus a full incremental pass rooted at the new one. The folder
// form re-scans the whole subtree: final state equivalence, not performance,
// is the contract here.
func (ix *Index) FileMoved(oldNode, newNode storage.Node) error {
	switch oldNode.Kind() {
	case storage.KindFile:
		if err := ix.UpdateFile(oldNode); err != nil {
			return err
		}
		return ix.UpdateFile(newNode)
	case storage.KindFolder:
		if err := ix.UpdateFile(oldNode); err != nil {
			return err
		}
		return ix.checkAndUpdateAt(&newNode)
	default:
		panic(fmt.Sprintf("index: invalid node kind %d", oldNode.Kind()))
	}
}

// TouchCurrentPagePlaceholder idempotently guarantees a page named name is
// visible to navigation before it has content. Only one anchor exists at a
// time: touching a new name retires the previous anchor edge and, when
// orphaned, its placeholder page.
func (ix *Index) TouchCurrentPagePlaceholder(name string) error {
	if err := ix.touchPlaceholderLocked(name); err != nil {
		return err
	}
	ix.changed.emit(struct{}{})
	return nil
}

func (ix *Index) touchPlaceholderLocked(name string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Retire the previous anchor, then sweep whatever it was keeping alive.
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, rootID); err != nil {
		return fmt.Errorf("index: clear anchor edges: %w", err)
	}
	if err := ix.updates.Links.CleanupPlaceholders(tx, ""); err != nil {
		return err
	}

	page, err := ix.updates.Pages.lookupByName(tx, name)
	if err != nil {
		return err
	}
	if page == nil {
		pid, err := ix.updates.Pages.InsertPlaceholder(tx, name)
		if err != nil {
			return err
		}
		// The anchor edge keeps the placeholder out of cleanup's reach.
		if _, err := tx.Exec(`INSERT INTO links (source, target, rel, names) VALUES (?, ?, ?, ?)`,
			rootID, pid, RelAbsolute, name); err != nil {
			return fmt.Errorf("index: insert anchor edge: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit placeholder touch: %w", err)
	}
	return nil
}

// Flush destructively resets the cache, the same mechanism used to recover
// from schema drift. Use it when the cache's validity is suspect.
func (ix *Index) Flush() error {
	ix.logger.Info("index: flushing cache")
	ix.mu.Lock()
	err := ix.dbInit()
	ix.mu.Unlock()
	if err != nil {
		return err
	}
	ix.changed.emit(struct{}{})
	return nil
}

// FlagReindex requests a content reindex. The intent is a lighter pass over
// page content only, but the current contract is a full flush; callers must
// not depend on file rows surviving it.
func (ix *Index) FlagReindex() error {
	return ix.Flush()
}

// StartBackgroundCheck is a seam for an external scheduler to begin periodic
// checks. The index itself schedules nothing.
func (ix *Index) StartBackgroundCheck() {}

// StopBackgroundCheck is the counterpart seam of StartBackgroundCheck.
func (ix *Index) StopBackgroundCheck() {}
