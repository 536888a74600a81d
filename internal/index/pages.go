package index

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/ansuz/internal/parser"
)

// rootID is the reserved page id for the tree root. It is never a real page;
// links sourced from it exist only to anchor placeholders against cleanup.
const rootID int64 = 0

// PageRow is one row of the pages table. FileID is the backing files row, or
// zero for namespaces and placeholders. A placeholder is a content-less page
// kept alive only because something links to it.
type PageRow struct {
	ID          int64
	Name        string
	FileID      int64
	Placeholder bool
}

// PageObserver receives page events from the pages indexer.
type PageObserver interface {
	StartUpdate(tx *sql.Tx) error
	FinishUpdate(tx *sql.Tx) error
	PageChanged(tx *sql.Tx, page PageRow, doc *parser.Result) error
	PageDeleted(tx *sql.Tx, page PageRow) error
}

// PagesIndexer owns the pages table. It turns file events into page events:
// page files create or promote pages, deletions either remove the page or
// demote it to a placeholder when incoming links still reference it.
type PagesIndexer struct {
	logger    *slog.Logger
	observers []PageObserver
}

func newPagesIndexer(logger *slog.Logger) *PagesIndexer {
	return &PagesIndexer{logger: logger}
}

// Observe registers an observer for page events at pipeline construction.
func (pi *PagesIndexer) Observe(obs PageObserver) {
	pi.observers = append(pi.observers, obs)
}

func (pi *PagesIndexer) initSchema(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE pages (
			id             INTEGER PRIMARY KEY,
			name           TEXT UNIQUE NOT NULL,
			file_id        INTEGER NOT NULL DEFAULT 0,
			is_placeholder INTEGER NOT NULL DEFAULT 0
		);
	`); err != nil {
		return fmt.Errorf("index: create pages schema: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO pages (id, name) VALUES (?, '')`, rootID); err != nil {
		return fmt.Errorf("index: seed root page: %w", err)
	}
	return nil
}

// StartUpdate forwards the batch start marker down the pipeline.
func (pi *PagesIndexer) StartUpdate(tx *sql.Tx) error {
	for _, obs := range pi.observers {
		if err := obs.StartUpdate(tx); err != nil {
			return err
		}
	}
	return nil
}

// FinishUpdate forwards the batch finish marker down the pipeline.
func (pi *PagesIndexer) FinishUpdate(tx *sql.Tx) error {
	for _, obs := range pi.observers {
		if err := obs.FinishUpdate(tx); err != nil {
			return err
		}
	}
	return nil
}

func (pi *PagesIndexer) emitChanged(tx *sql.Tx, page PageRow, doc *parser.Result) error {
	for _, obs := range pi.observers {
		if err := obs.PageChanged(tx, page, doc); err != nil {
			return err
		}
	}
	return nil
}

func (pi *PagesIndexer) emitDeleted(tx *sql.Tx, page PageRow) error {
	for _, obs := range pi.observers {
		if err := obs.PageDeleted(tx, page); err != nil {
			return err
		}
	}
	return nil
}

// FileChanged indexes the content of a page file.
func (pi *PagesIndexer) FileChanged(tx *sql.Tx, row FileRow, content []byte) error {
	if !IsPageFile(row.Path) {
		return nil
	}
	doc, err := parser.Parse(content)
	if err != nil {
		pi.logger.Warn("index: parse failed", slog.String("path", row.Path), slog.String("error", err.Error()))
		return nil
	}
	page, err := pi.ensurePage(tx, PageNameFromPath(row.Path), row.ID, false)
	if err != nil {
		return err
	}
	return pi.emitChanged(tx, page, doc)
}

// FileDeleted retires the page backed by a deleted page file. A page still
// referenced by incoming links is demoted to a placeholder instead of being
// removed, so the link graph never dangles.
func (pi *PagesIndexer) FileDeleted(tx *sql.Tx, row FileRow) error {
	if !IsPageFile(row.Path) {
		return nil
	}
	name := PageNameFromPath(row.Path)
	page, err := pi.lookupByName(tx, name)
	if err != nil {
		return err
	}
	if page == nil {
		return nil
	}
	if err := pi.emitDeleted(tx, *page); err != nil {
		return err
	}

	var incoming int
	if err := tx.QueryRow(`SELECT count(*) FROM links WHERE target = ?`, page.ID).Scan(&incoming); err != nil {
		return fmt.Errorf("index: count incoming links: %w", err)
	}
	if incoming > 0 {
		_, err := tx.Exec(`UPDATE pages SET file_id = 0, is_placeholder = 1 WHERE id = ?`, page.ID)
		return err
	}
	if _, err := tx.Exec(`DELETE FROM pages WHERE id = ?`, page.ID); err != nil {
		return err
	}
	return pi.pruneEmptyAncestors(tx, parentName(name))
}

func (pi *PagesIndexer) lookupByName(q querier, name string) (*PageRow, error) {
	var p PageRow
	err := q.QueryRow(`SELECT id, name, file_id, is_placeholder FROM pages WHERE name = ?`, name).
		Scan(&p.ID, &p.Name, &p.FileID, &p.Placeholder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: lookup page %s: %w", name, err)
	}
	return &p, nil
}

// InsertPlaceholder idempotently guarantees a page row named name exists and
// returns its id. Created rows (and any created ancestors) are placeholders,
// subject to cleanup once nothing links to them.
func (pi *PagesIndexer) InsertPlaceholder(tx *sql.Tx, name string) (int64, error) {
	page, err := pi.ensurePage(tx, name, 0, true)
	if err != nil {
		return 0, err
	}
	return page.ID, nil
}

// ensurePage creates the page row for name (and any missing ancestors) or
// promotes an existing placeholder when real content arrives.
func (pi *PagesIndexer) ensurePage(tx *sql.Tx, name string, fileID int64, placeholder bool) (PageRow, error) {
	if name == "" {
		panic("index: the root sentinel is not a real page")
	}
	existing, err := pi.lookupByName(tx, name)
	if err != nil {
		return PageRow{}, err
	}
	if existing != nil {
		if !placeholder && (existing.Placeholder || existing.FileID != fileID) {
			if _, err := tx.Exec(`UPDATE pages SET file_id = ?, is_placeholder = 0 WHERE id = ?`,
				fileID, existing.ID); err != nil {
				return PageRow{}, err
			}
			existing.FileID = fileID
			existing.Placeholder = false
		}
		return *existing, nil
	}

	if parent := parentName(name); parent != "" {
		if _, err := pi.ensurePage(tx, parent, 0, true); err != nil {
			return PageRow{}, err
		}
	}
	res, err := tx.Exec(`INSERT INTO pages (name, file_id, is_placeholder) VALUES (?, ?, ?)`,
		name, fileID, placeholder)
	if err != nil {
		return PageRow{}, fmt.Errorf("index: insert page %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return PageRow{}, err
	}
	return PageRow{ID: id, Name: name, FileID: fileID, Placeholder: placeholder}, nil
}

// pruneEmptyAncestors walks up from name removing namespace rows that lost
// their last child, as long as nothing else keeps them alive.
func (pi *PagesIndexer) pruneEmptyAncestors(tx *sql.Tx, name string) error {
	for name != "" {
		page, err := pi.lookupByName(tx, name)
		if err != nil {
			return err
		}
		if page == nil || page.FileID != 0 {
			return nil
		}
		var keep int
		err = tx.QueryRow(`
			SELECT count(*) FROM (
				SELECT 1 FROM pages WHERE name LIKE ? || ':%'
				UNION ALL
				SELECT 1 FROM links WHERE target = ?
			)`, page.Name, page.ID).Scan(&keep)
		if err != nil {
			return fmt.Errorf("index: prune ancestor %s: %w", name, err)
		}
		if keep > 0 {
			return nil
		}
		if _, err := tx.Exec(`DELETE FROM pages WHERE id = ?`, page.ID); err != nil {
			return err
		}
		name = parentName(name)
	}
	return nil
}
