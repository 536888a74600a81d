package index

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/starford/ansuz/internal/parser"
)

// TagsIndexer owns the tags and tagsources tables: the set of known tags and
// which pages carry them. It re-derives a page's tag set on every change and
// drops tags that lost their last page at batch finish.
type TagsIndexer struct {
	logger *slog.Logger
}

func newTagsIndexer(logger *slog.Logger) *TagsIndexer {
	return &TagsIndexer{logger: logger}
}

func (ti *TagsIndexer) initSchema(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE tags (
			id   INTEGER PRIMARY KEY,
			name TEXT UNIQUE NOT NULL
		);
		CREATE TABLE tagsources (
			tag  INTEGER NOT NULL,
			page INTEGER NOT NULL,
			UNIQUE (tag, page)
		);
		CREATE INDEX idx_tagsources_page ON tagsources(page);
	`); err != nil {
		return fmt.Errorf("index: create tags schema: %w", err)
	}
	return nil
}

// StartUpdate implements PageObserver.
func (ti *TagsIndexer) StartUpdate(*sql.Tx) error { return nil }

// FinishUpdate drops tags that no page carries anymore.
func (ti *TagsIndexer) FinishUpdate(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM tags WHERE NOT EXISTS (SELECT 1 FROM tagsources WHERE tag = tags.id)`)
	if err != nil {
		return fmt.Errorf("index: cleanup tags: %w", err)
	}
	return nil
}

// PageChanged replaces the page's tag associations with the parsed set.
func (ti *TagsIndexer) PageChanged(tx *sql.Tx, page PageRow, doc *parser.Result) error {
	if _, err := tx.Exec(`DELETE FROM tagsources WHERE page = ?`, page.ID); err != nil {
		return fmt.Errorf("index: clear tags of %s: %w", page.Name, err)
	}
	for _, tag := range doc.Tags {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO tags (name) VALUES (?)`, tag); err != nil {
			return fmt.Errorf("index: insert tag %s: %w", tag, err)
		}
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO tagsources (tag, page)
			SELECT id, ? FROM tags WHERE name = ?`, page.ID, tag); err != nil {
			return fmt.Errorf("index: associate tag %s: %w", tag, err)
		}
	}
	return nil
}

// PageDeleted drops the page's tag associations.
func (ti *TagsIndexer) PageDeleted(tx *sql.Tx, page PageRow) error {
	_, err := tx.Exec(`DELETE FROM tagsources WHERE page = ?`, page.ID)
	return err
}
