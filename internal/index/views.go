package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/ansuz/internal/storage"
)

// View queries are built atop committed data and are not guarded by the
// write lock; they observe whatever was last committed.

// PageInfo is the navigation view of one page.
type PageInfo struct {
	ID          int64
	Name        string
	HasContent  bool
	Placeholder bool
}

// Backlink is one incoming link edge, resolved to the source page name.
type Backlink struct {
	Source string
	Rel    LinkRel
	Name   string
}

// TagInfo is one known tag and how many pages carry it.
type TagInfo struct {
	Name  string
	Pages int
}

// PageByName returns the page named name, or nil when the cache has none.
func (ix *Index) PageByName(name string) (*PageInfo, error) {
	var p PageInfo
	err := ix.db.QueryRow(
		`SELECT id, name, file_id != 0, is_placeholder FROM pages WHERE name = ? AND id != ?`,
		name, rootID).Scan(&p.ID, &p.Name, &p.HasContent, &p.Placeholder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: page by name: %w", err)
	}
	return &p, nil
}

// ListPages returns the direct children of the namespace parent ("" for the
// top level), in name order.
func (ix *Index) ListPages(parent string) ([]PageInfo, error) {
	var rows *sql.Rows
	var err error
	if parent == "" {
		rows, err = ix.db.Query(`
			SELECT id, name, file_id != 0, is_placeholder FROM pages
			WHERE id != ? AND name NOT LIKE '%:%'
			ORDER BY name`, rootID)
	} else {
		rows, err = ix.db.Query(`
			SELECT id, name, file_id != 0, is_placeholder FROM pages
			WHERE name LIKE ? || ':%' AND name NOT LIKE ? || ':%:%'
			ORDER BY name`, parent, parent)
	}
	if err != nil {
		return nil, fmt.Errorf("index: list pages: %w", err)
	}
	defer rows.Close()
	return scanPageInfos(rows)
}

// AllPages returns every page in the cache, in name order.
func (ix *Index) AllPages() ([]PageInfo, error) {
	rows, err := ix.db.Query(
		`SELECT id, name, file_id != 0, is_placeholder FROM pages WHERE id != ? ORDER BY name`, rootID)
	if err != nil {
		return nil, fmt.Errorf("index: all pages: %w", err)
	}
	defer rows.Close()
	return scanPageInfos(rows)
}

func scanPageInfos(rows *sql.Rows) ([]PageInfo, error) {
	var out []PageInfo
	for rows.Next() {
		var p PageInfo
		if err := rows.Scan(&p.ID, &p.Name, &p.HasContent, &p.Placeholder); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Backlinks answers "what links here" for the page named target. Anchor
// edges from the root sentinel are not page content and are excluded.
func (ix *Index) Backlinks(target string) ([]Backlink, error) {
	rows, err := ix.db.Query(`
		SELECT p.name, l.rel, l.names
		FROM links l
		JOIN pages t ON t.id = l.target
		JOIN pages p ON p.id = l.source
		WHERE t.name = ? AND l.source != ?
		ORDER BY p.name`, target, rootID)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()
	var out []Backlink
	for rows.Next() {
		var b Backlink
		if err := rows.Scan(&b.Source, &b.Rel, &b.Name); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PageTags returns the tags recorded for the page named name.
func (ix *Index) PageTags(name string) ([]string, error) {
	rows, err := ix.db.Query(`
		SELECT t.name FROM tags t
		JOIN tagsources ts ON ts.tag = t.id
		JOIN pages p ON p.id = ts.page
		WHERE p.name = ? ORDER BY t.name`, name)
	if err != nil {
		return nil, fmt.Errorf("index: page tags: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListTags returns every known tag with its page count, in name order.
func (ix *Index) ListTags() ([]TagInfo, error) {
	rows, err := ix.db.Query(`
		SELECT t.name, count(ts.page) FROM tags t
		LEFT JOIN tagsources ts ON ts.tag = t.id
		GROUP BY t.id ORDER BY t.name`)
	if err != nil {
		return nil, fmt.Errorf("index: list tags: %w", err)
	}
	defer rows.Close()
	var out []TagInfo
	for rows.Next() {
		var t TagInfo
		if err := rows.Scan(&t.Name, &t.Pages); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PagesByTag returns the pages tagged tag, in name order.
func (ix *Index) PagesByTag(tag string) ([]PageInfo, error) {
	rows, err := ix.db.Query(`
		SELECT p.id, p.name, p.file_id != 0, p.is_placeholder
		FROM pages p
		JOIN tagsources ts ON ts.page = p.id
		JOIN tags t ON t.id = ts.tag
		WHERE t.name = ? ORDER BY p.name`, tag)
	if err != nil {
		return nil, fmt.Errorf("index: pages by tag: %w", err)
	}
	defer rows.Close()
	return scanPageInfos(rows)
}

// RecordedKind reports the node kind the cache recorded for a notebook path.
// Callers use it to rebuild a Node for a path that no longer exists on disk.
func (ix *Index) RecordedKind(path string) (storage.Kind, bool, error) {
	var k storage.Kind
	err := ix.db.QueryRow(`SELECT kind FROM files WHERE path = ?`, path).Scan(&k)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("index: recorded kind: %w", err)
	}
	return k, true, nil
}

// PageCount returns the number of pages in the cache, placeholders included.
func (ix *Index) PageCount() (int, error) {
	var n int
	if err := ix.db.QueryRow(`SELECT count(*) FROM pages WHERE id != ?`, rootID).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: page count: %w", err)
	}
	return n, nil
}
