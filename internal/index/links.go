package index

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/ansuz/internal/parser"
)

// LinkRel classifies how a link target was written in its source page.
type LinkRel int

const (
	RelAbsolute LinkRel = iota // leading colon, resolved from the root
	RelRelative                // colon inside, resolved against the source namespace
	RelFloating                // bare name, resolved by walking up the namespaces
)

func (r LinkRel) String() string {
	switch r {
	case RelAbsolute:
		return "absolute"
	case RelRelative:
		return "relative"
	default:
		return "floating"
	}
}

// LinkEdge is one row of the links table. An edge sourced from the root
// sentinel is never page content: it exists solely to anchor a placeholder.
type LinkEdge struct {
	Source int64
	Target int64
	Rel    LinkRel
	Name   string // display text as written in the source page
}

// LinksIndexer owns the links table. It resolves parsed link targets to page
// rows, creating placeholder targets for pages that do not exist yet, and
// cleans up placeholders that lost their last incoming link.
type LinksIndexer struct {
	pages  *PagesIndexer
	logger *slog.Logger
}

func newLinksIndexer(pages *PagesIndexer, logger *slog.Logger) *LinksIndexer {
	return &LinksIndexer{pages: pages, logger: logger}
}

func (li *LinksIndexer) initSchema(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE links (
			source INTEGER NOT NULL,
			target INTEGER NOT NULL,
			rel    INTEGER NOT NULL,
			names  TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX idx_links_source ON links(source);
		CREATE INDEX idx_links_target ON links(target);
	`); err != nil {
		return fmt.Errorf("index: create links schema: %w", err)
	}
	return nil
}

// StartUpdate implements PageObserver.
func (li *LinksIndexer) StartUpdate(*sql.Tx) error { return nil }

// FinishUpdate sweeps orphaned placeholders once a batch of page events has
// been applied.
func (li *LinksIndexer) FinishUpdate(tx *sql.Tx) error {
	return li.CleanupPlaceholders(tx, "")
}

// PageChanged replaces the page's outgoing edges with the links parsed from
// its new content. Targets that do not exist yet become placeholder pages.
func (li *LinksIndexer) PageChanged(tx *sql.Tx, page PageRow, doc *parser.Result) error {
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, page.ID); err != nil {
		return fmt.Errorf("index: clear links of %s: %w", page.Name, err)
	}
	for _, ref := range doc.Links {
		rel, targetName, err := li.resolveHref(tx, page.Name, ref.Target)
		if err != nil {
			return err
		}
		if targetName == "" || targetName == page.Name {
			continue
		}
		targetID, err := li.pages.InsertPlaceholder(tx, targetName)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO links (source, target, rel, names) VALUES (?, ?, ?, ?)`,
			page.ID, targetID, rel, ref.Text); err != nil {
			return fmt.Errorf("index: insert link %s -> %s: %w", page.Name, targetName, err)
		}
	}
	return nil
}

// PageDeleted drops the page's outgoing edges. Incoming edges stay: they are
// what keeps a demoted placeholder alive.
func (li *LinksIndexer) PageDeleted(tx *sql.Tx, page PageRow) error {
	_, err := tx.Exec(`DELETE FROM links WHERE source = ?`, page.ID)
	return err
}

// resolveHref maps a raw link target to a relation class and a full page name.
func (li *LinksIndexer) resolveHref(tx *sql.Tx, sourceName, raw string) (LinkRel, string, error) {
	raw = strings.TrimSpace(raw)
	absolute := strings.HasPrefix(raw, ":")
	raw = strings.Trim(raw, ":")
	switch {
	case raw == "":
		return RelAbsolute, "", nil
	case absolute:
		return RelAbsolute, raw, nil
	case strings.Contains(raw, ":"):
		return RelRelative, joinName(parentName(sourceName), raw), nil
	}

	// Floating: the first namespace up the tree that already has a page of
	// this name wins; otherwise the link anchors in the source's namespace.
	ns := parentName(sourceName)
	for {
		cand := joinName(ns, raw)
		page, err := li.pages.lookupByName(tx, cand)
		if err != nil {
			return 0, "", err
		}
		if page != nil {
			return RelFloating, cand, nil
		}
		if ns == "" {
			break
		}
		ns = parentName(ns)
	}
	return RelFloating, joinName(parentName(sourceName), raw), nil
}

// CleanupPlaceholders removes placeholder pages that no longer have incoming
// links or child pages, cascading until a fixed point. Edges anchored at the
// root sentinel count as incoming links, which is exactly what keeps an
// anchored placeholder alive. scope, when non-empty, restricts the sweep to
// pages under that namespace.
func (li *LinksIndexer) CleanupPlaceholders(tx *sql.Tx, scope string) error {
	scopeFilter := ""
	args := []any{}
	if scope != "" {
		scopeFilter = ` AND (name = ? OR name LIKE ? || ':%')`
		args = append(args, scope, scope)
	}
	for {
		res, err := tx.Exec(`
			DELETE FROM pages
			WHERE is_placeholder = 1 AND id != `+fmt.Sprint(rootID)+scopeFilter+`
			AND NOT EXISTS (SELECT 1 FROM links WHERE links.target = pages.id)
			AND NOT EXISTS (SELECT 1 FROM pages c WHERE c.name LIKE pages.name || ':%')`,
			args...)
		if err != nil {
			return fmt.Errorf("index: cleanup placeholders: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		// Drop edges whose source page went away with this sweep; that can
		// orphan further placeholders, hence the loop.
		if _, err := tx.Exec(
			`DELETE FROM links WHERE source NOT IN (SELECT id FROM pages)`); err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}
