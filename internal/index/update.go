package index

import (
	"database/sql"
	"fmt"

	"github.com/starford/ansuz/internal/storage"
)

// UpdateIter owns the indexer pipeline (files → pages → links/tags) and the
// two-phase incremental update protocol. Multi-step work funnels through a
// Run, which holds the index write lock and commits exactly once.
type UpdateIter struct {
	ix *Index

	Files *FilesIndexer
	Pages *PagesIndexer
	Links *LinksIndexer
	Tags  *TagsIndexer

	commit signal[struct{}]
}

// newUpdateIter wires the push pipeline and fires the construction hooks,
// the only supported point for registering additional indexers.
func newUpdateIter(ix *Index) *UpdateIter {
	files := newFilesIndexer(ix.store, ix.logger)
	pages := newPagesIndexer(ix.logger)
	links := newLinksIndexer(pages, ix.logger)
	tags := newTagsIndexer(ix.logger)

	files.Observe(pages)
	pages.Observe(links)
	pages.Observe(tags)

	u := &UpdateIter{ix: ix, Files: files, Pages: pages, Links: links, Tags: tags}
	for _, hook := range ix.iterHooks {
		hook(u)
	}
	return u
}

// OnCommit registers a handler fired once per finished Run, unconditionally.
// A commit notification does not imply data changed.
func (u *UpdateIter) OnCommit(fn func()) {
	u.commit.connect(func(struct{}) { fn() })
}

func (u *UpdateIter) initSchema(tx *sql.Tx) error {
	if err := u.Files.initSchema(tx); err != nil {
		return err
	}
	if err := u.Pages.initSchema(tx); err != nil {
		return err
	}
	if err := u.Links.initSchema(tx); err != nil {
		return err
	}
	return u.Tags.initSchema(tx)
}

type runPhase int

const (
	phaseCheck runPhase = iota
	phaseUpdate
	phaseDone
)

// Run is one pull-driven pass of the two-phase protocol: a check phase over
// the queued subtree, then, only when the check flagged something, an update
// pass re-derived from the persisted flags. Each Step that reports more work
// is one work unit — one item checked or one item updated — so a cooperative
// scheduler can bound per-tick cost by pacing its pulls.
//
// The single commit happens inside the final Step; until then nothing is
// durable, so abandoning a Run and calling Close discards all of its work.
// A Run holds the index write lock from creation until it finishes or is
// closed; the caller must always call Close.
type Run struct {
	it      *UpdateIter
	tx      *sql.Tx
	checker *FilesIndexChecker
	phase   runPhase
	flagged int
	release func()
	err     error
}

// newRun starts a check-then-update pass rooted at node (nil = whole tree).
func (u *UpdateIter) newRun(node *storage.Node, release func()) (*Run, error) {
	tx, err := u.ix.db.Begin()
	if err != nil {
		release()
		return nil, fmt.Errorf("index: begin update tx: %w", err)
	}
	checker := newFilesIndexChecker(u.ix.store, u.Files)
	checker.QueueCheck(node)
	return &Run{it: u, tx: tx, checker: checker, release: release}, nil
}

// newUpdateRun starts an eager update-only pass: it drains the persisted
// worklist without a preceding check phase.
func (u *UpdateIter) newUpdateRun(release func()) (*Run, error) {
	tx, err := u.ix.db.Begin()
	if err != nil {
		release()
		return nil, fmt.Errorf("index: begin update tx: %w", err)
	}
	if err := u.Files.StartUpdate(tx); err != nil {
		_ = tx.Rollback()
		release()
		return nil, err
	}
	return &Run{it: u, tx: tx, phase: phaseUpdate, release: release}, nil
}

// Step performs one unit of work. It reports false once the run has finished:
// the final call commits and fires the commit notification. Calling Step
// after the run finished keeps reporting false.
func (r *Run) Step() (more bool, err error) {
	for {
		switch r.phase {
		case phaseCheck:
			flagged, ok, err := r.checker.Next(r.tx)
			if err != nil {
				return false, r.abort(err)
			}
			if ok {
				if flagged {
					r.flagged++
				}
				return true, nil
			}
			if r.flagged == 0 {
				// Nothing disagreed: skip the update phase. The commit and
				// its notification still happen.
				return false, r.finalize()
			}
			if err := r.it.Files.StartUpdate(r.tx); err != nil {
				return false, r.abort(err)
			}
			r.phase = phaseUpdate

		case phaseUpdate:
			processed, err := r.it.Files.updateStep(r.tx)
			if err != nil {
				return false, r.abort(err)
			}
			if processed {
				return true, nil
			}
			if err := r.it.Files.FinishUpdate(r.tx); err != nil {
				return false, r.abort(err)
			}
			return false, r.finalize()

		default:
			return false, r.err
		}
	}
}

// Flagged reports how many checked items disagreed with the notebook tree.
func (r *Run) Flagged() int { return r.flagged }

func (r *Run) finalize() error {
	if err := r.tx.Commit(); err != nil {
		r.phase = phaseDone
		r.err = fmt.Errorf("index: commit update run: %w", err)
		r.releaseLock()
		return r.err
	}
	r.phase = phaseDone
	r.releaseLock()
	r.it.commit.emit(struct{}{})
	return nil
}

func (r *Run) abort(err error) error {
	_ = r.tx.Rollback()
	r.phase = phaseDone
	r.err = err
	r.releaseLock()
	return err
}

// Close rolls back an unfinished run and releases the write lock. Closing a
// finished run is a no-op. Because commit happens only in the final Step, a
// partially driven run leaves the cache exactly as it was.
func (r *Run) Close() error {
	if r.phase == phaseDone {
		return nil
	}
	r.phase = phaseDone
	err := r.tx.Rollback()
	r.releaseLock()
	return err
}

func (r *Run) releaseLock() {
	if r.release != nil {
		r.release()
		r.release = nil
	}
}
