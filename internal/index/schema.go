// Package index maintains a persistent SQLite cache of a notebook's pages,
// files, inter-page links, and tags, so navigation and relationship queries
// never require a full tree rescan. The Index facade owns the cache handle
// and the write lock; the UpdateIter drives the two-phase incremental update
// protocol that keeps the cache consistent with the notebook tree.
package index

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-sqlite3"
)

// dbVersion is the cache schema version. A cache carrying any other value is
// rebuilt from scratch; there is no migration path.
const dbVersion = "0.7"

// dbState classifies the cache at open time.
type dbState int

const (
	dbStateValid        dbState = iota // properties table present, version matches
	dbStateFresh                       // cache never initialized (no tables yet)
	dbStateStaleVersion                // version absent or mismatched
	dbStateCorrupt                     // backing file is not a readable cache
)

// querier is the read subset shared by *sql.DB and *sql.Tx.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// openConn opens the SQLite handle. On-disk caches use WAL so committed data
// stays visible to readers while a write transaction is open.
func openConn(dbpath string) (*sql.DB, error) {
	dsn := dbpath
	if dbpath != ":memory:" {
		dsn = dbpath + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open cache: %w", err)
	}
	if dbpath == ":memory:" {
		// Every pooled connection would get its own private memory db.
		conn.SetMaxOpenConns(1)
	}
	return conn, nil
}

// dbCheck classifies the cache state once at open and recovers in place.
// Schema drift and a fresh cache rebuild transparently; a corrupt on-disk
// cache is deleted best-effort and recreated. A corrupt in-memory cache has
// no backing file to discard and is a fatal invariant violation.
func (ix *Index) dbCheck() error {
	state, err := ix.classifyState()
	if err != nil {
		return err
	}
	switch state {
	case dbStateValid:
		return nil
	case dbStateFresh, dbStateStaleVersion:
		ix.logger.Debug("index: cache version out of date, rebuilding")
		return ix.dbInit()
	case dbStateCorrupt:
		if ix.dbpath == ":memory:" {
			panic("index: in-memory cache corrupt")
		}
		ix.logger.Warn("index: overwriting possibly corrupt cache", slog.String("path", ix.dbpath))
		_ = ix.db.Close()
		for _, p := range []string{ix.dbpath, ix.dbpath + "-wal", ix.dbpath + "-shm"} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				ix.logger.Warn("index: could not delete corrupt cache file",
					slog.String("path", p), slog.String("error", err.Error()))
			}
		}
		conn, err := openConn(ix.dbpath)
		if err != nil {
			return err
		}
		ix.db = conn
		return ix.dbInit()
	default:
		return fmt.Errorf("index: unknown cache state %d", state)
	}
}

// classifyState reads the stored db_version and maps the result, or the
// failure mode of reading it, onto a dbState.
func (ix *Index) classifyState() (dbState, error) {
	var v string
	err := ix.db.QueryRow(`SELECT value FROM properties WHERE key = 'db_version'`).Scan(&v)
	switch {
	case err == nil && v == dbVersion:
		return dbStateValid, nil
	case err == nil:
		return dbStateStaleVersion, nil
	case errors.Is(err, sql.ErrNoRows):
		return dbStateStaleVersion, nil
	}

	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return dbStateCorrupt, nil
		default:
			// Typically "no such table": the cache was never initialized.
			return dbStateFresh, nil
		}
	}
	return 0, fmt.Errorf("index: check cache state: %w", err)
}

// dbInit destructively rebuilds the cache: every table is dropped, the
// property table recreated and seeded with the current version, and each
// indexer recreates its own schema. One commit at the end.
func (ix *Index) dbInit() error {
	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("index: begin init tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	rows, err := tx.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite%'`)
	if err != nil {
		return fmt.Errorf("index: list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range tables {
		if _, err := tx.Exec(`DROP TABLE "` + name + `"`); err != nil {
			return fmt.Errorf("index: drop table %s: %w", name, err)
		}
	}

	if _, err := tx.Exec(`
		CREATE TABLE properties (
			key   TEXT NOT NULL,
			value TEXT NOT NULL,
			CONSTRAINT uc_PropOnce UNIQUE (key)
		)`); err != nil {
		return fmt.Errorf("index: create properties table: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO properties (key, value) VALUES ('db_version', ?)`, dbVersion); err != nil {
		return fmt.Errorf("index: seed db_version: %w", err)
	}

	if err := ix.updates.initSchema(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetProperty returns the stored value for key. Absence of a key is a valid
// state reported through ok, not an error. Reads observe the last commit.
func (ix *Index) GetProperty(key string) (value string, ok bool, err error) {
	err = ix.db.QueryRow(`SELECT value FROM properties WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("index: get property %s: %w", key, err)
	}
	return value, true, nil
}

// SetProperty stores value under key, replacing any previous value.
func (ix *Index) SetProperty(key, value string) error {
	ix.mu.Lock()
	_, err := ix.db.Exec(`INSERT OR REPLACE INTO properties (key, value) VALUES (?, ?)`, key, value)
	ix.mu.Unlock()
	if err != nil {
		return fmt.Errorf("index: set property %s: %w", key, err)
	}
	ix.changed.emit(struct{}{})
	return nil
}

// DeleteProperty removes key. Deleting an absent key succeeds with no effect.
func (ix *Index) DeleteProperty(key string) error {
	ix.mu.Lock()
	_, err := ix.db.Exec(`DELETE FROM properties WHERE key = ?`, key)
	ix.mu.Unlock()
	if err != nil {
		return fmt.Errorf("index: delete property %s: %w", key, err)
	}
	ix.changed.emit(struct{}{})
	return nil
}
