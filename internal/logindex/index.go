// Package logindex maintains a SQLite index over the event log so audit
// queries do not rescan the whole file. The log stays the source of truth;
// the index can be deleted and rebuilt at any time.
package logindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"planstore/internal/eventlog"
	"planstore/internal/logindex/migrations"
	"planstore/internal/planstore"
)

// Index is a queryable copy of event log entries.
type Index struct {
	db     *sql.DB
	path   string
	clock  planstore.Clock
	logger planstore.Logger
}

// Filter selects entries. Empty fields match everything.
type Filter struct {
	Actor   string
	Action  string
	Subject string
	Since   time.Time
	Limit   int // <= 0 means 100
}

const defaultLimit = 100

// Open opens or creates the index at path (":memory:" for a private
// in-memory index) and brings its schema up to date. An index left dirty by
// a failed migration, or written by a newer binary, is deleted and rebuilt
// empty; the next Sync refills it from the log.
func Open(path string, logger planstore.Logger) (*Index, error) {
	logger = planstore.EnsureLogger(logger)
	db, err := openMigrated(path, logger)
	if err != nil {
		return nil, err
	}
	return &Index{
		db:     db,
		path:   path,
		clock:  planstore.RealClock{},
		logger: logger,
	}, nil
}

func openMigrated(path string, logger planstore.Logger) (*sql.DB, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	st, err := migrations.Inspect(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("inspecting index schema: %w", err)
	}

	if st.NeedsRebuild() && path != ":memory:" {
		logger.Warn("rebuilding log index", "path", path, "schema", st.String())
		db.Close()
		if err := removeIndexFiles(path); err != nil {
			return nil, err
		}
		if db, err = OpenConnection(path); err != nil {
			return nil, err
		}
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// removeIndexFiles deletes the database and its WAL side files.
func removeIndexFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale index: %w", err)
		}
	}
	return nil
}

func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure index (%s): %w", pragma, err)
		}
	}
	return db, nil
}

// Close closes the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Sync indexes entries appended to log since the last Sync and returns how
// many were added. If the log shrank (it was replaced), indexing restarts
// from the beginning; already indexed ids are skipped.
func (ix *Index) Sync(ctx context.Context, log *eventlog.Log) (int, error) {
	key := log.Path()

	var offset int64
	err := ix.db.QueryRowContext(ctx, "SELECT log_offset FROM sync_state WHERE log_path = ?", key).Scan(&offset)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("reading sync state: %w", err)
	}
	if info, err := os.Stat(key); err == nil && info.Size() < offset {
		ix.logger.Warn("event log shrank, reindexing", "path", key, "offset", offset, "size", info.Size())
		offset = 0
	}

	entries, next, err := log.ReadFrom(ctx, offset)
	if err != nil {
		return 0, err
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO entries
		(id, ts, actor, action, subject, details) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, e := range entries {
		details := ""
		if len(e.Details) > 0 {
			raw, err := json.Marshal(e.Details)
			if err != nil {
				return 0, fmt.Errorf("encoding details of %s: %w", e.ID, err)
			}
			details = string(raw)
		}
		res, err := stmt.ExecContext(ctx, e.ID, e.Timestamp.UTC().UnixNano(), e.Actor, e.Action, e.Subject, details)
		if err != nil {
			return 0, fmt.Errorf("indexing entry %s: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO sync_state (log_path, log_offset, synced_at) VALUES (?, ?, ?)
		ON CONFLICT(log_path) DO UPDATE SET log_offset = excluded.log_offset, synced_at = excluded.synced_at`,
		key, next, ix.clock.Now().UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("saving sync state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing index: %w", err)
	}
	return added, nil
}

// Query returns matching entries, newest first.
func (ix *Index) Query(ctx context.Context, f Filter) ([]eventlog.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, f.Subject)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().UnixNano())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	q := "SELECT id, ts, actor, action, subject, details FROM entries"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer rows.Close()

	var out []eventlog.Entry
	for rows.Next() {
		var (
			e       eventlog.Entry
			ts      int64
			details string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Action, &e.Subject, &details); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("decoding details of %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of indexed entries.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}
