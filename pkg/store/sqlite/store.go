// Package sqlite is the reference Store implementation: an embedded,
// pure-Go relational database with two parent tables (url, file_path) and a
// child segment table carrying foreign-key cascade delete.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"rangedl/pkg/rangeerr"
	"rangedl/pkg/segment"
	"rangedl/pkg/store"
)

// Store is a sqlite-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if necessary) the sqlite database at path and runs
// its migration. Use ":memory:" for an ephemeral store.
//
// The foreign-key pragma is scoped per-connection, not per-database, so the
// pool is pinned to a single connection: every acquisition of that
// connection must see PRAGMA foreign_keys=ON, and a second pooled
// connection would silently bypass it.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("rangedl: opening segment store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS url (
			full_text TEXT PRIMARY KEY
		);`,
		`CREATE TABLE IF NOT EXISTS file_path (
			path TEXT PRIMARY KEY
		);`,
		`CREATE TABLE IF NOT EXISTS segment (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL REFERENCES url(full_text) ON DELETE CASCADE,
			file_path TEXT NOT NULL REFERENCES file_path(path) ON DELETE CASCADE,
			offset INTEGER NOT NULL,
			remaining INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_segment_url ON segment(url);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rangedl: migrating segment store: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a new segment record, materializing its url/file_path parent
// rows if absent, and returns the fresh id.
func (s *Store) Add(ctx context.Context, seg segment.Segment) (segment.ID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO url(full_text) VALUES (?)`, seg.URL); err != nil {
		return 0, classify(err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO file_path(path) VALUES (?)`, seg.FilePath); err != nil {
		return 0, classify(err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO segment(url, file_path, offset, remaining) VALUES (?, ?, ?, ?)`,
		seg.URL, seg.FilePath, seg.Offset, seg.Remaining,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", rangeerr.ErrStoreConflict, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	return segment.ID(id), nil
}

// Update overwrites the record with matching id.
func (s *Store) Update(ctx context.Context, seg segment.Segment) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE segment SET offset = ?, remaining = ? WHERE id = ?`,
		seg.Offset, seg.Remaining, int64(seg.ID),
	)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return rangeerr.ErrNotFound
	}
	return nil
}

// ListByURL returns all live segments for the given URL.
func (s *Store) ListByURL(ctx context.Context, url string) ([]segment.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, file_path, offset, remaining FROM segment WHERE url = ?`, url,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]segment.Segment, 0)
	for rows.Next() {
		var (
			id                int64
			u, fp             string
			offset, remaining int64
		)
		if err := rows.Scan(&id, &u, &fp, &offset, &remaining); err != nil {
			return nil, rangeerr.ErrStoreCorrupt
		}
		out = append(out, segment.Segment{
			ID: segment.ID(id), URL: u, FilePath: fp,
			Offset: offset, Remaining: remaining,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// RemoveByID removes the segment with the given id, if present.
func (s *Store) RemoveByID(ctx context.Context, id segment.ID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM segment WHERE id = ?`, int64(id))
	if err != nil {
		return classify(err)
	}
	return nil
}

// RemoveByURL removes every segment for the url and, if no other segment
// still references them, their parent url/file_path rows.
func (s *Store) RemoveByURL(ctx context.Context, url string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT file_path FROM segment WHERE url = ?`, url)
	if err != nil {
		return classify(err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return rangeerr.ErrStoreCorrupt
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classify(err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM url WHERE full_text = ?`, url); err != nil {
		return classify(err)
	}
	for _, p := range paths {
		var stillReferenced int
		row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM segment WHERE file_path = ? AND url != ?`, p, url)
		if err := row.Scan(&stillReferenced); err != nil {
			return classify(err)
		}
		if stillReferenced == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM file_path WHERE path = ?`, p); err != nil {
				return classify(err)
			}
		}
	}

	return classify(tx.Commit())
}

// classify maps a database/sql error to the store error taxonomy. Anything
// we don't recognize is treated as a transient backing-store failure rather
// than corruption, since we have no evidence the persisted state itself is
// inconsistent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return rangeerr.ErrNotFound
	}
	return fmt.Errorf("%w: %v", rangeerr.ErrStoreUnavailable, err)
}
