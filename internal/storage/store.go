// Package storage persists embedding cache rows in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
)

const busyTimeoutMs = "5000"

// ErrNotFound is returned by Get when no row exists for the hash.
var ErrNotFound = errors.New("entry not found")

// Store is a SQLite-backed table of embeddings keyed by content hash. Several Stores
// (in one or many processes) may open the same file: WAL mode, a busy timeout and
// IMMEDIATE write transactions serialize writers.
type Store struct {
	db   *sqlx.DB
	path string
}

// Open opens or creates the database at path and initializes the schema.
// Parent directories are created if they do not exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sqlx.Open(driverName, dataSourceName(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func initSchema(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		hash TEXT PRIMARY KEY,
		embedding BLOB,
		created_at INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_created_at ON embeddings(created_at);
	CREATE INDEX IF NOT EXISTS idx_embeddings_lru ON embeddings(last_accessed_at, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the row for hash regardless of age, or ErrNotFound.
func (s *Store) Get(ctx context.Context, hash string) (*Entry, error) {
	var e Entry
	err := s.db.GetContext(ctx, &e,
		`SELECT hash, embedding, created_at, last_accessed_at FROM embeddings WHERE hash = ?`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Exists reports whether a row for hash was created at or after liveSince.
func (s *Store) Exists(ctx context.Context, hash string, liveSince int64) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(1) FROM embeddings WHERE hash = ? AND created_at >= ?`, hash, liveSince)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Touch sets last_accessed_at for hash. A missing row is not an error.
func (s *Store) Touch(ctx context.Context, hash string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE embeddings SET last_accessed_at = ? WHERE hash = ?`, now, hash)
	return err
}

// Upsert writes e (overwriting any row with the same hash) and then enforces capacity in the
// same transaction: when more than maxSize rows were created at or after liveSince, expired rows
// are deleted first and then the least recently accessed live rows other than e. It returns the
// number of live rows removed for capacity. maxSize <= 0 disables the capacity check.
func (s *Store) Upsert(ctx context.Context, e Entry, liveSince int64, maxSize int) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO embeddings (hash, embedding, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (hash) DO UPDATE SET
			embedding = excluded.embedding,
			created_at = excluded.created_at,
			last_accessed_at = excluded.last_accessed_at`,
		e.Hash, e.Embedding, e.CreatedAt, e.LastAccessedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert embedding: %w", err)
	}

	var evicted int64
	if maxSize > 0 {
		evicted, err = enforceCapacity(ctx, tx, e.Hash, liveSince, maxSize)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return evicted, nil
}

func enforceCapacity(ctx context.Context, tx *sqlx.Tx, keep string, liveSince int64, maxSize int) (int64, error) {
	var live int64
	if err := tx.GetContext(ctx, &live,
		`SELECT COUNT(1) FROM embeddings WHERE created_at >= ?`, liveSince); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	if live <= int64(maxSize) {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embeddings WHERE created_at < ?`, liveSince); err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}

	excess := live - int64(maxSize)
	res, err := tx.ExecContext(ctx, `
		DELETE FROM embeddings WHERE hash IN (
			SELECT hash FROM embeddings
			WHERE created_at >= ? AND hash != ?
			ORDER BY last_accessed_at ASC, created_at ASC, hash ASC
			LIMIT ?
		)`, liveSince, keep, excess)
	if err != nil {
		return 0, fmt.Errorf("failed to evict entries: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll removes every row and returns how many were removed.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM embeddings`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteCreatedBefore removes rows created before cutoff and returns how many were removed.
func (s *Store) DeleteCreatedBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountLive returns the number of rows created at or after liveSince.
func (s *Store) CountLive(ctx context.Context, liveSince int64) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM embeddings WHERE created_at >= ?`, liveSince)
	return n, err
}

// BytesLive returns the summed BLOB length of rows created at or after liveSince.
func (s *Store) BytesLive(ctx context.Context, liveSince int64) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COALESCE(SUM(LENGTH(embedding)), 0) FROM embeddings WHERE created_at >= ?`, liveSince)
	return n, err
}

// ListLive returns rows created at or after liveSince ordered by hash.
func (s *Store) ListLive(ctx context.Context, liveSince int64) ([]Entry, error) {
	var entries []Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT hash, embedding, created_at, last_accessed_at FROM embeddings
		WHERE created_at >= ? ORDER BY hash ASC`, liveSince)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DiskBytes returns the on-disk size of the database including its WAL and shared-memory files.
func (s *Store) DiskBytes() (int64, error) {
	return SizeOf(s.path, s.path+"-wal", s.path+"-shm")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
