package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
)

// SQLiteStore implements Store using SQLite. Each Put is a single upsert
// statement, so per-key atomicity and durability come directly from SQLite's
// transaction guarantees.
type SQLiteStore struct {
	db    *sql.DB
	clock clockwork.Clock
	mu    sync.RWMutex
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed store.
// Use ":memory:" for an ephemeral database, or a file path for persistent storage.
// A nil clock falls back to the wall clock.
func NewSQLiteStore(dbPath string, clock clockwork.Clock) (*SQLiteStore, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStorage, "open store database").Build()
	}

	s := &SQLiteStore{db: db, clock: clock}
	if err := s.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, ferrors.WrapError(err, ferrors.CategoryStorage, "initialize store schema").Build()
	}

	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		key        TEXT NOT NULL,
		payload    BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (collection, key)
	);
	CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(collection, updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put idempotently upserts the payload under (collection, key).
func (s *SQLiteStore) Put(ctx context.Context, collection, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (collection, key, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		collection, key, payload, now,
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStorage, "put record").
			WithContext("collection", collection).
			WithContext("key", key).
			Build()
	}
	return nil
}

// Get returns the record under (collection, key), or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, collection, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec Record
	var updatedAt int64
	row := s.db.QueryRowContext(ctx,
		"SELECT key, payload, updated_at FROM records WHERE collection = ? AND key = ?",
		collection, key,
	)
	if err := row.Scan(&rec.Key, &rec.Payload, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
		}
		return Record{}, ferrors.WrapError(err, ferrors.CategoryStorage, "get record").Build()
	}
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return rec, nil
}

// Delete removes the record. Deleting a non-existent key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND key = ?",
		collection, key,
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStorage, "delete record").Build()
	}
	return nil
}

// ListAll returns every record in the collection in updated-at order.
func (s *SQLiteStore) ListAll(ctx context.Context, collection string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, payload, updated_at FROM records WHERE collection = ? ORDER BY updated_at, key",
		collection,
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStorage, "list records").Build()
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var updatedAt int64
		if err := rows.Scan(&rec.Key, &rec.Payload, &updatedAt); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryStorage, "scan record").Build()
		}
		rec.UpdatedAt = time.UnixMilli(updatedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStorage, "iterate records").Build()
	}
	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
