package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
)

// ErrPutRejected and ErrDeleteRejected are returned by a MemoryStore whose
// corresponding fault flag is set.
var (
	ErrPutRejected    = ferrors.StorageError("put rejected").Build()
	ErrDeleteRejected = ferrors.StorageError("delete rejected").Build()
)

// MemoryStore implements Store with an in-process map. It honors the same
// contract as SQLiteStore minus durability, which makes it the store of
// choice in tests and for throwaway runs.
type MemoryStore struct {
	mu          sync.RWMutex
	clock       clockwork.Clock
	collections map[string]map[string]Record

	// FailPuts and FailDeletes force the corresponding mutation to fail, for
	// exercising storage-failure paths.
	FailPuts    bool
	FailDeletes bool
}

// NewMemoryStore creates an empty in-memory store. A nil clock falls back to
// the wall clock.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:       clock,
		collections: make(map[string]map[string]Record),
	}
}

// Put idempotently upserts the payload under (collection, key).
func (s *MemoryStore) Put(ctx context.Context, collection, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailPuts {
		return ErrPutRejected
	}

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]Record)
		s.collections[collection] = coll
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	coll[key] = Record{Key: key, Payload: buf, UpdatedAt: s.clock.Now()}
	return nil
}

// Get returns the record under (collection, key), or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, collection, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.collections[collection][key]
	if !ok {
		return Record{}, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	return rec, nil
}

// Delete removes the record. Deleting a non-existent key is not an error.
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailDeletes {
		return ErrDeleteRejected
	}
	delete(s.collections[collection], key)
	return nil
}

// ListAll returns every record in the collection.
func (s *MemoryStore) ListAll(ctx context.Context, collection string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.collections[collection]
	records := make([]Record, 0, len(coll))
	for _, rec := range coll {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].Key < records[j].Key
		}
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})
	return records, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
