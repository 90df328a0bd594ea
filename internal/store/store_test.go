package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
)

// storeFactories lets the contract tests run against every implementation.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"sqlite": func() Store {
			s, err := NewSQLiteStore(":memory:", nil)
			require.NoError(t, err)
			return s
		},
		"memory": func() Store {
			return NewMemoryStore(nil)
		},
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer func() { _ = s.Close() }()
			ctx := t.Context()

			require.NoError(t, s.Put(ctx, CollectionOperations, "op-1", []byte(`{"n":1}`)))

			rec, err := s.Get(ctx, CollectionOperations, "op-1")
			require.NoError(t, err)
			assert.Equal(t, "op-1", rec.Key)
			assert.JSONEq(t, `{"n":1}`, string(rec.Payload))
			assert.False(t, rec.UpdatedAt.IsZero())
		})
	}
}

func TestStorePutIsUpsert(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer func() { _ = s.Close() }()
			ctx := t.Context()

			require.NoError(t, s.Put(ctx, CollectionSessions, "sess-1", []byte("v1")))
			require.NoError(t, s.Put(ctx, CollectionSessions, "sess-1", []byte("v2")))

			rec, err := s.Get(ctx, CollectionSessions, "sess-1")
			require.NoError(t, err)
			assert.Equal(t, "v2", string(rec.Payload))

			records, err := s.ListAll(ctx, CollectionSessions)
			require.NoError(t, err)
			assert.Len(t, records, 1, "upsert must never produce a second record")
		})
	}
}

func TestStoreGetMissingReturnsNotFound(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer func() { _ = s.Close() }()

			_, err := s.Get(t.Context(), CollectionOperations, "absent")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer func() { _ = s.Close() }()
			ctx := t.Context()

			require.NoError(t, s.Put(ctx, CollectionOperations, "op-1", []byte("x")))
			require.NoError(t, s.Delete(ctx, CollectionOperations, "op-1"))
			require.NoError(t, s.Delete(ctx, CollectionOperations, "op-1"))

			_, err := s.Get(ctx, CollectionOperations, "op-1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreCollectionsAreIsolated(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer func() { _ = s.Close() }()
			ctx := t.Context()

			require.NoError(t, s.Put(ctx, CollectionOperations, "shared-key", []byte("op")))
			require.NoError(t, s.Put(ctx, CollectionSessions, "shared-key", []byte("sess")))

			opRec, err := s.Get(ctx, CollectionOperations, "shared-key")
			require.NoError(t, err)
			assert.Equal(t, "op", string(opRec.Payload))

			require.NoError(t, s.Delete(ctx, CollectionOperations, "shared-key"))
			_, err = s.Get(ctx, CollectionSessions, "shared-key")
			assert.NoError(t, err, "delete in one collection must not touch another")
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.db")
	ctx := t.Context()

	s, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, CollectionOperations, "op-1", []byte("payload")))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	rec, err := reopened.Get(ctx, CollectionOperations, "op-1")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(rec.Payload))
}

func TestSQLiteStoreListOrderFollowsUpdatedAt(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	s, err := NewSQLiteStore(":memory:", clock)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := t.Context()

	for _, key := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(ctx, CollectionOperations, key, []byte(key)))
		clock.Advance(time.Second)
	}

	records, err := s.ListAll(ctx, CollectionOperations)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c", records[0].Key)
	assert.Equal(t, "a", records[1].Key)
	assert.Equal(t, "b", records[2].Key)
}

func TestSQLiteStorePutSurfacesDriverError(t *testing.T) {
	s, err := NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Put(t.Context(), CollectionOperations, "op-1", []byte("x"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryStorage))
	assert.ErrorContains(t, err, "database is closed")
}

func TestMemoryStoreFailPutsSurfacesStorageError(t *testing.T) {
	s := NewMemoryStore(nil)
	s.FailPuts = true

	err := s.Put(t.Context(), CollectionOperations, "op-1", []byte("x"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryStorage))
}
