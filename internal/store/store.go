package store

import (
	"context"
	"time"

	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
)

// Collection names used by the pipeline. The store itself is agnostic; these
// constants keep callers from drifting.
const (
	CollectionOperations = "operations"
	CollectionSessions   = "sessions"
)

// ErrNotFound is returned by Get when no record exists under the key.
var ErrNotFound = ferrors.NewError(ferrors.CategoryNotFound, "record not found").Build()

// Record is the generic envelope wrapping any object placed in the store.
// A single envelope serves both queued operations and capture sessions.
type Record struct {
	Key       string
	Payload   []byte
	UpdatedAt time.Time
}

// Store defines crash-safe key-value persistence partitioned into named
// collections. Writes are atomic per key: a reader never observes a
// partially-written payload, and a successful Put is durable across process
// restart.
type Store interface {
	// Put idempotently upserts the payload under (collection, key).
	Put(ctx context.Context, collection, key string, payload []byte) error

	// Get returns the record under (collection, key), or ErrNotFound.
	Get(ctx context.Context, collection, key string) (Record, error)

	// Delete removes the record. Deleting a non-existent key is not an error.
	Delete(ctx context.Context, collection, key string) error

	// ListAll returns every record in the collection. Used at startup to
	// rehydrate the operation queue and discover interrupted sessions.
	ListAll(ctx context.Context, collection string) ([]Record, error)

	// Close releases the store's resources.
	Close() error
}
