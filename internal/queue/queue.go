// Package queue presents an ordered, in-memory working set of pending sync
// operations backed 1:1 by the durable store's "operations" collection. The
// in-memory order is a cache: it is fully reconstructible from the store, and
// every mutation persists before it becomes visible to callers.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
	"github.com/divertscan/fieldsync/internal/logfields"
	"github.com/divertscan/fieldsync/internal/store"
)

// OperationQueue holds pending SyncOperations in enqueue order.
type OperationQueue struct {
	mu    sync.Mutex
	st    store.Store
	ops   []*SyncOperation
	clock clockwork.Clock
	newID func() string

	hydrated bool

	// reachable and wake are wired by the daemon: enqueue signals the sync
	// processor only while the connectivity monitor reports reachable.
	reachable func() bool
	wake      func()

	depthSubs []chan int
}

// New creates an empty queue over the given store. A nil clock falls back to
// the wall clock, a nil id generator to random UUIDs.
func New(st store.Store, clock clockwork.Clock, newID func() string) *OperationQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &OperationQueue{st: st, clock: clock, newID: newID}
}

// SetWake wires the processor wake signal and the reachability gate.
func (q *OperationQueue) SetWake(reachable func() bool, wake func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reachable = reachable
	q.wake = wake
}

// Rehydrate loads every persisted operation, sorted by enqueue time, into the
// in-memory order. It must run before the first Enqueue is accepted.
func (q *OperationQueue) Rehydrate(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	records, err := q.st.ListAll(ctx, store.CollectionOperations)
	if err != nil {
		return err
	}

	ops := make([]*SyncOperation, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		var op SyncOperation
		if uerr := json.Unmarshal(rec.Payload, &op); uerr != nil {
			slog.Warn("Skipping undecodable queued operation",
				logfields.Key(rec.Key),
				logfields.Error(uerr))
			continue
		}
		if seen[op.ID] {
			continue
		}
		seen[op.ID] = true
		ops = append(ops, &op)
	}
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].EnqueuedAt.Before(ops[j].EnqueuedAt) })

	q.ops = ops
	q.hydrated = true
	slog.Info("Operation queue rehydrated", logfields.Depth(len(ops)))
	q.notifyDepthLocked()
	return nil
}

// Enqueue assigns an id and zero attempts, persists the operation, appends it
// to the tail, and wakes the sync processor when the backend is reachable.
func (q *OperationQueue) Enqueue(ctx context.Context, endpoint, method string, body []byte) (*SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.hydrated {
		return nil, ferrors.QueueError("enqueue before rehydrate").Build()
	}
	if endpoint == "" || method == "" {
		return nil, ferrors.QueueError("endpoint and method are required").Build()
	}

	op := &SyncOperation{
		ID:         q.newID(),
		Endpoint:   endpoint,
		Method:     method,
		Body:       body,
		EnqueuedAt: q.clock.Now(),
		Attempts:   0,
	}

	if err := q.persistLocked(ctx, op); err != nil {
		return nil, err
	}
	q.ops = append(q.ops, op)

	slog.Info("Operation enqueued",
		logfields.OpID(op.ID),
		logfields.Endpoint(op.Endpoint),
		logfields.Method(op.Method),
		logfields.Depth(len(q.ops)))
	q.notifyDepthLocked()

	if q.wake != nil && (q.reachable == nil || q.reachable()) {
		q.wake()
	}
	return op.clone(), nil
}

// PeekHead returns a copy of the oldest not-yet-removed operation, or nil.
func (q *OperationQueue) PeekHead() *SyncOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return nil
	}
	return q.ops[0].clone()
}

// RemoveHead deletes the current head from the store, then drops it from the
// in-memory order. Deletion happens store-first so the caller never observes
// an operation as removed but still persisted. Only the sync processor calls
// this, and only after a terminal outcome for the head.
func (q *OperationQueue) RemoveHead(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return ferrors.QueueError("remove from empty queue").Build()
	}
	head := q.ops[0]
	if err := q.st.Delete(ctx, store.CollectionOperations, head.ID); err != nil {
		return err
	}
	q.ops = q.ops[1:]

	slog.Debug("Operation removed", logfields.OpID(head.ID), logfields.Depth(len(q.ops)))
	q.notifyDepthLocked()
	return nil
}

// IncrementHeadAttempts bumps and persists the head operation's attempt count,
// returning the new count. The sync processor calls this once per delivery
// attempt so the count survives restart.
func (q *OperationQueue) IncrementHeadAttempts(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return 0, ferrors.QueueError("no head operation").Build()
	}
	head := q.ops[0]
	head.Attempts++
	if err := q.persistLocked(ctx, head); err != nil {
		head.Attempts--
		return head.Attempts, err
	}
	return head.Attempts, nil
}

// Depth returns the number of pending operations.
func (q *OperationQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Snapshot returns a copy of every pending operation in delivery order.
func (q *OperationQueue) Snapshot() []SyncOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]SyncOperation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, *op.clone())
	}
	return out
}

// SubscribeDepth returns a channel receiving the queue depth after every
// change. Slow consumers lose intermediate values rather than blocking the
// queue.
func (q *OperationQueue) SubscribeDepth() <-chan int {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan int, 16)
	q.depthSubs = append(q.depthSubs, ch)
	return ch
}

func (q *OperationQueue) persistLocked(ctx context.Context, op *SyncOperation) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryQueue, "marshal operation").Build()
	}
	// Storage failures pass through unchanged so callers can route on the
	// storage category.
	if err := q.st.Put(ctx, store.CollectionOperations, op.ID, payload); err != nil {
		return err
	}
	return nil
}

func (q *OperationQueue) notifyDepthLocked() {
	depth := len(q.ops)
	for _, ch := range q.depthSubs {
		select {
		case ch <- depth:
		default:
		}
	}
}
