package queue

import (
	"encoding/json"
	"time"
)

// SyncOperation is a single durable, retryable mutating request destined for
// the remote service. The body is fully resolved at enqueue time; nothing
// mutates it afterwards. Only the sync processor touches Attempts.
type SyncOperation struct {
	ID         string          `json:"id"`
	Endpoint   string          `json:"endpoint"`
	Method     string          `json:"method"`
	Body       json.RawMessage `json:"body,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
}

// clone returns an independent copy so callers can't reach into the queue's
// in-memory working set.
func (op *SyncOperation) clone() *SyncOperation {
	cp := *op
	if op.Body != nil {
		cp.Body = make(json.RawMessage, len(op.Body))
		copy(cp.Body, op.Body)
	}
	return &cp
}
