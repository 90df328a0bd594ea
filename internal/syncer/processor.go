// Package syncer drains the operation queue against the remote service one
// operation at a time, applying retry/backoff and error classification. It
// never advances past a failed head: operations on the same logical entity
// must apply in the order they were produced, and a queue that reordered on
// transient failure could apply an update before a create after reconnection.
package syncer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/divertscan/fieldsync/internal/connectivity"
	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
	"github.com/divertscan/fieldsync/internal/logfields"
	"github.com/divertscan/fieldsync/internal/metrics"
	"github.com/divertscan/fieldsync/internal/queue"
	"github.com/divertscan/fieldsync/internal/retry"
)

// Outcome is the terminal result of a delivery.
type Outcome string

const (
	// OutcomeDelivered means the remote service accepted the operation (2xx).
	OutcomeDelivered Outcome = "delivered"
	// OutcomePermanent means the request itself is invalid and will never
	// succeed (4xx); the operation is abandoned after a single attempt.
	OutcomePermanent Outcome = "permanent"
	// OutcomeExhausted means the attempt budget was spent on transient
	// failures; the operation is abandoned.
	OutcomeExhausted Outcome = "exhausted"
)

// Result reports an operation's terminal outcome. Results are published on a
// channel rather than invoked as completion callbacks, so the drain loop's
// control flow never depends on closures capturing caller state.
type Result struct {
	Operation    queue.SyncOperation
	Outcome      Outcome
	StatusCode   int
	ResponseBody []byte
	Err          error
}

// Processor owns the single logical drain loop. There is no parallel
// delivery: throughput is traded for ordering correctness.
type Processor struct {
	queue   *queue.OperationQueue
	monitor *connectivity.Monitor
	client  *http.Client
	baseURL string
	policy  retry.Policy
	clock   clockwork.Clock
	rec     metrics.Recorder

	results  chan Result
	kick     chan struct{}
	draining atomic.Bool
}

// New wires a processor over its collaborators. A nil clock falls back to the
// wall clock, a nil recorder to the no-op recorder.
func New(q *queue.OperationQueue, monitor *connectivity.Monitor, client *http.Client, baseURL string, policy retry.Policy, clock clockwork.Clock, rec metrics.Recorder) *Processor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Processor{
		queue:   q,
		monitor: monitor,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		policy:  policy,
		clock:   clock,
		rec:     rec,
		results: make(chan Result, 64),
		kick:    make(chan struct{}, 1),
	}
}

// Results returns the channel terminal delivery outcomes are published on.
func (p *Processor) Results() <-chan Result {
	return p.results
}

// Kick requests a drain cycle. Safe to call from any goroutine; coalesces
// while a request is already pending.
func (p *Processor) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run services kicks and connectivity edges until the context is cancelled.
// A reachable edge resumes a drain that was paused by a transport failure.
func (p *Processor) Run(ctx context.Context) {
	events := p.monitor.Subscribe()

	if p.monitor.Reachable() {
		p.Drain(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			p.Drain(ctx)
		case state := <-events:
			if state == connectivity.StateReachable {
				p.Drain(ctx)
			}
		}
	}
}

// Drain delivers queued operations head-first until the queue empties, the
// backend becomes unreachable, or a transport failure pauses the loop. Only
// one drain cycle runs at a time; concurrent calls return immediately.
func (p *Processor) Drain(ctx context.Context) {
	if !p.draining.CompareAndSwap(false, true) {
		return
	}
	defer p.draining.Store(false)

	for {
		if ctx.Err() != nil || !p.monitor.Reachable() {
			return
		}
		op := p.queue.PeekHead()
		if op == nil {
			return
		}
		if !p.deliverHead(ctx, op) {
			return
		}
	}
}

// deliverHead makes one delivery attempt for the head operation and applies
// the outcome. It returns false when the drain loop must stop (transport
// failure, storage failure, or cancellation) and true when the loop may take
// the next step — either the next operation or a retry of the same head.
func (p *Processor) deliverHead(ctx context.Context, op *queue.SyncOperation) bool {
	started := p.clock.Now()
	status, body, err := p.execute(ctx, op)
	p.rec.ObserveDeliveryDuration(p.clock.Now().Sub(started))

	if err != nil {
		// Not a valid HTTP response at all. Stop the drain loop entirely
		// rather than retrying in a tight cycle; the loop resumes when the
		// connectivity monitor next reports reachable.
		slog.Warn("Delivery transport failure, pausing drain",
			logfields.OpID(op.ID),
			logfields.Endpoint(op.Endpoint),
			logfields.Error(err))
		return false
	}

	attempts, aerr := p.queue.IncrementHeadAttempts(ctx)
	if aerr != nil {
		slog.Error("Could not persist attempt count, pausing drain",
			logfields.OpID(op.ID),
			logfields.Error(aerr))
		return false
	}

	switch classifyStatus(status) {
	case dispositionSuccess:
		slog.Info("Operation delivered",
			logfields.OpID(op.ID),
			logfields.Status(status),
			logfields.Attempts(attempts))
		p.rec.IncDelivery(metrics.OutcomeDelivered)
		return p.finish(ctx, op, Result{
			Operation:    *op,
			Outcome:      OutcomeDelivered,
			StatusCode:   status,
			ResponseBody: body,
		}, attempts)

	case dispositionPermanent:
		slog.Warn("Operation permanently rejected",
			logfields.OpID(op.ID),
			logfields.Status(status),
			logfields.Attempts(attempts))
		p.rec.IncDelivery(metrics.OutcomePermanent)
		return p.finish(ctx, op, Result{
			Operation:    *op,
			Outcome:      OutcomePermanent,
			StatusCode:   status,
			ResponseBody: body,
			Err: ferrors.RemoteError("remote rejected operation").
				WithContext("status", status).
				Build(),
		}, attempts)

	default:
		if p.policy.Exhausted(attempts) {
			slog.Error("Retry budget exhausted, abandoning operation",
				logfields.OpID(op.ID),
				logfields.Status(status),
				logfields.Attempts(attempts))
			p.rec.IncRetryExhausted()
			p.rec.IncDelivery(metrics.OutcomeExhausted)
			return p.finish(ctx, op, Result{
				Operation:    *op,
				Outcome:      OutcomeExhausted,
				StatusCode:   status,
				ResponseBody: body,
				Err: ferrors.NetworkError("retry budget exhausted").
					WithContext("status", status).
					Build(),
			}, attempts)
		}

		delay := p.policy.Delay(attempts)
		slog.Warn("Transient delivery failure, backing off",
			logfields.OpID(op.ID),
			logfields.Status(status),
			logfields.Attempts(attempts),
			slog.Duration("delay", delay))
		p.rec.IncRetry()
		select {
		case <-p.clock.After(delay):
			return true // retry the same head; never advance past it
		case <-ctx.Done():
			return false
		}
	}
}

// finish publishes the terminal result and removes the head. The head is
// removed only after a terminal outcome, and removal deletes the persisted
// record before the in-memory copy disappears.
func (p *Processor) finish(ctx context.Context, op *queue.SyncOperation, res Result, attempts int) bool {
	res.Operation.Attempts = attempts
	p.publish(res)
	if err := p.queue.RemoveHead(ctx); err != nil {
		slog.Error("Could not remove delivered operation, pausing drain",
			logfields.OpID(op.ID),
			logfields.Error(err))
		return false
	}
	return true
}

func (p *Processor) publish(res Result) {
	select {
	case p.results <- res:
	default:
		slog.Warn("Result channel full, dropping result", logfields.OpID(res.Operation.ID))
	}
}

// execute performs one HTTP request for the operation. A non-nil error means
// no valid HTTP response was received (transport-level failure).
func (p *Processor) execute(ctx context.Context, op *queue.SyncOperation) (int, []byte, error) {
	var reqBody io.Reader
	if len(op.Body) > 0 {
		reqBody = bytes.NewReader(op.Body)
	}
	req, err := http.NewRequestWithContext(ctx, op.Method, p.baseURL+op.Endpoint, reqBody)
	if err != nil {
		return 0, nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "build request").Build()
	}
	if len(op.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "deliver operation").
			WithContext("op_id", op.ID).
			Retryable().
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		body = nil // status code still classifies the attempt
	}
	return resp.StatusCode, body, nil
}

// WaitIdle blocks until no drain cycle is running, polling on the given
// interval. Intended for tests and graceful shutdown.
func (p *Processor) WaitIdle(ctx context.Context, poll time.Duration) error {
	for p.draining.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
	return nil
}
