package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divertscan/fieldsync/internal/config"
	"github.com/divertscan/fieldsync/internal/connectivity"
	"github.com/divertscan/fieldsync/internal/queue"
	"github.com/divertscan/fieldsync/internal/retry"
	"github.com/divertscan/fieldsync/internal/store"
)

// stubProber lets tests flip connectivity without a polling loop.
type stubProber struct{ healthy atomic.Bool }

func (s *stubProber) Probe(ctx context.Context) error {
	if s.healthy.Load() {
		return nil
	}
	return errors.New("down")
}

type fixture struct {
	processor *Processor
	queue     *queue.OperationQueue
	store     *store.MemoryStore
	monitor   *connectivity.Monitor
	prober    *stubProber
}

func fastPolicy() retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Second, 5)
}

func newFixture(t *testing.T, baseURL string, policy retry.Policy, clock clockwork.Clock) *fixture {
	t.Helper()
	st := store.NewMemoryStore(nil)
	q := queue.New(st, nil, nil)
	require.NoError(t, q.Rehydrate(t.Context()))

	prober := &stubProber{}
	prober.healthy.Store(true)
	monitor := connectivity.NewMonitor(prober, nil, time.Hour, time.Second)
	monitor.ProbeNow(t.Context())

	p := New(q, monitor, &http.Client{Timeout: 5 * time.Second}, baseURL, policy, clock, nil)
	return &fixture{processor: p, queue: q, store: st, monitor: monitor, prober: prober}
}

func collectResults(t *testing.T, p *Processor, n int) []Result {
	t.Helper()
	results := make([]Result, 0, n)
	for range n {
		select {
		case r := <-p.Results():
			results = append(results, r)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for result %d of %d", len(results)+1, n)
		}
	}
	return results
}

func TestDrainDeliversInEnqueueOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, fastPolicy(), nil)
	ctx := t.Context()
	for i := range 3 {
		_, err := f.queue.Enqueue(ctx, fmt.Sprintf("/api/op/%d", i), "POST", []byte(`{}`))
		require.NoError(t, err)
	}

	f.processor.Drain(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/api/op/0", "/api/op/1", "/api/op/2"}, seen)
	assert.Equal(t, 0, f.queue.Depth())

	for _, r := range collectResults(t, f.processor, 3) {
		assert.Equal(t, OutcomeDelivered, r.Outcome)
		assert.Equal(t, http.StatusCreated, r.StatusCode)
	}
}

func TestClientErrorAbandonedAfterSingleAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, fastPolicy(), nil)
	ctx := t.Context()
	_, err := f.queue.Enqueue(ctx, "/api/tickets", "POST", []byte(`{}`))
	require.NoError(t, err)

	f.processor.Drain(ctx)

	res := collectResults(t, f.processor, 1)[0]
	assert.Equal(t, OutcomePermanent, res.Outcome)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, 1, res.Operation.Attempts)
	assert.Error(t, res.Err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 0, f.queue.Depth())
}

func TestRetryCeilingAttemptsExactlyFiveTimes(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, fastPolicy(), nil)
	ctx := t.Context()
	_, err := f.queue.Enqueue(ctx, "/api/tickets", "POST", []byte(`{}`))
	require.NoError(t, err)

	f.processor.Drain(ctx)

	res := collectResults(t, f.processor, 1)[0]
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.Equal(t, 5, res.Operation.Attempts)
	assert.Equal(t, int32(5), hits.Load(), "never a 6th attempt")
	assert.Equal(t, 0, f.queue.Depth())
}

func TestFailedHeadBlocksSuccessors(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	var firstFailures int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.URL.Path)
		if r.URL.Path == "/api/create" && firstFailures < 2 {
			firstFailures++
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, fastPolicy(), nil)
	ctx := t.Context()
	_, err := f.queue.Enqueue(ctx, "/api/create", "POST", nil)
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "/api/update", "PATCH", nil)
	require.NoError(t, err)

	f.processor.Drain(ctx)

	mu.Lock()
	defer mu.Unlock()
	// The update must never be attempted before the create lands.
	assert.Equal(t, []string{"/api/create", "/api/create", "/api/create", "/api/update"}, seen)
}

func TestUnreachableSkipsDrain(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, fastPolicy(), nil)
	ctx := t.Context()
	_, err := f.queue.Enqueue(ctx, "/api/tickets", "POST", nil)
	require.NoError(t, err)

	f.prober.healthy.Store(false)
	f.monitor.ProbeNow(ctx)

	f.processor.Drain(ctx)

	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, 1, f.queue.Depth())
}

func TestTransportFailurePausesAndReconnectResumes(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, fastPolicy(), nil)
	ctx := t.Context()

	// A client whose transport fails until told otherwise.
	var failing atomic.Bool
	failing.Store(true)
	f.processor.client = &http.Client{Transport: flakyTransport{failing: &failing}}

	for i := range 2 {
		_, err := f.queue.Enqueue(ctx, fmt.Sprintf("/api/op/%d", i), "POST", nil)
		require.NoError(t, err)
	}

	f.processor.Drain(ctx)
	assert.Equal(t, 2, f.queue.Depth(), "transport failure must stop the drain without consuming the head")
	head := f.queue.PeekHead()
	require.NotNil(t, head)
	assert.Equal(t, 0, head.Attempts, "a failed transport attempt is not a delivery attempt")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.processor.Run(runCtx)
	}()

	// Give Run a moment to subscribe before edges are published.
	time.Sleep(50 * time.Millisecond)

	// Simulate the network coming back: the transport heals and the monitor
	// publishes a reachable edge, which must resume the drain.
	failing.Store(false)
	f.prober.healthy.Store(false)
	f.monitor.ProbeNow(ctx)
	f.prober.healthy.Store(true)
	f.monitor.ProbeNow(ctx)

	collectResults(t, f.processor, 2)
	mu.Lock()
	assert.Equal(t, []string{"/api/op/0", "/api/op/1"}, seen)
	mu.Unlock()

	cancel()
	<-done
}

type flakyTransport struct{ failing *atomic.Bool }

func (f flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.failing.Load() {
		return nil, errors.New("connection refused")
	}
	return http.DefaultTransport.RoundTrip(r)
}

func TestBackoffDelaysStrictlyIncrease(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	policy := retry.NewPolicy(config.RetryBackoffExponential, time.Second, time.Minute, 5)
	f := newFixture(t, srv.URL, policy, clock)
	ctx := t.Context()
	_, err := f.queue.Enqueue(ctx, "/api/tickets", "POST", nil)
	require.NoError(t, err)

	go f.processor.Drain(ctx)

	waitForHits := func(n int32) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for hits.Load() < n {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %d attempts (have %d)", n, hits.Load())
			}
			time.Sleep(time.Millisecond)
		}
	}

	// Attempt 1 happens immediately; each retry waits 2^attempts seconds.
	waitForHits(1)
	for i, delay := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(delay - time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		assert.Equal(t, int32(i+1), hits.Load(), "attempt %d fired before its full backoff elapsed", i+2)
		clock.Advance(time.Millisecond)
		waitForHits(int32(i + 2))
	}

	res := collectResults(t, f.processor, 1)[0]
	assert.Equal(t, OutcomeDelivered, res.Outcome)
	assert.Equal(t, 4, res.Operation.Attempts)
}

func TestConcurrentDrainIsSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var inflight atomic.Int32
	var maxInflight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		if n > maxInflight.Load() {
			maxInflight.Store(n)
		}
		<-release
		inflight.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, fastPolicy(), nil)
	ctx := t.Context()
	_, err := f.queue.Enqueue(ctx, "/api/tickets", "POST", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.processor.Drain(ctx)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), maxInflight.Load())
	assert.Equal(t, 0, f.queue.Depth())
}
