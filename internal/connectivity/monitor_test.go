package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProber flips between healthy and failing under test control.
type fakeProber struct {
	mu      sync.Mutex
	healthy bool
	probes  int
}

func (f *fakeProber) setHealthy(h bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = h
}

func (f *fakeProber) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.healthy {
		return nil
	}
	return context.DeadlineExceeded
}

func TestMonitorStartsUnreachable(t *testing.T) {
	m := NewMonitor(&fakeProber{}, nil, time.Minute, time.Second)
	assert.Equal(t, StateUnreachable, m.State())
	assert.False(t, m.Reachable())
}

func TestProbeNowTransitionsState(t *testing.T) {
	p := &fakeProber{healthy: true}
	m := NewMonitor(p, nil, time.Minute, time.Second)

	assert.Equal(t, StateReachable, m.ProbeNow(t.Context()))
	assert.True(t, m.Reachable())

	p.setHealthy(false)
	assert.Equal(t, StateUnreachable, m.ProbeNow(t.Context()))
}

func TestSubscribeDeliversEdgesOnly(t *testing.T) {
	p := &fakeProber{healthy: true}
	m := NewMonitor(p, nil, time.Minute, time.Second)
	events := m.Subscribe()

	m.ProbeNow(t.Context()) // unreachable -> reachable
	m.ProbeNow(t.Context()) // steady: no event
	m.ProbeNow(t.Context()) // steady: no event
	p.setHealthy(false)
	m.ProbeNow(t.Context()) // reachable -> unreachable

	assert.Equal(t, StateReachable, <-events)
	assert.Equal(t, StateUnreachable, <-events)
	select {
	case s := <-events:
		t.Fatalf("unexpected extra event %q", s)
	default:
	}
}

func TestMonitorLoopProbesAndStops(t *testing.T) {
	p := &fakeProber{healthy: true}
	m := NewMonitor(p, nil, time.Millisecond, time.Second)
	events := m.Subscribe()

	m.Start(t.Context())
	select {
	case s := <-events:
		assert.Equal(t, StateReachable, s)
	case <-time.After(2 * time.Second):
		t.Fatal("no transition observed")
	}
	m.Stop()

	p.mu.Lock()
	probes := p.probes
	p.mu.Unlock()
	assert.Positive(t, probes)
}

func TestHTTPProberClassifiesResponses(t *testing.T) {
	status := http.StatusOK
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.WriteHeader(status)
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.Client(), srv.URL+"/health")
	require.NoError(t, p.Probe(t.Context()))

	mu.Lock()
	status = http.StatusServiceUnavailable
	mu.Unlock()
	assert.Error(t, p.Probe(t.Context()))
}

func TestHTTPProberTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // no listener left behind

	p := NewHTTPProber(nil, srv.URL+"/health")
	assert.Error(t, p.Probe(t.Context()))
}
