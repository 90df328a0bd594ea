// Package connectivity observes transitions between "reachable" and
// "unreachable" states for the remote service. The monitor polls a Prober on
// an interval and emits edge-triggered events only, so the sync processor is
// decoupled from any particular platform's connectivity API.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
	"github.com/divertscan/fieldsync/internal/logfields"
)

// State is one of the two observable connectivity states.
type State string

const (
	StateReachable   State = "reachable"
	StateUnreachable State = "unreachable"
)

// Prober answers whether the remote service is currently reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber probes the backend's health endpoint.
type HTTPProber struct {
	client *http.Client
	url    string
}

// NewHTTPProber builds a prober against the given absolute health URL.
func NewHTTPProber(client *http.Client, url string) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProber{client: client, url: url}
}

// Probe performs one health request. Any 2xx response counts as reachable;
// everything else, including transport errors, counts as unreachable.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "build health request").Build()
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return ferrors.NetworkError("health probe failed").Build()
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ferrors.NetworkError("health probe rejected").
			WithContext("status", resp.StatusCode).
			Build()
	}
	return nil
}

// Monitor polls a Prober and publishes state transitions to subscribers.
type Monitor struct {
	mu       sync.Mutex
	prober   Prober
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	state    State
	subs     []chan State
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor creates a stopped monitor. The initial state is unreachable
// until the first probe succeeds, so a cold start never delivers operations
// before the backend has been seen alive.
func NewMonitor(prober Prober, clock clockwork.Clock, interval, timeout time.Duration) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		prober:   prober,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		state:    StateUnreachable,
	}
}

// State returns the last observed connectivity state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reachable reports whether the last probe succeeded.
func (m *Monitor) Reachable() bool {
	return m.State() == StateReachable
}

// Subscribe returns a channel that receives the new state on every
// transition. No events are delivered while the state is steady.
func (m *Monitor) Subscribe() <-chan State {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan State, 4)
	m.subs = append(m.subs, ch)
	return ch
}

// SetInterval adjusts the polling interval; the new value takes effect after
// the next probe. Used by config hot-reload.
func (m *Monitor) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = interval
}

// Start launches the polling loop. An immediate probe runs before the first
// interval elapses.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop terminates the polling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.probeOnce(ctx)
	for {
		m.mu.Lock()
		interval := m.interval
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(interval):
			m.probeOnce(ctx)
		}
	}
}

// ProbeNow forces an immediate probe outside the polling schedule, e.g. right
// after the device's radio comes back up.
func (m *Monitor) ProbeNow(ctx context.Context) State {
	m.probeOnce(ctx)
	return m.State()
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Probe(probeCtx)
	cancel()

	next := StateReachable
	if err != nil {
		next = StateUnreachable
	}
	m.transition(next, err)
}

func (m *Monitor) transition(next State, cause error) {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	subs := make([]chan State, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if next == StateReachable {
		slog.Info("Backend reachable")
	} else {
		slog.Warn("Backend unreachable", logfields.Error(cause))
	}
	for _, ch := range subs {
		select {
		case ch <- next:
		default:
		}
	}
}
