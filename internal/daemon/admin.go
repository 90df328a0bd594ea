package daemon

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/divertscan/fieldsync/internal/logfields"
	"github.com/divertscan/fieldsync/internal/metrics"
	"github.com/divertscan/fieldsync/internal/session"
	"github.com/divertscan/fieldsync/internal/version"
)

// HealthStatus grades the agent's overall condition.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
)

// HealthCheck is one named probe inside the health response.
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Checks    []HealthCheck `json:"checks"`
}

// queueItem is one element of the /queue payload.
type queueItem struct {
	ID         string    `json:"id"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

// queueResponse is the /queue payload.
type queueResponse struct {
	Depth int         `json:"depth"`
	Head  *queueItem  `json:"head,omitempty"`
	State string      `json:"connectivity"`
	Items []queueItem `json:"items,omitempty"`
}

// sessionResponse is the /session payload.
type sessionResponse struct {
	Active  bool                    `json:"active"`
	Session *session.CaptureSession `json:"session,omitempty"`
}

// newAdminServer builds the loopback admin/observability HTTP server. It is
// deliberately unauthenticated and must only ever bind a loopback address.
func (d *Daemon) newAdminServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /queue", d.handleQueue)
	mux.HandleFunc("GET /session", d.handleSession)
	mux.Handle("GET /metrics", metrics.HTTPHandler(d.registry))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	overall := HealthStatusHealthy
	var checks []HealthCheck

	connCheck := HealthCheck{Name: "backend_connectivity"}
	if d.monitor.Reachable() {
		connCheck.Status = HealthStatusHealthy
		connCheck.Message = "Backend is reachable"
	} else {
		// Offline operation is normal for a field device.
		connCheck.Status = HealthStatusDegraded
		connCheck.Message = "Backend is unreachable, operations are queuing locally"
		overall = HealthStatusDegraded
	}
	checks = append(checks, connCheck)

	depth := d.queue.Depth()
	queueCheck := HealthCheck{Name: "operation_queue", Status: HealthStatusHealthy}
	switch {
	case depth > 100:
		queueCheck.Status = HealthStatusDegraded
		queueCheck.Message = "Queue backlog is large"
		overall = HealthStatusDegraded
	case depth > 0:
		queueCheck.Message = "Operations pending delivery"
	default:
		queueCheck.Message = "Queue is empty"
	}
	checks = append(checks, queueCheck)

	sessionCheck := HealthCheck{Name: "capture_session", Status: HealthStatusHealthy}
	if s := d.sessions.Current(); s != nil {
		sessionCheck.Message = "Session in progress: " + string(s.State)
	} else {
		sessionCheck.Message = "No active session"
	}
	checks = append(checks, sessionCheck)

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    overall,
		Timestamp: d.clock.Now(),
		Uptime:    d.clock.Now().Sub(d.startTime).String(),
		Version:   version.Version,
		Checks:    checks,
	})
}

func (d *Daemon) handleQueue(w http.ResponseWriter, _ *http.Request) {
	resp := queueResponse{
		Depth: d.queue.Depth(),
		State: string(d.monitor.State()),
	}
	for _, op := range d.queue.Snapshot() {
		resp.Items = append(resp.Items, queueItem{
			ID:         op.ID,
			Endpoint:   op.Endpoint,
			Method:     op.Method,
			EnqueuedAt: op.EnqueuedAt,
			Attempts:   op.Attempts,
		})
	}
	if len(resp.Items) > 0 {
		resp.Head = &resp.Items[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Daemon) handleSession(w http.ResponseWriter, _ *http.Request) {
	s := d.sessions.Current()
	writeJSON(w, http.StatusOK, sessionResponse{Active: s != nil, Session: s})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Could not encode admin response", logfields.Error(err))
	}
}
