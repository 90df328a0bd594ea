package metrics

import "time"

// OutcomeLabel enumerates delivery outcome categories for counters.
type OutcomeLabel string

const (
	OutcomeDelivered OutcomeLabel = "delivered"
	OutcomePermanent OutcomeLabel = "permanent"
	OutcomeExhausted OutcomeLabel = "exhausted"
)

// Recorder defines observability hooks for the sync pipeline. Implementations
// may forward to Prometheus, OpenTelemetry, etc. All methods must be safe on
// the NoopRecorder (allowing optional injection).
type Recorder interface {
	SetQueueDepth(n int)
	IncDelivery(outcome OutcomeLabel)
	ObserveDeliveryDuration(d time.Duration)
	IncRetry()
	IncRetryExhausted()
	IncSessionTransition(state string)
	SetConnectivity(reachable bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) SetQueueDepth(int)                      {}
func (NoopRecorder) IncDelivery(OutcomeLabel)               {}
func (NoopRecorder) ObserveDeliveryDuration(time.Duration)  {}
func (NoopRecorder) IncRetry()                              {}
func (NoopRecorder) IncRetryExhausted()                     {}
func (NoopRecorder) IncSessionTransition(string)            {}
func (NoopRecorder) SetConnectivity(bool)                   {}
