package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once               sync.Once
	queueDepth         prom.Gauge
	deliveries         *prom.CounterVec
	deliveryDuration   prom.Histogram
	retries            prom.Counter
	retriesExhausted   prom.Counter
	sessionTransitions *prom.CounterVec
	connectivity       prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "fieldsync",
			Name:      "queue_depth",
			Help:      "Number of pending sync operations",
		})
		pr.deliveries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fieldsync",
			Name:      "deliveries_total",
			Help:      "Delivery outcomes by terminal result",
		}, []string{"outcome"})
		pr.deliveryDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "fieldsync",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of individual delivery attempts",
			Buckets:   prom.DefBuckets,
		})
		pr.retries = prom.NewCounter(prom.CounterOpts{
			Namespace: "fieldsync",
			Name:      "delivery_retries_total",
			Help:      "Total delivery retries (transient failures)",
		})
		pr.retriesExhausted = prom.NewCounter(prom.CounterOpts{
			Namespace: "fieldsync",
			Name:      "delivery_retry_exhausted_total",
			Help:      "Count of operations abandoned after the retry ceiling",
		})
		pr.sessionTransitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fieldsync",
			Name:      "session_transitions_total",
			Help:      "Capture session state transitions by target state",
		}, []string{"state"})
		pr.connectivity = prom.NewGauge(prom.GaugeOpts{
			Namespace: "fieldsync",
			Name:      "backend_reachable",
			Help:      "1 while the backend is reachable, 0 otherwise",
		})
		reg.MustRegister(pr.queueDepth, pr.deliveries, pr.deliveryDuration, pr.retries, pr.retriesExhausted, pr.sessionTransitions, pr.connectivity)
	})
	return pr
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) IncDelivery(outcome OutcomeLabel) {
	if p == nil || p.deliveries == nil {
		return
	}
	p.deliveries.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveDeliveryDuration(d time.Duration) {
	if p == nil || p.deliveryDuration == nil {
		return
	}
	p.deliveryDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRetry() {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.Inc()
}

func (p *PrometheusRecorder) IncRetryExhausted() {
	if p == nil || p.retriesExhausted == nil {
		return
	}
	p.retriesExhausted.Inc()
}

func (p *PrometheusRecorder) IncSessionTransition(state string) {
	if p == nil || p.sessionTransitions == nil {
		return
	}
	p.sessionTransitions.WithLabelValues(state).Inc()
}

func (p *PrometheusRecorder) SetConnectivity(reachable bool) {
	if p == nil || p.connectivity == nil {
		return
	}
	if reachable {
		p.connectivity.Set(1)
	} else {
		p.connectivity.Set(0)
	}
}

var _ Recorder = (*PrometheusRecorder)(nil)
