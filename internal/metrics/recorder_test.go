package metrics

import (
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.SetQueueDepth(3)
	r.IncDelivery(OutcomeDelivered)
	r.ObserveDeliveryDuration(time.Second)
	r.IncRetry()
	r.IncRetryExhausted()
	r.IncSessionTransition("complete")
	r.SetConnectivity(true)
}

func TestPrometheusRecorderCounters(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.SetQueueDepth(4)
	r.IncDelivery(OutcomeDelivered)
	r.IncDelivery(OutcomeDelivered)
	r.IncDelivery(OutcomePermanent)
	r.IncRetry()
	r.IncRetryExhausted()
	r.IncSessionTransition("awaiting_tare")
	r.SetConnectivity(true)

	assert.Equal(t, 4.0, testutil.ToFloat64(r.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.deliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deliveries.WithLabelValues("permanent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retriesExhausted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessionTransitions.WithLabelValues("awaiting_tare")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.connectivity))

	r.SetConnectivity(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.connectivity))
}

func TestPrometheusRecorderRegistersExpectedFamilies(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)
	r.ObserveDeliveryDuration(250 * time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "fieldsync_delivery_duration_seconds")
}
