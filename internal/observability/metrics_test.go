package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordIngest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordIngest(OutcomeAccepted, 0.01)
	m.RecordIngest(OutcomeAccepted, 0.02)
	m.RecordIngest(OutcomeInvalid, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues(OutcomeInvalid)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.IngestDuration))
}

func TestSubscriberGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SubscriberAttached("sse")
	m.SubscriberAttached("sse")
	m.SubscriberAttached("ws")
	m.SubscriberDetached("sse", "overflow")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Subscribers.WithLabelValues("sse")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Subscribers.WithLabelValues("ws")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetachedTotal.WithLabelValues("overflow")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIngest(OutcomeFailed, 0)
		m.SubscriberAttached("sse")
		m.SubscriberDetached("sse", "closed")
		m.MessageQueued("pulse")
		m.KBItemAdded()
	})
	assert.Nil(t, m.CacheGauge())
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
