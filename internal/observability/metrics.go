// Package observability defines the Prometheus collectors exported on /metrics.
//
// All helper methods are safe on a nil *Metrics, so components can run
// without instrumentation in tests and tools.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "secureflow"

// Ingest outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

// Metrics holds every collector of the service.
type Metrics struct {
	// IngestTotal counts ingest requests.
	// Labels: outcome (accepted, invalid, failed)
	IngestTotal *prometheus.CounterVec

	// IngestDuration measures normalize+persist+publish latency.
	IngestDuration prometheus.Histogram

	// Subscribers tracks attached live subscribers.
	// Labels: transport (sse, ws)
	Subscribers *prometheus.GaugeVec

	// MessagesTotal counts messages handed to subscriber queues.
	// Labels: type (snapshot, record, pulse)
	MessagesTotal *prometheus.CounterVec

	// DetachedTotal counts subscriber detachments.
	// Labels: reason (closed, overflow, shutdown)
	DetachedTotal *prometheus.CounterVec

	// CacheSize is the working cache length.
	CacheSize prometheus.Gauge

	// KBItemsTotal counts knowledge-base items added.
	KBItemsTotal prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IngestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ingest",
				Name:      "requests_total",
				Help:      "Total ingest requests by outcome",
			},
			[]string{"outcome"},
		),
		IngestDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "Ingest latency from payload to publish in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
			},
		),
		Subscribers: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "subscribers",
				Help:      "Number of attached live subscribers",
			},
			[]string{"transport"},
		),
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "messages_total",
				Help:      "Messages queued to subscribers by type",
			},
			[]string{"type"},
		),
		DetachedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "detached_total",
				Help:      "Subscriber detachments by reason",
			},
			[]string{"reason"},
		),
		CacheSize: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "records",
				Help:      "Records held in the working cache",
			},
		),
		KBItemsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "kb",
				Name:      "items_added_total",
				Help:      "Knowledge-base items added",
			},
		),
	}
}

func (m *Metrics) RecordIngest(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeAccepted {
		m.IngestDuration.Observe(seconds)
	}
}

func (m *Metrics) SubscriberAttached(transport string) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(transport).Inc()
}

func (m *Metrics) SubscriberDetached(transport, reason string) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(transport).Dec()
	m.DetachedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) MessageQueued(msgType string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) KBItemAdded() {
	if m == nil {
		return
	}
	m.KBItemsTotal.Inc()
}

// CacheGauge returns the cache size gauge, or nil when uninstrumented.
func (m *Metrics) CacheGauge() prometheus.Gauge {
	if m == nil {
		return nil
	}
	return m.CacheSize
}
