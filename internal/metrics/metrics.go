// Package metrics holds the Prometheus instrumentation of the pipeline.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event outcomes recorded by the dispatcher.
const (
	OutcomeApplied      = "applied"
	OutcomeDuplicate    = "duplicate"
	OutcomeMalformed    = "malformed"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

// Cache lookup results.
const (
	CacheHit         = "hit"
	CacheMiss        = "miss"
	CacheStale       = "stale"
	CacheUnavailable = "unavailable"
)

var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

type Metrics struct {
	events           *prometheus.CounterVec
	malformed        prometheus.Counter
	duplicates       prometheus.Counter
	deadLetters      prometheus.Counter
	cacheRequests    *prometheus.CounterVec
	storeDuration    *prometheus.HistogramVec
	queryDuration    *prometheus.HistogramVec
	brokerReconnects prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_events_total",
			Help: "Events handled by the dispatcher, by type and outcome",
		}, []string{"type", "outcome"}),

		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "report_malformed_messages_total",
			Help: "Messages that could not be decoded into an event",
		}),

		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "report_duplicate_events_total",
			Help: "Redelivered events skipped by the ledger",
		}),

		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "report_dead_letters_total",
			Help: "Events moved to the dead-letter sink after exhausting retries",
		}),

		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_cache_requests_total",
			Help: "Report cache lookups by result",
		}, []string{"result"}),

		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "report_store_duration_seconds",
			Help:    "Aggregate store operation latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"op"}),

		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "report_query_duration_seconds",
			Help:    "Report query latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"report"}),

		brokerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "report_broker_reconnects_total",
			Help: "Broker reconnection attempts",
		}),
	}

	reg.MustRegister(
		m.events,
		m.malformed,
		m.duplicates,
		m.deadLetters,
		m.cacheRequests,
		m.storeDuration,
		m.queryDuration,
		m.brokerReconnects,
	)
	return m
}

func (m *Metrics) EventHandled(eventType, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
	switch outcome {
	case OutcomeMalformed:
		m.malformed.Inc()
	case OutcomeDuplicate:
		m.duplicates.Inc()
	case OutcomeDeadLettered:
		m.deadLetters.Inc()
	}
}

func (m *Metrics) CacheRequest(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) BrokerReconnect() {
	if m == nil {
		return
	}
	m.brokerReconnects.Inc()
}

// ObserveStore records the latency of one store operation started at start.
func (m *Metrics) ObserveStore(op string, start time.Time) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveQuery records the latency of one report query started at start.
func (m *Metrics) ObserveQuery(report string, start time.Time) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(report).Observe(time.Since(start).Seconds())
}
