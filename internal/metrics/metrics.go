// Package metrics holds the Prometheus collectors for the sync pipeline.
//
// All methods are safe on a nil *Metrics, so tests and tools that do not
// care about metrics can pass nil.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	upstreamRequests  *prometheus.CounterVec
	upstreamDuration  *prometheus.HistogramVec
	stalenessDecision *prometheus.CounterVec
	edgesApplied      *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	mutualDuration    prometheus.Histogram
	mutualsReturned   prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		upstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "berri_upstream_requests_total",
			Help: "Social API requests by endpoint and HTTP status",
		}, []string{"endpoint", "status"}),

		upstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "berri_upstream_request_duration_seconds",
			Help:    "Social API request latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),

		stalenessDecision: f.NewCounterVec(prometheus.CounterOpts{
			Name: "berri_staleness_decisions_total",
			Help: "Staleness decisions by direction and reason",
		}, []string{"direction", "reason"}),

		edgesApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "berri_edges_applied_total",
			Help: "Follow edges added or removed by incremental updates",
		}, []string{"direction", "change"}),

		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "berri_mutual_cache_lookups_total",
			Help: "Mutual result cache lookups by result",
		}, []string{"result"}),

		mutualDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "berri_find_mutuals_duration_seconds",
			Help:    "End-to-end find-mutuals latency including sync",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		mutualsReturned: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "berri_mutuals_returned",
			Help:    "Number of mutuals returned per request",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
		}),
	}
}

// ObserveUpstream counts one upstream request by endpoint and status code
// and records its latency.
func (m *Metrics) ObserveUpstream(endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveDecision counts a staleness decision by direction and reason.
func (m *Metrics) ObserveDecision(direction, reason string) {
	if m == nil {
		return
	}
	m.stalenessDecision.WithLabelValues(direction, reason).Inc()
}

// ObserveEdges adds the edges inserted and deleted by one sync.
func (m *Metrics) ObserveEdges(direction string, added, removed int) {
	if m == nil {
		return
	}
	m.edgesApplied.WithLabelValues(direction, "added").Add(float64(added))
	m.edgesApplied.WithLabelValues(direction, "removed").Add(float64(removed))
}

// ObserveCache counts a result cache lookup as a hit or a miss.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveMutuals records the size and duration of one mutual lookup.
func (m *Metrics) ObserveMutuals(count int, d time.Duration) {
	if m == nil {
		return
	}
	m.mutualDuration.Observe(d.Seconds())
	m.mutualsReturned.Observe(float64(count))
}
