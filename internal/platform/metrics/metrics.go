// Package metrics holds the Prometheus collectors shared by the remote
// client and the page cache stores.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup results.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lookups  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comvida_remote_requests_total",
				Help: "Total number of requests sent to the remote API.",
			},
			[]string{"method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "comvida_remote_request_duration_seconds",
				Help:    "Remote API request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comvida_page_cache_lookups_total",
				Help: "Page cache lookups by resource and result.",
			},
			[]string{"resource", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.lookups)
	}
	return m
}

// ObserveRequest records one remote call. status 0 means the request never
// got a response.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, statusClass(status)).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// CacheLookup records a page cache lookup result for resource.
func (m *Metrics) CacheLookup(resource, result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(resource, result).Inc()
}

// Lookups exposes the lookup counter, mainly for tests.
func (m *Metrics) Lookups() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.lookups
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
