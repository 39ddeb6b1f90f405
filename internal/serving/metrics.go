package serving

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the serving front's Prometheus collectors.
type Metrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	integrity *prometheus.CounterVec
	cache     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "effectd",
			Name:      "requests_total",
			Help:      "Requests handled, by group, endpoint, status code and final stage.",
		}, []string{"group", "endpoint", "code", "stage"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "effectd",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"group", "endpoint"}),
		integrity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "effectd",
			Name:      "integrity_violations_total",
			Help:      "Stored blobs rejected for referencing unregistered types.",
		}, []string{"group"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "effectd",
			Name:      "handle_cache_total",
			Help:      "Decoded handle cache lookups, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.requests, m.duration, m.integrity, m.cache)
	return m
}

func (m *Metrics) observe(group, endpoint, code, stage string, seconds float64) {
	m.requests.WithLabelValues(group, endpoint, code, stage).Inc()
	m.duration.WithLabelValues(group, endpoint).Observe(seconds)
}

func (m *Metrics) integrityViolation(group string) {
	m.integrity.WithLabelValues(group).Inc()
}

func (m *Metrics) cacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}
