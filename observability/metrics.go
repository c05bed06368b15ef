// Package observability collects the Prometheus metrics and logging setup
// shared by the marketplace daemon.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records RPC activity for the marketplace surface.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	registry    *Metrics
)

// SharedMetrics returns the lazily-initialised metrics registry registered
// against the default Prometheus registerer.
func SharedMetrics() *Metrics {
	metricsOnce.Do(func() {
		registry = &Metrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mkt",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method.",
			}, []string{"method"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mkt",
				Subsystem: "rpc",
				Name:      "request_latency_seconds",
				Help:      "JSON-RPC request latency segmented by method.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(registry.requests, registry.latency)
	})
	return registry
}

// ObserveRPC records one handled request and its latency.
func (m *Metrics) ObserveRPC(method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method).Inc()
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}
