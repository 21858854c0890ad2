// Package metrics exposes Prometheus counters for the key lifecycle and the
// HTTP surface.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Latency buckets in milliseconds.
var latencyBuckets = []float64{
	5, 10, 25,
	50, 100, 250,
	500, 1000, 2500,
	5000,
}

// Metrics holds every collector, registered on its own registry so tests
// can create as many instances as they like. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	KeysGenerated  *prometheus.CounterVec
	Activations    *prometheus.CounterVec
	Verifications  *prometheus.CounterVec
	KeysDeleted    prometheus.Counter
	DebtCharged    prometheus.Counter
	RequestTotal   *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
}

// New creates and registers the collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		KeysGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyforge_keys_generated_total",
				Help: "Total number of license keys generated",
			},
			[]string{"role"},
		),
		Activations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyforge_activations_total",
				Help: "Key activation attempts by outcome",
			},
			[]string{"result"},
		),
		Verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyforge_verifications_total",
				Help: "Key verification attempts by outcome",
			},
			[]string{"result"},
		),
		KeysDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyforge_keys_deleted_total",
			Help: "Total number of license keys deleted",
		}),
		DebtCharged: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyforge_debt_charged_cents_total",
			Help: "Total debt charged to moderators, in cents",
		}),
		RequestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyforge_http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "status"},
		),
		RequestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyforge_http_latency_ms",
				Help:    "HTTP request latency in milliseconds",
				Buckets: latencyBuckets,
			},
			[]string{"method"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveGenerated counts n keys generated by role and the debt charged.
func (m *Metrics) ObserveGenerated(role string, n int, charged int64) {
	if m == nil {
		return
	}
	m.KeysGenerated.WithLabelValues(role).Add(float64(n))
	if charged > 0 {
		m.DebtCharged.Add(float64(charged))
	}
}

// ObserveActivation counts one activation attempt.
func (m *Metrics) ObserveActivation(result string) {
	if m == nil {
		return
	}
	m.Activations.WithLabelValues(result).Inc()
}

// ObserveVerification counts one verification attempt.
func (m *Metrics) ObserveVerification(result string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(result).Inc()
}

// ObserveDeleted counts removed keys.
func (m *Metrics) ObserveDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.KeysDeleted.Add(float64(n))
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, durationMs float64) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(method).Observe(durationMs)
	m.RequestTotal.WithLabelValues(method, StatusClass(status)).Inc()
}

// StatusClass returns the class of an HTTP status code, e.g. "2xx".
func StatusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}
