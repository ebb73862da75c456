// Package metrics holds the server's own Prometheus instruments, registered on
// a private registry and exposed at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pagescore_server"

// Metrics is the set of server self-metrics.
type Metrics struct {
	Registry *prometheus.Registry

	// ReportsReceived counts SendReport calls by outcome (accepted, rejected).
	ReportsReceived *prometheus.CounterVec

	// MetricFailures counts failed metric results in accepted reports.
	MetricFailures *prometheus.CounterVec

	// AuthFailures counts calls refused by the API key interceptor.
	AuthFailures prometheus.Counter

	// AlertsFired counts alert transitions by rule and state.
	AlertsFired *prometheus.CounterVec

	// WebhookErrors counts failed webhook deliveries by webhook type.
	WebhookErrors *prometheus.CounterVec

	// StreamClients is the number of connected websocket clients.
	StreamClients prometheus.Gauge
}

// New registers every instrument, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ReportsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_received_total",
			Help:      "Reports received from agents, by outcome.",
		}, []string{"outcome"}),
		MetricFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_failures_total",
			Help:      "Metric results that carried an error, by metric and error kind.",
		}, []string{"metric", "kind"}),
		AuthFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "gRPC calls refused for a missing or wrong API key.",
		}),
		AlertsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Alert state transitions, by rule and new state.",
		}, []string{"rule", "state"}),
		WebhookErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_errors_total",
			Help:      "Failed webhook deliveries, by webhook type.",
		}, []string{"type"}),
		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected websocket clients.",
		}),
	}
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	promauto.With(m.Registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
