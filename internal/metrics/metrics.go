package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatekeeper"

// Bus message outcomes.
const (
	OutcomeHandled  = "handled"
	OutcomeRejected = "rejected"
	OutcomeNoMatch  = "no_match"
	OutcomeFailed   = "failed"
	OutcomeIgnored  = "ignored"
)

// Upload outcomes.
const (
	UploadStored   = "stored"
	UploadFallback = "fallback"
	UploadFailed   = "failed"
	UploadEmpty    = "empty"
)

// Metrics owns a private registry so tests can build as many as they need.
type Metrics struct {
	registry    *prometheus.Registry
	busMessages *prometheus.CounterVec
	uploads     *prometheus.CounterVec
	viewers     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		busMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_total",
			Help:      "Bus messages received, by subject and outcome.",
		}, []string{"subject", "outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Image uploads, by outcome.",
		}, []string{"outcome"}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewers_connected",
			Help:      "Live viewers currently connected.",
		}),
	}
	m.registry.MustRegister(
		m.busMessages,
		m.uploads,
		m.viewers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) BusMessage(subject, outcome string) {
	m.busMessages.WithLabelValues(subject, outcome).Inc()
}

func (m *Metrics) Upload(outcome string) {
	m.uploads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ViewerConnected()    { m.viewers.Inc() }
func (m *Metrics) ViewerDisconnected() { m.viewers.Dec() }

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
