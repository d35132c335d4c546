// Package metrics exposes verification outcomes to Prometheus. All methods
// are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "mfagate"

// Outcome label values besides the verify failure reasons.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	verifications *prometheus.CounterVec
	verifyLatency *prometheus.HistogramVec
	logins        *prometheus.CounterVec
	cleaned       *prometheus.CounterVec
}

// New registers the service collectors, plus the Go and process collectors,
// on a dedicated registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Second factor verifications by purpose, shape and outcome.",
		}, []string{"purpose", "shape", "outcome"}),
		verifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Time spent verifying a submitted factor.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"purpose", "shape"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Primary login attempts by outcome.",
		}, []string{"outcome"}),
		cleaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "housekeeping_deleted_total",
			Help:      "Expired records removed by housekeeping.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.verifications,
		m.verifyLatency,
		m.logins,
		m.cleaned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Verification records one Validate call. outcome is OutcomeSuccess,
// OutcomeError or a verify failure reason.
func (m *Metrics) Verification(purpose, shape, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(purpose, shape, outcome).Inc()
	m.verifyLatency.WithLabelValues(purpose, shape).Observe(took.Seconds())
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Cleaned(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cleaned.WithLabelValues(kind).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
