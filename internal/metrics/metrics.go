// Package metrics exposes Prometheus collectors for the scoring pipeline.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// Metrics holds the pipeline collectors and the registry they live in.
type Metrics struct {
	registry    *prometheus.Registry
	assessments *prometheus.CounterVec
	errors      *prometheus.CounterVec
	duration    prometheus.Histogram
	alerts      prometheus.Counter
	requests    *prometheus.CounterVec
}

// New creates a registry with the pipeline collectors plus the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimguard",
			Name:      "assessments_total",
			Help:      "Scored claims by risk label.",
		}, []string{"label"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimguard",
			Name:      "assessment_errors_total",
			Help:      "Failed assessments by error kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "claimguard",
			Name:      "assessment_duration_seconds",
			Help:      "Time to encode, score and translate one claim.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "claimguard",
			Name:      "alerts_total",
			Help:      "Claims that matched the alert policy.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimguard",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		m.assessments,
		m.errors,
		m.duration,
		m.alerts,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveAssessment records a successful assessment.
func (m *Metrics) ObserveAssessment(label string, d time.Duration) {
	if m == nil {
		return
	}
	m.assessments.WithLabelValues(label).Inc()
	m.duration.Observe(d.Seconds())
}

// ObserveError records a failed assessment, bucketed by error kind.
func (m *Metrics) ObserveError(err error) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(ErrorKind(err)).Inc()
}

// ObserveAlert records a policy match.
func (m *Metrics) ObserveAlert() {
	if m == nil {
		return
	}
	m.alerts.Inc()
}

// ObserveRequest records one HTTP response.
func (m *Metrics) ObserveRequest(route, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ErrorKind names the pipeline error class of err.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrEncoding):
		return "encoding"
	case errors.Is(err, domain.ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, domain.ErrScoring):
		return "scoring"
	default:
		return "other"
	}
}
