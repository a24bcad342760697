// Package metrics exposes Prometheus counters for session and turn handling.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sqlchat"

// Metrics implements session.Observer, agent.TurnObserver and agent.ChatObserver.
type Metrics struct {
	registry *prometheus.Registry

	ensureOutcomes  *prometheus.CounterVec
	createAttempts  *prometheus.CounterVec
	turnAttempts    prometheus.Counter
	recoveries      *prometheus.CounterVec
	chatRequests    *prometheus.CounterVec
	chatLatency     prometheus.Histogram
	rateLimitDenied prometheus.Counter
}

// New creates a Metrics backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		// Labels: outcome (existing, created, converged, failed)
		ensureOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "ensure_total",
			Help:      "Session ensure calls by outcome",
		}, []string{"outcome"}),
		// Labels: result (ok, error)
		createAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "create_attempts_total",
			Help:      "Session create-and-verify attempts",
		}, []string{"result"}),
		turnAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "attempts_total",
			Help:      "Agent run submissions, including retries",
		}),
		// Labels: outcome (recreated, failed)
		recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "recoveries_total",
			Help:      "Session-not-found recoveries by outcome",
		}, []string{"outcome"}),
		// Labels: status (ok, error)
		chatRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Chat requests by status",
		}, []string{"status"}),
		chatLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Chat request latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		rateLimitDenied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "rate_limited_total",
			Help:      "Chat requests rejected by the per-user rate limiter",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCreateAttempt records one create-and-verify attempt.
func (m *Metrics) ObserveCreateAttempt(err error) {
	m.createAttempts.WithLabelValues(result(err)).Inc()
}

// ObserveEnsure records the outcome of an ensure call.
func (m *Metrics) ObserveEnsure(outcome string) {
	m.ensureOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveTurnAttempt records one runtime submission.
func (m *Metrics) ObserveTurnAttempt() {
	m.turnAttempts.Inc()
}

// ObserveRecovery records a session recovery.
func (m *Metrics) ObserveRecovery(outcome string) {
	m.recoveries.WithLabelValues(outcome).Inc()
}

// ObserveChat records a completed chat request.
func (m *Metrics) ObserveChat(d time.Duration, err error) {
	m.chatRequests.WithLabelValues(result(err)).Inc()
	m.chatLatency.Observe(d.Seconds())
}

// ObserveRateLimited records a rejected chat request.
func (m *Metrics) ObserveRateLimited() {
	m.rateLimitDenied.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
