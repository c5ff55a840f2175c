// Package metrics exposes the scheduler's operational counters on a
// dedicated prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Post outcome labels.
const (
	ResultSuccess          = "success"
	ResultRateLimited      = "rate_limited"
	ResultPermissionDenied = "permission_denied"
	ResultError            = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal     prometheus.Counter
	cyclesSkipped   prometheus.Counter
	postsTotal      *prometheus.CounterVec
	restTransitions *prometheus.CounterVec
}

// New builds a Metrics set on its own registry. All methods are safe on a
// nil receiver so callers can run without metrics wired.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopost_cycles_total",
			Help: "Post cycles that ran to the dispatch stage.",
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopost_cycles_skipped_total",
			Help: "Post cycles skipped (inactive, resting, or nothing to post).",
		}),
		postsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopost_posts_total",
			Help: "Per-destination dispatch outcomes.",
		}, []string{"result"}),
		restTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopost_rest_transitions_total",
			Help: "Activity/rest state machine transitions.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.cyclesTotal, m.cyclesSkipped, m.postsTotal, m.restTransitions)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CycleRan() {
	if m != nil {
		m.cyclesTotal.Inc()
	}
}

func (m *Metrics) CycleSkipped() {
	if m != nil {
		m.cyclesSkipped.Inc()
	}
}

func (m *Metrics) PostResult(result string) {
	if m != nil {
		m.postsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) RestTransition(state string) {
	if m != nil {
		m.restTransitions.WithLabelValues(state).Inc()
	}
}
