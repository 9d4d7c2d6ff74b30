package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	escrow "github.com/tripartite/escrow"
)

const metricsNamespace = "escrow"

// Metrics records orchestrator activity as Prometheus collectors. It is fed
// entirely through hooks, see Attach.
type Metrics struct {
	registry *prometheus.Registry

	submissions  *prometheus.CounterVec
	retries      *prometheus.CounterVec
	confirmation *prometheus.HistogramVec
	gasUsed      *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "submissions_total",
				Help:      "Orchestrated operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_total",
				Help:      "Retries after transient failures",
			},
			[]string{"operation"},
		),
		confirmation: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "confirmation_seconds",
				Help:      "Time from pre-check to confirmed receipt",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
		gasUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gas_used_total",
				Help:      "Gas consumed by confirmed transactions",
			},
			[]string{"operation"},
		),
	}
	m.registry.MustRegister(m.submissions, m.retries, m.confirmation, m.gasUsed)
	return m
}

// Registry returns the registry holding the collectors, for /metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Attach registers the hooks that feed m on o
func (m *Metrics) Attach(o *Orchestrator) {
	o.OnAfterSubmit(func(ctx escrow.SubmitResultContext) error {
		op := string(ctx.Operation)
		m.submissions.WithLabelValues(op, "confirmed").Inc()
		m.confirmation.WithLabelValues(op).Observe(ctx.Duration.Seconds())
		m.gasUsed.WithLabelValues(op).Add(float64(ctx.Result.GasUsed))
		return nil
	})
	o.OnSubmitFailure(func(ctx escrow.SubmitFailureContext) error {
		m.submissions.WithLabelValues(string(ctx.Operation), string(escrow.KindOf(ctx.Error))).Inc()
		return nil
	})
	o.OnRetry(func(ctx escrow.RetryContext) {
		m.retries.WithLabelValues(string(ctx.Operation)).Inc()
	})
}
