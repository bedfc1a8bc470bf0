package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	InvocationsTotal      *prometheus.CounterVec
	InvocationDurationMs  *prometheus.HistogramVec
	TokensTotal           *prometheus.CounterVec
	QuotaDenialsTotal     *prometheus.CounterVec
	DispatchAttemptsTotal *prometheus.CounterVec
	AuditDropsTotal       prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		InvocationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voidgate_invocations_total",
			Help: "Total invocations processed by the gateway.",
		}, []string{"provider", "op", "outcome"}),

		InvocationDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voidgate_invocation_duration_ms",
			Help:    "End-to-end invocation duration in milliseconds, provider latency included.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"provider", "op"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voidgate_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"provider", "direction"}),

		QuotaDenialsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voidgate_quota_denials_total",
			Help: "Requests denied by quota enforcement.",
		}, []string{"kind"}),

		DispatchAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voidgate_dispatch_attempts_total",
			Help: "Provider call attempts, retries included.",
		}, []string{"provider"}),

		AuditDropsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voidgate_audit_drops_total",
			Help: "Audit events dropped because the buffer was full.",
		}),
	}
}

// RecordInvocation records metrics for a completed invocation.
func (m *Metrics) RecordInvocation(labels InvocationLabels) {
	m.InvocationsTotal.WithLabelValues(
		labels.Provider, labels.Op, labels.Outcome,
	).Inc()

	m.InvocationDurationMs.WithLabelValues(
		labels.Provider, labels.Op,
	).Observe(labels.DurationMs)

	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(
			labels.Provider, "prompt",
		).Add(float64(labels.PromptTokens))
	}

	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(
			labels.Provider, "completion",
		).Add(float64(labels.CompletionTokens))
	}
}

// RecordQuotaDenial records one denied admission by denial kind.
func (m *Metrics) RecordQuotaDenial(kind string) {
	m.QuotaDenialsTotal.WithLabelValues(kind).Inc()
}

// RecordDispatchAttempt counts one provider call attempt.
func (m *Metrics) RecordDispatchAttempt(provider string) {
	m.DispatchAttemptsTotal.WithLabelValues(provider).Inc()
}

// RecordAuditDrop counts one audit event lost to backpressure.
func (m *Metrics) RecordAuditDrop() {
	m.AuditDropsTotal.Inc()
}

// InvocationLabels holds the label values for recording an invocation.
type InvocationLabels struct {
	Provider         string
	Op               string
	Outcome          string
	DurationMs       float64
	PromptTokens     int
	CompletionTokens int
}
