// Package telemetry provides observability primitives for the gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
	TokensProcessed     *prometheus.CounterVec // labels: model, type (input|output)
	ModelDowngrades     *prometheus.CounterVec // labels: requested_model, resolved_model
	BudgetBlocks        *prometheus.CounterVec // labels: role
	BudgetWarnings      *prometheus.CounterVec // labels: role
	SensitiveDataBlocks *prometheus.CounterVec // labels: finding_type
	SensitiveDataWarns  *prometheus.CounterVec // labels: finding_type
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "gateway",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed by the upstream proxy.",
		}, []string{"model", "type"}),

		ModelDowngrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "model_downgrades_total",
			Help:      "Total requests whose model was downgraded by the router stage.",
		}, []string{"requested_model", "resolved_model"}),

		BudgetBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "budget_blocks_total",
			Help:      "Total requests blocked by the budget enforcer stage.",
		}, []string{"role"}),

		BudgetWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "budget_warnings_total",
			Help:      "Total requests that crossed the budget warning threshold.",
		}, []string{"role"}),

		SensitiveDataBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "sensitive_data_blocks_total",
			Help:      "Total requests blocked by the sensitive-data stage.",
		}, []string{"finding_type"}),

		SensitiveDataWarns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "sensitive_data_warnings_total",
			Help:      "Total requests that warned (medium severity) in the sensitive-data stage.",
		}, []string{"finding_type"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.TokensProcessed,
		m.ModelDowngrades,
		m.BudgetBlocks,
		m.BudgetWarnings,
		m.SensitiveDataBlocks,
		m.SensitiveDataWarns,
	)

	return m
}
