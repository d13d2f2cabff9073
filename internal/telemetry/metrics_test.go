package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.ActiveRequests == nil {
		t.Error("ActiveRequests is nil")
	}
	if m.TokensProcessed == nil {
		t.Error("TokensProcessed is nil")
	}
	if m.ModelDowngrades == nil {
		t.Error("ModelDowngrades is nil")
	}
	if m.BudgetBlocks == nil {
		t.Error("BudgetBlocks is nil")
	}
	if m.BudgetWarnings == nil {
		t.Error("BudgetWarnings is nil")
	}
	if m.SensitiveDataBlocks == nil {
		t.Error("SensitiveDataBlocks is nil")
	}
	if m.SensitiveDataWarns == nil {
		t.Error("SensitiveDataWarns is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("POST", "/v1/chat/completions", "200").Inc()
	m.ActiveRequests.Set(5)
	m.RequestDuration.WithLabelValues("POST", "/v1/chat/completions").Observe(0.123)
	m.BudgetBlocks.WithLabelValues("business").Inc()
	m.ModelDowngrades.WithLabelValues("claude-opus-4-6", "claude-sonnet-4-6").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"gateway_requests_total",
		"gateway_active_requests",
		"gateway_request_duration_seconds",
		"gateway_budget_blocks_total",
		"gateway_model_downgrades_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
