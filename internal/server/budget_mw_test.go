package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/budget"
	"github.com/dynamoworks/gateway/internal/catalog"
	"github.com/dynamoworks/gateway/internal/config"
	"github.com/dynamoworks/gateway/internal/telemetry"
	"github.com/dynamoworks/gateway/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
)

func newBudgetTestServer(t *testing.T, enforcement string, store *testutil.FakeStore) *server {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	return &server{deps: Deps{
		Enforcement: enforcement,
		Catalog:     cat,
		Budget:      budget.New(store, cat),
		Metrics:     telemetry.NewMetrics(prometheus.NewRegistry()),
	}}
}

func withRequestContext(rc *gateway.RequestContext) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	return req.WithContext(gateway.ContextWithRequestContext(req.Context(), rc))
}

func TestBudgetEnforceSkipsUnauthenticated(t *testing.T) {
	s := newBudgetTestServer(t, config.EnforcementHard, testutil.NewFakeStore())
	called := false
	h := s.budgetEnforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), withRequestContext(&gateway.RequestContext{Role: "business"}))
	if !called {
		t.Fatal("expected next handler to run for an unauthenticated (empty UserID) request")
	}
}

func TestBudgetEnforceSkipsAdmin(t *testing.T) {
	s := newBudgetTestServer(t, config.EnforcementHard, testutil.NewFakeStore())
	called := false
	h := s.budgetEnforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), withRequestContext(&gateway.RequestContext{UserID: "u1", Role: "admin"}))
	if !called {
		t.Fatal("expected next handler to run for an admin request")
	}
}

func TestBudgetEnforceHardBlocksExceeded(t *testing.T) {
	store := testutil.NewFakeStore()
	periodStart := budget.CurrentPeriodStart(time.Now())
	if err := store.RecordUsage(t.Context(), budget.RecordUsageParams{
		UserID: "over-budget", PeriodStart: periodStart, InputTokens: 300_000, OutputTokens: 0,
	}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	s := newBudgetTestServer(t, config.EnforcementHard, store)
	rec := httptest.NewRecorder()
	h := s.budgetEnforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run once the budget is exceeded under hard enforcement")
	}))
	h.ServeHTTP(rec, withRequestContext(&gateway.RequestContext{UserID: "over-budget", Role: "business"}))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("X-Budget-Warning") == "" {
		t.Error("expected X-Budget-Warning header to be set")
	}

	var out errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	msg := out.Error.Message
	if !strings.Contains(msg, "300000") {
		t.Errorf("error message = %q, want it to include current usage", msg)
	}
	if !strings.Contains(msg, "resets") {
		t.Errorf("error message = %q, want it to include the reset date", msg)
	}
}

func TestBudgetEnforceSoftWarnsButPasses(t *testing.T) {
	store := testutil.NewFakeStore()
	periodStart := budget.CurrentPeriodStart(time.Now())
	if err := store.RecordUsage(t.Context(), budget.RecordUsageParams{
		UserID: "over-budget", PeriodStart: periodStart, InputTokens: 300_000, OutputTokens: 0,
	}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	s := newBudgetTestServer(t, config.EnforcementSoft, store)
	called := false
	rec := httptest.NewRecorder()
	h := s.budgetEnforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(rec, withRequestContext(&gateway.RequestContext{UserID: "over-budget", Role: "business"}))

	if !called {
		t.Fatal("soft enforcement must never block the request")
	}
	if rec.Header().Get("X-Budget-Warning") == "" {
		t.Error("expected X-Budget-Warning header even under soft enforcement")
	}
}

func TestBudgetEnforceUnderLimitPasses(t *testing.T) {
	s := newBudgetTestServer(t, config.EnforcementHard, testutil.NewFakeStore())
	called := false
	h := s.budgetEnforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), withRequestContext(&gateway.RequestContext{UserID: "fresh-user", Role: "business"}))
	if !called {
		t.Fatal("expected next handler to run when usage is well under the limit")
	}
}
