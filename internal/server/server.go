// Package server implements the HTTP transport layer for the Dynamo
// Gateway: the staged middleware pipeline, the OpenAI-compatible and
// native proxy surfaces, and the admin/budget surfaces.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/dynamoworks/gateway/internal/alert"
	"github.com/dynamoworks/gateway/internal/apikey"
	"github.com/dynamoworks/gateway/internal/budget"
	"github.com/dynamoworks/gateway/internal/catalog"
	"github.com/dynamoworks/gateway/internal/provider/anthropic"
	"github.com/dynamoworks/gateway/internal/store"
	"github.com/dynamoworks/gateway/internal/telemetry"
	"github.com/dynamoworks/gateway/internal/worker"
)

// Deps holds every dependency the HTTP server wires into the pipeline.
type Deps struct {
	Version      string
	AuthMode     string
	JWTSecret    string
	Enforcement  string
	DefaultModel string

	APIKeys   *apikey.Service
	Budget    *budget.Service
	Catalog   *catalog.Catalog
	Store     *store.Store // never nil; every method checks Configured()
	Alerts    *alert.Publisher
	Anthropic *anthropic.Client
	Worker    *worker.Supervisor

	Metrics        *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
}

// New builds the http.Handler serving every surface, with the full
// staged middleware chain wired in pipeline order: authenticate ->
// scanEnforce -> budgetEnforce -> routerStage -> auditSetup -> handler.
func New(deps Deps) (http.Handler, error) {
	router, err := newModelRouter(deps.Catalog, deps.DefaultModel)
	if err != nil {
		return nil, err
	}

	// The pipeline stages (scanEnforce, budgetEnforce, routerStage) bump
	// counters on deps.Metrics unconditionally; when metrics are disabled
	// deps.Metrics is nil, so fall back to an unregistered collector set
	// that is never exposed on /metrics but is always safe to write to.
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewMetrics(prometheus.NewRegistry())
	}

	s := &server{deps: deps, router: router}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	r.Use(metricsMiddleware(deps.Metrics))
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/health", s.handleHealth)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.scanEnforce)
		r.Use(s.budgetEnforce)
		r.Use(s.routerStage)
		r.Use(s.auditSetup)
		r.Post("/v1/chat/completions", s.handleChatCompletion)
		r.Post("/v1/messages", s.handleNativeMessages)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/v1/budget/admin/summary", s.requireAdminFunc(s.handleBudgetSummary))
		r.Get("/v1/budget/{userId}", s.handleGetUserBudget)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/v1/admin/api-keys", s.handleCreateAPIKey)
			r.Get("/v1/admin/api-keys", s.handleListAPIKeys)
			r.Delete("/v1/admin/api-keys/{id}", s.handleRevokeAPIKey)
			r.Post("/v1/admin/api-keys/{id}/rotate", s.handleRotateAPIKey)
		})
	})

	return r, nil
}

// requireAdminFunc wraps a single handler with requireAdmin, for the
// one admin-only route (the cross-user summary) nested alongside the
// self-or-admin single-user budget route, which cannot share a group
// with it.
func (s *server) requireAdminFunc(h http.HandlerFunc) http.HandlerFunc {
	return s.requireAdmin(h).ServeHTTP
}

type server struct {
	deps   Deps
	router *modelRouter
}
