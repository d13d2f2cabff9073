package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/dynamoworks/gateway/internal/alert"
	"github.com/dynamoworks/gateway/internal/apikey"
	"github.com/dynamoworks/gateway/internal/budget"
	"github.com/dynamoworks/gateway/internal/catalog"
	"github.com/dynamoworks/gateway/internal/config"
	"github.com/dynamoworks/gateway/internal/provider"
	"github.com/dynamoworks/gateway/internal/provider/anthropic"
	"github.com/dynamoworks/gateway/internal/server"
	"github.com/dynamoworks/gateway/internal/store"
	"github.com/dynamoworks/gateway/internal/telemetry"
	"github.com/dynamoworks/gateway/internal/worker"
)

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return err
	}
	logOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler = slog.NewTextHandler(os.Stderr, logOpts)
	if cfg.NodeEnv == "production" {
		logHandler = slog.NewJSONHandler(os.Stderr, logOpts)
	}
	slog.SetDefault(slog.New(logHandler))

	slog.Info("starting gateway", "version", version, "addr", cfg.Addr())

	ctx := context.Background()

	var st *store.Store
	if cfg.PersistenceEnabled() {
		st, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close()
		slog.Info("database opened")
	} else {
		st = &store.Store{}
		slog.Warn("DATABASE_URL not set, persistence disabled (api keys, budgets, audit log, profiles are no-ops)")
	}

	cat, err := catalog.Default()
	if err != nil {
		return err
	}

	// Shared DNS cache for the upstream HTTP client.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	httpClient := &http.Client{Transport: provider.NewTransport(dnsResolver)}
	anthropicClient := anthropic.New(cfg.UpstreamAPIKey, "", httpClient, cfg.UpstreamMaxTokens)

	apiKeys, err := apikey.New(st)
	if err != nil {
		return err
	}
	budgetSvc := budget.New(st, cat)

	var alertPublisher *alert.Publisher
	if cfg.AlertingEnabled() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return err
		}
		alertPublisher = alert.New(sns.NewFromConfig(awsCfg), cfg.AlertTopicARN)
		slog.Info("sns alerting enabled", "topic", cfg.AlertTopicARN)
	} else {
		alertPublisher = alert.New(nil, "")
		slog.Info("ALERT_TOPIC_ARN not set, alert publishing degrades to log lines")
	}

	supervisor := worker.New()

	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.TracingEnabled() {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.TracingSampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("gateway/server")
			slog.Info("opentelemetry tracing enabled",
				"endpoint", cfg.OTLPEndpoint,
				"sample_rate", cfg.TracingSampleRate,
			)
		}
	}

	handler, err := server.New(server.Deps{
		Version:      version,
		AuthMode:     cfg.AuthMode,
		JWTSecret:    cfg.JWTSecret,
		Enforcement:  cfg.TokenBudgetEnforcement,
		DefaultModel: cfg.UpstreamDefaultModel,

		APIKeys:   apiKeys,
		Budget:    budgetSvc,
		Catalog:   cat,
		Store:     st,
		Alerts:    alertPublisher,
		Anthropic: anthropicClient,
		Worker:    supervisor,

		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("gateway ready", "addr", cfg.Addr(),
		"endpoints", []string{
			"POST /v1/chat/completions",
			"POST /v1/messages",
			"GET  /v1/budget/{userId}",
			"GET  /v1/budget/admin/summary",
		},
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	supervisor.Drain(shutdownCtx)

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("gateway stopped")
	return nil
}
