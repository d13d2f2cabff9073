package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/alert"
	"github.com/dynamoworks/gateway/internal/apperror"
	"github.com/dynamoworks/gateway/internal/scanner"
)

const alertPublishTimeout = 5 * time.Second

// scanEnforce is the sensitive-data stage (C11): it is the first stage
// in the pipeline to decode the request body, wraps it with the scanner
// (C3), and stashes the decoded request in the context for every later
// stage.
func (s *server) scanEnforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeRequestBody(w, r)
		if err != nil {
			handleErr(w, r.Context(), err)
			return
		}
		ctx := contextWithDecodedRequest(r.Context(), req)

		result := scanner.ScanText(promptTextFromRequest(req))
		rc := gateway.RequestContextFrom(ctx)
		rc.ScanResult = toGatewayScanResult(result)

		if result.HasHighSeverity {
			s.publishScanAlert(ctx, r, result)
			s.bumpFindingMetrics(s.deps.Metrics.SensitiveDataBlocks, result.Findings, scanner.SeverityHigh)
			handleErr(w, ctx, apperror.SensitiveDataBlocked(result.BlockMessage()))
			return
		}

		if result.HasMediumSeverity {
			w.Header()["X-Sensitive-Data-Warning"] = []string{result.WarnMessage()}
			s.publishScanAlert(ctx, r, result)
			s.bumpFindingMetrics(s.deps.Metrics.SensitiveDataWarns, result.Findings, scanner.SeverityMedium)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) publishScanAlert(ctx context.Context, r *http.Request, result scanner.Result) {
	if !s.deps.Alerts.Configured() {
		return
	}
	rc := gateway.RequestContextFrom(ctx)
	a := alert.Alert{
		Type:      "sensitive_data",
		Severity:  alert.Severity(result.Findings),
		Timestamp: time.Now().UTC(),
		Context: alert.AlertContext{
			RequestID: rc.RequestID,
			UserID:    rc.UserID,
			UserEmail: rc.UserEmail,
			Route:     r.URL.Path,
		},
		Findings: result.Findings,
	}
	s.deps.Worker.Track(ctx, "alert-publish", alertPublishTimeout, func(taskCtx context.Context) {
		s.deps.Alerts.Publish(taskCtx, a)
	})
}

// bumpFindingMetrics increments counter once per distinct finding type at
// the given severity, mirroring BlockMessage's dedup-by-type behavior.
func (s *server) bumpFindingMetrics(counter *prometheus.CounterVec, findings []scanner.Finding, severity string) {
	seen := make(map[string]bool)
	for _, f := range findings {
		if f.Severity != severity || seen[f.Type] {
			continue
		}
		seen[f.Type] = true
		counter.WithLabelValues(f.Type).Inc()
	}
}

func toGatewayScanResult(r scanner.Result) *gateway.ScanResult {
	out := &gateway.ScanResult{
		HasHighSeverity:   r.HasHighSeverity,
		HasMediumSeverity: r.HasMediumSeverity,
		Findings:          make([]gateway.Finding, len(r.Findings)),
	}
	for i, f := range r.Findings {
		out.Findings[i] = gateway.Finding{
			Type:          f.Type,
			Severity:      f.Severity,
			RedactedValue: f.RedactedValue,
			Index:         f.Index,
		}
	}
	return out
}
