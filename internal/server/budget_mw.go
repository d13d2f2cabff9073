package server

import (
	"fmt"
	"log/slog"
	"net/http"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/apperror"
	"github.com/dynamoworks/gateway/internal/config"
)

// budgetEnforce is the budget enforcer stage (C10). Skipped entirely for
// unauthenticated/admin requests, when enforcement is disabled, or when
// persistence is unconfigured; a store fault never blocks the request,
// only the client's own budget ceiling does.
func (s *server) budgetEnforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := gateway.RequestContextFrom(r.Context())

		if rc.UserID == "" || rc.Role == "admin" || s.deps.Enforcement == config.EnforcementNone {
			next.ServeHTTP(w, r)
			return
		}

		// GetUserBudget itself degrades to an unconstrained (used=0) status
		// when persistence is unconfigured, covering the "store unavailable"
		// skip condition without a separate check here.
		status, err := s.deps.Budget.GetUserBudget(r.Context(), rc.UserID, rc.Role)
		if err != nil {
			slog.LogAttrs(r.Context(), slog.LevelWarn, "budget status read failed",
				slog.String("user_id", rc.UserID),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		switch {
		case status.Exceeded:
			detail := budgetExceededDetail(status)
			w.Header()["X-Budget-Warning"] = []string{detail}
			if s.deps.Enforcement == config.EnforcementHard {
				s.deps.Metrics.BudgetBlocks.WithLabelValues(rc.Role).Inc()
				handleErr(w, r.Context(), apperror.BudgetExceeded(detail))
				return
			}
		case status.Warning:
			w.Header()["X-Budget-Warning"] = []string{budgetWarningDetail(status)}
			s.deps.Metrics.BudgetWarnings.WithLabelValues(rc.Role).Inc()
		}

		next.ServeHTTP(w, r)
	})
}

func budgetWarningDetail(status gateway.BudgetStatus) string {
	return fmt.Sprintf("Usage at %d%% of monthly limit (%d/%s), resets %s",
		status.PercentUsed, status.CurrentUsage, limitText(status.MonthlyLimit), status.NextReset)
}

func budgetExceededDetail(status gateway.BudgetStatus) string {
	return fmt.Sprintf("monthly token budget exceeded: %d/%s used, resets %s",
		status.CurrentUsage, limitText(status.MonthlyLimit), status.NextReset)
}

func limitText(limit *int64) string {
	if limit == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d", *limit)
}
