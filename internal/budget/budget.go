// Package budget implements the budget service (C6): pure period/limit
// math plus transactional usage recording against the persistence
// gateway.
package budget

import (
	"context"
	"math"
	"time"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/catalog"
)

// CurrentPeriodStart returns the first day of t's month, formatted
// YYYY-MM-01.
func CurrentPeriodStart(t time.Time) string {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// NextResetDate returns the first day of the month after t.
func NextResetDate(t time.Time) string {
	t = t.UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, 0).Format("2006-01-02")
}

// EvaluateBudget computes the warning/exceeded verdict for a used/limit
// pair. A nil or non-positive limit means unlimited: never warns, never
// exceeds, percentUsed reports 0.
func EvaluateBudget(used int64, limit *int64) (percentUsed int, warning, exceeded bool) {
	if limit == nil || *limit <= 0 {
		return 0, false, false
	}
	pct := int(math.Round(100 * float64(used) / float64(*limit)))
	warning = float64(used) >= 0.8*float64(*limit)
	exceeded = used >= *limit
	return pct, warning, exceeded
}

// EstimateCost computes the rounded dollar cost of in/out tokens against
// model's catalog pricing (per-million-token rates). Unknown models cost
// zero.
func EstimateCost(cat *catalog.Catalog, model string, inputTokens, outputTokens int) float64 {
	m, ok := cat.Model(model)
	if !ok {
		return 0
	}
	raw := (float64(inputTokens)*m.InputCostPerMillion + float64(outputTokens)*m.OutputCostPerMillion) / 1e6
	return math.Round(raw*1e6) / 1e6
}

// Service wraps period math and usage persistence together.
type Service struct {
	store   RecorderStore
	catalog *catalog.Catalog
}

// RecorderStore is the persistence surface this package depends on.
type RecorderStore interface {
	GetCurrentUsage(ctx context.Context, userID, periodStart string) (int64, error)
	RecordUsage(ctx context.Context, params RecordUsageParams) error
	Configured() bool
}

// RecordUsageParams bundles RecordUsage's arguments. internal/store
// depends on this type directly (rather than the reverse) so Store
// satisfies RecorderStore without an import cycle.
type RecordUsageParams struct {
	UserID, UserEmail, Model, Role, PeriodStart, Category string
	MonthlyLimit                                          *int64
	InputTokens, OutputTokens                             int
	CostEstimate                                          float64
}

// New builds a budget Service.
func New(store RecorderStore, cat *catalog.Catalog) *Service {
	return &Service{store: store, catalog: cat}
}

// GetUserBudget reads the counter for (userID, current period) and
// returns the full status. Absent rows, and an unconfigured store, read
// as zero usage. A read failure is returned as an error; the caller
// decides what to do with it (server.budgetEnforce logs it and lets the
// request through).
func (s *Service) GetUserBudget(ctx context.Context, userID, role string) (gateway.BudgetStatus, error) {
	r := s.catalog.Role(role)
	now := time.Now()
	periodStart := CurrentPeriodStart(now)

	var used int64
	if s.store.Configured() {
		u, err := s.store.GetCurrentUsage(ctx, userID, periodStart)
		if err != nil {
			return gateway.BudgetStatus{}, err
		}
		used = u
	}

	pct, warning, exceeded := EvaluateBudget(used, r.MonthlyTokenBudget)
	status := gateway.BudgetStatus{
		UserID:       userID,
		Role:         role,
		PeriodStart:  periodStart,
		MonthlyLimit: r.MonthlyTokenBudget,
		CurrentUsage: used,
		PercentUsed:  pct,
		Warning:      warning,
		Exceeded:     exceeded,
		NextReset:    NextResetDate(now),
	}
	if r.MonthlyTokenBudget != nil {
		remaining := *r.MonthlyTokenBudget - used
		if remaining < 0 {
			remaining = 0
		}
		status.Remaining = &remaining
	}
	return status, nil
}

// RecordUsageInput bundles the fields needed to record one request's
// usage.
type RecordUsageInput struct {
	UserID, UserEmail, Role, Model, Category string
	InputTokens, OutputTokens                int
}

// RecordUsage performs the transactional dual-write: one token_usage
// row, one upserted counter. Called fire-and-forget by the upstream
// proxy handler; errors are logged and swallowed by the caller, never
// surfaced to the client.
func (s *Service) RecordUsage(ctx context.Context, in RecordUsageInput) error {
	if !s.store.Configured() {
		return nil
	}
	r := s.catalog.Role(in.Role)
	cost := EstimateCost(s.catalog, in.Model, in.InputTokens, in.OutputTokens)
	return s.store.RecordUsage(ctx, RecordUsageParams{
		UserID:        in.UserID,
		UserEmail:     in.UserEmail,
		Model:         in.Model,
		Role:          in.Role,
		PeriodStart:   CurrentPeriodStart(time.Now()),
		Category:      in.Category,
		MonthlyLimit:  r.MonthlyTokenBudget,
		InputTokens:   in.InputTokens,
		OutputTokens:  in.OutputTokens,
		CostEstimate:  cost,
	})
}
