package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/budget"
)

// GetCurrentUsage returns the materialized counter for (userID,
// periodStart), or zero if no row exists yet for this period.
func (s *Store) GetCurrentUsage(ctx context.Context, userID, periodStart string) (int64, error) {
	var usage int64
	err := s.q().QueryRow(ctx,
		`SELECT current_usage FROM user_budgets WHERE user_id=$1 AND period_start=$2`,
		userID, periodStart,
	).Scan(&usage)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return usage, err
}

// RecordUsage performs the transactional dual-write §4.5 requires: one
// row into the append-only token_usage ledger, and an upsert of the
// materialized (userID, periodStart) counter using ON CONFLICT so
// concurrent updates for the same key serialize via Postgres's own
// row-level locking rather than an application lock.
func (s *Store) RecordUsage(ctx context.Context, p budget.RecordUsageParams) error {
	delta := int64(p.InputTokens + p.OutputTokens)
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO token_usage (id, user_id, user_email, model, input_tokens, output_tokens, cost_estimate, request_category, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			uuid.NewString(), p.UserID, p.UserEmail, p.Model, p.InputTokens, p.OutputTokens,
			p.CostEstimate, p.Category, time.Now().UTC(),
		); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO user_budgets (user_id, period_start, role, monthly_limit, current_usage, updated_at)
			 VALUES ($1,$2,$3,$4,$5,now())
			 ON CONFLICT (user_id, period_start) DO UPDATE SET
			   current_usage = user_budgets.current_usage + EXCLUDED.current_usage,
			   role = EXCLUDED.role,
			   monthly_limit = EXCLUDED.monthly_limit,
			   updated_at = now()`,
			p.UserID, p.PeriodStart, p.Role, p.MonthlyLimit, delta,
		)
		return err
	})
}

// ListBudgetedUsers returns every (userID -> role) pair with a row in
// the current period, used by the admin budget-summary surface.
func (s *Store) ListBudgetedUsers(ctx context.Context, periodStart string) ([]gateway.BudgetStatus, error) {
	rows, err := s.q().Query(ctx,
		`SELECT user_id, role, monthly_limit, current_usage FROM user_budgets WHERE period_start=$1 ORDER BY current_usage DESC`,
		periodStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.BudgetStatus
	for rows.Next() {
		var b gateway.BudgetStatus
		if err := rows.Scan(&b.UserID, &b.Role, &b.MonthlyLimit, &b.CurrentUsage); err != nil {
			return nil, err
		}
		b.PeriodStart = periodStart
		out = append(out, b)
	}
	return out, rows.Err()
}
