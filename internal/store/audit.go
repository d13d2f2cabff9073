package store

import (
	"context"

	"github.com/google/uuid"

	gateway "github.com/dynamoworks/gateway/internal"
)

// InsertAuditLog appends one audit row. Called from the audit service's
// fire-and-forget commit path; any error here is logged and swallowed by
// the caller (the client has already been served).
func (s *Store) InsertAuditLog(ctx context.Context, a gateway.AuditLogRecord) error {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.q().Exec(ctx,
		`INSERT INTO audit_logs (id, request_id, user_id, user_email, ts, model, input_tokens,
		 output_tokens, cost_estimate, request_category, source, prompt_hash, prompt_preview,
		 response_preview, latency_ms, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		id, a.RequestID, a.UserID, a.UserEmail, a.Timestamp, a.Model, a.InputTokens,
		a.OutputTokens, a.CostEstimate, a.RequestCategory, a.Source, a.PromptHash,
		a.PromptPreview, a.ResponsePreview, a.LatencyMs, a.Status,
	)
	return err
}
