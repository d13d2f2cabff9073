// Package audit implements the audit service (C7): prompt-text
// extraction, hashing, preview redaction, source detection, and the
// fire-and-forget dual-write (structured log + audit_logs row).
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/budget"
	"github.com/dynamoworks/gateway/internal/catalog"
	"github.com/dynamoworks/gateway/internal/scanner"
)

const defaultPreviewLen = 200

// cliMarkers are user-agent substrings (matched case-insensitively) that
// identify a non-browser caller.
var cliMarkers = []string{"curl", "cli", "node", "python-requests", "httpie"}

// messageBody is the minimal shape ExtractPromptText needs out of either
// surface's raw request body, re-derived here from the json.RawMessage
// shape. The server's stages do not call ExtractPromptText: they decode
// into gateway.ChatRequest first and take the text from that.
type messageBody struct {
	System   string           `json:"system"`
	Messages []rawChatMessage `json:"messages"`
}

type rawChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractPromptText concatenates the optional top-level system string
// with every message's text, newline-joined. A message's content is
// either a plain string or an array of content blocks; only
// type="text" blocks contribute.
func ExtractPromptText(body []byte) string {
	var mb messageBody
	if err := json.Unmarshal(body, &mb); err != nil {
		return ""
	}

	var parts []string
	if mb.System != "" {
		parts = append(parts, mb.System)
	}
	for _, m := range mb.Messages {
		parts = append(parts, extractMessageText(m.Content)...)
	}
	return strings.Join(parts, "\n")
}

func extractMessageText(content json.RawMessage) []string {
	if len(content) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(content, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return []string{asString}
	}

	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return nil
	}
	var out []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			out = append(out, b.Text)
		}
	}
	return out
}

// HashPrompt returns the hex-encoded SHA-256 hash of text.
func HashPrompt(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// DetectSource classifies a caller as "cli" or "web" from its
// user-agent string.
func DetectSource(userAgent string) string {
	lower := strings.ToLower(userAgent)
	for _, marker := range cliMarkers {
		if strings.Contains(lower, marker) {
			return "cli"
		}
	}
	return "web"
}

// ExtractPreview returns a safe-to-log preview of text: redacted
// entirely if it trips any high-severity scanner pattern, otherwise
// truncated to maxLen with a trailing ellipsis when it doesn't already
// fit. maxLen<=0 defaults to 200.
func ExtractPreview(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = defaultPreviewLen
	}
	if scanner.ScanText(text).HasHighSeverity {
		return "[REDACTED]"
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "…"
}

// BuildEntryInput bundles the fields BuildAuditEntry needs beyond what
// it computes itself.
type BuildEntryInput struct {
	RequestID       string
	UserID          *string
	UserEmail       *string
	Model           string
	RequestCategory *string
	Source          string
	PromptText      string
	ResponseText    string
	InputTokens     int
	OutputTokens    int
	StartTime       time.Time
	Status          string
}

// BuildAuditEntry assembles the full audit record: cost is estimated
// against cat, latency measured from in.StartTime to now, and both
// prompt and response previews pass through ExtractPreview.
func BuildAuditEntry(cat *catalog.Catalog, in BuildEntryInput) gateway.AuditLogRecord {
	return gateway.AuditLogRecord{
		RequestID:       in.RequestID,
		UserID:          in.UserID,
		UserEmail:       in.UserEmail,
		Timestamp:       time.Now().UTC(),
		Model:           in.Model,
		InputTokens:     in.InputTokens,
		OutputTokens:    in.OutputTokens,
		CostEstimate:    budget.EstimateCost(cat, in.Model, in.InputTokens, in.OutputTokens),
		RequestCategory: in.RequestCategory,
		Source:          in.Source,
		PromptHash:      HashPrompt(in.PromptText),
		PromptPreview:   ExtractPreview(in.PromptText, defaultPreviewLen),
		ResponsePreview: ExtractPreview(in.ResponseText, defaultPreviewLen),
		LatencyMs:       time.Since(in.StartTime).Milliseconds(),
		Status:          in.Status,
	}
}

// Store is the append-only persistence surface CommitAuditLog depends
// on. A nil/unconfigured Store degrades to log-only, matching the
// teacher's nilable-dependency convention.
type Store interface {
	InsertAuditLog(ctx context.Context, entry gateway.AuditLogRecord) error
	Configured() bool
}

// CommitAuditLog writes a structured log line, then inserts entry into
// the durable ledger. Called fire-and-forget by the proxy handlers
// after the response has already been sent; store failure is logged
// and swallowed, never surfaced to a client that has moved on.
func CommitAuditLog(ctx context.Context, store Store, entry gateway.AuditLogRecord) {
	userID := ""
	if entry.UserID != nil {
		userID = *entry.UserID
	}
	category := ""
	if entry.RequestCategory != nil {
		category = *entry.RequestCategory
	}
	slog.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("request_id", entry.RequestID),
		slog.String("user_id", userID),
		slog.String("model", entry.Model),
		slog.String("category", category),
		slog.String("source", entry.Source),
		slog.Int("input_tokens", entry.InputTokens),
		slog.Int("output_tokens", entry.OutputTokens),
		slog.Float64("cost_estimate", entry.CostEstimate),
		slog.Int64("latency_ms", entry.LatencyMs),
		slog.String("status", entry.Status),
	)

	if store == nil || !store.Configured() {
		return
	}
	if err := store.InsertAuditLog(ctx, entry); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "audit log write failed",
			slog.String("request_id", entry.RequestID),
			slog.String("error", err.Error()),
		)
	}
}
