// Package gateway defines the domain types shared across the Dynamo
// Gateway service. This package has no project imports -- it is the
// dependency root.
package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// --- Catalog (C2) ---

// Model is a static catalog entry describing one upstream model.
type Model struct {
	ID                   string
	DisplayName          string
	Tier                 int // higher is more capable; forms a strict order for downgrade selection
	InputCostPerMillion  float64
	OutputCostPerMillion float64
}

// Role is a static catalog entry describing a policy bundle.
type Role struct {
	Name                string
	PermittedModels     []string
	MaxTokensPerRequest *int
	MonthlyTokenBudget  *int64 // nil = unlimited
}

// DefaultRole is the fallback role for unknown or absent roles.
const DefaultRole = "business"

// --- API key (C5) ---

// APIKeyPrefix is the prefix for all Dynamo Gateway API keys.
const APIKeyPrefix = "dynamo-sk-"

// APIKey is the persisted representation of an issued API key.
// The raw key is never stored; only its hash.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	UserEmail  string     `json:"userEmail"`
	KeyHash    string     `json:"-"` // SHA-256 hex, unique; never serialized
	KeyPrefix  string     `json:"keyPrefix"` // first 12 chars of the raw key, for display/audit
	Role       string     `json:"role"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	IsActive   bool       `json:"isActive"`
}

// --- Usage & budget (C6) ---

// TokenUsageRecord is a single append-only ledger row.
type TokenUsageRecord struct {
	ID              string
	UserID          string
	UserEmail       string
	Model           string
	InputTokens     int
	OutputTokens    int
	CostEstimate    float64
	RequestCategory string
	CreatedAt       time.Time
}

// BudgetStatus is the read-side view of a user's current budget period.
type BudgetStatus struct {
	UserID       string `json:"userId"`
	Role         string `json:"role"`
	PeriodStart  string `json:"periodStart"` // YYYY-MM-01
	MonthlyLimit *int64 `json:"monthlyLimit"`
	CurrentUsage int64  `json:"currentUsage"`
	Remaining    *int64 `json:"remaining"` // nil when unlimited
	PercentUsed  int    `json:"percentUsed"`
	Warning      bool   `json:"warning"`
	Exceeded     bool   `json:"exceeded"`
	NextReset    string `json:"nextReset"`
}

// --- Audit (C7) ---

// AuditLogRecord is a single append-only audit row.
type AuditLogRecord struct {
	ID              string
	RequestID       string
	UserID          *string
	UserEmail       *string
	Timestamp       time.Time
	Model           string
	InputTokens     int
	OutputTokens    int
	CostEstimate    float64
	RequestCategory *string
	Source          string // "web" | "cli"
	PromptHash      string
	PromptPreview   string
	ResponsePreview string
	LatencyMs       int64
	Status          string // "success" | "error" | "blocked"
}

// --- User profile ---

// UserProfile is upserted on each successful token-based authentication.
type UserProfile struct {
	UserID         string
	Email          string
	DisplayName    *string
	Role           string
	Department     *string
	IdentityGroups []string
	FirstLogin     time.Time
	LastLogin      time.Time
}

// --- Per-request context ---

// ScanResult is the outcome of a sensitive-data scan.
type ScanResult struct {
	HasHighSeverity   bool
	HasMediumSeverity bool
	Findings          []Finding
}

// Finding is a single sensitive-data detection.
type Finding struct {
	Type          string
	Severity      string // "high" | "medium"
	RedactedValue string
	Index         int
}

// Classification is the prompt classifier's verdict.
type Classification struct {
	Category   string
	Confidence float64
	Secondary  *string
}

// AuditContext holds the per-request audit-relevant data assembled by the
// audit-setup stage (C12), consumed by the upstream proxy handler (C13)
// after the response completes.
type AuditContext struct {
	PromptText string
	PromptHash string
	Preview    string
	Source     string
	Category   Classification
	StartTime  time.Time
}

// RequestContext is the explicit per-request state threaded through the
// staged pipeline. It is created at ingress and discarded when the
// response is closed; it is never the sole carrier of state across
// requests.
type RequestContext struct {
	RequestID   string
	UserID      string // empty = unauthenticated (mock mode with no headers never happens; token mode always populates)
	UserEmail   string
	DisplayName string
	Role        string
	APIKeyID    string
	AuthMethod  string // "api_key" | "bearer" | "mock"
	StartTime   time.Time
	Audit       AuditContext
	ScanResult  *ScanResult
}

// --- Context keys ---

type contextKey int

const (
	ctxKeyRC contextKey = iota
	ctxKeyRequestID
)

// ContextWithRequestContext stores rc in ctx.
func ContextWithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKeyRC, rc)
}

// RequestContextFrom extracts the *RequestContext stored in ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(ctxKeyRC).(*RequestContext)
	return rc
}

// ContextWithRequestID stores the request ID in ctx. Set by the
// requestID middleware before a RequestContext exists, so logging and
// tracing on unauthenticated paths still correlate.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext returns the request ID set by ContextWithRequestID,
// or the one carried by an already-installed RequestContext, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return id
	}
	if rc := RequestContextFrom(ctx); rc != nil {
		return rc.RequestID
	}
	return ""
}

// --- Upstream chat types (shared between the OpenAI-compatible and the
// native Anthropic surfaces) ---

// ChatRequest is the decoded body of either public surface, normalized to
// a single internal shape before being translated to the upstream call.
type ChatRequest struct {
	Model         string        `json:"model"`
	Messages      []ChatMessage `json:"messages"`
	MaxTokens     *int          `json:"max_tokens,omitempty"`
	System        string        `json:"system,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	TopK          *int          `json:"top_k,omitempty"`
	Stop          []string      `json:"stop,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ChatMessage is a single turn in a ChatRequest. Content is either a plain
// string (chat-completion surface) or a list of content blocks (native
// surface); both are accepted and normalized by the decoder.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"` // normalized: joined text of all content blocks
}

// contentBlock is one element of the native surface's array-form content.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts content as either a plain string (chat-completion
// surface) or an array of {type:"text", text} blocks (native surface),
// normalizing both into Content as the joined text of every text block.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var shape struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return err
	}
	m.Role = shape.Role

	var asString string
	if err := json.Unmarshal(shape.Content, &asString); err == nil {
		m.Content = asString
		return nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(shape.Content, &blocks); err != nil {
		return err
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	m.Content = strings.Join(parts, "\n")
	return nil
}

// ChatUsage carries upstream-reported token counts.
type ChatUsage struct {
	InputTokens  int
	OutputTokens int
}

// ChatResponse is the chat-completion surface's synchronous response
// shape. The native surface returns the upstream body unchanged instead
// of this type.
type ChatResponse struct {
	ID      string
	Object  string
	Created int64
	Model   string
	Choices []Choice
	Usage   *ChatUsage
}

// Choice is one (always the only) completion choice.
type Choice struct {
	Index        int
	Message      ChatMessage
	FinishReason string
}

// StreamEvent is one decoded upstream SSE event, carrying enough shape to
// drive both the chat-completion surface's reshaping into OpenAI-style
// chunks and the native surface's verbatim passthrough.
type StreamEvent struct {
	Type         string // upstream event name: message_start, content_block_delta, message_delta, message_stop, ...
	Raw          []byte // raw upstream JSON payload, forwarded unchanged by the native surface
	TextDelta    string // populated for content_block_delta/text_delta events
	MessageID    string // populated on message_start
	Model        string // populated on message_start
	InputTokens  int    // populated on message_start
	OutputTokens int    // populated on message_delta
	StopReason   string // populated on message_delta; upstream's raw reason, not yet mapped
	Err          error
	Done         bool // true once message_stop has been observed; terminal
}
