package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/apperror"
	"github.com/dynamoworks/gateway/internal/audit"
	"github.com/dynamoworks/gateway/internal/budget"
	"github.com/dynamoworks/gateway/internal/provider/anthropic"
)

// handleChatCompletion serves the OpenAI-compatible surface. By the time
// it runs, auth, scan, budget, router, and audit-setup have already
// populated the request context and the decoded body.
func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	req := decodedRequestFromContext(r.Context())

	if req.Stream {
		s.handleChatCompletionStream(w, r, req)
		return
	}

	start := time.Now()
	raw, err := s.deps.Anthropic.CreateMessage(r.Context(), req)
	if err != nil {
		handleUpstreamErr(w, r.Context(), err)
		return
	}

	resp, err := anthropic.TranslateToOpenAI(raw)
	if err != nil {
		handleErr(w, r.Context(), apperror.Internal(err))
		return
	}
	resp.ID = "chatcmpl-" + resp.ID
	resp.Created = start.Unix()

	writeJSON(w, http.StatusOK, openAIResponseBody(resp))

	var respText strings.Builder
	for _, c := range resp.Choices {
		respText.WriteString(c.Message.Content)
	}
	s.finishRequest(r, req.Model, resp.Usage, respText.String(), "success")
}

// openAIResponseChunk is the exact chat-completion response shape; built
// separately from gateway.ChatResponse because the wire field names
// (snake_case, nested usage) differ from the internal struct's Go
// field names.
type openAIResponseChunk struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []openAIChoice   `json:"choices"`
	Usage   *openAIUsageBody `json:"usage,omitempty"`
}

type openAIChoice struct {
	Index        int                `json:"index"`
	Message      *openAIMessageBody `json:"message,omitempty"`
	Delta        *openAIMessageBody `json:"delta,omitempty"`
	FinishReason *string            `json:"finish_reason"`
}

type openAIMessageBody struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type openAIUsageBody struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func openAIResponseBody(resp *gateway.ChatResponse) openAIResponseChunk {
	out := openAIResponseChunk{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: make([]openAIChoice, len(resp.Choices)),
	}
	for i, c := range resp.Choices {
		fr := c.FinishReason
		out.Choices[i] = openAIChoice{
			Index:        c.Index,
			Message:      &openAIMessageBody{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: finishReasonPtr(fr),
		}
	}
	if resp.Usage != nil {
		out.Usage = &openAIUsageBody{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

func finishReasonPtr(reason string) *string {
	if reason == "" {
		return nil
	}
	return &reason
}

var chunkDeltaRoleVal = openAIMessageBody{Role: "assistant"}

// handleChatCompletionStream reshapes the upstream Anthropic event
// stream into OpenAI-style chat-completion chunks.
func (s *server) handleChatCompletionStream(w http.ResponseWriter, r *http.Request, req *gateway.ChatRequest) {
	ch, err := s.deps.Anthropic.CreateMessageStream(r.Context(), req)
	if err != nil {
		handleUpstreamErr(w, r.Context(), err)
		return
	}

	writeSSEHeaders(w)
	w.Header()["X-Request-Id"] = []string{gateway.RequestIDFromContext(r.Context())}
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	writeChatChunk(w, openAIResponseChunk{
		Object:  "chat.completion.chunk",
		Model:   req.Model,
		Choices: []openAIChoice{{Delta: &chunkDeltaRoleVal}},
	})
	flusher.Flush()

	var respText strings.Builder
	var usage gateway.ChatUsage
	var keepAlive *time.Ticker
	defer func() {
		if keepAlive != nil {
			keepAlive.Stop()
		}
	}()

	for {
		var evt gateway.StreamEvent
		var chOpen bool
		if keepAlive == nil {
			select {
			case evt, chOpen = <-ch:
			case <-r.Context().Done():
				return
			}
		} else {
			select {
			case evt, chOpen = <-ch:
			case <-keepAlive.C:
				writeSSEKeepAlive(w)
				flusher.Flush()
				continue
			case <-r.Context().Done():
				return
			}
		}

		if !chOpen {
			writeSSEDone(w)
			flusher.Flush()
			s.finishRequest(r, req.Model, &usage, respText.String(), "success")
			return
		}
		if evt.Err != nil {
			slog.LogAttrs(r.Context(), slog.LevelError, "stream error", slog.String("error", evt.Err.Error()))
			writeSSEError(w, "upstream stream error")
			writeSSEDone(w)
			flusher.Flush()
			s.finishRequest(r, req.Model, &usage, respText.String(), "error")
			return
		}

		switch evt.Type {
		case "message_start":
			usage.InputTokens = evt.InputTokens
			if evt.Model != "" {
				req.Model = evt.Model
			}
		case "content_block_delta":
			if evt.TextDelta != "" {
				respText.WriteString(evt.TextDelta)
				writeChatChunk(w, openAIResponseChunk{
					Object:  "chat.completion.chunk",
					Model:   req.Model,
					Choices: []openAIChoice{{Delta: &openAIMessageBody{Content: evt.TextDelta}}},
				})
				flusher.Flush()
			}
		case "message_delta":
			usage.OutputTokens = evt.OutputTokens
			reason := anthropic.MapStopReason(evt.StopReason)
			writeChatChunk(w, openAIResponseChunk{
				Object:  "chat.completion.chunk",
				Model:   req.Model,
				Choices: []openAIChoice{{FinishReason: finishReasonPtr(reason)}},
			})
			flusher.Flush()
		}

		if keepAlive == nil {
			keepAlive = time.NewTicker(15 * time.Second)
		}
	}
}

func writeChatChunk(w http.ResponseWriter, chunk openAIResponseChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		slog.Error("failed to encode stream chunk", "error", err)
		return
	}
	writeSSEData(w, data)
}

// finishRequest performs the post-response fire-and-forget work common
// to both the streaming and non-streaming paths: record usage, commit
// the audit log entry. Both writes happen on their own goroutine,
// detached from the request's own (about-to-be-canceled) context.
func (s *server) finishRequest(r *http.Request, model string, usage *gateway.ChatUsage, responseText, status string) {
	rc := gateway.RequestContextFrom(r.Context())

	var inputTokens, outputTokens int
	if usage != nil {
		inputTokens, outputTokens = usage.InputTokens, usage.OutputTokens
	}

	s.deps.Worker.Track(r.Context(), "record-usage", 5*time.Second, func(ctx context.Context) {
		if err := s.deps.Budget.RecordUsage(ctx, budget.RecordUsageInput{
			UserID:       rc.UserID,
			UserEmail:    rc.UserEmail,
			Role:         rc.Role,
			Model:        model,
			Category:     rc.Audit.Category.Category,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		}); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "record usage failed",
				slog.String("request_id", rc.RequestID),
				slog.String("error", err.Error()),
			)
		}

		var userID, userEmail *string
		if rc.UserID != "" {
			userID = &rc.UserID
		}
		if rc.UserEmail != "" {
			userEmail = &rc.UserEmail
		}
		var category *string
		if rc.Audit.Category.Category != "" {
			category = &rc.Audit.Category.Category
		}

		entry := audit.BuildAuditEntry(s.deps.Catalog, audit.BuildEntryInput{
			RequestID:       rc.RequestID,
			UserID:          userID,
			UserEmail:       userEmail,
			Model:           model,
			RequestCategory: category,
			Source:          rc.Audit.Source,
			PromptText:      rc.Audit.PromptText,
			ResponseText:    responseText,
			InputTokens:     inputTokens,
			OutputTokens:    outputTokens,
			StartTime:       rc.Audit.StartTime,
			Status:          status,
		})
		audit.CommitAuditLog(ctx, s.deps.Store, entry)
	})
}
