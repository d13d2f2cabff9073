package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/apperror"
	"github.com/dynamoworks/gateway/internal/provider/anthropic"
)

// handleNativeMessages serves the native Anthropic-shaped surface
// (/v1/messages). Unlike the chat-completion surface it passes the
// upstream body through unchanged instead of reshaping it, and
// max_tokens is mandatory rather than defaulted.
func (s *server) handleNativeMessages(w http.ResponseWriter, r *http.Request) {
	req := decodedRequestFromContext(r.Context())
	if req.MaxTokens == nil {
		handleErr(w, r.Context(), apperror.InvalidRequest("max_tokens is required"))
		return
	}

	if req.Stream {
		s.handleNativeMessagesStream(w, r, req)
		return
	}

	raw, err := s.deps.Anthropic.CreateMessage(r.Context(), req)
	if err != nil {
		handleUpstreamErr(w, r.Context(), err)
		return
	}

	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(raw)

	usage := anthropic.ParseUsage(raw)
	s.finishRequest(r, req.Model, &usage, nativeResponseText(raw), "success")
}

func (s *server) handleNativeMessagesStream(w http.ResponseWriter, r *http.Request, req *gateway.ChatRequest) {
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
			s.finishRequest(r, req.Model, &usage, respText.String(), "success")
			return
		}
		if evt.Err != nil {
			slog.LogAttrs(r.Context(), slog.LevelError, "stream error", slog.String("error", evt.Err.Error()))
			writeSSERaw(w, "error", []byte(`{"type":"error","error":{"type":"stream_error"}}`))
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
			}
		case "message_delta":
			usage.OutputTokens = evt.OutputTokens
		}

		writeSSERaw(w, evt.Type, evt.Raw)
		flusher.Flush()

		if keepAlive == nil {
			keepAlive = time.NewTicker(15 * time.Second)
		}
	}
}

// nativeResponseText extracts the assistant's text for the audit
// preview. The native surface already sent raw unchanged to the
// client; TranslateToOpenAI's text-block join is reused here purely to
// build the preview, its other output discarded.
func nativeResponseText(raw []byte) string {
	resp, err := anthropic.TranslateToOpenAI(raw)
	if err != nil || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}
