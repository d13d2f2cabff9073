package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/budget"
	"github.com/dynamoworks/gateway/internal/testutil"
)

func nativeMessagesRequest(t *testing.T, stream bool, maxTokens *int) *http.Request {
	t.Helper()
	payload := map[string]any{
		"model":    "claude-sonnet-4-20250514",
		"stream":   stream,
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	}
	if maxTokens != nil {
		payload["max_tokens"] = *maxTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	rc := &gateway.RequestContext{UserID: "u1", Role: "business", RequestID: "req-native", StartTime: time.Now()}
	ctx := gateway.ContextWithRequestContext(req.Context(), rc)
	decoded := &gateway.ChatRequest{
		Model:     "claude-sonnet-4-20250514",
		Stream:    stream,
		MaxTokens: maxTokens,
		Messages:  []gateway.ChatMessage{{Role: "user", Content: "hi"}},
	}
	ctx = contextWithDecodedRequest(ctx, decoded)
	return req.WithContext(ctx)
}

func TestHandleNativeMessagesRequiresMaxTokens(t *testing.T) {
	s, _, closeSrv := newProxyTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be called when max_tokens is missing")
	})
	defer closeSrv()

	rec := httptest.NewRecorder()
	s.handleNativeMessages(rec, nativeMessagesRequest(t, false, nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleNativeMessagesPassesBodyThroughUnchanged(t *testing.T) {
	s, fake, closeSrv := newProxyTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(fakeAnthropicMessage))
	})
	defer closeSrv()

	maxTok := 512
	rec := httptest.NewRecorder()
	s.handleNativeMessages(rec, nativeMessagesRequest(t, false, &maxTok))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != fakeAnthropicMessage {
		t.Errorf("expected the raw upstream body to pass through unchanged, got %s", rec.Body.String())
	}

	s.deps.Worker.Drain(t.Context())

	usage, err := fake.GetCurrentUsage(t.Context(), "u1", budget.CurrentPeriodStart(time.Now()))
	if err != nil {
		t.Fatalf("GetCurrentUsage: %v", err)
	}
	if usage != 15 {
		t.Errorf("recorded usage = %d, want 15", usage)
	}
}

func TestHandleNativeMessagesStreamPassesEventsThrough(t *testing.T) {
	frames := "" +
		"event: message_start\n" +
		`data: {"message":{"id":"msg_1","model":"claude-sonnet-4-20250514","usage":{"input_tokens":10}}}` + "\n\n" +
		"event: content_block_delta\n" +
		`data: {"delta":{"type":"text_delta","text":"hi"}}` + "\n\n" +
		"event: message_stop\n" +
		`data: {}` + "\n\n"

	s, _, closeSrv := newProxyTestServer(t, testutil.SSEResponse(frames))
	defer closeSrv()

	maxTok := 512
	rec := httptest.NewRecorder()
	s.handleNativeMessages(rec, nativeMessagesRequest(t, true, &maxTok))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("event: content_block_delta")) {
		t.Error("expected the raw event type to pass through unchanged")
	}

	s.deps.Worker.Drain(t.Context())
}
