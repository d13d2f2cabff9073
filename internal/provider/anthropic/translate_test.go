package anthropic

import (
	"encoding/json"
	"testing"

	gateway "github.com/dynamoworks/gateway/internal"
)

func TestTranslateRequestExtractsSystemMessage(t *testing.T) {
	maxTok := 100
	req := &gateway.ChatRequest{
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: &maxTok,
		Messages: []gateway.ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
	}

	aReq, err := translateRequest(req, 0)
	if err != nil {
		t.Fatalf("translateRequest: %v", err)
	}
	if aReq.System != "be terse" {
		t.Fatalf("got system %q", aReq.System)
	}
	if len(aReq.Messages) != 1 || aReq.Messages[0].Role != "user" {
		t.Fatalf("expected one user message, got %+v", aReq.Messages)
	}
	if aReq.MaxTokens != 100 {
		t.Fatalf("got max_tokens %d", aReq.MaxTokens)
	}
}

func TestTranslateRequestRejectsEmptyMessages(t *testing.T) {
	if _, err := translateRequest(&gateway.ChatRequest{Model: "x"}, 0); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

func TestTranslateRequestDefaultsMaxTokens(t *testing.T) {
	req := &gateway.ChatRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}},
	}
	aReq, err := translateRequest(req, 0)
	if err != nil {
		t.Fatalf("translateRequest: %v", err)
	}
	if aReq.MaxTokens != defaultMaxTokens {
		t.Fatalf("got %d, want default %d", aReq.MaxTokens, defaultMaxTokens)
	}
}

func TestTranslateRequestUsesConfiguredFallbackMaxTokens(t *testing.T) {
	req := &gateway.ChatRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}},
	}
	aReq, err := translateRequest(req, 8192)
	if err != nil {
		t.Fatalf("translateRequest: %v", err)
	}
	if aReq.MaxTokens != 8192 {
		t.Fatalf("got %d, want configured fallback 8192", aReq.MaxTokens)
	}

	maxTok := 256
	req.MaxTokens = &maxTok
	aReq, err = translateRequest(req, 8192)
	if err != nil {
		t.Fatalf("translateRequest: %v", err)
	}
	if aReq.MaxTokens != 256 {
		t.Fatalf("got %d, want the request's own max_tokens to win over the fallback", aReq.MaxTokens)
	}
}

func TestMergeStopPrefersStopOverStopSequences(t *testing.T) {
	got := mergeStop([]string{"a"}, []string{"b"})
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("got %v", got)
	}
	got = mergeStop(nil, []string{"b"})
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("got %v", got)
	}
}

func TestMapStopReason(t *testing.T) {
	cases := map[string]string{
		"end_turn":      "stop",
		"stop_sequence": "stop",
		"max_tokens":    "length",
		"refusal":       "",
		"":              "",
	}
	for in, want := range cases {
		if got := MapStopReason(in); got != want {
			t.Errorf("MapStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranslateToOpenAIJoinsTextBlocks(t *testing.T) {
	raw := []byte(`{
		"id": "msg_1",
		"model": "claude-sonnet-4-20250514",
		"stop_reason": "end_turn",
		"content": [{"type":"text","text":"hello "},{"type":"text","text":"world"}],
		"usage": {"input_tokens": 10, "output_tokens": 2}
	}`)

	resp, err := TranslateToOpenAI(raw)
	if err != nil {
		t.Fatalf("TranslateToOpenAI: %v", err)
	}
	if resp.Object != "chat.completion" {
		t.Fatalf("got object %q", resp.Object)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hello world" {
		t.Fatalf("got choices %+v", resp.Choices)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("got finish_reason %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 2 {
		t.Fatalf("got usage %+v", resp.Usage)
	}
}

func TestParseUsage(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"usage": map[string]any{"input_tokens": 7, "output_tokens": 3},
	})
	usage := ParseUsage(raw)
	if usage.InputTokens != 7 || usage.OutputTokens != 3 {
		t.Fatalf("got %+v", usage)
	}
}
