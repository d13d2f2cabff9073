package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/dynamoworks/gateway/internal"
)

// defaultMaxTokens is used only if neither the request nor the caller's
// configured UPSTREAM_MAX_TOKENS fallback supplied one.
const defaultMaxTokens = 4096

// anthropicRequest is the Anthropic Messages API request body.
type anthropicRequest struct {
	Model         string         `json:"model"`
	MaxTokens     int            `json:"max_tokens"`
	Messages      []anthropicMsg `json:"messages"`
	System        string         `json:"system,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	TopK          *int           `json:"top_k,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// translateRequest converts the gateway's normalized ChatRequest (shared by
// both the chat-completion and native surfaces) to an Anthropic Messages
// API request. fallbackMaxTokens is used when the request itself specifies
// no max_tokens; pass 0 to fall back to defaultMaxTokens.
func translateRequest(req *gateway.ChatRequest, fallbackMaxTokens int) (*anthropicRequest, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages must not be empty")
	}
	if fallbackMaxTokens <= 0 {
		fallbackMaxTokens = defaultMaxTokens
	}

	out := &anthropicRequest{
		Model:         req.Model,
		MaxTokens:     fallbackMaxTokens,
		System:        req.System,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		Stream:        req.Stream,
		StopSequences: mergeStop(req.Stop, req.StopSequences),
		Metadata:      req.Metadata,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			out.System = m.Content
			continue
		}
		out.Messages = append(out.Messages, anthropicMsg{Role: m.Role, Content: m.Content})
	}
	if len(out.Messages) == 0 {
		return nil, fmt.Errorf("messages must contain at least one user or assistant turn")
	}
	return out, nil
}

// mergeStop prefers the chat-completion surface's stop field, falling back
// to the native surface's stop_sequences when stop is empty.
func mergeStop(stop, stopSequences []string) []string {
	if len(stop) > 0 {
		return stop
	}
	return stopSequences
}

func marshalRequest(aReq *anthropicRequest) ([]byte, error) {
	return json.Marshal(aReq)
}

// TranslateToOpenAI reshapes a raw Anthropic Messages API response into the
// chat-completion surface's response shape. The native surface instead
// passes raw through unchanged.
func TranslateToOpenAI(raw []byte) (*gateway.ChatResponse, error) {
	result := gjson.ParseBytes(raw)
	if !result.Exists() {
		return nil, fmt.Errorf("anthropic: empty response")
	}

	id := result.Get("id").String()
	model := result.Get("model").String()
	finishReason := MapStopReason(result.Get("stop_reason").String())

	var text strings.Builder
	result.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
		}
		return true
	})

	usage := parseUsageResult(result.Get("usage"))

	return &gateway.ChatResponse{
		ID:     id,
		Object: "chat.completion",
		Model:  model,
		Choices: []gateway.Choice{{
			Index:        0,
			Message:      gateway.ChatMessage{Role: "assistant", Content: text.String()},
			FinishReason: finishReason,
		}},
		Usage: &usage,
	}, nil
}

// ParseUsage extracts the reported token usage from a raw Anthropic
// Messages API response, for the native surface (which otherwise never
// decodes the body) to feed into usage recording and audit.
func ParseUsage(raw []byte) gateway.ChatUsage {
	return parseUsageResult(gjson.GetBytes(raw, "usage"))
}

func parseUsageResult(u gjson.Result) gateway.ChatUsage {
	return gateway.ChatUsage{
		InputTokens:  int(u.Get("input_tokens").Int()),
		OutputTokens: int(u.Get("output_tokens").Int()),
	}
}

// MapStopReason converts an Anthropic stop_reason to the chat-completion
// surface's finish_reason vocabulary. Unrecognized reasons map to "",
// serialized as JSON null by the response writer.
func MapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return ""
	}
}
