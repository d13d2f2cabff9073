package anthropic

import (
	"context"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/provider/sseutil"
)

// readStream reads Anthropic SSE events off body and emits one
// gateway.StreamEvent per event, decoding the subset of fields the
// chat-completion surface needs to reshape the stream while preserving
// Raw/Type for the native surface's verbatim passthrough. Every upstream
// event type is forwarded, including ones neither surface inspects
// (ping, content_block_start, content_block_stop), since native
// passthrough must reproduce the upstream stream unchanged.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- gateway.StreamEvent) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)
	var currentEvent string
	for scanner.Scan() {
		line := scanner.Text()
		event, data, ok := sseutil.ParseSSELine(line)
		if !ok {
			continue
		}
		if event != "" {
			currentEvent = event
			continue
		}
		if data == "" {
			continue
		}

		evt := decodeEvent(currentEvent, data)
		select {
		case ch <- evt:
		case <-ctx.Done():
			ch <- gateway.StreamEvent{Err: ctx.Err()}
			return
		}
		if evt.Done {
			return
		}
		currentEvent = ""
	}
	if err := scanner.Err(); err != nil {
		ch <- gateway.StreamEvent{Err: fmt.Errorf("anthropic: read stream: %w", err)}
	}
}

// decodeEvent extracts the fields relevant to downstream consumers from
// one upstream SSE event, without discarding the raw payload.
func decodeEvent(eventType, data string) gateway.StreamEvent {
	evt := gateway.StreamEvent{Type: eventType, Raw: []byte(data)}
	r := gjson.Parse(data)
	switch eventType {
	case "message_start":
		evt.MessageID = r.Get("message.id").String()
		evt.Model = r.Get("message.model").String()
		evt.InputTokens = int(r.Get("message.usage.input_tokens").Int())
	case "content_block_delta":
		if r.Get("delta.type").String() == "text_delta" {
			evt.TextDelta = r.Get("delta.text").String()
		}
	case "message_delta":
		evt.OutputTokens = int(r.Get("usage.output_tokens").Int())
		evt.StopReason = r.Get("delta.stop_reason").String()
	case "message_stop":
		evt.Done = true
	}
	return evt
}
