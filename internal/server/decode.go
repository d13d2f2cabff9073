package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/apperror"
)

// bodyPool reuses buffers for request body reads, avoiding per-request
// allocations from json.NewDecoder (which cannot be pooled/reset).
var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// maxRequestBody is the maximum allowed request body size (4 MB).
const maxRequestBody = 4 << 20

// decodeRequestBody reads and parses the request body into a
// *gateway.ChatRequest, validating that messages is a non-empty array.
// The scan stage is the first to need the decoded body; everything
// downstream (router, audit-setup, proxy) reads the same decoded value
// back out of the request context instead of re-parsing.
func decodeRequestBody(w http.ResponseWriter, r *http.Request) (*gateway.ChatRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	buf := bodyPool.Get().(*bytes.Buffer)
	defer bodyPool.Put(buf)
	buf.Reset()
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return nil, apperror.InvalidRequest("invalid request body")
	}

	var req gateway.ChatRequest
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		return nil, apperror.InvalidRequest("invalid request body")
	}
	if len(req.Messages) == 0 {
		return nil, apperror.InvalidRequest("messages must be a non-empty array")
	}
	return &req, nil
}

// promptTextFromRequest joins the request's system prompt and every
// message's text content, newline-separated -- the same shape
// audit.ExtractPromptText derives from raw body bytes, adapted to work
// off the already-decoded ChatRequest so downstream stages never
// re-parse the body.
func promptTextFromRequest(req *gateway.ChatRequest) string {
	parts := make([]string, 0, len(req.Messages)+1)
	if req.System != "" {
		parts = append(parts, req.System)
	}
	for _, m := range req.Messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	text := ""
	for i, p := range parts {
		if i > 0 {
			text += "\n"
		}
		text += p
	}
	return text
}

type decodedRequestKey struct{}

// contextWithDecodedRequest stashes the decoded chat request for later
// stages in the pipeline.
func contextWithDecodedRequest(ctx context.Context, req *gateway.ChatRequest) context.Context {
	return context.WithValue(ctx, decodedRequestKey{}, req)
}

// decodedRequestFromContext returns the request stashed by an earlier
// stage, or nil if none has run yet.
func decodedRequestFromContext(ctx context.Context) *gateway.ChatRequest {
	req, _ := ctx.Value(decodedRequestKey{}).(*gateway.ChatRequest)
	return req
}
