package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/apperror"
)

// jsonCT is a pre-allocated header value slice. Direct map assignment
// avoids the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

// errorBody is the canonical client-visible error shape.
type errorBody struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      string `json:"code"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

// writeAppError writes the canonical error body for an *apperror.AppError,
// logging the full error (including any wrapped cause) server-side.
func writeAppError(w http.ResponseWriter, ctx context.Context, err *apperror.AppError) {
	slog.LogAttrs(ctx, slog.LevelWarn, "request error",
		slog.String("code", err.Code),
		slog.Int("status", err.Status),
		slog.String("error", err.Error()),
		slog.String("request_id", gateway.RequestIDFromContext(ctx)),
	)

	var body errorBody
	body.Error.Message = err.Message
	body.Error.Type = "invalid_request_error"
	body.Error.Code = err.Code
	body.Error.RequestID = gateway.RequestIDFromContext(ctx)
	writeJSON(w, err.Status, body)
}

// handleErr classifies any error returned by a stage and writes the
// corresponding response. Stages that already raise *apperror.AppError
// pass it straight through; anything else is an unclassified internal
// error.
func handleErr(w http.ResponseWriter, ctx context.Context, err error) {
	var ae *apperror.AppError
	if apperror.As(err, &ae) {
		writeAppError(w, ctx, ae)
		return
	}
	writeAppError(w, ctx, apperror.Internal(err))
}

// handleUpstreamErr classifies an error returned by the upstream provider
// client (§4.14's upstream taxonomy) and writes the corresponding
// response.
func handleUpstreamErr(w http.ResponseWriter, ctx context.Context, err error) {
	writeAppError(w, ctx, apperror.FromUpstream(err))
}
