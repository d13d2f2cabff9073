// Package apperror defines the canonical error taxonomy (C15) and the
// client-visible error shape used across the request pipeline.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a stage-raised error carrying an author-chosen taxonomy
// code and the HTTP status it maps to. Stages wrap sentinel errors in an
// AppError at the point they raise them; no stage attempts local
// recovery of another stage's error (they propagate to the top-level
// handler unchanged).
type AppError struct {
	Code    string
	Message string
	Status  int
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.cause }

// New builds an AppError with no wrapped cause.
func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// Wrap builds an AppError that wraps an underlying cause (preserved for
// logging via errors.Unwrap, never exposed to the client).
func Wrap(code, message string, status int, cause error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, cause: cause}
}

// Canonical application-level codes (author-chosen, per §4.14/§7).
const (
	CodeInvalidRequest       = "invalid_request"
	CodeForbidden            = "forbidden"
	CodeNotFound             = "not_found"
	CodeInvalidAPIKey        = "invalid_api_key"
	CodeInvalidToken         = "invalid_token"
	CodeAuthRequired         = "auth_required"
	CodeSensitiveDataBlocked = "sensitive_data_blocked"
	CodeBudgetExceeded       = "budget_exceeded"
	CodeRateLimited          = "rate_limited"
	CodeUpstreamAuthError    = "upstream_auth_error"
	CodeAPIOverloaded        = "api_overloaded"
	CodeUpstreamError        = "upstream_error"
	CodeInternalError        = "internal_error"
)

// Constructors for the common application errors, so call sites read as
// what happened rather than a bare New(...) with a magic status.

func InvalidRequest(msg string) *AppError {
	return New(CodeInvalidRequest, msg, http.StatusBadRequest)
}

func Forbidden(msg string) *AppError {
	return New(CodeForbidden, msg, http.StatusForbidden)
}

func NotFound(msg string) *AppError {
	return New(CodeNotFound, msg, http.StatusNotFound)
}

func InvalidAPIKey(msg string) *AppError {
	return New(CodeInvalidAPIKey, msg, http.StatusUnauthorized)
}

func InvalidToken(msg string) *AppError {
	return New(CodeInvalidToken, msg, http.StatusUnauthorized)
}

func AuthRequired() *AppError {
	return New(CodeAuthRequired, "authentication required", http.StatusUnauthorized)
}

func SensitiveDataBlocked(msg string) *AppError {
	return New(CodeSensitiveDataBlocked, msg, http.StatusBadRequest)
}

func BudgetExceeded(msg string) *AppError {
	return New(CodeBudgetExceeded, msg, http.StatusTooManyRequests)
}

// httpStatusError is implemented by upstream API errors that carry a
// concrete HTTP status code (see internal/provider.APIError).
type httpStatusError interface {
	HTTPStatus() int
}

// FromUpstream classifies an error returned by the upstream provider
// client into the canonical upstream taxonomy, grounded on the weighted
// error classification the teacher used for circuit-breaker scoring:
// 401/403 is an upstream auth failure, 429 is a rate limit, 503 is
// overload, everything else server-side is a generic upstream error, and
// anything the upstream reports as a client error (4xx other than 429) is
// surfaced with its original status rather than forced to 502.
func FromUpstream(err error) *AppError {
	var he httpStatusError
	if errors.As(err, &he) {
		status := he.HTTPStatus()
		switch {
		case status == 401 || status == 403:
			return Wrap(CodeUpstreamAuthError, "upstream authentication failed", http.StatusBadGateway, err)
		case status == 429:
			return Wrap(CodeRateLimited, "upstream rate limit exceeded", http.StatusBadGateway, err)
		case status == 503:
			return Wrap(CodeAPIOverloaded, "upstream overloaded", http.StatusBadGateway, err)
		case status >= 400 && status < 500:
			return Wrap(CodeUpstreamError, "upstream rejected the request", status, err)
		default:
			return Wrap(CodeUpstreamError, "upstream error", http.StatusBadGateway, err)
		}
	}
	return Wrap(CodeUpstreamError, "upstream error", http.StatusBadGateway, err)
}

// Internal wraps an unclassified error as a 500 for the top-level handler.
func Internal(err error) *AppError {
	return Wrap(CodeInternalError, "internal error", http.StatusInternalServerError, err)
}

// As is a thin re-export so call sites don't need a second errors import
// alongside this package.
func As(err error, target **AppError) bool {
	return errors.As(err, target)
}
