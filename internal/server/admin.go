package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/apperror"
	"github.com/dynamoworks/gateway/internal/budget"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// requireAdmin gates the admin group on role == admin, run after
// authenticate has populated the request context.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := gateway.RequestContextFrom(r.Context())
		if rc.Role != "admin" {
			handleErr(w, r.Context(), apperror.Forbidden("admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

func decodeAdminJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		handleErr(w, r.Context(), apperror.InvalidRequest("invalid request body"))
		return false
	}
	return true
}

// --- Budget surface ---

// keyHint is the list-safe view of an issued key: no hash, prefix only.
type keyHint struct {
	ID         string  `json:"id"`
	UserID     string  `json:"userId"`
	UserEmail  string  `json:"userEmail"`
	KeyPrefix  string  `json:"keyPrefix"`
	Role       string  `json:"role"`
	CreatedAt  string  `json:"createdAt"`
	LastUsedAt *string `json:"lastUsedAt,omitempty"`
	RevokedAt  *string `json:"revokedAt,omitempty"`
	IsActive   bool    `json:"isActive"`
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

func toKeyHint(k *gateway.APIKey) keyHint {
	h := keyHint{
		ID:        k.ID,
		UserID:    k.UserID,
		UserEmail: k.UserEmail,
		KeyPrefix: k.KeyPrefix,
		Role:      k.Role,
		CreatedAt: k.CreatedAt.UTC().Format(rfc3339),
		IsActive:  k.IsActive,
	}
	if k.LastUsedAt != nil {
		v := k.LastUsedAt.UTC().Format(rfc3339)
		h.LastUsedAt = &v
	}
	if k.RevokedAt != nil {
		v := k.RevokedAt.UTC().Format(rfc3339)
		h.RevokedAt = &v
	}
	return h
}

// handleGetUserBudget serves GET /v1/budget/:userId. Self-access is
// always allowed; accessing another user's budget requires admin.
func (s *server) handleGetUserBudget(w http.ResponseWriter, r *http.Request) {
	rc := gateway.RequestContextFrom(r.Context())
	userID := chi.URLParam(r, "userId")
	if userID != rc.UserID && rc.Role != "admin" {
		handleErr(w, r.Context(), apperror.Forbidden("cannot access another user's budget"))
		return
	}

	role := rc.Role
	if userID != rc.UserID {
		// Looking up another user's role requires the stored profile;
		// falls back to the default role when unknown or unconfigured.
		role = gateway.DefaultRole
		if s.deps.Store.Configured() {
			if p, err := s.deps.Store.GetProfile(r.Context(), userID); err == nil && p != nil {
				role = p.Role
			}
		}
	}

	status, err := s.deps.Budget.GetUserBudget(r.Context(), userID, role)
	if err != nil {
		handleErr(w, r.Context(), apperror.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleBudgetSummary serves GET /v1/budget/admin/summary: every user
// with a counter row in the current period, ordered by usage.
func (s *server) handleBudgetSummary(w http.ResponseWriter, r *http.Request) {
	periodStart := budget.CurrentPeriodStart(time.Now())
	var statuses []gateway.BudgetStatus
	if s.deps.Store.Configured() {
		rows, err := s.deps.Store.ListBudgetedUsers(r.Context(), periodStart)
		if err != nil {
			handleErr(w, r.Context(), apperror.Internal(err))
			return
		}
		statuses = rows
	}
	for i := range statuses {
		pct, warning, exceeded := budget.EvaluateBudget(statuses[i].CurrentUsage, statuses[i].MonthlyLimit)
		statuses[i].PeriodStart = periodStart
		statuses[i].PercentUsed = pct
		statuses[i].Warning = warning
		statuses[i].Exceeded = exceeded
	}
	if statuses == nil {
		statuses = []gateway.BudgetStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": statuses})
}

// --- Admin API-key surface ---

type createAPIKeyRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type createAPIKeyResponse struct {
	*gateway.APIKey
	Key string `json:"key"`
}

func (s *server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if !decodeAdminJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		handleErr(w, r.Context(), apperror.InvalidRequest("email is required"))
		return
	}
	if req.Role == "" {
		req.Role = gateway.DefaultRole
	}

	raw, key, err := s.deps.APIKeys.Create(r.Context(), req.Email, req.Role)
	if err != nil {
		handleErr(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{APIKey: key, Key: raw})
}

func (s *server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	userID := r.URL.Query().Get("userId")

	keys, err := s.deps.APIKeys.List(r.Context(), userID, offset, limit)
	if err != nil {
		handleErr(w, r.Context(), err)
		return
	}
	hints := make([]keyHint, len(keys))
	for i, k := range keys {
		hints[i] = toKeyHint(k)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": hints})
}

func (s *server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	changed, err := s.deps.APIKeys.Revoke(r.Context(), id)
	if err != nil {
		handleErr(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": changed})
}

func (s *server) handleRotateAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	raw, key, err := s.deps.APIKeys.Rotate(r.Context(), id)
	if err != nil {
		handleErr(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, createAPIKeyResponse{APIKey: key, Key: raw})
}
