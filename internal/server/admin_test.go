package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/apikey"
	"github.com/dynamoworks/gateway/internal/budget"
	"github.com/dynamoworks/gateway/internal/catalog"
	"github.com/dynamoworks/gateway/internal/store"
	"github.com/dynamoworks/gateway/internal/testutil"
)

// chiWithRouteContext installs a chi route context on req's context so
// chi.URLParam resolves in handlers exercised directly, bypassing the router.
func chiWithRouteContext(req *http.Request, rctx *chi.Context) context.Context {
	return context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
}

func newAdminTestServer(t *testing.T) (*server, *testutil.FakeStore) {
	t.Helper()
	fake := testutil.NewFakeStore()
	keys, err := apikey.New(fake)
	if err != nil {
		t.Fatalf("apikey.New: %v", err)
	}
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	return &server{deps: Deps{
		APIKeys: keys,
		Budget:  budget.New(fake, cat),
		Catalog: cat,
		Store:   &store.Store{}, // unconfigured; admin.go checks Configured()
	}}, fake
}

func TestHandleGetUserBudgetSelfAccess(t *testing.T) {
	s, _ := newAdminTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/budget/alice", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("userId", "alice")
	req = req.WithContext(chiWithRouteContext(req, rctx))
	rc := &gateway.RequestContext{UserID: "alice", Role: "business"}
	req = req.WithContext(gateway.ContextWithRequestContext(req.Context(), rc))

	rec := httptest.NewRecorder()
	s.handleGetUserBudget(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetUserBudgetForbiddenCrossUser(t *testing.T) {
	s, _ := newAdminTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/budget/bob", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("userId", "bob")
	req = req.WithContext(chiWithRouteContext(req, rctx))
	rc := &gateway.RequestContext{UserID: "alice", Role: "business"}
	req = req.WithContext(gateway.ContextWithRequestContext(req.Context(), rc))

	rec := httptest.NewRecorder()
	s.handleGetUserBudget(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHandleGetUserBudgetAdminCrossAccess(t *testing.T) {
	s, _ := newAdminTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/budget/bob", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("userId", "bob")
	req = req.WithContext(chiWithRouteContext(req, rctx))
	rc := &gateway.RequestContext{UserID: "admin-user", Role: "admin"}
	req = req.WithContext(gateway.ContextWithRequestContext(req.Context(), rc))

	rec := httptest.NewRecorder()
	s.handleGetUserBudget(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleBudgetSummaryUnconfiguredStoreReturnsEmpty(t *testing.T) {
	s, _ := newAdminTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/budget/admin/summary", nil)
	rec := httptest.NewRecorder()
	s.handleBudgetSummary(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	data, ok := out["data"].([]any)
	if !ok || len(data) != 0 {
		t.Errorf("data = %v, want empty slice", out["data"])
	}
}

func TestHandleCreateAPIKeyRequiresEmail(t *testing.T) {
	s, _ := newAdminTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/api-keys", strings.NewReader(`{"role":"engineer"}`))
	rec := httptest.NewRecorder()
	s.handleCreateAPIKey(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleCreateAPIKeyNeverLeaksKeyHash(t *testing.T) {
	s, _ := newAdminTestServer(t)

	body, err := json.Marshal(map[string]string{"email": "alice@example.com", "role": "engineer"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/api-keys", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleCreateAPIKey(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, present := out["keyHash"]; present {
		t.Error("response body must never contain keyHash")
	}
	if _, present := out["KeyHash"]; present {
		t.Error("response body must never contain KeyHash")
	}
	if out["key"] == nil || out["key"] == "" {
		t.Error("expected the raw key to be present exactly once, in the key field")
	}
}

func TestHandleListAndRevokeAndRotateAPIKey(t *testing.T) {
	s, _ := newAdminTestServer(t)

	createBody, err := json.Marshal(map[string]string{"email": "carol@example.com", "role": "engineer"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	createReq := httptest.NewRequest(http.MethodPost, "/v1/admin/api-keys", bytes.NewReader(createBody))
	createRec := httptest.NewRecorder()
	s.handleCreateAPIKey(createRec, createReq)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", createRec.Code, createRec.Body.String())
	}
	var created createAPIKeyResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Unmarshal created: %v", err)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/v1/admin/api-keys", nil)
	listRec := httptest.NewRecorder()
	s.handleListAPIKeys(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", listRec.Code, listRec.Body.String())
	}
	if !strings.Contains(listRec.Body.String(), "carol@example.com") {
		t.Error("expected the created key to show up in the list")
	}
	if strings.Contains(listRec.Body.String(), created.Key) {
		t.Error("list response must never include the raw key")
	}

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", created.APIKey.ID)
	rotateReq := httptest.NewRequest(http.MethodPost, "/v1/admin/api-keys/"+created.APIKey.ID+"/rotate", nil)
	rotateReq = rotateReq.WithContext(chiWithRouteContext(rotateReq, rctx))
	rotateRec := httptest.NewRecorder()
	s.handleRotateAPIKey(rotateRec, rotateReq)
	if rotateRec.Code != http.StatusOK {
		t.Fatalf("rotate status = %d, body = %s", rotateRec.Code, rotateRec.Body.String())
	}

	var rotated createAPIKeyResponse
	if err := json.Unmarshal(rotateRec.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("Unmarshal rotated: %v", err)
	}
	if rotated.Key == created.Key {
		t.Error("rotate must issue a new raw key")
	}

	revokeRctx := chi.NewRouteContext()
	revokeRctx.URLParams.Add("id", rotated.APIKey.ID)
	revokeReq := httptest.NewRequest(http.MethodDelete, "/v1/admin/api-keys/"+rotated.APIKey.ID, nil)
	revokeReq = revokeReq.WithContext(chiWithRouteContext(revokeReq, revokeRctx))
	revokeRec := httptest.NewRecorder()
	s.handleRevokeAPIKey(revokeRec, revokeReq)
	if revokeRec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d, body = %s", revokeRec.Code, revokeRec.Body.String())
	}
	if !strings.Contains(revokeRec.Body.String(), `"revoked":true`) {
		t.Errorf("expected revoked=true, got %s", revokeRec.Body.String())
	}
}
