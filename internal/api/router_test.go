package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/switchboard/internal/auth"
	"github.com/btouchard/switchboard/internal/lifecycle"
	"github.com/btouchard/switchboard/internal/model"
	"github.com/btouchard/switchboard/internal/ratelimit"
	"github.com/btouchard/switchboard/internal/realtime"
	"github.com/btouchard/switchboard/internal/store"
)

type testEnv struct {
	handler   http.Handler
	store     *store.SQLiteStore
	tokens    *auth.Tokens
	metrics   *realtime.Metrics
	registry  *realtime.Registry
	lifecycle *lifecycle.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &model.User{ID: "a1", Name: "Admin", Email: "admin@example.com", Role: model.RoleAdmin}))
	require.NoError(t, s.CreateUser(ctx, &model.User{ID: "u1", Name: "Una", Email: "una@example.com"}))
	require.NoError(t, s.CreateUser(ctx, &model.User{ID: "u2", Name: "Ugo", Email: "ugo@example.com"}))

	tokens, err := auth.NewTokens("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)

	metrics := realtime.NewMetrics()
	reg := realtime.NewRegistry(metrics.Hooks())
	svc := lifecycle.NewService(s, realtime.NewFanout(reg, metrics))

	gateway := realtime.NewGateway(reg, metrics, realtime.GatewayConfig{Principal: auth.RequestPrincipal})

	h := NewRouter(Deps{
		Store:        s,
		Lifecycle:    svc,
		Tokens:       tokens,
		Limiter:      ratelimit.NewMemory(1000, time.Minute),
		ClientOrigin: "http://localhost:5173",
		Gateway:      gateway,
		Metrics:      metrics,
	})
	return &testEnv{handler: h, store: s, tokens: tokens, metrics: metrics, registry: reg, lifecycle: svc}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		tok, err := e.tokens.Sign(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (e *testEnv) seedRequest(t *testing.T, id, userID string, typ model.RequestType) {
	t.Helper()
	require.NoError(t, e.store.CreateRequest(context.Background(),
		&model.Request{ID: id, Type: typ, UserID: userID},
		&model.Notification{RoleFor: model.RoleAdmin, Message: "new"}))
}

func TestRouter_Health(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, out := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouter_RequiresAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, out := env.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, out["success"])
}

func TestRouter_Me(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, out := env.do(t, http.MethodGet, "/api/me", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user := out["user"].(map[string]any)
	assert.Equal(t, "u1", user["id"])
	assert.Equal(t, "user", user["role"])
}

func TestRouter_SubmitAndListRequests(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, out := env.do(t, http.MethodPost, "/api/requests", "u1", map[string]string{"type": "upload", "note": "docs"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := out["data"].(map[string]any)
	assert.Equal(t, "pending", data["status"])
	id := data["id"].(string)

	env.seedRequest(t, "other", "u2", model.TypeDownload)

	_, out = env.do(t, http.MethodGet, "/api/requests", "u1", nil)
	assert.Len(t, out["data"], 1, "users only see their own requests")

	_, out = env.do(t, http.MethodGet, "/api/requests?type=upload", "a1", nil)
	require.Len(t, out["data"], 1)
	assert.Equal(t, id, out["data"].([]any)[0].(map[string]any)["id"])

	_, out = env.do(t, http.MethodGet, "/api/requests", "a1", nil)
	assert.Len(t, out["data"], 2)
}

func TestRouter_SubmitInvalidType(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/requests", "u1", map[string]string{"type": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_GetRequest_HidesOtherUsers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedRequest(t, "r1", "u1", model.TypeUpload)

	rec, _ := env.do(t, http.MethodGet, "/api/requests/r1", "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/requests/r1", "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/requests/r1", "a1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/requests/missing", "a1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ApproveAndReject(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedRequest(t, "r1", "u1", model.TypeAccount)
	env.seedRequest(t, "r2", "u2", model.TypeUpload)

	rec, _ := env.do(t, http.MethodPost, "/api/requests/r1/approve", "u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, out := env.do(t, http.MethodPost, "/api/requests/r1/approve", "a1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", out["data"].(map[string]any)["status"])

	rec, _ = env.do(t, http.MethodPost, "/api/requests/r1/reject", "a1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, out = env.do(t, http.MethodPost, "/api/requests/r2/reject", "a1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DefaultRejectMessage, out["data"].(map[string]any)["message"])

	rec, _ = env.do(t, http.MethodPost, "/api/requests/nope/approve", "a1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	u1, err := env.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, u1.Verified)

	assert.Equal(t, int64(2), env.metrics.Publishes.Load())
}

func TestRouter_NotificationsPagination(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	for _, id := range []string{"r1", "r2", "r3"} {
		env.seedRequest(t, id, "u1", model.TypeUpload)
	}

	rec, out := env.do(t, http.MethodGet, "/api/notifications?page=1&limit=2", "a1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["data"], 2)
	pg := out["pagination"].(map[string]any)
	assert.Equal(t, float64(3), pg["total"])
	assert.Equal(t, true, pg["hasMore"])

	_, out = env.do(t, http.MethodGet, "/api/notifications?page=2&limit=2", "a1", nil)
	assert.Len(t, out["data"], 1)
	assert.Equal(t, false, out["pagination"].(map[string]any)["hasMore"])

	_, out = env.do(t, http.MethodGet, "/api/notifications?limit=500", "a1", nil)
	assert.Equal(t, float64(maxPageLimit), out["pagination"].(map[string]any)["limit"])

	_, out = env.do(t, http.MethodGet, "/api/notifications", "u1", nil)
	assert.Empty(t, out["data"], "admin-scoped notifications are not in a user feed")
	assert.Equal(t, float64(defaultPageLimit), out["pagination"].(map[string]any)["limit"])
}

func TestRouter_AdminFindAndAdd(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		caller string
		body   any
		status int
	}{
		{"non admin", "/api/admin/find", "u1", map[string]string{"email": "una@example.com"}, http.StatusForbidden},
		{"find missing email", "/api/admin/find", "a1", map[string]string{}, http.StatusBadRequest},
		{"find unknown", "/api/admin/find", "a1", map[string]string{"email": "x@example.com"}, http.StatusNotFound},
		{"find ok", "/api/admin/find", "a1", map[string]string{"email": "una@example.com"}, http.StatusOK},
		{"add already admin", "/api/admin/add", "a1", map[string]string{"email": "admin@example.com"}, http.StatusBadRequest},
		{"add unknown", "/api/admin/add", "a1", map[string]string{"email": "x@example.com"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := env.do(t, http.MethodPost, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec, out := env.do(t, http.MethodPost, "/api/admin/add", "a1", map[string]string{"email": "ugo@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", out["user"].(map[string]any)["role"])

	// The promotion is effective on the next call without a new token.
	rec, _ = env.do(t, http.MethodPost, "/api/admin/find", "u2", map[string]string{"email": "una@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_CORS(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/requests", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	ok := preflight("http://localhost:5173")
	assert.Equal(t, http.StatusNoContent, ok.Code)
	assert.Equal(t, "http://localhost:5173", ok.Header().Get("Access-Control-Allow-Origin"))

	denied := preflight("http://evil.example")
	assert.Equal(t, http.StatusForbidden, denied.Code)
	assert.Empty(t, denied.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_Metrics(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, out := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, out, "active_connections")
}

func TestRouter_RateLimited(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.handler = NewRouter(Deps{
		Store:   env.store,
		Tokens:  env.tokens,
		Limiter: ratelimit.NewMemory(1, time.Minute),
	})

	rec, _ := env.do(t, http.MethodGet, "/api/me", "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/api/me", "u1", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
