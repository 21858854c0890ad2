package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyforge/keyforge/internal/metrics"
	"github.com/keyforge/keyforge/internal/service"
	"github.com/keyforge/keyforge/internal/store"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r.Context()); id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if respID := rr.Header().Get("X-Request-ID"); respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestRequestIDReplacesOversizedID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 500))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Len(t, rr.Header().Get("X-Request-ID"), 36)
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Authenticate / RequireAdmin tests
// ---------------------------------------------------------------------------

type authEnv struct {
	auth  *service.AuthService
	store *store.Store
	mr    *miniredis.Miniredis
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	s, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mr := miniredis.RunT(t)
	revoker, err := service.NewRedisRevoker(context.Background(), service.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { revoker.Close() })

	auth := service.NewAuthService(s, service.AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "admin-pass",
		SessionSecret: "middleware-test-secret",
	}, revoker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &authEnv{auth: auth, store: s, mr: mr}
}

func (e *authEnv) session(t *testing.T, id service.Identity) string {
	t.Helper()
	token, _, err := e.auth.IssueSession(context.Background(), id)
	require.NoError(t, err)
	return token
}

func identityEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := service.IdentityFrom(r.Context())
		w.Write([]byte(string(id.Role) + ":" + id.Username))
	})
}

func TestAuthenticateValidSession(t *testing.T) {
	env := newAuthEnv(t)
	handler := Authenticate(env.auth)(identityEcho())

	req := httptest.NewRequest("GET", "/dashboard/keys", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: env.session(t, service.AdminIdentity("admin"))})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "admin:admin", rr.Body.String())
}

func TestAuthenticateMissingCookieJSON(t *testing.T) {
	env := newAuthEnv(t)
	handler := Authenticate(env.auth)(identityEcho())

	req := httptest.NewRequest("GET", "/dashboard/keys", nil)
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(401), body["error"]["code"])
}

func TestAuthenticateRedirectsBrowsers(t *testing.T) {
	env := newAuthEnv(t)
	handler := Authenticate(env.auth)(identityEcho())

	req := httptest.NewRequest("GET", "/dashboard/keys", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "garbage"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, LoginPath, rr.Header().Get("Location"))
}

func TestAuthenticateRejectsRevokedSession(t *testing.T) {
	env := newAuthEnv(t)
	handler := Authenticate(env.auth)(identityEcho())
	token := env.session(t, service.AdminIdentity("admin"))
	require.NoError(t, env.auth.Logout(context.Background(), token))

	req := httptest.NewRequest("GET", "/dashboard/keys", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthenticateRevocationStoreDown(t *testing.T) {
	env := newAuthEnv(t)
	handler := Authenticate(env.auth)(identityEcho())
	token := env.session(t, service.AdminIdentity("admin"))
	env.mr.Close()

	req := httptest.NewRequest("GET", "/dashboard/keys", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRequireAdminAllowsAdmins(t *testing.T) {
	called := false
	handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("GET", "/dashboard/moderators", nil)
	req = req.WithContext(service.WithIdentity(req.Context(), service.AdminIdentity("admin")))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireAdminBlocksModerators(t *testing.T) {
	handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for moderators")
	}))

	req := httptest.NewRequest("GET", "/dashboard/moderators", nil)
	req = req.WithContext(service.WithIdentity(req.Context(), service.ModeratorIdentity("m-1", "alice")))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireAdminBlocksUnauthenticated(t *testing.T) {
	handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without an identity")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/dashboard/moderators", nil))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

// ---------------------------------------------------------------------------
// Logger / RateLimit tests
// ---------------------------------------------------------------------------

func TestLoggerRecordsRequests(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := metrics.New()

	handler := Logger(logger, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/verify", nil))

	assert.Contains(t, buf.String(), `"status":404`)
	assert.Contains(t, buf.String(), `"bytes":4`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `keyforge_http_requests_total{method="GET",status="4xx"} 1`)
}

func TestRateLimitRejectsExcess(t *testing.T) {
	handler := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/activate", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimitDisabled(t *testing.T) {
	handler := RateLimit(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 50; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		require.Equal(t, http.StatusOK, rr.Code)
	}
}
