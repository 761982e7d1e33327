package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/authguard/internal/auth"
	"github.com/BradenHooton/authguard/internal/handlers"
	"github.com/BradenHooton/authguard/internal/middleware"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/repositories"
	"github.com/BradenHooton/authguard/internal/services"
)

const testSecret = "routes-test-secret-0123456789abcdef"

type testServer struct {
	router *chi.Mux
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T, requestsPerMinute int) *testServer {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	manager := services.NewSecurityManager(repositories.NewMemoryAttemptStore(4), services.DefaultSecurityManagerConfig(),
		services.WithLogger(logger))
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	tokens := auth.NewTokenManager(testSecret, time.Minute)
	router := chi.NewRouter()
	RegisterRoutes(router, Dependencies{
		Security:  handlers.NewSecurityHandler(manager, nil, nil, logger, time.Hour),
		Health:    handlers.NewHealthHandler("memory", nil, logger),
		Tokens:    tokens,
		RateLimit: middleware.RateLimitConfig{RequestsPerMinute: requestsPerMinute},
		Metrics:   promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
	})

	return &testServer{router: router, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "198.51.100.10:5000"
	if role != "" {
		token, err := s.tokens.GenerateToken("caller-1", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

const checkBody = `{"identity":"alice@example.com","kind":"login"}`

func TestRoutes_PublicEndpoints(t *testing.T) {
	s := newTestServer(t, 100)

	w := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_SecurityEndpointsRequireToken(t *testing.T) {
	s := newTestServer(t, 100)

	tests := []struct {
		name       string
		role       string
		wantStatus int
	}{
		{name: "anonymous", role: "", wantStatus: http.StatusUnauthorized},
		{name: "service", role: models.RoleService, wantStatus: http.StatusOK},
		{name: "admin", role: models.RoleAdmin, wantStatus: http.StatusOK},
		{name: "other role", role: "viewer", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/security/rate-limit/check", tt.role, checkBody)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRoutes_AdminEndpointsRequireAdmin(t *testing.T) {
	s := newTestServer(t, 100)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/admin/security/stats", "", "").Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/admin/security/stats", models.RoleService, "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/admin/security/stats", models.RoleAdmin, "").Code)

	w := s.do(t, http.MethodPost, "/admin/security/cleanup", models.RoleAdmin, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"purged":false`)
}

func TestRoutes_LockoutFlow(t *testing.T) {
	s := newTestServer(t, 100)
	failure := `{"identity":"bob@example.com","kind":"login","success":false}`

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/security/attempts", models.RoleService, failure).Code)
	}

	w := s.do(t, http.MethodPost, "/security/rate-limit/check", models.RoleService, `{"identity":"bob@example.com","kind":"login"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":false`)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRoutes_PerIPRateLimit(t *testing.T) {
	s := newTestServer(t, 2)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/security/rate-limit/check", models.RoleService, checkBody).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/security/rate-limit/check", models.RoleService, checkBody).Code)

	w := s.do(t, http.MethodPost, "/security/rate-limit/check", models.RoleService, checkBody)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	// the limiter only guards the attempt endpoints
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", "").Code)
}
