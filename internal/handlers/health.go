package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/authguard/pkg/http"
)

// HealthCheck pings the backing attempt store
type HealthCheck func(ctx context.Context) error

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	State  string `json:"state"`
}

// HealthHandler reports liveness together with the state of the attempt store
type HealthHandler struct {
	backend string
	check   HealthCheck
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. A nil check always reports up.
func NewHealthHandler(backend string, check HealthCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{backend: backend, check: check, logger: logger}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.check(ctx); err != nil {
			h.logger.Warn("health check failed", slog.String("store", h.backend), slog.Any("error", err))
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Store: h.backend, State: "down"})
			return
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Store: h.backend, State: "up"})
}
