package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/authguard/internal/auth"
	"github.com/BradenHooton/authguard/internal/handlers"
	"github.com/BradenHooton/authguard/internal/middleware"
	"github.com/BradenHooton/authguard/internal/models"
)

// Dependencies are the handlers and guards the routes are built from
type Dependencies struct {
	Security  *handlers.SecurityHandler
	Health    *handlers.HealthHandler
	Tokens    auth.TokenValidator
	RateLimit middleware.RateLimitConfig
	// Metrics serves the Prometheus scrape endpoint; nil leaves /metrics unregistered
	Metrics http.Handler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	// Public routes - no authentication required
	router.Get("/health", deps.Health.Health)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// Called by the auth server on every attempt
	router.Route("/security", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(deps.RateLimit))
		r.Use(auth.Authenticate(deps.Tokens))
		r.Use(auth.RequireRole(models.RoleService, models.RoleAdmin))

		r.Post("/rate-limit/check", deps.Security.CheckRateLimit)
		r.Post("/attempts", deps.Security.RecordAttempt)
		r.Post("/risk", deps.Security.AssessRisk)
		r.Post("/password-strength", deps.Security.CheckPasswordStrength)
	})

	// Admin-only routes
	router.Route("/admin/security", func(r chi.Router) {
		r.Use(auth.Authenticate(deps.Tokens))
		r.Use(auth.RequireRole(models.RoleAdmin))

		r.Get("/stats", deps.Security.GetStats)
		r.Post("/cleanup", deps.Security.Cleanup)
	})
}
