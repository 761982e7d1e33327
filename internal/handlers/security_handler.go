package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/authguard/internal/auth"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/repositories"
	pkghttp "github.com/BradenHooton/authguard/pkg/http"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// SecurityService is the security core as seen by HTTP handlers
type SecurityService interface {
	CheckRateLimit(ctx context.Context, identity string, kind models.AttemptKind, actx models.AttemptContext) (models.RateLimitDecision, error)
	LogAttempt(ctx context.Context, identity string, success bool, kind models.AttemptKind, actx models.AttemptContext) error
	AssessRisk(ctx context.Context, identity string, actx models.AttemptContext) models.RiskAssessment
	GetChallengeConfig(a models.RiskAssessment) models.ChallengeConfig
	CheckPasswordStrengthLocalized(candidate, locale string, userInputs ...string) models.PasswordStrength
	GetSecurityStats(ctx context.Context) (models.SecurityStats, error)
	Cleanup(ctx context.Context, maxAge time.Duration) (repositories.EvictResult, error)
}

// ClientContext is the end-user network metadata a calling auth server may forward.
// Missing fields stay empty unless request fallback is enabled on the handler.
type ClientContext struct {
	IPAddress string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent" validate:"max=512"`
}

// RateLimitCheckRequest asks whether identity may attempt kind
type RateLimitCheckRequest struct {
	Identity string `json:"identity" validate:"required,max=320"`
	Kind     string `json:"kind" validate:"required,oneof=login register password_reset"`
	ClientContext
}

// RecordAttemptRequest reports the outcome of an authentication attempt
type RecordAttemptRequest struct {
	Identity string `json:"identity" validate:"required,max=320"`
	Kind     string `json:"kind" validate:"required,oneof=login register password_reset"`
	Success  *bool  `json:"success" validate:"required"`
	ClientContext
}

// RiskRequest asks for a risk assessment; identity may be unknown yet
type RiskRequest struct {
	Identity string `json:"identity" validate:"max=320"`
	ClientContext
}

// RiskResponse pairs the assessment with the challenge the widget should show
type RiskResponse struct {
	Assessment models.RiskAssessment  `json:"assessment"`
	Challenge  models.ChallengeConfig `json:"challenge"`
}

// PasswordStrengthRequest carries a candidate credential. Identity only feeds the guess estimate.
type PasswordStrengthRequest struct {
	Candidate string `json:"candidate" validate:"max=256"`
	Locale    string `json:"locale" validate:"omitempty,max=16"`
	Identity  string `json:"identity" validate:"max=320"`
}

// CleanupRequest overrides the retention horizon; zero purges everything
type CleanupRequest struct {
	MaxAgeSeconds *int64 `json:"max_age_seconds" validate:"omitempty,gte=0"`
}

// CleanupResponse reports what a cleanup removed
type CleanupResponse struct {
	Purged            bool  `json:"purged"`
	AttemptsRemoved   int64 `json:"attempts_removed"`
	IdentitiesRemoved int64 `json:"identities_removed"`
	LockoutsExpired   int64 `json:"lockouts_expired"`
}

// SecurityHandler exposes the security core over HTTP
type SecurityHandler struct {
	service   SecurityService
	ipConfig  *pkghttp.IPConfig
	audit     *pkglogger.AuditLogger
	logger    *slog.Logger
	retention time.Duration
	now       func() time.Time

	requestFallback bool
}

// NewSecurityHandler creates a SecurityHandler. retention is the default cleanup horizon.
func NewSecurityHandler(service SecurityService, ipConfig *pkghttp.IPConfig, audit *pkglogger.AuditLogger, logger *slog.Logger, retention time.Duration) *SecurityHandler {
	return &SecurityHandler{
		service:   service,
		ipConfig:  ipConfig,
		audit:     audit,
		logger:    logger,
		retention: retention,
		now:       time.Now,
	}
}

// WithRequestContextFallback makes missing ip_address/user_agent fall back to
// the HTTP request's own values. Use it only when end users call the API directly;
// behind an auth backend every user would share the backend's address.
func (h *SecurityHandler) WithRequestContextFallback(enabled bool) *SecurityHandler {
	h.requestFallback = enabled
	return h
}

// CheckRateLimit handles POST /security/rate-limit/check. A locked identity
// still gets 200 with the decision; Retry-After tells the caller how long to wait.
func (h *SecurityHandler) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	var req RateLimitCheckRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	decision, err := h.service.CheckRateLimit(r.Context(), req.Identity, models.AttemptKind(req.Kind), h.attemptContext(r, req.ClientContext))
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.SetRetryAfter(w, decision.RetryAfter(h.now()))
	pkghttp.WriteJSON(w, http.StatusOK, decision)
}

// RecordAttempt handles POST /security/attempts
func (h *SecurityHandler) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	var req RecordAttemptRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.LogAttempt(r.Context(), req.Identity, *req.Success, models.AttemptKind(req.Kind), h.attemptContext(r, req.ClientContext))
	if err != nil {
		h.logger.Error("failed to record attempt", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AssessRisk handles POST /security/risk
func (h *SecurityHandler) AssessRisk(w http.ResponseWriter, r *http.Request) {
	var req RiskRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	assessment := h.service.AssessRisk(r.Context(), req.Identity, h.attemptContext(r, req.ClientContext))
	pkghttp.WriteJSON(w, http.StatusOK, RiskResponse{
		Assessment: assessment,
		Challenge:  h.service.GetChallengeConfig(assessment),
	})
}

// CheckPasswordStrength handles POST /security/password-strength
func (h *SecurityHandler) CheckPasswordStrength(w http.ResponseWriter, r *http.Request) {
	var req PasswordStrengthRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	locale := req.Locale
	if locale == "" {
		locale = r.Header.Get("Accept-Language")
	}

	var userInputs []string
	if req.Identity != "" {
		userInputs = append(userInputs, req.Identity)
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.service.CheckPasswordStrengthLocalized(req.Candidate, locale, userInputs...))
}

// GetStats handles GET /admin/security/stats
func (h *SecurityHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetSecurityStats(r.Context())
	if err != nil {
		h.logger.Error("failed to build security stats", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// Cleanup handles POST /admin/security/cleanup. An empty body applies the
// configured retention; max_age_seconds=0 purges the ledger.
func (h *SecurityHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	maxAge := h.retention
	if r.ContentLength != 0 {
		var req CleanupRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		if req.MaxAgeSeconds != nil {
			maxAge = time.Duration(*req.MaxAgeSeconds) * time.Second
		}
	}

	res, err := h.service.Cleanup(r.Context(), maxAge)
	if err != nil {
		h.logger.Error("security cleanup failed", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	purged := maxAge <= 0
	if h.audit != nil {
		actor := ""
		if claims := auth.GetClaimsFromContext(r.Context()); claims != nil {
			actor = claims.UserID
		}
		h.audit.LogAdminAction(r.Context(), "security_cleanup", actor, pkghttp.ExtractClientIP(r, h.ipConfig), map[string]string{
			"max_age":          maxAge.String(),
			"purged":           strconv.FormatBool(purged),
			"attempts_removed": strconv.FormatInt(res.AttemptsRemoved, 10),
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, CleanupResponse{
		Purged:            purged,
		AttemptsRemoved:   res.AttemptsRemoved,
		IdentitiesRemoved: res.IdentitiesRemoved,
		LockoutsExpired:   res.LockoutsExpired,
	})
}

// attemptContext uses the metadata forwarded in the body. Absent fields are
// left empty so the risk engine sees them as missing.
func (h *SecurityHandler) attemptContext(r *http.Request, forwarded ClientContext) models.AttemptContext {
	actx := models.AttemptContext{
		IPAddress: forwarded.IPAddress,
		UserAgent: forwarded.UserAgent,
	}
	if !h.requestFallback {
		return actx
	}
	if actx.IPAddress == "" {
		actx.IPAddress = pkghttp.ExtractClientIP(r, h.ipConfig)
	}
	if actx.UserAgent == "" {
		actx.UserAgent = pkghttp.ExtractUserAgent(r)
	}
	return actx
}
