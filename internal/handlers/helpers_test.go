package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/authguard/internal/auth"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/repositories"
	pkghttp "github.com/BradenHooton/authguard/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.50:41000"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh)")
	return req
}

// WithOperatorContext adds operator claims to the request context
func WithOperatorContext(req *http.Request, subject, role string) *http.Request {
	claims := &models.TokenClaims{Type: "operator", UserID: subject, Role: role}
	return req.WithContext(context.WithValue(req.Context(), auth.ClaimsContextKey, claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type attemptCall struct {
	Identity string
	Success  bool
	Kind     models.AttemptKind
	Context  models.AttemptContext
}

// MockSecurityService implements SecurityService for testing
type MockSecurityService struct {
	Decision   models.RateLimitDecision
	Assessment models.RiskAssessment
	Challenge  models.ChallengeConfig
	Strength   models.PasswordStrength
	Stats      models.SecurityStats
	Evicted    repositories.EvictResult
	Err        error

	Checks        []attemptCall
	Attempts      []attemptCall
	RiskContexts  []models.AttemptContext
	Locales       []string
	UserInputs    [][]string
	CleanupMaxAge []time.Duration
}

func (m *MockSecurityService) CheckRateLimit(ctx context.Context, identity string, kind models.AttemptKind, actx models.AttemptContext) (models.RateLimitDecision, error) {
	m.Checks = append(m.Checks, attemptCall{Identity: identity, Kind: kind, Context: actx})
	return m.Decision, m.Err
}

func (m *MockSecurityService) LogAttempt(ctx context.Context, identity string, success bool, kind models.AttemptKind, actx models.AttemptContext) error {
	m.Attempts = append(m.Attempts, attemptCall{Identity: identity, Success: success, Kind: kind, Context: actx})
	return m.Err
}

func (m *MockSecurityService) AssessRisk(ctx context.Context, identity string, actx models.AttemptContext) models.RiskAssessment {
	m.RiskContexts = append(m.RiskContexts, actx)
	return m.Assessment
}

func (m *MockSecurityService) GetChallengeConfig(a models.RiskAssessment) models.ChallengeConfig {
	return m.Challenge
}

func (m *MockSecurityService) CheckPasswordStrengthLocalized(candidate, locale string, userInputs ...string) models.PasswordStrength {
	m.Locales = append(m.Locales, locale)
	m.UserInputs = append(m.UserInputs, userInputs)
	return m.Strength
}

func (m *MockSecurityService) GetSecurityStats(ctx context.Context) (models.SecurityStats, error) {
	return m.Stats, m.Err
}

func (m *MockSecurityService) Cleanup(ctx context.Context, maxAge time.Duration) (repositories.EvictResult, error) {
	m.CleanupMaxAge = append(m.CleanupMaxAge, maxAge)
	return m.Evicted, m.Err
}
