package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/repositories"
	"github.com/BradenHooton/authguard/pkg/auth"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// SecurityManagerConfig groups the configuration of every security component
type SecurityManagerConfig struct {
	RateLimit     RateLimitConfig
	Risk          RiskConfig
	Challenge     ChallengePolicyConfig
	Password      auth.PasswordPolicy
	Stats         StatsConfig
	Notifications DispatcherConfig
}

// DefaultSecurityManagerConfig returns the stock policy for every component
func DefaultSecurityManagerConfig() SecurityManagerConfig {
	return SecurityManagerConfig{
		RateLimit: DefaultRateLimitConfig(),
		Risk:      RiskConfig{Lookback: time.Hour},
		Challenge: ChallengePolicyConfig{Enabled: true, Threshold: DefaultChallengeThreshold},
		Password:  auth.PasswordPolicy{StrongThreshold: auth.DefaultStrongThreshold},
		Stats:     StatsConfig{RecentWindow: time.Hour, TopNetworks: 5},
	}
}

// Option customizes a SecurityManager
type Option func(*managerOptions)

type managerOptions struct {
	logger    *slog.Logger
	audit     *pkglogger.AuditLogger
	metrics   *metrics.SecurityMetrics
	clock     func() time.Time
	notifiers []Notifier
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) { o.logger = logger }
}

// WithAuditLogger sets the audit logger used for security events
func WithAuditLogger(audit *pkglogger.AuditLogger) Option {
	return func(o *managerOptions) { o.audit = audit }
}

// WithMetrics sets the Prometheus collectors
func WithMetrics(m *metrics.SecurityMetrics) Option {
	return func(o *managerOptions) { o.metrics = m }
}

// WithClock replaces time.Now for every component
func WithClock(clock func() time.Time) Option {
	return func(o *managerOptions) { o.clock = clock }
}

// WithNotifiers adds suspicious activity channels
func WithNotifiers(notifiers ...Notifier) Option {
	return func(o *managerOptions) { o.notifiers = append(o.notifiers, notifiers...) }
}

// SecurityManager is the entry point HTTP handlers use for authentication security.
// Instances are independent: each owns its components and notification workers,
// and must be stopped with Shutdown.
type SecurityManager struct {
	store      repositories.AttemptStore
	rateLimit  *RateLimitService
	risk       *RiskService
	challenge  *ChallengePolicy
	password   *auth.PasswordEvaluator
	stats      *StatsService
	dispatcher *NotificationDispatcher
	logger     *slog.Logger
	audit      *pkglogger.AuditLogger
	metrics    *metrics.SecurityMetrics
	now        func() time.Time
}

// NewSecurityManager wires the components around store
func NewSecurityManager(store repositories.AttemptStore, cfg SecurityManagerConfig, opts ...Option) *SecurityManager {
	o := managerOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	dispatcher := NewNotificationDispatcher(cfg.Notifications, o.logger, o.metrics, o.notifiers...)

	rateLimit := NewRateLimitService(store, cfg.RateLimit, dispatcher, o.logger, o.audit, o.metrics)
	rateLimit.now = o.clock

	risk := NewRiskService(store, cfg.Risk, o.logger, o.audit, o.metrics)
	risk.now = o.clock

	if cfg.Stats.HistogramHorizon == 0 {
		cfg.Stats.HistogramHorizon = rateLimit.Config().RetentionHorizon
	}
	if cfg.Stats.Location == nil {
		cfg.Stats.Location = cfg.Risk.Location
	}
	stats := NewStatsService(store, cfg.Stats, o.metrics)
	stats.now = o.clock

	return &SecurityManager{
		store:      store,
		rateLimit:  rateLimit,
		risk:       risk,
		challenge:  NewChallengePolicy(cfg.Challenge, o.metrics),
		password:   auth.NewPasswordEvaluator(cfg.Password),
		stats:      stats,
		dispatcher: dispatcher,
		logger:     o.logger,
		audit:      o.audit,
		metrics:    o.metrics,
		now:        o.clock,
	}
}

// NormalizeIdentity trims surrounding space and lowercases, so "Alice@Example.com "
// and "alice@example.com" share one ledger
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// CheckRateLimit decides whether identity may attempt kind now
func (m *SecurityManager) CheckRateLimit(ctx context.Context, identity string, kind models.AttemptKind, actx models.AttemptContext) (models.RateLimitDecision, error) {
	return m.rateLimit.CheckRateLimit(ctx, NormalizeIdentity(identity), kind, actx)
}

// LogAttempt records the outcome of an authentication attempt
func (m *SecurityManager) LogAttempt(ctx context.Context, identity string, success bool, kind models.AttemptKind, actx models.AttemptContext) error {
	return m.rateLimit.RecordAttempt(ctx, NormalizeIdentity(identity), success, kind, actx)
}

// AssessRisk scores the request. identity may be empty when it is not yet known.
func (m *SecurityManager) AssessRisk(ctx context.Context, identity string, actx models.AttemptContext) models.RiskAssessment {
	return m.risk.AssessRisk(ctx, NormalizeIdentity(identity), actx)
}

// ShouldRequireCaptcha reports whether the assessment calls for a challenge
func (m *SecurityManager) ShouldRequireCaptcha(a models.RiskAssessment) bool {
	return m.challenge.RequiresChallenge(a)
}

// GetChallengeConfig returns the challenge decision handed to the CAPTCHA widget
func (m *SecurityManager) GetChallengeConfig(a models.RiskAssessment) models.ChallengeConfig {
	return m.challenge.Config(a)
}

// CheckPasswordStrength scores candidate in the configured locale
func (m *SecurityManager) CheckPasswordStrength(candidate string) models.PasswordStrength {
	return m.CheckPasswordStrengthLocalized(candidate, "")
}

// CheckPasswordStrengthLocalized scores candidate with feedback in locale (empty
// for the configured default). userInputs such as the identity only affect GuessScore.
func (m *SecurityManager) CheckPasswordStrengthLocalized(candidate, locale string, userInputs ...string) models.PasswordStrength {
	var res auth.StrengthResult
	if locale == "" {
		res = m.password.Evaluate(candidate, userInputs...)
	} else {
		res = m.password.EvaluateLocalized(candidate, locale, userInputs...)
	}

	m.metrics.ObservePasswordCheck(res.IsStrong)
	return models.PasswordStrength{
		Score:      res.Score,
		IsStrong:   res.IsStrong,
		Feedback:   res.Feedback,
		GuessScore: res.GuessScore,
	}
}

// GetSecurityStats returns a monitoring snapshot
func (m *SecurityManager) GetSecurityStats(ctx context.Context) (models.SecurityStats, error) {
	return m.stats.Snapshot(ctx)
}

// Cleanup evicts attempts older than maxAge along with expired lockouts.
// A non-positive maxAge purges every attempt and lockout.
func (m *SecurityManager) Cleanup(ctx context.Context, maxAge time.Duration) (repositories.EvictResult, error) {
	if maxAge <= 0 {
		if err := m.store.Reset(ctx); err != nil {
			m.metrics.ObserveStoreError("reset")
			return repositories.EvictResult{}, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
		}
		m.logger.Info("security ledger purged")
		return repositories.EvictResult{}, nil
	}

	now := m.now()
	res, err := m.store.Evict(ctx, now.Add(-maxAge), now)
	if err != nil {
		m.metrics.ObserveStoreError("evict")
		return res, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	m.metrics.ObserveEviction(res.Total())
	return res, nil
}

// Shutdown drains pending notifications and releases notifier resources
func (m *SecurityManager) Shutdown(ctx context.Context) error {
	if err := m.dispatcher.Shutdown(ctx); err != nil {
		return fmt.Errorf("drain notifications: %w", err)
	}
	return nil
}
