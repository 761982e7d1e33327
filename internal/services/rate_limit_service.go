package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/repositories"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// SuspiciousActivityPublisher receives lockout alerts. Implementations must not block.
type SuspiciousActivityPublisher interface {
	Dispatch(activity models.SuspiciousActivity) bool
}

// RateLimitConfig holds configuration for rate limiting behavior
type RateLimitConfig struct {
	MaxAttempts     int
	Window          time.Duration
	LockoutDuration time.Duration
	// BackoffExponentCap caps the doubling steps applied past MaxAttempts
	BackoffExponentCap int
	// RetentionHorizon is how far back opportunistic eviction keeps attempts.
	// It is never shorter than Window.
	RetentionHorizon time.Duration
	// EvictionInterval throttles opportunistic eviction; zero evicts on every check
	EvictionInterval time.Duration
}

// DefaultRateLimitConfig returns the stock policy: 5 failures per 15 minutes,
// 15 minute base lockout doubling up to 2^4
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttempts:        5,
		Window:             15 * time.Minute,
		LockoutDuration:    15 * time.Minute,
		BackoffExponentCap: 4,
		RetentionHorizon:   24 * time.Hour,
	}
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	d := DefaultRateLimitConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = d.LockoutDuration
	}
	if c.BackoffExponentCap < 0 {
		c.BackoffExponentCap = 0
	}
	if c.RetentionHorizon < c.Window {
		c.RetentionHorizon = c.Window
	}
	return c
}

// RateLimitService admits or rejects authentication attempts per identity.
// Each identity moves between open and locked: a lockout starts when failures in
// the window reach MaxAttempts and ends at its unlock instant or on a recorded success.
type RateLimitService struct {
	store     repositories.AttemptStore
	config    RateLimitConfig
	publisher SuspiciousActivityPublisher
	locks     *identityLocks
	logger    *slog.Logger
	audit     *pkglogger.AuditLogger
	metrics   *metrics.SecurityMetrics
	now       func() time.Time

	evictMu   sync.Mutex
	lastEvict time.Time
}

// NewRateLimitService creates a new RateLimitService. publisher, audit and m may be nil.
func NewRateLimitService(store repositories.AttemptStore, config RateLimitConfig, publisher SuspiciousActivityPublisher, logger *slog.Logger, audit *pkglogger.AuditLogger, m *metrics.SecurityMetrics) *RateLimitService {
	return &RateLimitService{
		store:     store,
		config:    config.withDefaults(),
		publisher: publisher,
		locks:     newIdentityLocks(),
		logger:    logger,
		audit:     audit,
		metrics:   m,
		now:       time.Now,
	}
}

// Config returns the effective configuration after defaults
func (s *RateLimitService) Config() RateLimitConfig {
	return s.config
}

// CheckRateLimit decides whether identity may attempt kind now
func (s *RateLimitService) CheckRateLimit(ctx context.Context, identity string, kind models.AttemptKind, actx models.AttemptContext) (models.RateLimitDecision, error) {
	return s.CheckRateLimitAt(ctx, identity, kind, actx, s.now())
}

// CheckRateLimitAt decides admission at the given instant. It does not record an
// attempt; callers record the outcome once authentication has run.
// Store failures fail open: the attempt is allowed and the error is logged.
func (s *RateLimitService) CheckRateLimitAt(ctx context.Context, identity string, kind models.AttemptKind, actx models.AttemptContext, now time.Time) (models.RateLimitDecision, error) {
	if err := validateAttempt(identity, kind); err != nil {
		return models.RateLimitDecision{}, err
	}

	s.maybeEvict(ctx, now)

	unlock := s.locks.lock(identity)
	defer unlock()

	until, locked, err := s.store.GetLockout(ctx, identity)
	if err != nil {
		return s.failOpen(kind, "get_lockout", err), nil
	}
	if locked && now.Before(until) {
		s.metrics.ObserveRateLimit(string(kind), "locked")
		return s.denied(until), nil
	}

	failed, err := s.countFailures(ctx, identity, kind, now)
	if err != nil {
		return s.failOpen(kind, "query", err), nil
	}

	if failed >= s.config.MaxAttempts {
		duration := s.LockoutDurationFor(failed)
		until := now.Add(duration)

		if err := s.store.SetLockout(ctx, identity, until); err != nil {
			// The decision still denies this attempt; only persistence of the lockout failed
			s.metrics.ObserveStoreError("set_lockout")
			s.logger.Error("failed to persist lockout", slog.Any("error", err))
		}

		s.onLockout(ctx, identity, kind, actx, failed, duration, until, now)
		return s.denied(until), nil
	}

	s.metrics.ObserveRateLimit(string(kind), "allowed")
	return models.RateLimitDecision{
		Allowed:           true,
		RemainingAttempts: max(s.config.MaxAttempts-failed, 0),
	}, nil
}

// RecordAttempt appends an attempt outcome stamped with the service clock
func (s *RateLimitService) RecordAttempt(ctx context.Context, identity string, success bool, kind models.AttemptKind, actx models.AttemptContext) error {
	return s.RecordAttemptAt(ctx, identity, success, kind, actx, s.now())
}

// RecordAttemptAt appends an attempt outcome. A success clears any lockout.
func (s *RateLimitService) RecordAttemptAt(ctx context.Context, identity string, success bool, kind models.AttemptKind, actx models.AttemptContext, at time.Time) error {
	if err := validateAttempt(identity, kind); err != nil {
		return err
	}

	unlock := s.locks.lock(identity)
	defer unlock()

	attempt := models.NewAttempt(identity, success, kind, actx, at)
	if err := s.store.Record(ctx, attempt); err != nil {
		s.metrics.ObserveStoreError("record")
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}

	if s.audit != nil {
		s.audit.LogAttempt(ctx, pkglogger.AuditEvent{
			EventType: "attempt_recorded",
			Identity:  identity,
			Kind:      string(kind),
			IPAddress: actx.IPAddress,
			UserAgent: actx.UserAgent,
			Success:   success,
		})
	}
	return nil
}

// LockoutDurationFor returns base * 2^min(failed-MaxAttempts, BackoffExponentCap)
func (s *RateLimitService) LockoutDurationFor(failed int) time.Duration {
	extra := failed - s.config.MaxAttempts
	if extra < 0 {
		extra = 0
	}
	exponent := min(extra, s.config.BackoffExponentCap)
	return s.config.LockoutDuration * time.Duration(1<<exponent)
}

// countFailures counts failures of kind inside the window that happened after the
// identity's most recent success of any kind
func (s *RateLimitService) countFailures(ctx context.Context, identity string, kind models.AttemptKind, now time.Time) (int, error) {
	attempts, err := s.store.Query(ctx, identity, "", now.Add(-s.config.Window))
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, a := range attempts {
		if a.AttemptTime.After(now) {
			continue
		}
		if a.Success {
			failed = 0
			continue
		}
		if a.Kind == kind {
			failed++
		}
	}
	return failed, nil
}

func (s *RateLimitService) onLockout(ctx context.Context, identity string, kind models.AttemptKind, actx models.AttemptContext, failed int, duration time.Duration, until, now time.Time) {
	s.metrics.ObserveRateLimit(string(kind), "lockout_started")
	s.metrics.ObserveLockout(string(kind), duration)

	s.logger.Warn("account rate limited",
		slog.String("identity", pkglogger.SanitizedIdentity(identity)),
		slog.String("kind", string(kind)),
		slog.Int("failed_attempts", failed),
		slog.Duration("lockout_duration", duration))

	if s.audit != nil {
		s.audit.LogSecurityEvent(ctx, slog.LevelWarn, "account_locked", identity, actx.IPAddress,
			slog.String("kind", string(kind)),
			slog.Int("failed_attempts", failed),
			slog.Duration("lockout_duration", duration))
	}

	if s.publisher == nil {
		return
	}
	s.publisher.Dispatch(models.SuspiciousActivity{
		Identity:        identity,
		Kind:            kind,
		IPAddress:       actx.IPAddress,
		UserAgent:       actx.UserAgent,
		FailedAttempts:  failed,
		LockoutDuration: duration,
		LockedUntil:     until,
		DetectedAt:      now,
	})
}

// maybeEvict trims the ledger at most once per EvictionInterval. Concurrent
// callers skip eviction rather than wait for the one in progress.
func (s *RateLimitService) maybeEvict(ctx context.Context, now time.Time) {
	if !s.evictMu.TryLock() {
		return
	}
	defer s.evictMu.Unlock()

	if s.config.EvictionInterval > 0 && !s.lastEvict.IsZero() && now.Sub(s.lastEvict) < s.config.EvictionInterval {
		return
	}
	s.lastEvict = now

	res, err := s.store.Evict(ctx, now.Add(-s.config.RetentionHorizon), now)
	if err != nil {
		s.metrics.ObserveStoreError("evict")
		s.logger.Error("opportunistic eviction failed", slog.Any("error", err))
		return
	}
	s.metrics.ObserveEviction(res.Total())
}

func (s *RateLimitService) denied(until time.Time) models.RateLimitDecision {
	return models.RateLimitDecision{
		Allowed:           false,
		RemainingAttempts: 0,
		LockedUntil:       &until,
	}
}

// failOpen allows the attempt when the store cannot answer
func (s *RateLimitService) failOpen(kind models.AttemptKind, operation string, err error) models.RateLimitDecision {
	s.metrics.ObserveStoreError(operation)
	s.metrics.ObserveRateLimit(string(kind), "fail_open")
	s.logger.Error("failed to check rate limit", slog.String("operation", operation), slog.Any("error", err))
	return models.RateLimitDecision{Allowed: true, RemainingAttempts: s.config.MaxAttempts}
}

func validateAttempt(identity string, kind models.AttemptKind) error {
	if strings.TrimSpace(identity) == "" {
		return models.ErrInvalidIdentity
	}
	if !kind.Valid() {
		return models.ErrInvalidAttemptKind
	}
	return nil
}
