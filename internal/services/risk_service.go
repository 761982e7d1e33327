package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/repositories"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// Signal weights and thresholds
const (
	riskFailureThreshold = 3
	riskFailurePoints    = 10

	riskNetworkThreshold = 10
	riskNetworkPoints    = 20

	riskCadenceSampleSize = 5
	riskCadenceMaxMeanGap = 5 * time.Second
	riskCadencePoints     = 15

	riskMinUserAgentLength = 10
	riskWeakAgentPoints    = 10

	riskBotPoints = 25

	riskUnusualHourStart  = 2
	riskUnusualHourEnd    = 5
	riskUnusualHourPoints = 5
)

// Level thresholds on the total score
const (
	riskCriticalScore = 50
	riskHighScore     = 35
	riskMediumScore   = 20
)

const (
	ReasonAutomatedCadence = "Automated attack pattern detected"
	ReasonWeakUserAgent    = "Suspicious or missing user agent"
	ReasonBotUserAgent     = "Bot or crawler detected"
	ReasonUnusualHour      = "Unusual login time (2 AM - 5 AM)"
)

var botSignatures = []string{"bot", "crawler", "spider", "scraper"}

// RiskConfig configures the risk assessor
type RiskConfig struct {
	// Lookback is the trailing interval inspected for history signals
	Lookback time.Duration
	// Location is the zone used for the unusual hour signal
	Location *time.Location
}

// RiskService scores a request from ledger history and request context.
// Scoring is additive: each signal contributes independently and the level
// is derived from the total.
type RiskService struct {
	store   repositories.AttemptStore
	config  RiskConfig
	logger  *slog.Logger
	audit   *pkglogger.AuditLogger
	metrics *metrics.SecurityMetrics
	now     func() time.Time
}

// NewRiskService creates a RiskService. audit and m may be nil.
func NewRiskService(store repositories.AttemptStore, config RiskConfig, logger *slog.Logger, audit *pkglogger.AuditLogger, m *metrics.SecurityMetrics) *RiskService {
	if config.Lookback <= 0 {
		config.Lookback = time.Hour
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	return &RiskService{
		store:   store,
		config:  config,
		logger:  logger,
		audit:   audit,
		metrics: m,
		now:     time.Now,
	}
}

// AssessRisk scores the request at the service clock's current instant
func (s *RiskService) AssessRisk(ctx context.Context, identity string, actx models.AttemptContext) models.RiskAssessment {
	return s.AssessRiskAt(ctx, identity, actx, s.now())
}

// AssessRiskAt scores the request at now. Missing identity history or context
// lowers the information available but never fails; a store error skips the
// signal it would have fed.
func (s *RiskService) AssessRiskAt(ctx context.Context, identity string, actx models.AttemptContext, now time.Time) models.RiskAssessment {
	score := 0
	reasons := []string{}
	since := now.Add(-s.config.Lookback)

	var history []models.Attempt
	if identity != "" {
		attempts, err := s.store.Query(ctx, identity, "", since)
		if err != nil {
			s.storeError("query", err)
		} else {
			history = attempts
		}
	}

	failed := 0
	for _, a := range history {
		if a.Kind == models.AttemptKindLogin && !a.Success && !a.AttemptTime.After(now) {
			failed++
		}
	}
	if failed > riskFailureThreshold {
		score += riskFailurePoints * failed
		reasons = append(reasons, fmt.Sprintf("%d failed login attempts in last hour", failed))
	}

	if actx.IPAddress != "" {
		n, err := s.store.CountByNetwork(ctx, actx.IPAddress, since)
		if err != nil {
			s.storeError("count_by_network", err)
		} else if n > riskNetworkThreshold {
			score += riskNetworkPoints
			reasons = append(reasons, fmt.Sprintf("Suspicious IP activity: %d attempts from %s", n, actx.IPAddress))
		}
	}

	if automatedCadence(history) {
		score += riskCadencePoints
		reasons = append(reasons, ReasonAutomatedCadence)
	}

	if utf8.RuneCountInString(actx.UserAgent) < riskMinUserAgentLength {
		score += riskWeakAgentPoints
		reasons = append(reasons, ReasonWeakUserAgent)
	}

	if isBotUserAgent(actx.UserAgent) {
		score += riskBotPoints
		reasons = append(reasons, ReasonBotUserAgent)
	}

	if hour := now.In(s.config.Location).Hour(); hour >= riskUnusualHourStart && hour <= riskUnusualHourEnd {
		score += riskUnusualHourPoints
		reasons = append(reasons, ReasonUnusualHour)
	}

	assessment := models.RiskAssessment{
		Level:   levelForScore(score),
		Score:   score,
		Reasons: reasons,
	}

	s.metrics.ObserveRisk(assessment.Level.String(), assessment.Score)
	if s.audit != nil {
		level := slog.LevelInfo
		if assessment.Level >= models.RiskHigh {
			level = slog.LevelWarn
		}
		s.audit.LogSecurityEvent(ctx, level, "risk_assessed", identity, actx.IPAddress,
			slog.String("risk_level", assessment.Level.String()),
			slog.Int("risk_score", assessment.Score),
			slog.String("reasons", strings.Join(assessment.Reasons, "; ")))
	}

	return assessment
}

// automatedCadence reports whether the most recent attempts arrived faster than
// a human could retype credentials
func automatedCadence(history []models.Attempt) bool {
	if len(history) < riskCadenceSampleSize {
		return false
	}
	recent := history[len(history)-riskCadenceSampleSize:]
	span := recent[len(recent)-1].AttemptTime.Sub(recent[0].AttemptTime)
	meanGap := span / time.Duration(len(recent)-1)
	return meanGap < riskCadenceMaxMeanGap
}

func isBotUserAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, sig := range botSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

func levelForScore(score int) models.RiskLevel {
	switch {
	case score >= riskCriticalScore:
		return models.RiskCritical
	case score >= riskHighScore:
		return models.RiskHigh
	case score >= riskMediumScore:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func (s *RiskService) storeError(operation string, err error) {
	s.metrics.ObserveStoreError(operation)
	s.logger.Error("risk signal unavailable", slog.String("operation", operation), slog.Any("error", err))
}
