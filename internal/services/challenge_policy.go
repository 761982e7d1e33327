package services

import (
	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
)

// DefaultChallengeThreshold is the score from which a CAPTCHA is required
const DefaultChallengeThreshold = 30

// ChallengePolicyConfig configures the adaptive challenge policy
type ChallengePolicyConfig struct {
	Enabled   bool
	Threshold int
}

// ChallengePolicy maps a risk assessment onto a CAPTCHA requirement and tier
type ChallengePolicy struct {
	config  ChallengePolicyConfig
	metrics *metrics.SecurityMetrics
}

// NewChallengePolicy creates a policy. A non-positive threshold uses the default.
func NewChallengePolicy(config ChallengePolicyConfig, m *metrics.SecurityMetrics) *ChallengePolicy {
	if config.Threshold <= 0 {
		config.Threshold = DefaultChallengeThreshold
	}
	return &ChallengePolicy{config: config, metrics: m}
}

// RequiresChallenge is true when challenges are enabled and the score reaches the threshold
func (p *ChallengePolicy) RequiresChallenge(a models.RiskAssessment) bool {
	return p.config.Enabled && a.Score >= p.config.Threshold
}

// Difficulty maps critical to hard and high to medium; low and medium risk
// both get the easy tier.
func (p *ChallengePolicy) Difficulty(a models.RiskAssessment) models.ChallengeDifficulty {
	switch a.Level {
	case models.RiskCritical:
		return models.ChallengeHard
	case models.RiskHigh:
		return models.ChallengeMedium
	default:
		return models.ChallengeEasy
	}
}

// Config returns the full challenge decision for the widget
func (p *ChallengePolicy) Config(a models.RiskAssessment) models.ChallengeConfig {
	cfg := models.ChallengeConfig{
		Enabled:    p.config.Enabled,
		Required:   p.RequiresChallenge(a),
		Difficulty: p.Difficulty(a),
		Threshold:  p.config.Threshold,
	}
	p.metrics.ObserveChallenge(cfg.Required, string(cfg.Difficulty))
	return cfg
}
