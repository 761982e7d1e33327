package models

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel is an ordinal classification of an assessment score
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskLevelNames = [...]string{"low", "medium", "high", "critical"}

func (l RiskLevel) String() string {
	if l < RiskLow || l > RiskCritical {
		return fmt.Sprintf("RiskLevel(%d)", int(l))
	}
	return riskLevelNames[l]
}

// ParseRiskLevel converts a level name (case-insensitive) into a RiskLevel
func ParseRiskLevel(s string) (RiskLevel, error) {
	for i, name := range riskLevelNames {
		if strings.EqualFold(s, name) {
			return RiskLevel(i), nil
		}
	}
	return RiskLow, fmt.Errorf("unknown risk level %q", s)
}

// MarshalText encodes the level by name so JSON bodies read "high" rather than 2
func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name
func (l *RiskLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// RiskAssessment is the transient result of scoring one request
type RiskAssessment struct {
	Level   RiskLevel `json:"level"`
	Score   int       `json:"score"`
	Reasons []string  `json:"reasons"`
}

// RateLimitDecision is the admission result for one authentication attempt
type RateLimitDecision struct {
	Allowed           bool       `json:"allowed"`
	RemainingAttempts int        `json:"remaining_attempts"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}

// RetryAfter returns how long the caller must wait before retrying, zero when allowed
func (d RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || d.LockedUntil == nil {
		return 0
	}
	if wait := d.LockedUntil.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// ChallengeDifficulty is the CAPTCHA tier handed to the rendering widget
type ChallengeDifficulty string

const (
	ChallengeEasy   ChallengeDifficulty = "easy"
	ChallengeMedium ChallengeDifficulty = "medium"
	ChallengeHard   ChallengeDifficulty = "hard"
)

// ChallengeConfig tells the caller whether and how to challenge a request
type ChallengeConfig struct {
	Enabled    bool                `json:"enabled"`
	Required   bool                `json:"required"`
	Difficulty ChallengeDifficulty `json:"difficulty"`
	Threshold  int                 `json:"threshold"`
}

// PasswordStrength is the result of evaluating a candidate credential.
// It never carries the candidate itself.
type PasswordStrength struct {
	Score      int      `json:"score"`
	IsStrong   bool     `json:"is_strong"`
	Feedback   []string `json:"feedback"`
	GuessScore int      `json:"guess_score"`
}

// NetworkRisk is a network address ranked by recent failures
type NetworkRisk struct {
	Address  string `json:"address"`
	Failures int    `json:"failures"`
}

// SecurityStats is a monitoring snapshot of the ledger and lockout state
type SecurityStats struct {
	LockedCount         int           `json:"locked_count"`
	TotalRecentAttempts int           `json:"total_recent_attempts"`
	FailuresByHour      map[int]int   `json:"failures_by_hour"`
	TopRiskNetworks     []NetworkRisk `json:"top_risk_networks"`
	GeneratedAt         time.Time     `json:"generated_at"`
}

// SuspiciousActivity is emitted when an identity gets locked out
type SuspiciousActivity struct {
	Identity        string        `json:"identity"`
	Kind            AttemptKind   `json:"kind"`
	IPAddress       string        `json:"ip_address,omitempty"`
	UserAgent       string        `json:"user_agent,omitempty"`
	FailedAttempts  int           `json:"failed_attempts"`
	LockoutDuration time.Duration `json:"lockout_duration"`
	LockedUntil     time.Time     `json:"locked_until"`
	DetectedAt      time.Time     `json:"detected_at"`
}
