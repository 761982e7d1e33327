package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nbutton23/zxcvbn-go"
)

const (
	MinPasswordLen    = 8
	StrongPasswordLen = 12
	// MaxGuessInputLen bounds the input handed to the guessability estimator
	MaxGuessInputLen = 128

	DefaultStrongThreshold = 60
	// MinSequenceRun is the length of an ascending or descending run that triggers feedback
	MinSequenceRun = 6
	// MinRepeatRun is the number of identical consecutive characters that costs points
	MinRepeatRun = 3
)

const (
	lengthPoints       = 20
	strongLengthPoints = 10
	classPoints        = 15
	commonPenalty      = 20
	repeatPenalty      = 10
)

// Weak substrings matched case-insensitively anywhere in the candidate
var commonSubstrings = []string{
	"123456",
	"password",
	"qwerty",
	"azerty",
	"admin",
	"letmein",
	"welcome",
	"abc123",
	"111111",
	"iloveyou",
}

// StrengthResult is the outcome of evaluating a candidate password.
// FeedbackKeys and Feedback are parallel slices in rule order.
type StrengthResult struct {
	Score        int
	IsStrong     bool
	Feedback     []string
	FeedbackKeys []FeedbackKey
	// GuessScore is the zxcvbn estimate (0-4), reported alongside Score
	GuessScore int
}

// PasswordPolicy configures a PasswordEvaluator
type PasswordPolicy struct {
	StrongThreshold int
	Locale          string
}

// PasswordEvaluator scores candidate passwords. It is stateless and safe for
// concurrent use; candidates are never logged or retained.
type PasswordEvaluator struct {
	strongThreshold int
	locale          string
}

// NewPasswordEvaluator creates an evaluator, applying defaults for zero values
func NewPasswordEvaluator(policy PasswordPolicy) *PasswordEvaluator {
	threshold := policy.StrongThreshold
	if threshold <= 0 {
		threshold = DefaultStrongThreshold
	}
	return &PasswordEvaluator{
		strongThreshold: threshold,
		locale:          NormalizeLocale(policy.Locale),
	}
}

var defaultEvaluator = NewPasswordEvaluator(PasswordPolicy{})

// EvaluatePasswordStrength scores candidate with the default policy and English feedback
func EvaluatePasswordStrength(candidate string) StrengthResult {
	return defaultEvaluator.Evaluate(candidate)
}

// Evaluate scores candidate in the evaluator's locale
func (e *PasswordEvaluator) Evaluate(candidate string, userInputs ...string) StrengthResult {
	return e.EvaluateLocalized(candidate, e.locale, userInputs...)
}

// EvaluateLocalized scores candidate, rendering feedback in locale. userInputs
// (identity, display name) only influence GuessScore.
func (e *PasswordEvaluator) EvaluateLocalized(candidate, locale string, userInputs ...string) StrengthResult {
	score := 0
	var keys []FeedbackKey

	length := utf8.RuneCountInString(candidate)
	if length >= MinPasswordLen {
		score += lengthPoints
	} else {
		keys = append(keys, FeedbackMinLength)
	}
	if length >= StrongPasswordLen {
		score += strongLengthPoints
	}

	classes := classify(candidate)
	for _, c := range []struct {
		present bool
		key     FeedbackKey
	}{
		{classes.lower, FeedbackLowercase},
		{classes.upper, FeedbackUppercase},
		{classes.digit, FeedbackDigit},
		{classes.special, FeedbackSpecial},
	} {
		if c.present {
			score += classPoints
		} else {
			keys = append(keys, c.key)
		}
	}

	if containsCommonSubstring(candidate) {
		score -= commonPenalty
		keys = append(keys, FeedbackCommon)
	}

	if longestRepeat(candidate) >= MinRepeatRun {
		score -= repeatPenalty
		keys = append(keys, FeedbackRepeated)
	}

	// Sequences only produce feedback; they carry no score penalty
	if longestSequence(candidate) >= MinSequenceRun {
		keys = append(keys, FeedbackSequence)
	}

	score = clamp(score, 0, 100)

	feedback := make([]string, 0, len(keys))
	for _, k := range keys {
		feedback = append(feedback, FeedbackMessage(locale, k))
	}

	return StrengthResult{
		Score:        score,
		IsStrong:     score >= e.strongThreshold,
		Feedback:     feedback,
		FeedbackKeys: keys,
		GuessScore:   guessScore(candidate, userInputs),
	}
}

type charClasses struct {
	lower, upper, digit, special bool
}

func classify(s string) charClasses {
	var c charClasses
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsDigit(r):
			c.digit = true
		case !unicode.IsLetter(r):
			c.special = true
		}
	}
	return c
}

func containsCommonSubstring(s string) bool {
	lower := strings.ToLower(s)
	for _, weak := range commonSubstrings {
		if strings.Contains(lower, weak) {
			return true
		}
	}
	return false
}

// longestRepeat returns the longest run of identical consecutive runes
func longestRepeat(s string) int {
	longest, run := 0, 0
	var prev rune
	for i, r := range []rune(s) {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = r
	}
	return longest
}

// longestSequence returns the longest run whose code points step by +1 or -1
func longestSequence(s string) int {
	runes := []rune(s)
	if len(runes) == 0 {
		return 0
	}

	longest, up, down := 1, 1, 1
	for i := 1; i < len(runes); i++ {
		switch runes[i] - runes[i-1] {
		case 1:
			up++
			down = 1
		case -1:
			down++
			up = 1
		default:
			up, down = 1, 1
		}
		if up > longest {
			longest = up
		}
		if down > longest {
			longest = down
		}
	}
	return longest
}

func guessScore(candidate string, userInputs []string) int {
	if candidate == "" {
		return 0
	}
	runes := []rune(candidate)
	if len(runes) > MaxGuessInputLen {
		candidate = string(runes[:MaxGuessInputLen])
	}
	return zxcvbn.PasswordStrength(candidate, userInputs).Score
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
