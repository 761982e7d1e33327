package logger

import (
	"encoding/hex"
	"log/slog"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	// Mask username: keep first char, mask rest
	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	// Mask domain: keep TLD, mask the rest
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// SanitizedIdentity masks an identity that may or may not be an email address
func SanitizedIdentity(identity string) string {
	if strings.Count(identity, "@") == 1 {
		return SanitizedEmail(identity)
	}

	runes := []rune(identity)
	if len(runes) <= 1 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-1)
}

// Fingerprinter derives a stable keyed digest of an identity so log lines about
// the same identity can be correlated without storing the identity itself
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter creates a fingerprinter. Keys longer than BLAKE2b's 64-byte
// limit are first hashed down to 32 bytes.
func NewFingerprinter(key []byte) *Fingerprinter {
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Fingerprinter{key: k}
}

// Sum returns the first 16 hex characters of the keyed BLAKE2b-256 digest
func (f *Fingerprinter) Sum(identity string) string {
	h, err := blake2b.New256(f.key)
	if err != nil {
		// Only reachable with an oversized key, which NewFingerprinter prevents
		return ""
	}
	h.Write([]byte(strings.ToLower(identity)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password", "candidate", "token", "secret",
		"api_key", "apikey", "email", "identity", "auth",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
