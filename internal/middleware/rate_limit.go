package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/BradenHooton/authguard/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	// IPConfig decides which forwarding headers identify the client
	IPConfig *pkghttp.IPConfig
}

// DefaultRateLimit returns the default per-IP budget for the security endpoints
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 300,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// The key comes from ExtractClientIP so spoofed forwarding headers from
// untrusted peers cannot spread one client over many buckets.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultRateLimit().RequestsPerMinute
	}

	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "too many requests from this address")
		}),
	)
}
