package http

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// MaxUserAgentLength bounds the user agent kept for an attempt
const MaxUserAgentLength = 512

// IPConfig holds the proxies whose forwarding headers are trusted
type IPConfig struct {
	trusted []netip.Prefix
}

// NewIPConfig parses trusted proxy CIDR ranges. A bare address is treated as a single host.
func NewIPConfig(trustedProxies []string) (*IPConfig, error) {
	cfg := &IPConfig{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			cfg.trusted = append(cfg.trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		cfg.trusted = append(cfg.trusted, prefix.Masked())
	}
	return cfg, nil
}

func (c *IPConfig) isTrusted(addr netip.Addr) bool {
	if c == nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ExtractClientIP returns the client address. Forwarding headers are only read
// when the direct peer is a trusted proxy. X-Forwarded-For is walked right to
// left and the first hop that is not itself a trusted proxy wins, since only
// hops appended by trusted proxies can be believed.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote, ok := remoteAddr(r)
	if !ok {
		if r.RemoteAddr == "" {
			return ""
		}
		return r.RemoteAddr
	}

	if !config.isTrusted(remote) {
		return remote.String()
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				// a malformed hop stops the walk: nothing to its left can be trusted
				break
			}
			if !config.isTrusted(hop) {
				return hop.Unmap().String()
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.Unmap().String()
		}
	}

	return remote.String()
}

// ExtractUserAgent returns the trimmed User-Agent header, truncated to MaxUserAgentLength bytes
func ExtractUserAgent(r *http.Request) string {
	ua := strings.TrimSpace(r.UserAgent())
	if len(ua) > MaxUserAgentLength {
		ua = strings.ToValidUTF8(ua[:MaxUserAgentLength], "")
	}
	return ua
}

// remoteAddr parses RemoteAddr, with or without a port
func remoteAddr(r *http.Request) (netip.Addr, bool) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
