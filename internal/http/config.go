package http

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// DefaultListen matches the port the browser client expects.
const DefaultListen = ":5000"

// HTTPConfig holds configuration for the HTTP server.
type HTTPConfig struct {
	Listen         string          `json:"listen"`         // Address to listen on (e.g., ":5000", "127.0.0.1:5000")
	AllowedOrigins []string        `json:"allowedOrigins"` // CORS origins, ["*"] for any
	RateLimit      RateLimitConfig `json:"rateLimit"`      // Per-client limit on /api/transcribe
}

// RateLimitConfig limits transcription requests per client IP.
type RateLimitConfig struct {
	Requests       int      `json:"requests"`       // Requests allowed per window (-1 = unlimited)
	Window         int      `json:"window"`         // Window in seconds
	TrustedProxies []string `json:"trustedProxies"` // IPs/CIDRs whose X-Forwarded-For is believed
}

// DefaultHTTPConfig returns the defaults used when the config file is silent.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Listen:         DefaultListen,
		AllowedOrigins: []string{"*"},
		RateLimit:      RateLimitConfig{Requests: 30, Window: 60},
	}
}

// ValidateListen checks that addr is a usable host:port.
func ValidateListen(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		return fmt.Errorf("invalid listen host %q (must be IP address or localhost)", host)
	}
	if port == "" {
		return fmt.Errorf("listen address %q has no port", addr)
	}
	return nil
}

// ParseTrustedProxies parses IP addresses and CIDR ranges.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
