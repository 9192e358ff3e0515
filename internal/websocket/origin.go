package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// OriginPolicy decides which browser origins may open sockets or call the API.
// Requests without an Origin header (non-browser clients) and same-host
// requests are always allowed; dev mode or a "*" entry allows everything.
type OriginPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	devMode  bool
}

// NewOriginPolicy normalizes the configured allow-list to lower-case scheme://host.
func NewOriginPolicy(origins []string, devMode bool, logger *zap.Logger) *OriginPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &OriginPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		devMode: devMode,
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Allowed reports whether the request's Origin passes the policy.
func (p *OriginPolicy) Allowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.devMode || p.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if _, exists := p.allowed[normalized]; exists {
		return true
	}

	// FUNCTIONAL DISCOVERY: Same-origin pages never need an allow-list entry
	host := normalized[strings.Index(normalized, "://")+3:]
	return host == strings.ToLower(r.Host)
}
