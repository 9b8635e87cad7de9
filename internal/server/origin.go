package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

func normalizeOrigins(origins []string, logger zerolog.Logger) (map[string]struct{}, bool) {
	normalized := make(map[string]struct{}, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn().Str("origin", origin).Msg("ignoring invalid allowed origin")
			continue
		}
		normalized[normalizedOrigin] = struct{}{}
	}
	return normalized, allowAll
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

// newOriginChecker builds the upgrader's origin policy. Requests without an
// Origin header come from non-browser clients and are allowed; browsers must
// present a configured origin.
func newOriginChecker(origins []string, logger zerolog.Logger) func(*http.Request) bool {
	allowed, allowAll := normalizeOrigins(origins, logger)
	return func(r *http.Request) bool {
		header := r.Header.Get("Origin")
		if header == "" || allowAll {
			return true
		}
		origin, ok := normalizeOrigin(header)
		if !ok {
			return false
		}
		if _, exists := allowed[origin]; exists {
			return true
		}
		logger.Warn().Str("origin", header).Str("remote_addr", r.RemoteAddr).Msg("rejected websocket origin")
		return false
	}
}
