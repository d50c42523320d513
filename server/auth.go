package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"zkvote/vote-prover/logging"
)

type authMiddleware struct {
	next   http.Handler
	apiKey string
}

// NewAPIKeyMiddleware rejects requests without apiKey. An empty key
// disables the check.
func NewAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &authMiddleware{
			next:   next,
			apiKey: apiKey,
		}
	}
}

func (m *authMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !m.isAuthenticated(r) {
		logging.Logger().Warn().
			Str("remote_addr", r.RemoteAddr).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg("Unauthorized API request")

		unauthorizedError := &Error{
			StatusCode: http.StatusUnauthorized,
			Code:       "unauthorized",
			Message:    "Invalid or missing API key. Provide it as 'Authorization: Bearer <api-key>' or in the X-API-Key header.",
		}
		unauthorizedError.send(w)
		return
	}

	m.next.ServeHTTP(w, r)
}

func (m *authMiddleware) isAuthenticated(r *http.Request) bool {
	if m.apiKey == "" {
		return true
	}

	providedKey := extractAPIKey(r)
	if providedKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(m.apiKey), []byte(providedKey)) == 1
}

func extractAPIKey(r *http.Request) string {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return apiKey
	}
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// alwaysPublic stays reachable for load balancer health checks whatever the
// configuration says.
const alwaysPublic = "/health"

// PublicPaths is the set of routes served without an API key. Read only
// endpoints of the ballot box such as /vote/tally or /vote/nullifier are the
// usual candidates; proving and casting are never made public implicitly.
type PublicPaths map[string]struct{}

func NewPublicPaths(paths []string) PublicPaths {
	public := PublicPaths{alwaysPublic: {}}
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		public[strings.TrimSuffix(path, "/")] = struct{}{}
	}
	return public
}

func (p PublicPaths) requiresAuthentication(path string) bool {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	_, public := p[path]
	return !public
}

func conditionalAuthMiddleware(apiKey string, public PublicPaths) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authHandler := NewAPIKeyMiddleware(apiKey)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public.requiresAuthentication(r.URL.Path) {
				authHandler.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
