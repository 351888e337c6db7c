package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/assistd/assistd/internal/logging"
)

// LoginPath is where unauthenticated page requests are sent.
const LoginPath = "/auth/login"

// RequireSession returns middleware for API routes. Requests without a valid
// session are rejected with 401 and an empty body before any handler work.
func RequireSession(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := v.Verify(r.Context(), r.Header.Get("Cookie"))
			if err != nil {
				logging.Error().Err(err).Str("path", r.URL.Path).Msg("session verification failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if session == nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// PageGate returns middleware protecting page routes. Unauthenticated
// requests are redirected to the login page with the original path preserved
// as the return target. Auth pages and API routes pass through: API routes
// answer with status codes, not redirects.
func PageGate(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			session, err := v.Verify(r.Context(), r.Header.Get("Cookie"))
			if err != nil {
				logging.Error().Err(err).Str("path", r.URL.Path).Msg("session verification failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if session == nil {
				target := LoginPath + "?redirect=" + url.QueryEscape(r.URL.Path)
				http.Redirect(w, r, target, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

func exemptPath(path string) bool {
	return strings.HasPrefix(path, "/auth/") ||
		strings.HasPrefix(path, "/api/") ||
		path == "/healthz"
}
