package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/keyforge/keyforge/internal/service"
)

// SessionCookie is the name of the dashboard session cookie.
const SessionCookie = "keyforge_session"

// LoginPath is where unauthenticated browser requests are redirected.
const LoginPath = "/login"

// Authenticate returns an HTTP middleware that resolves the session cookie
// into a service.Identity and attaches it to the request context.
//
// Requests without a valid session are rejected: browsers (Accept: text/html)
// are redirected to the login page, API clients get a 401 JSON error.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				rejectUnauthenticated(w, r)
				return
			}

			id, err := authSvc.ValidateSession(r.Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, service.ErrUnavailable) {
					writeAuthError(w, http.StatusServiceUnavailable, "Session store unavailable")
					return
				}
				rejectUnauthenticated(w, r)
				return
			}

			ctx := service.WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := service.IdentityFrom(r.Context())
			if !ok || !id.IsAdmin() {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if wantsHTML(r) {
		http.Redirect(w, r, LoginPath, http.StatusSeeOther)
		return
	}
	writeAuthError(w, http.StatusUnauthorized, "Authentication required")
}

// wantsHTML reports whether the client is a browser navigating to a page.
func wantsHTML(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid import cycle with handler package
	w.Write([]byte(`{"error":{"code":` + httpStatusString(status) + `,"message":"` + message + `"}}`))
}

func httpStatusString(code int) string {
	switch code {
	case 401:
		return "401"
	case 403:
		return "403"
	case 429:
		return "429"
	case 503:
		return "503"
	default:
		return "500"
	}
}
