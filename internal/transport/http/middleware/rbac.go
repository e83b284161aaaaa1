package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"sapayroll/internal/auth"
	"sapayroll/internal/transport/http/api"
)

func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUser(r.Context())
			if !ok {
				api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", GetRequestID(r.Context()))
				return
			}
			if !auth.HasPermission(user.Role, permission) {
				api.Fail(w, http.StatusForbidden, "forbidden", "insufficient permissions", GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePractice rejects callers whose practice claim does not match the
// named URL parameter.
func RequirePractice(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUser(r.Context())
			if !ok {
				api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", GetRequestID(r.Context()))
				return
			}
			if !CanAccessPractice(user, chi.URLParam(r, param)) {
				api.Fail(w, http.StatusForbidden, "forbidden", "practice access denied", GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CanAccessPractice(user User, practiceID string) bool {
	if auth.CrossPractice(user.Role) {
		return true
	}
	return practiceID != "" && user.PracticeID == practiceID
}
