package auth

import (
	"net/http"
	"strings"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/httpx"
)

// Middleware requires a valid bearer token and stores the Session in the
// request context.
func Middleware(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				httpx.WriteError(w, r, apperr.New(apperr.KindUnauthorized, "missing_token", "bearer token required"))
				return
			}

			session, err := tokens.Verify(strings.TrimSpace(raw))
			if err != nil {
				httpx.WriteError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// RequireRole rejects requests whose session holds none of roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := FromContext(r.Context())
			if !ok {
				httpx.WriteError(w, r, apperr.New(apperr.KindUnauthorized, "missing_token", "bearer token required"))
				return
			}
			if !session.HasRole(roles...) {
				httpx.WriteError(w, r, apperr.Forbidden("role not allowed for this operation"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFrom returns the request's session or an unauthorized error.
func SessionFrom(r *http.Request) (Session, error) {
	session, ok := FromContext(r.Context())
	if !ok {
		return Session{}, apperr.New(apperr.KindUnauthorized, "missing_token", "bearer token required")
	}
	return session, nil
}
