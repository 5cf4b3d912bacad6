package auth

import (
	"errors"
	"net/http"

	"roadpress-admin/internal/httpx"
)

// RequireSession answers 401 unless the request carries a live session, and
// attaches that session to the request context.
func RequireSession(service *Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		session, err := service.CurrentSession(r)
		if err != nil {
			if errors.Is(err, ErrNoSession) {
				httpx.WriteError(w, httpx.Unauthenticated("authentication required"))
				return
			}
			httpx.WriteError(w, httpx.ServerFault("server error", err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFromContext(r.Context())
		if !ok {
			httpx.WriteError(w, httpx.Unauthenticated("authentication required"))
			return
		}
		if !session.IsAdmin() {
			httpx.WriteError(w, httpx.Forbidden("admin access required"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
