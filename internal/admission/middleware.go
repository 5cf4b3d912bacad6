package admission

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"roadpress-admin/internal/auth"
	"roadpress-admin/internal/httpx"
	"roadpress-admin/internal/observability"
)

const LoginPath = "/login"

type SessionResolver interface {
	CurrentSession(r *http.Request) (auth.Session, error)
}

// Middleware lets public requests through untouched and requires a session
// for everything else. API paths get a 401 JSON body, pages a redirect to the
// login page.
func Middleware(rules []Rule, resolver SessionResolver, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule := Classify(rules, r.URL.Path)
		if rule.Class.Public() {
			next.ServeHTTP(w, r)
			return
		}

		session, err := resolver.CurrentSession(r)
		if err != nil {
			if !errors.Is(err, auth.ErrNoSession) {
				logger.Error("session_resolve_failed", map[string]any{
					"path":  r.URL.Path,
					"error": err.Error(),
				})
				httpx.WriteError(w, httpx.ServerFault("server error", err))
				return
			}

			if isAPIPath(r.URL.Path) {
				httpx.WriteError(w, httpx.Unauthenticated("authentication required"))
				return
			}
			http.Redirect(w, r, loginRedirect(r), http.StatusFound)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), session)))
	})
}

func isAPIPath(p string) bool {
	p = CleanPath(p)
	return p == "/api" || strings.HasPrefix(p, "/api/")
}

func loginRedirect(r *http.Request) string {
	target := CleanPath(r.URL.Path)
	if target == "/" {
		return LoginPath
	}
	return LoginPath + "?next=" + url.QueryEscape(target)
}
