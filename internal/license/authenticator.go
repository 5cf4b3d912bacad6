package license

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"roadpress-admin/internal/httpx"
	"roadpress-admin/internal/observability"
)

const (
	ReasonBadToken   = "token invalide ou licence inactive"
	ReasonBadKey     = "licence invalide ou inactive"
	ReasonMissing    = "missing token or key"
	ReasonServerFail = "server error"
)

// Cause records why validation failed. It is logged, never returned to the
// caller.
type Cause int

const (
	CauseNone Cause = iota
	CauseMissing
	CauseNotFound
	CauseInactive
	CauseStorage
)

func (c Cause) String() string {
	switch c {
	case CauseMissing:
		return "missing"
	case CauseNotFound:
		return "not_found"
	case CauseInactive:
		return "inactive"
	case CauseStorage:
		return "storage"
	default:
		return "none"
	}
}

type AuthResult struct {
	Valid      bool
	License    License
	Reason     string
	StatusCode int
	Cause      Cause
	Err        error
}

func valid(l License) AuthResult {
	return AuthResult{Valid: true, License: l, StatusCode: http.StatusOK}
}

func invalid(reason string, status int, cause Cause) AuthResult {
	return AuthResult{Reason: reason, StatusCode: status, Cause: cause}
}

type Lookup interface {
	GetByAPIToken(ctx context.Context, token string) (License, error)
	GetByKey(ctx context.Context, key string) (License, error)
}

// PluginAuthenticator admits machine-to-machine requests by API token or,
// failing that, by the legacy license_key query parameter. It never looks at
// cookies.
type PluginAuthenticator struct {
	lookup Lookup
	logger *observability.Logger
}

func NewPluginAuthenticator(lookup Lookup, logger *observability.Logger) *PluginAuthenticator {
	return &PluginAuthenticator{lookup: lookup, logger: logger}
}

func (a *PluginAuthenticator) Validate(r *http.Request) AuthResult {
	if token := httpx.BearerToken(r); token != "" {
		l, err := a.lookup.GetByAPIToken(r.Context(), token)
		return check(l, err, ReasonBadToken)
	}

	key := strings.TrimSpace(r.URL.Query().Get("license_key"))
	if key == "" {
		return invalid(ReasonMissing, http.StatusUnauthorized, CauseMissing)
	}
	l, err := a.lookup.GetByKey(r.Context(), key)
	return check(l, err, ReasonBadKey)
}

func check(l License, err error, reason string) AuthResult {
	switch {
	case errors.Is(err, ErrNotFound):
		return invalid(reason, http.StatusForbidden, CauseNotFound)
	case err != nil:
		res := invalid(ReasonServerFail, http.StatusInternalServerError, CauseStorage)
		res.Err = err
		return res
	case !l.Status.Active():
		return invalid(reason, http.StatusForbidden, CauseInactive)
	default:
		return valid(l)
	}
}

type licenseKey struct{}

func WithLicense(ctx context.Context, l License) context.Context {
	return context.WithValue(ctx, licenseKey{}, l)
}

func FromContext(ctx context.Context) (License, bool) {
	l, ok := ctx.Value(licenseKey{}).(License)
	return l, ok
}

// Require runs Validate and only calls next for a valid license, which is
// attached to the request context.
func (a *PluginAuthenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := a.Validate(r)
		if !res.Valid {
			fields := map[string]any{"path": r.URL.Path, "cause": res.Cause.String()}
			if res.Cause == CauseStorage {
				fields["error"] = res.Err.Error()
				a.logger.Error("plugin_auth_failed", fields)
				httpx.WriteError(w, httpx.ServerFault(res.Reason, res.Err))
				return
			}
			a.logger.Warn("plugin_auth_rejected", fields)
			httpx.WriteMessage(w, res.StatusCode, res.Reason)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithLicense(r.Context(), res.License)))
	})
}
