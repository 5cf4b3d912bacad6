package web

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadpress-admin/internal/auth"
	"roadpress-admin/internal/observability"
	"roadpress-admin/internal/user"
)

type stubPending struct {
	userID string
	err    error
}

func (s stubPending) Read(*http.Request) (string, error) {
	return s.userID, s.err
}

func newPages(t *testing.T, pending PendingReader) *Pages {
	t.Helper()
	pages, err := NewPages(pending, observability.Discard())
	require.NoError(t, err)
	return pages
}

func TestLogin_RendersForm(t *testing.T) {
	pages := newPages(t, stubPending{})

	rec := httptest.NewRecorder()
	pages.Login(rec, httptest.NewRequest(http.MethodGet, "/login?next=%2Fdashboard", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `data-next="/dashboard"`)
	assert.Contains(t, rec.Body.String(), "/api/auth/login")
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"":                     "/",
		"/dashboard":           "/dashboard",
		"//evil.example":       "/",
		"https://evil.example": "/",
		"/\\evil.example":      "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeNext(in), in)
	}
}

func TestTwoFactor_RedirectsWithoutHandoff(t *testing.T) {
	pages := newPages(t, stubPending{err: errors.New("missing")})

	rec := httptest.NewRecorder()
	pages.TwoFactor(rec, httptest.NewRequest(http.MethodGet, "/login/2fa", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestTwoFactor_RendersChallenge(t *testing.T) {
	pages := newPages(t, stubPending{userID: "u1"})

	rec := httptest.NewRecorder()
	pages.TwoFactor(rec, httptest.NewRequest(http.MethodGet, "/login/2fa", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/auth/2fa/verify")
}

func TestDashboard_GreetsSessionUser(t *testing.T) {
	pages := newPages(t, stubPending{})
	session := auth.Session{ID: "s1", UserID: "u1", Email: "admin@example.com", Role: user.RoleAdmin}

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req = req.WithContext(auth.WithSession(req.Context(), session))
	rec := httptest.NewRecorder()
	pages.Dashboard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome, admin@example.com")
}

func TestDashboard_EscapesEmail(t *testing.T) {
	pages := newPages(t, stubPending{})
	session := auth.Session{Email: "<script>@example.com"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithSession(req.Context(), session))
	rec := httptest.NewRecorder()
	pages.Dashboard(rec, req)

	assert.NotContains(t, rec.Body.String(), "Welcome, <script>")
	assert.Contains(t, rec.Body.String(), "&lt;script&gt;")
}

func TestDashboard_RedirectsWithoutSession(t *testing.T) {
	pages := newPages(t, stubPending{})

	rec := httptest.NewRecorder()
	pages.Dashboard(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
}
