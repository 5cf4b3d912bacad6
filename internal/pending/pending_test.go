package pending

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadpress-admin/internal/observability"
)

const (
	testSecret   = "session-signing-secret"
	testInternal = "internal-shared-secret"
)

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func cookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatalf("cookie %s not set", CookieName)
	return nil
}

func requestWith(cookie *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/2fa/pending", nil)
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	return req
}

func TestLedger_CookieAttributes(t *testing.T) {
	ledger := NewLedger(testSecret, true)
	rec := httptest.NewRecorder()

	require.NoError(t, ledger.Create(rec, "u1"))

	c := cookieFrom(t, rec)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 300, c.MaxAge)
	assert.Equal(t, "/", c.Path)
	assert.NotContains(t, c.Value, "u1", "user id must not travel as a bare value")

	insecure := httptest.NewRecorder()
	require.NoError(t, NewLedger(testSecret, false).Create(insecure, "u1"))
	assert.False(t, cookieFrom(t, insecure).Secure)
}

func TestLedger_CreateRejectsEmptyUser(t *testing.T) {
	require.Error(t, NewLedger(testSecret, false).Create(httptest.NewRecorder(), "  "))
}

func TestLedger_ReadRoundTrip(t *testing.T) {
	ledger := NewLedger(testSecret, false)
	rec := httptest.NewRecorder()
	require.NoError(t, ledger.Create(rec, "u1"))

	userID, err := ledger.Read(requestWith(cookieFrom(t, rec)))
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestLedger_ReadMissing(t *testing.T) {
	_, err := NewLedger(testSecret, false).Read(requestWith(nil))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_ExpiresAfterTTL(t *testing.T) {
	clk := &clock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	ledger := NewLedger(testSecret, false).WithClock(clk.now)

	rec := httptest.NewRecorder()
	require.NoError(t, ledger.Create(rec, "u1"))
	cookie := cookieFrom(t, rec)

	clk.t = clk.t.Add(299 * time.Second)
	userID, err := ledger.Read(requestWith(cookie))
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	clk.t = clk.t.Add(2 * time.Second) // T+301
	_, err = ledger.Read(requestWith(cookie))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_RejectsForgedAndForeignTokens(t *testing.T) {
	ledger := NewLedger(testSecret, false)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-id",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	forgedValue, err := forged.SignedString([]byte("attacker-key"))
	require.NoError(t, err)

	wrongType := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Type: "session",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	wrongTypeValue, err := wrongType.SignedString([]byte(testSecret))
	require.NoError(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Type:             tokenType,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	})
	noExpiryValue, err := noExpiry.SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, value := range map[string]string{
		"plain user id":  "u1",
		"foreign key":    forgedValue,
		"wrong type":     wrongTypeValue,
		"missing expiry": noExpiryValue,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ledger.Read(requestWith(&http.Cookie{Name: CookieName, Value: value}))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLedger_DestroyIsIdempotent(t *testing.T) {
	ledger := NewLedger(testSecret, false)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		ledger.Destroy(rec)
		c := cookieFrom(t, rec)
		assert.Equal(t, "", c.Value)
		assert.Less(t, c.MaxAge, 0)
	}
}

func newTestHandler(internal string) *Handler {
	return NewHandler(NewLedger(testSecret, false), observability.Discard(), internal)
}

func TestHandler_CreateReadDeleteHandoff(t *testing.T) {
	h := newTestHandler(testInternal)

	post := httptest.NewRequest(http.MethodPost, "/api/auth/2fa/pending", strings.NewReader(`{"userId":"u1"}`))
	post.Header.Set("Authorization", "Bearer "+testInternal)
	postRec := httptest.NewRecorder()
	h.Create(postRec, post)
	require.Equal(t, http.StatusOK, postRec.Code)
	assert.JSONEq(t, `{"success":true}`, postRec.Body.String())
	cookie := cookieFrom(t, postRec)

	getRec := httptest.NewRecorder()
	h.Get(getRec, requestWith(cookie))
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.JSONEq(t, `{"userId":"u1"}`, getRec.Body.String())

	delRec := httptest.NewRecorder()
	h.Delete(delRec, requestWith(cookie))
	require.Equal(t, http.StatusOK, delRec.Code)
	assert.JSONEq(t, `{"success":true}`, delRec.Body.String())
	cleared := cookieFrom(t, delRec)

	// The browser applies the cleared cookie, so the follow-up carries no handoff.
	require.Less(t, cleared.MaxAge, 0)
	afterRec := httptest.NewRecorder()
	h.Get(afterRec, requestWith(nil))
	assert.Equal(t, http.StatusNotFound, afterRec.Code)
}

func TestHandler_CreateValidation(t *testing.T) {
	h := newTestHandler(testInternal)

	cases := []struct {
		name   string
		auth   string
		body   string
		status int
	}{
		{"missing user id", "Bearer " + testInternal, `{}`, http.StatusBadRequest},
		{"blank user id", "Bearer " + testInternal, `{"userId":"  "}`, http.StatusBadRequest},
		{"bad json", "Bearer " + testInternal, `{`, http.StatusBadRequest},
		{"wrong secret", "Bearer nope", `{"userId":"u1"}`, http.StatusUnauthorized},
		{"no secret", "", `{"userId":"u1"}`, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/2fa/pending", strings.NewReader(tc.body))
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()
			h.Create(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestHandler_CreateDisabledWithoutInternalSecret(t *testing.T) {
	h := newTestHandler("")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/2fa/pending", strings.NewReader(`{"userId":"u1"}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
