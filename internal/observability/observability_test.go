package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &payload))
	return payload
}

func TestLogger_WritesFlatJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf)

	logger.Warn("login_rejected", map[string]any{"reason": "bad_password", "attempts": 2})

	payload := lastLine(t, &buf)
	assert.Equal(t, "warn", payload["level"])
	assert.Equal(t, "login_rejected", payload["message"])
	assert.Equal(t, "bad_password", payload["reason"])
	assert.EqualValues(t, 2, payload["attempts"])
	assert.NotEmpty(t, payload["timestamp"])
}

func TestLogger_NilIsSilent(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
}

func TestRequestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf)

	handler := RequestLoggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/licenses", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	payload := lastLine(t, &buf)
	assert.Equal(t, "http_request", payload["message"])
	assert.Equal(t, "/api/licenses", payload["path"])
	assert.EqualValues(t, http.StatusTeapot, payload["status"])
	assert.Equal(t, "198.51.100.7", payload["ip"])
}

func TestRecoverMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf)

	handler := RecoverMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.Equal(t, "panic_recovered", lastLine(t, &buf)["message"])
}

func TestScrubEvent(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{
		Cookies: "roadpress_session=abc",
		Headers: map[string]string{
			"authorization": "Bearer secret",
			"Cookie":        "pending_2fa_user=xyz",
			"User-Agent":    "wp-plugin",
		},
	}}

	out := scrubEvent(event, nil)
	assert.Empty(t, out.Request.Cookies)
	assert.Equal(t, map[string]string{"User-Agent": "wp-plugin"}, out.Request.Headers)

	assert.Nil(t, scrubEvent(nil, nil))
}

func TestRequestLoggingMiddleware_RecordsBytesAndThrottling(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf)

	handler := RequestLoggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))

	payload := lastLine(t, &buf)
	assert.Equal(t, "warn", payload["level"])
	assert.EqualValues(t, http.StatusTooManyRequests, payload["status"])
	assert.EqualValues(t, len("slow down"), payload["bytes"])
}

func TestRecoverMiddleware_AfterResponseStarted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf)

	handler := RecoverMiddleware(logger, RequestLoggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("partial"))
		panic("late")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
	payload := lastLine(t, &buf)
	assert.Equal(t, "panic_recovered", payload["message"])
	assert.NotEmpty(t, payload["stack"])
}
