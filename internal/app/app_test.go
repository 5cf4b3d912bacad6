package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadpress-admin/internal/observability"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/roadpress")
	t.Setenv("SESSION_SECRET", strings.Repeat("s", 32))
	t.Setenv("TWO_FACTOR_ENCRYPTION_KEY", strings.Repeat("ab", 32))
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.SecureCookies())
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5, cfg.LoginMaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.LoginLockDuration)
	assert.Equal(t, 10, cfg.LoginRateLimitMax)
	assert.Equal(t, time.Minute, cfg.LoginRateLimitWindow)
	assert.Equal(t, "RoadPress Admin", cfg.TOTPIssuer)
	assert.Equal(t, 500, cfg.CleanupRetention.BatchSize)
	assert.Empty(t, cfg.CORSOrigins)
	assert.False(t, cfg.TrustProxyHeaders)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("SESSION_TTL_HOURS", "2")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("CORS_ORIGINS", " https://a.example/ ,,https://b.example")
	t.Setenv("RUN_MIGRATIONS_ON_STARTUP", "yes")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.SecureCookies())
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5, cfg.LoginMaxAttempts)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.RunMigrationsOnStartup)
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TWO_FACTOR_ENCRYPTION_KEY", "")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "TWO_FACTOR_ENCRYPTION_KEY")
}

func TestLoadConfig_ShortSessionSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SESSION_SECRET", "short")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "SESSION_SECRET")
}

func newTestHandler(t *testing.T, cfg Config) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	handler, err := newHandler(context.Background(), cfg, database, observability.Discard())
	require.NoError(t, err)
	return handler, mock
}

func testConfig() Config {
	return Config{
		Environment:            "test",
		SessionSecret:          strings.Repeat("s", 32),
		TwoFactorEncryptionKey: strings.Repeat("ab", 32),
		BcryptCost:             4,
		SessionTTL:             time.Hour,
		LoginMaxAttempts:       5,
		LoginLockDuration:      time.Minute,
		LoginRateLimitMax:      10,
		LoginRateLimitWindow:   time.Minute,
	}
}

func TestRouter_Admission(t *testing.T) {
	handler, _ := newTestHandler(t, testConfig())

	cases := []struct {
		name     string
		method   string
		target   string
		status   int
		location string
		body     string
	}{
		{"login page is public", http.MethodGet, "/login", http.StatusOK, "", ""},
		{"dashboard redirects", http.MethodGet, "/dashboard", http.StatusFound, "/login?next=%2Fdashboard", ""},
		{"root redirects", http.MethodGet, "/", http.StatusFound, "/login", ""},
		{"admin api needs session", http.MethodGet, "/api/licenses", http.StatusUnauthorized, "", `{"error":"authentication required"}`},
		{"me needs session", http.MethodGet, "/api/auth/me", http.StatusUnauthorized, "", `{"error":"authentication required"}`},
		{"plugin without credential", http.MethodPost, "/api/license/verify", http.StatusUnauthorized, "", `{"error":"missing token or key"}`},
		{"debug ingest without credential", http.MethodPost, "/api/debug/logs", http.StatusUnauthorized, "", `{"error":"missing token or key"}`},
		{"2fa challenge without handoff", http.MethodGet, "/login/2fa", http.StatusFound, "/login", ""},
		{"cleanup hidden without secret", http.MethodPost, "/internal/maintenance/cleanup", http.StatusNotFound, "", ""},
		{"bootstrap hidden without secret", http.MethodPost, "/api/auth/bootstrap", http.StatusNotFound, "", ""},
		{"public asset passes through", http.MethodGet, "/robots.txt", http.StatusNotFound, "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, nil))

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.location, rec.Header().Get("Location"))
			if tc.body != "" {
				assert.JSONEq(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestRouter_Health(t *testing.T) {
	handler, mock := newTestHandler(t, testConfig())
	mock.ExpectPing()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouter_CORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigins = []string{"https://plugin.example"}
	handler, _ := newTestHandler(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/license/verify", nil)
	req.Header.Set("Origin", "https://plugin.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://plugin.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRouter_CleanupReachableWithCronSecret(t *testing.T) {
	cfg := testConfig()
	cfg.CronSecret = "cron-secret"
	cfg.CleanupRetention.DebugLogs = 24 * time.Hour
	handler, mock := newTestHandler(t, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	mock.ExpectExec(`FROM auth_sessions`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`FROM auth_login_attempts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`FROM debug_logs`).WillReturnResult(sqlmock.NewResult(0, 4))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","result":{"deleted_sessions":2,"deleted_login_attempts":1,"deleted_debug_logs":4}}`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}
