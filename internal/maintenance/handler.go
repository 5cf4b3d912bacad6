package maintenance

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"roadpress-admin/internal/auth"
	"roadpress-admin/internal/httpx"
	"roadpress-admin/internal/observability"
)

type AuthCleaner interface {
	CleanupStaleAuthData(ctx context.Context, sessionRetention, loginAttemptRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

type DebugLogPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type Retention struct {
	Sessions      time.Duration
	LoginAttempts time.Duration
	DebugLogs     time.Duration
	BatchSize     int
}

type CleanupHandler struct {
	auth       AuthCleaner
	debugLogs  DebugLogPruner
	logger     *observability.Logger
	cronSecret string
	retention  Retention
	now        func() time.Time
}

func NewCleanupHandler(authCleaner AuthCleaner, debugLogs DebugLogPruner, logger *observability.Logger, cronSecret string, retention Retention) *CleanupHandler {
	return &CleanupHandler{
		auth:       authCleaner,
		debugLogs:  debugLogs,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		retention:  retention,
		now:        time.Now,
	}
}

type cleanupResult struct {
	auth.CleanupResult
	DeletedDebugLogs int64 `json:"deleted_debug_logs"`
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		httpx.WriteError(w, httpx.NotFound("not found"))
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := httpx.BearerToken(r)
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
		httpx.WriteError(w, httpx.Unauthenticated("unauthorized"))
		return
	}

	authResult, err := h.auth.CleanupStaleAuthData(r.Context(), h.retention.Sessions, h.retention.LoginAttempts, h.retention.BatchSize)
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		httpx.WriteError(w, httpx.ServerFault("cleanup failed", err))
		return
	}

	result := cleanupResult{CleanupResult: authResult}
	if h.debugLogs != nil && h.retention.DebugLogs > 0 {
		cutoff := h.now().UTC().Add(-h.retention.DebugLogs)
		result.DeletedDebugLogs, err = h.debugLogs.DeleteOlderThan(r.Context(), cutoff, h.retention.BatchSize)
		if err != nil {
			h.logger.Error("debug_log_cleanup_failed", map[string]any{"error": err.Error()})
			httpx.WriteError(w, httpx.ServerFault("cleanup failed", err))
			return
		}
	}

	h.logger.Info("cleanup_completed", map[string]any{
		"deleted_sessions":       result.DeletedSessions,
		"deleted_login_attempts": result.DeletedLoginAttempts,
		"deleted_debug_logs":     result.DeletedDebugLogs,
	})

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}
