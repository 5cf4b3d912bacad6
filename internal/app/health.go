package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"roadpress-admin/internal/httpx"
)

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		now := time.Now().UTC().Format(time.RFC3339)
		if err := database.PingContext(ctx); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "time": now})
			return
		}

		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": now})
	}
}
