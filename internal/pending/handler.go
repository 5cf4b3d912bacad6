package pending

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"roadpress-admin/internal/httpx"
	"roadpress-admin/internal/observability"
)

type Handler struct {
	ledger         *Ledger
	logger         *observability.Logger
	internalSecret string
}

func NewHandler(ledger *Ledger, logger *observability.Logger, internalSecret string) *Handler {
	return &Handler{
		ledger:         ledger,
		logger:         logger,
		internalSecret: strings.TrimSpace(internalSecret),
	}
}

type createRequest struct {
	UserID string `json:"userId"`
}

// Create is only reachable by internal callers holding the shared secret.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.internalSecret == "" {
		httpx.WriteError(w, httpx.NotFound("not found"))
		return
	}
	token := httpx.BearerToken(r)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.internalSecret)) != 1 {
		httpx.WriteError(w, httpx.Unauthenticated("unauthorized"))
		return
	}

	var body createRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}
	body.UserID = strings.TrimSpace(body.UserID)
	if body.UserID == "" {
		httpx.WriteError(w, httpx.Validation("userId is required"))
		return
	}

	if err := h.ledger.Create(w, body.UserID); err != nil {
		h.logger.Error("pending_handoff_create_failed", map[string]any{"error": err.Error()})
		httpx.WriteError(w, httpx.ServerFault("server error", err))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := h.ledger.Read(r)
	if err != nil {
		httpx.WriteError(w, httpx.NotFound("no pending two-factor authentication"))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"userId": userID})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.ledger.Destroy(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
