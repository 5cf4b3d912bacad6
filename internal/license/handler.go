package license

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"roadpress-admin/internal/httpx"
	"roadpress-admin/internal/observability"
)

type Store interface {
	Lookup
	List(ctx context.Context) ([]License, error)
	Create(ctx context.Context, input Input) (License, string, error)
	UpdateStatus(ctx context.Context, id string, status Status) (License, error)
	ClearAPIToken(ctx context.Context, id string) error
}

type Handler struct {
	store  Store
	logger *observability.Logger
}

func NewHandler(store Store, logger *observability.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Verify is called by the plugin after PluginAuthenticator.Require.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	l, _ := FromContext(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"license": map[string]any{
			"id":         l.ID,
			"clientName": l.ClientName,
			"status":     l.Status,
		},
	})
}

func (h *Handler) Disassociate(w http.ResponseWriter, r *http.Request) {
	l, _ := FromContext(r.Context())
	if err := h.store.ClearAPIToken(r.Context(), l.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.WriteError(w, httpx.NotFound("license not found"))
			return
		}
		httpx.WriteError(w, httpx.ServerFault("failed to disassociate license", err))
		return
	}

	h.logger.Info("license_disassociated", map[string]any{"license_id": l.ID})
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.store.List(r.Context())
	if err != nil {
		httpx.WriteError(w, httpx.ServerFault("failed to list licenses", err))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, licenses)
}

func (h *Handler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	var input Input
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		httpx.WriteError(w, err)
		return
	}

	input.ClientName = strings.TrimSpace(input.ClientName)
	if input.ClientName == "" {
		httpx.WriteError(w, httpx.Validation("clientName is required"))
		return
	}
	if !utf8.ValidString(input.ClientName) || len(input.ClientName) > 150 {
		httpx.WriteError(w, httpx.Validation("clientName is invalid"))
		return
	}

	l, token, err := h.store.Create(r.Context(), input)
	if err != nil {
		httpx.WriteError(w, httpx.ServerFault("failed to create license", err))
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"license":  l,
		"apiToken": token,
	})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var input StatusInput
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if input.Status != StatusActive && input.Status != StatusInactive {
		httpx.WriteError(w, httpx.Validation("status must be ACTIVE or INACTIVE"))
		return
	}

	l, err := h.store.UpdateStatus(r.Context(), r.PathValue("id"), input.Status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.WriteError(w, httpx.NotFound("license not found"))
			return
		}
		httpx.WriteError(w, httpx.ServerFault("failed to update license", err))
		return
	}

	h.logger.Info("license_status_changed", map[string]any{"license_id": l.ID, "status": string(l.Status)})
	httpx.WriteJSON(w, http.StatusOK, l)
}
