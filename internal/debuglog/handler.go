package debuglog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"roadpress-admin/internal/httpx"
	"roadpress-admin/internal/license"
	"roadpress-admin/internal/observability"
)

type Store interface {
	Create(ctx context.Context, licenseID string, input Input) (Entry, error)
	List(ctx context.Context, filter Filter) ([]Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	store  Store
	logger *observability.Logger
}

func NewHandler(store Store, logger *observability.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Ingest stores a log line sent by a plugin. The license comes from the
// plugin authenticator, never from the body.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	l, ok := license.FromContext(r.Context())
	if !ok {
		httpx.WriteMessage(w, http.StatusUnauthorized, license.ReasonMissing)
		return
	}

	var input Input
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		httpx.WriteError(w, err)
		return
	}

	input.Level = Level(strings.ToLower(strings.TrimSpace(string(input.Level))))
	input.Message = strings.TrimSpace(input.Message)
	if input.Level == "" {
		input.Level = LevelInfo
	}
	if !input.Level.Valid() {
		httpx.WriteError(w, httpx.Validation("level must be one of debug, info, warning, error"))
		return
	}
	if input.Message == "" {
		httpx.WriteError(w, httpx.Validation("message is required"))
		return
	}
	if !utf8.ValidString(input.Message) || len(input.Message) > maxMessageBytes {
		httpx.WriteError(w, httpx.Validation("message is invalid"))
		return
	}
	if len(input.Context) > maxContextBytes {
		httpx.WriteError(w, httpx.Validation("context is too large"))
		return
	}
	if len(input.Context) > 0 && !isJSONObject(input.Context) {
		httpx.WriteError(w, httpx.Validation("context must be a JSON object"))
		return
	}

	entry, err := h.store.Create(r.Context(), l.ID, input)
	if err != nil {
		httpx.WriteError(w, httpx.ServerFault("failed to store debug log", err))
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": entry.ID})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := Filter{
		LicenseID: strings.TrimSpace(query.Get("licenseId")),
		Level:     Level(strings.ToLower(strings.TrimSpace(query.Get("level")))),
		Limit:     defaultPageSize,
	}
	if filter.Level != "" && !filter.Level.Valid() {
		httpx.WriteError(w, httpx.Validation("level is invalid"))
		return
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxPageSize {
			httpx.WriteError(w, httpx.Validation("limit must be between 1 and 200"))
			return
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			httpx.WriteError(w, httpx.Validation("offset must be >= 0"))
			return
		}
		filter.Offset = offset
	}

	entries, err := h.store.List(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, httpx.ServerFault("failed to list debug logs", err))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeLookupError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.WriteError(w, httpx.NotFound("debug log not found"))
		return
	}
	httpx.WriteError(w, httpx.ServerFault("server error", err))
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]any
	return json.Unmarshal(raw, &obj) == nil
}
