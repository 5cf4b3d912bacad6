package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"roadpress-admin/internal/httpx"
	"roadpress-admin/internal/observability"
	"roadpress-admin/internal/pending"
	"roadpress-admin/internal/user"
)

type Handler struct {
	service         *Service
	ledger          *pending.Ledger
	logger          *observability.Logger
	secure          bool
	bootstrapSecret string
}

func NewHandler(service *Service, ledger *pending.Ledger, logger *observability.Logger, secure bool, bootstrapSecret string) *Handler {
	return &Handler{
		service:         service,
		ledger:          ledger,
		logger:          logger,
		secure:          secure,
		bootstrapSecret: strings.TrimSpace(bootstrapSecret),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" || body.Password == "" {
		httpx.WriteError(w, httpx.Validation("email and password are required"))
		return
	}
	if len(body.Password) > maxPasswordLength {
		httpx.WriteError(w, httpx.Validation("password format is invalid"))
		return
	}

	outcome, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	switch outcome.Kind {
	case OutcomeNeedsSecondFactor:
		if err := h.ledger.Create(w, outcome.UserID); err != nil {
			httpx.WriteError(w, httpx.ServerFault("server error", err))
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"status":   "two_factor_required",
			"redirect": "/login/2fa",
		})
	case OutcomeAuthenticated:
		h.writeAuthenticated(w, outcome)
	default:
		httpx.WriteError(w, httpx.Unauthenticated(outcome.Reason))
	}
}

// VerifyTwoFactor completes a login using the pending handoff cookie. A
// rejected code leaves the handoff in place so the user can retry until it
// expires.
func (h *Handler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, err := h.ledger.Read(r)
	if err != nil {
		httpx.WriteError(w, httpx.Unauthenticated("two-factor session expired, please sign in again"))
		return
	}

	var body codeRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}

	outcome, err := h.service.CompleteTwoFactor(r.Context(), userID, body.Code)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if outcome.Kind != OutcomeAuthenticated {
		httpx.WriteError(w, httpx.Unauthenticated(outcome.Reason))
		return
	}

	h.writeAuthenticated(w, outcome)
}

// writeAuthenticated consumes any pending handoff in the same response that
// hands out the session cookie.
func (h *Handler) writeAuthenticated(w http.ResponseWriter, outcome LoginOutcome) {
	h.ledger.Destroy(w)
	setSessionCookie(w, outcome.Token, outcome.Session.ExpiresAt.Sub(h.service.now()), h.secure)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "authenticated",
		"user":     outcome.Session,
		"redirect": "/",
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		current, err := h.service.CurrentSession(r)
		if err != nil && !errors.Is(err, ErrNoSession) {
			httpx.WriteError(w, httpx.ServerFault("server error", err))
			return
		}
		session, ok = current, err == nil
	}

	if ok {
		if err := h.service.Logout(r.Context(), session); err != nil {
			httpx.WriteError(w, httpx.ServerFault("server error", err))
			return
		}
	}

	h.ledger.Destroy(w)
	clearSessionCookie(w, h.secure)
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"user": session})
}

func (h *Handler) TwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())
	status, err := h.service.TwoFactorStatus(r.Context(), session.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())
	enrollment, err := h.service.BeginEnrollment(r.Context(), session.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, enrollment)
}

func (h *Handler) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())
	var body codeRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}

	codes, err := h.service.EnableTwoFactor(r.Context(), session.UserID, body.Code)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Info("two_factor_enabled", map[string]any{"user_id": session.UserID})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"enabled": true, "backupCodes": codes})
}

func (h *Handler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())
	var body codeRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}

	if err := h.service.DisableTwoFactor(r.Context(), session.UserID, body.Code); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Info("two_factor_disabled", map[string]any{"user_id": session.UserID})
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (h *Handler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())
	var body codeRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), session.UserID, body.Code)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"backupCodes": codes})
}

// Bootstrap creates the first admin. It is hidden unless a bootstrap secret
// is configured and no admin exists yet.
func (h *Handler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	if h.bootstrapSecret == "" {
		httpx.WriteError(w, httpx.NotFound("not found"))
		return
	}
	token := httpx.BearerToken(r)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.bootstrapSecret)) != 1 {
		httpx.WriteError(w, httpx.Unauthenticated("unauthorized"))
		return
	}

	var body loginRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}

	created, err := h.service.BootstrapAdmin(r.Context(), body.Email, body.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Info("admin_bootstrapped", map[string]any{"user_id": created.ID})
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{
		"id":    created.ID,
		"email": created.Email,
		"role":  string(created.Role),
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var lockedErr ErrLoginLocked
	switch {
	case errors.As(err, &lockedErr):
		retryAfter := int(lockedErr.Until.Sub(h.service.now()).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		httpx.WriteError(w, httpx.TooManyRequests("login temporarily locked"))
	case errors.Is(err, ErrCodeRequired),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrWeakPassword):
		httpx.WriteError(w, httpx.Validation(err.Error()))
	case errors.Is(err, ErrTwoFactorAlreadyEnabled),
		errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrEnrollmentNotStarted),
		errors.Is(err, user.ErrEmailTaken):
		httpx.WriteError(w, httpx.Conflict(err.Error()))
	case errors.Is(err, user.ErrNotFound):
		httpx.WriteError(w, httpx.NotFound("user not found"))
	case errors.Is(err, ErrBootstrapComplete):
		httpx.WriteError(w, httpx.NotFound("not found"))
	default:
		httpx.WriteError(w, httpx.ServerFault("server error", err))
	}
}
