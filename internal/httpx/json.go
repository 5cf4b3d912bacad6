package httpx

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

const MaxJSONBodyBytes = 1 << 20

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteError renders err as {"error": message}. Server faults are reported to
// Sentry and always rendered with a generic message.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		sentry.CaptureException(err)
		WriteMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if appErr.Kind == KindServerFault {
		sentry.CaptureException(err)
		message := appErr.Message
		if message == "" {
			message = "internal server error"
		}
		WriteMessage(w, http.StatusInternalServerError, message)
		return
	}

	WriteMessage(w, appErr.Kind.Status(), appErr.Message)
}

// DecodeJSON reads a size-limited JSON body into dst, rejecting unknown
// fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return Validation("invalid json body")
	}
	return nil
}

// BearerToken returns the token of an "Authorization: Bearer <token>"
// header, or "" when the header is absent or uses another scheme.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ClientIP returns the right-most X-Forwarded-For hop, which is the one
// appended by the proxy in front of us, falling back to RemoteIP. Entries to
// its left are client-supplied.
func ClientIP(r *http.Request) string {
	parts := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(parts) - 1; i >= 0; i-- {
		if ip := strings.TrimSpace(parts[i]); ip != "" {
			return ip
		}
	}
	return RemoteIP(r)
}

// RemoteIP is the peer address of the connection without its port.
func RemoteIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
