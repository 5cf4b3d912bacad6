// Package pending carries the "password verified, second factor outstanding"
// handoff between the login request and the 2FA challenge. The handoff lives
// in a single signed cookie on the client, so no server-side cleanup is
// needed and a new login simply overwrites the slot.
package pending

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	CookieName = "pending_2fa_user"
	TTL        = 5 * time.Minute

	tokenType = "pending_2fa"
)

var ErrNotFound = errors.New("no pending two-factor handoff")

type claims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

type Ledger struct {
	secret []byte
	secure bool
	now    func() time.Time
}

func NewLedger(secret string, secure bool) *Ledger {
	return &Ledger{secret: []byte(secret), secure: secure, now: time.Now}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Create signs userID into the handoff cookie, replacing any previous one.
func (l *Ledger) Create(w http.ResponseWriter, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("empty user id")
	}

	now := l.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
		},
	})
	signed, err := token.SignedString(l.secret)
	if err != nil {
		return fmt.Errorf("sign pending handoff: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(TTL.Seconds()),
		HttpOnly: true,
		Secure:   l.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Read returns the user id of a live handoff. Missing, forged and expired
// cookies are all ErrNotFound.
func (l *Ledger) Read(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrNotFound
	}

	var parsed claims
	token, err := jwt.ParseWithClaims(cookie.Value, &parsed, func(*jwt.Token) (any, error) {
		return l.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(l.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return "", ErrNotFound
	}
	if parsed.Type != tokenType || parsed.Subject == "" {
		return "", ErrNotFound
	}

	return parsed.Subject, nil
}

// Destroy clears the handoff cookie. Safe to call when none exists.
func (l *Ledger) Destroy(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   l.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
