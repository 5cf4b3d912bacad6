package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"roadpress-admin/internal/user"
)

const (
	SessionCookieName = "roadpress_session"

	sessionTokenType = "session"
)

type sessionClaims struct {
	Type  string `json:"typ"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (s *Service) signSession(session Session, issuedAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Type:  sessionTokenType,
		Email: session.Email,
		Role:  string(session.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	})
	encoded, err := token.SignedString(s.sessionSecret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return encoded, nil
}

func (s *Service) parseSession(raw string) (Session, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.sessionSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return Session{}, ErrNoSession
	}
	if claims.Type != sessionTokenType || claims.ID == "" || claims.Subject == "" {
		return Session{}, ErrNoSession
	}

	return Session{
		ID:        claims.ID,
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      user.Role(claims.Role),
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func setSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	maxAge := int(ttl.Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
