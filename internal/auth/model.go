package auth

import (
	"context"
	"errors"
	"time"

	"roadpress-admin/internal/user"
)

const (
	ReasonInvalidCredentials = "invalid email or password"
	ReasonInvalidCode        = "invalid two-factor code"
)

// Session is the authenticated principal attached to a request.
type Session struct {
	ID        string    `json:"-"`
	UserID    string    `json:"id"`
	Email     string    `json:"email"`
	Role      user.Role `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s Session) IsAdmin() bool {
	return s.Role == user.RoleAdmin
}

type OutcomeKind int

const (
	OutcomeRejected OutcomeKind = iota
	OutcomeNeedsSecondFactor
	OutcomeAuthenticated
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNeedsSecondFactor:
		return "needs_second_factor"
	case OutcomeAuthenticated:
		return "authenticated"
	default:
		return "rejected"
	}
}

// LoginOutcome is the result of a login step. Only the fields matching Kind
// are set: Reason for Rejected, UserID for NeedsSecondFactor, Session and
// Token for Authenticated.
type LoginOutcome struct {
	Kind    OutcomeKind
	Reason  string
	UserID  string
	Session Session
	Token   string
}

func Rejected(reason string) LoginOutcome {
	return LoginOutcome{Kind: OutcomeRejected, Reason: reason}
}

func NeedsSecondFactor(userID string) LoginOutcome {
	return LoginOutcome{Kind: OutcomeNeedsSecondFactor, UserID: userID}
}

func Authenticated(session Session, token string) LoginOutcome {
	return LoginOutcome{Kind: OutcomeAuthenticated, Session: session, Token: token}
}

type TwoFactorStatus struct {
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backupCodesRemaining"`
}

type LoginAttempt struct {
	Email          string
	FailedAttempts int
	LockedUntil    *time.Time
}

type CleanupResult struct {
	DeletedSessions      int64 `json:"deleted_sessions"`
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
}

var (
	ErrNoSession               = errors.New("no valid session")
	ErrCodeRequired            = errors.New("code is required")
	ErrInvalidCode             = errors.New(ReasonInvalidCode)
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")
	ErrEnrollmentNotStarted    = errors.New("two-factor enrollment not started")
	ErrBootstrapComplete       = errors.New("admin bootstrap already completed")
	ErrInvalidEmail            = errors.New("email format is invalid")
	ErrWeakPassword            = errors.New("password format is invalid")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

type sessionKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
