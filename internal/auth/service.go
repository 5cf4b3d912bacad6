package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"roadpress-admin/internal/observability"
	"roadpress-admin/internal/password"
	"roadpress-admin/internal/twofactor"
	"roadpress-admin/internal/user"
)

const (
	defaultSessionTTL  = 12 * time.Hour
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute

	minPasswordLength = 12
	maxPasswordLength = 200
)

type UserStore interface {
	twofactor.BackupCodeStore
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	Create(ctx context.Context, email, passwordHash string, role user.Role) (user.User, error)
	HasAdmin(ctx context.Context) (bool, error)
	CreateFirstAdmin(ctx context.Context, email, passwordHash string) (user.User, error)
	UpdateTwoFactor(ctx context.Context, id string, enabled bool, secret, backupCodes string) error
}

// Store holds server-side session records and failed-login counters.
type Store interface {
	CreateSession(ctx context.Context, id, userID string, expiresAt time.Time) error
	IsSessionActive(ctx context.Context, id string, now time.Time) (bool, error)
	RevokeSession(ctx context.Context, id string) error

	GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, email string) error
}

type Service struct {
	users         UserStore
	store         Store
	hasher        *password.Hasher
	engine        *twofactor.Engine
	logger        *observability.Logger
	sessionSecret []byte
	sessionTTL    time.Duration
	maxAttempts   int
	lockDuration  time.Duration
	now           func() time.Time
}

func NewService(users UserStore, store Store, hasher *password.Hasher, engine *twofactor.Engine, sessionSecret string, logger *observability.Logger) *Service {
	return &Service{
		users:         users,
		store:         store,
		hasher:        hasher,
		engine:        engine,
		logger:        logger,
		sessionSecret: []byte(sessionSecret),
		sessionTTL:    defaultSessionTTL,
		maxAttempts:   defaultMaxAttempts,
		lockDuration:  defaultLockWindow,
		now:           time.Now,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration time.Duration, sessionTTL time.Duration) *Service {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if sessionTTL > 0 {
		s.sessionTTL = sessionTTL
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Login verifies a password. Unknown email and wrong password produce the
// same outcome; only the log line tells them apart.
func (s *Service) Login(ctx context.Context, email, plaintext string) (LoginOutcome, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || plaintext == "" {
		return Rejected(ReasonInvalidCredentials), nil
	}

	now := s.now().UTC()
	if err := s.checkLock(ctx, email, now); err != nil {
		return LoginOutcome{}, err
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.hasher.Burn(plaintext)
			return s.reject(ctx, email, now, ReasonInvalidCredentials, "unknown_email")
		}
		return LoginOutcome{}, err
	}

	if !s.hasher.Verify(plaintext, u.PasswordHash) {
		return s.reject(ctx, email, now, ReasonInvalidCredentials, "bad_password")
	}

	// The failure counter also covers second-factor guesses, so it is only
	// cleared once the whole login has succeeded.
	if u.TwoFactorEnabled {
		return NeedsSecondFactor(u.ID), nil
	}

	if err := s.store.ResetLoginAttempt(ctx, email); err != nil {
		return LoginOutcome{}, err
	}
	return s.openSession(ctx, u)
}

// CompleteTwoFactor finishes a login that is waiting on a second factor.
// code is tried as a TOTP code first, then as a single-use backup code.
func (s *Service) CompleteTwoFactor(ctx context.Context, userID, code string) (LoginOutcome, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return LoginOutcome{}, ErrCodeRequired
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return Rejected(ReasonInvalidCode), nil
		}
		return LoginOutcome{}, err
	}
	if !u.TwoFactorEnabled {
		return Rejected(ReasonInvalidCode), nil
	}

	now := s.now().UTC()
	if err := s.checkLock(ctx, u.Email, now); err != nil {
		return LoginOutcome{}, err
	}

	secret, err := s.engine.Decrypt(u.TwoFactorSecret)
	if err != nil {
		return LoginOutcome{}, fmt.Errorf("open two-factor secret: %w", err)
	}
	if s.engine.VerifyCode(secret, code) {
		if err := s.store.ResetLoginAttempt(ctx, u.Email); err != nil {
			return LoginOutcome{}, err
		}
		return s.openSession(ctx, u)
	}

	outcome, err := s.completeWithBackupCode(ctx, u, code)
	if err != nil {
		return LoginOutcome{}, err
	}
	if outcome.Kind == OutcomeRejected {
		return s.reject(ctx, u.Email, now, ReasonInvalidCode, "bad_second_factor")
	}
	if err := s.store.ResetLoginAttempt(ctx, u.Email); err != nil {
		return LoginOutcome{}, err
	}
	return outcome, nil
}

// completeWithBackupCode opens the session before consuming the code. If the
// consume then loses (another request spent the code), the session is
// revoked so the code never yields more than one live session.
func (s *Service) completeWithBackupCode(ctx context.Context, u user.User, code string) (LoginOutcome, error) {
	set, err := s.engine.OpenBackupCodes(u.BackupCodes)
	if err != nil {
		return LoginOutcome{}, fmt.Errorf("open backup codes: %w", err)
	}
	if !set.Contains(code) {
		return Rejected(ReasonInvalidCode), nil
	}

	outcome, err := s.openSession(ctx, u)
	if err != nil {
		return LoginOutcome{}, err
	}

	consumed, err := s.engine.ConsumeBackupCode(ctx, s.users, u.ID, code)
	if err != nil || !consumed {
		if revokeErr := s.store.RevokeSession(ctx, outcome.Session.ID); revokeErr != nil {
			s.logger.Error("backup_code_session_revoke_failed", map[string]any{
				"user_id": u.ID,
				"error":   revokeErr.Error(),
			})
		}
		if err != nil {
			return LoginOutcome{}, err
		}
		return Rejected(ReasonInvalidCode), nil
	}

	s.logger.Info("backup_code_consumed", map[string]any{
		"user_id":   u.ID,
		"remaining": set.Len() - 1,
	})
	return outcome, nil
}

func (s *Service) checkLock(ctx context.Context, email string, now time.Time) error {
	attempt, err := s.store.GetLoginAttempt(ctx, email)
	if err != nil {
		return err
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return ErrLoginLocked{Until: *attempt.LockedUntil}
	}
	return nil
}

func (s *Service) reject(ctx context.Context, email string, now time.Time, reason, cause string) (LoginOutcome, error) {
	lockedUntil, err := s.store.RegisterFailedAttempt(ctx, email, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return LoginOutcome{}, err
	}

	s.logger.Warn("login_rejected", map[string]any{"cause": cause})
	if lockedUntil != nil {
		return LoginOutcome{}, ErrLoginLocked{Until: *lockedUntil}
	}
	return Rejected(reason), nil
}

func (s *Service) openSession(ctx context.Context, u user.User) (LoginOutcome, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return LoginOutcome{}, fmt.Errorf("generate session id: %w", err)
	}

	now := s.now().UTC()
	session := Session{
		ID:        id.String(),
		UserID:    u.ID,
		Email:     u.Email,
		Role:      u.Role,
		ExpiresAt: now.Add(s.sessionTTL),
	}

	token, err := s.signSession(session, now)
	if err != nil {
		return LoginOutcome{}, err
	}
	if err := s.store.CreateSession(ctx, session.ID, session.UserID, session.ExpiresAt); err != nil {
		return LoginOutcome{}, err
	}

	return Authenticated(session, token), nil
}

// CurrentSession resolves the session cookie on r. Storage faults are
// returned as-is; every other failure is ErrNoSession.
func (s *Service) CurrentSession(r *http.Request) (Session, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return Session{}, ErrNoSession
	}

	session, err := s.parseSession(cookie.Value)
	if err != nil {
		return Session{}, err
	}

	active, err := s.store.IsSessionActive(r.Context(), session.ID, s.now().UTC())
	if err != nil {
		return Session{}, err
	}
	if !active {
		return Session{}, ErrNoSession
	}

	return session, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	return s.store.RevokeSession(ctx, session.ID)
}

func (s *Service) TwoFactorStatus(ctx context.Context, userID string) (TwoFactorStatus, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return TwoFactorStatus{}, err
	}
	if !u.TwoFactorEnabled {
		return TwoFactorStatus{}, nil
	}

	set, err := s.engine.OpenBackupCodes(u.BackupCodes)
	if err != nil {
		return TwoFactorStatus{}, fmt.Errorf("open backup codes: %w", err)
	}
	return TwoFactorStatus{Enabled: true, BackupCodesRemaining: set.Len()}, nil
}

// BeginEnrollment stores a fresh, not yet enabled secret for the user.
func (s *Service) BeginEnrollment(ctx context.Context, userID string) (twofactor.Enrollment, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return twofactor.Enrollment{}, err
	}
	if u.TwoFactorEnabled {
		return twofactor.Enrollment{}, ErrTwoFactorAlreadyEnabled
	}

	enrollment, err := s.engine.GenerateSecret(u.Email)
	if err != nil {
		return twofactor.Enrollment{}, err
	}
	sealed, err := s.engine.Encrypt(enrollment.Secret)
	if err != nil {
		return twofactor.Enrollment{}, err
	}
	if err := s.users.UpdateTwoFactor(ctx, u.ID, false, sealed, ""); err != nil {
		return twofactor.Enrollment{}, err
	}

	return enrollment, nil
}

// EnableTwoFactor confirms the enrolled secret with a live code and returns
// the plaintext backup codes. They are never shown again.
func (s *Service) EnableTwoFactor(ctx context.Context, userID, code string) ([]string, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if u.TwoFactorSecret == "" {
		return nil, ErrEnrollmentNotStarted
	}
	if err := s.verifyUserCode(u, code); err != nil {
		return nil, err
	}

	return s.issueBackupCodes(ctx, u)
}

func (s *Service) DisableTwoFactor(ctx context.Context, userID, code string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if err := s.verifyUserCode(u, code); err != nil {
		return err
	}

	return s.users.UpdateTwoFactor(ctx, u.ID, false, "", "")
}

func (s *Service) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}
	if err := s.verifyUserCode(u, code); err != nil {
		return nil, err
	}

	return s.issueBackupCodes(ctx, u)
}

func (s *Service) verifyUserCode(u user.User, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrCodeRequired
	}
	secret, err := s.engine.Decrypt(u.TwoFactorSecret)
	if err != nil {
		return fmt.Errorf("open two-factor secret: %w", err)
	}
	if !s.engine.VerifyCode(secret, code) {
		return ErrInvalidCode
	}
	return nil
}

func (s *Service) issueBackupCodes(ctx context.Context, u user.User) ([]string, error) {
	codes, err := twofactor.GenerateBackupCodes(twofactor.DefaultBackupCodeCount)
	if err != nil {
		return nil, err
	}
	sealed, err := s.engine.SealBackupCodes(twofactor.NewBackupCodeSet(codes))
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateTwoFactor(ctx, u.ID, true, u.TwoFactorSecret, sealed); err != nil {
		return nil, err
	}

	formatted := make([]string, len(codes))
	for i, code := range codes {
		formatted[i] = twofactor.FormatBackupCode(code)
	}
	return formatted, nil
}

// BootstrapAdmin creates the first admin account. It refuses once any admin
// exists.
func (s *Service) BootstrapAdmin(ctx context.Context, email, plaintext string) (user.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if !validEmail(email) {
		return user.User{}, ErrInvalidEmail
	}
	if len(plaintext) < minPasswordLength || len(plaintext) > maxPasswordLength {
		return user.User{}, ErrWeakPassword
	}

	exists, err := s.users.HasAdmin(ctx)
	if err != nil {
		return user.User{}, err
	}
	if exists {
		return user.User{}, ErrBootstrapComplete
	}

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return user.User{}, err
	}
	created, err := s.users.CreateFirstAdmin(ctx, email, hash)
	if errors.Is(err, user.ErrAdminExists) {
		return user.User{}, ErrBootstrapComplete
	}
	return created, err
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
