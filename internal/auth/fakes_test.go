package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"roadpress-admin/internal/observability"
	"roadpress-admin/internal/password"
	"roadpress-admin/internal/twofactor"
	"roadpress-admin/internal/user"
)

const (
	testPassword      = "correct horse battery"
	testSessionSecret = "session-signing-secret"
	testCipherKey     = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memoryUsers struct {
	mu   sync.Mutex
	byID map[string]user.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: make(map[string]user.User)}
}

func (m *memoryUsers) put(u user.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.ID] = u
}

func (m *memoryUsers) get(id string) user.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == strings.ToLower(strings.TrimSpace(email)) {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (m *memoryUsers) GetByID(_ context.Context, id string) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (m *memoryUsers) Create(_ context.Context, email, passwordHash string, role user.Role) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return user.User{}, user.ErrEmailTaken
		}
	}
	u := user.User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, Role: role}
	m.byID[u.ID] = u
	return u, nil
}

func (m *memoryUsers) HasAdmin(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Role == user.RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryUsers) CreateFirstAdmin(_ context.Context, email, passwordHash string) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Role == user.RoleAdmin {
			return user.User{}, user.ErrAdminExists
		}
		if u.Email == email {
			return user.User{}, user.ErrEmailTaken
		}
	}
	u := user.User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, Role: user.RoleAdmin}
	m.byID[u.ID] = u
	return u, nil
}

func (m *memoryUsers) UpdateTwoFactor(_ context.Context, id string, enabled bool, secret, backupCodes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return user.ErrNotFound
	}
	u.TwoFactorEnabled = enabled
	u.TwoFactorSecret = secret
	u.BackupCodes = backupCodes
	u.BackupCodesVersion++
	m.byID[id] = u
	return nil
}

func (m *memoryUsers) GetBackupCodes(_ context.Context, userID string) (string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return "", 0, user.ErrNotFound
	}
	return u.BackupCodes, u.BackupCodesVersion, nil
}

func (m *memoryUsers) SwapBackupCodes(_ context.Context, userID string, expected int64, blob string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok || u.BackupCodesVersion != expected {
		return false, nil
	}
	u.BackupCodes = blob
	u.BackupCodesVersion++
	m.byID[userID] = u
	return true, nil
}

type sessionRecord struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]sessionRecord
	attempts map[string]LoginAttempt
	err      error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions: make(map[string]sessionRecord),
		attempts: make(map[string]LoginAttempt),
	}
}

func (m *memoryStore) CreateSession(_ context.Context, id, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sessions[id] = sessionRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memoryStore) IsSessionActive(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	rec, ok := m.sessions[id]
	return ok && !rec.revoked && rec.expiresAt.After(now), nil
}

func (m *memoryStore) RevokeSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if rec, ok := m.sessions[id]; ok {
		rec.revoked = true
		m.sessions[id] = rec
	}
	return nil
}

func (m *memoryStore) activeSessions(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.sessions {
		if !rec.revoked && rec.expiresAt.After(now) {
			n++
		}
	}
	return n
}

func (m *memoryStore) GetLoginAttempt(_ context.Context, email string) (LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return LoginAttempt{}, m.err
	}
	attempt, ok := m.attempts[email]
	if !ok {
		return LoginAttempt{Email: email}, nil
	}
	return attempt, nil
}

func (m *memoryStore) RegisterFailedAttempt(_ context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt := m.attempts[email]
	attempt.Email = email
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		until := *attempt.LockedUntil
		return &until, nil
	}

	attempt.FailedAttempts++
	attempt.LockedUntil = nil
	var lockedUntil *time.Time
	if attempt.FailedAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		attempt.LockedUntil = &until
		attempt.FailedAttempts = 0
		lockedUntil = &until
	}
	m.attempts[email] = attempt
	return lockedUntil, nil
}

func (m *memoryStore) ResetLoginAttempt(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, email)
	return nil
}

type fixture struct {
	svc    *Service
	users  *memoryUsers
	store  *memoryStore
	engine *twofactor.Engine
	hasher *password.Hasher
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hasher, err := password.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	cipher, err := twofactor.NewCipher(testCipherKey)
	require.NoError(t, err)

	clk := &clock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	engine := twofactor.NewEngine("RoadPress Test", cipher).WithClock(clk.now)
	users := newMemoryUsers()
	store := newMemoryStore()

	svc := NewService(users, store, hasher, engine, testSessionSecret, observability.Discard()).
		WithSecurityConfig(3, 15*time.Minute, time.Hour).
		WithClock(clk.now)

	return &fixture{svc: svc, users: users, store: store, engine: engine, hasher: hasher, clock: clk}
}

func (f *fixture) addUser(t *testing.T, email string, role user.Role) user.User {
	t.Helper()
	hash, err := f.hasher.Hash(testPassword)
	require.NoError(t, err)
	u := user.User{ID: uuid.NewString(), Email: email, PasswordHash: hash, Role: role}
	f.users.put(u)
	return u
}

// enableTwoFactor turns 2FA on for u and returns the plaintext TOTP secret
// and backup codes.
func (f *fixture) enableTwoFactor(t *testing.T, u user.User) (string, []string) {
	t.Helper()
	enrollment, err := f.engine.GenerateSecret(u.Email)
	require.NoError(t, err)
	sealedSecret, err := f.engine.Encrypt(enrollment.Secret)
	require.NoError(t, err)

	codes, err := twofactor.GenerateBackupCodes(twofactor.DefaultBackupCodeCount)
	require.NoError(t, err)
	sealedCodes, err := f.engine.SealBackupCodes(twofactor.NewBackupCodeSet(codes))
	require.NoError(t, err)

	u = f.users.get(u.ID)
	u.TwoFactorEnabled = true
	u.TwoFactorSecret = sealedSecret
	u.BackupCodes = sealedCodes
	f.users.put(u)
	return enrollment.Secret, codes
}

func (f *fixture) currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := f.engine.CodeAt(secret, f.clock.now())
	require.NoError(t, err)
	return code
}
