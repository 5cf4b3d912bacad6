package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const userColumns = `id, email, password_hash, role, two_factor_enabled, two_factor_secret, backup_codes, backup_codes_version, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.TwoFactorEnabled, &u.TwoFactorSecret, &u.BackupCodes, &u.BackupCodesVersion, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email)))

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user by email: %w", err)
	}
	return u, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

func (r *Repository) Create(ctx context.Context, email, passwordHash string, role Role) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	u := User{
		ID:           id.String(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, u.ID, u.Email, u.PasswordHash, string(u.Role), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

func (r *Repository) HasAdmin(ctx context.Context) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE role = $1)`, string(RoleAdmin)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check admin exists: %w", err)
	}
	return exists, nil
}

// firstAdminLockKey serialises concurrent first-admin inserts.
const firstAdminLockKey int64 = 0x52504144

// CreateFirstAdmin inserts an admin only while no admin exists. Concurrent
// callers queue on a transaction-scoped advisory lock, so at most one of
// them succeeds and the rest get ErrAdminExists.
func (r *Repository) CreateFirstAdmin(ctx context.Context, email, passwordHash string) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	u := User{
		ID:           id.String(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		Role:         RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin first admin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, firstAdminLockKey); err != nil {
		return User{}, fmt.Errorf("lock first admin: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $5
		WHERE NOT EXISTS (SELECT 1 FROM users WHERE role = $4)
	`, u.ID, u.Email, u.PasswordHash, string(u.Role), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert first admin: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return User{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return User{}, ErrAdminExists
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit first admin: %w", err)
	}
	return u, nil
}

// UpdateTwoFactor replaces the 2FA state in one statement and bumps the
// backup-code version so in-flight consumers lose their swap.
func (r *Repository) UpdateTwoFactor(ctx context.Context, id string, enabled bool, secret, backupCodes string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET two_factor_enabled = $2,
			two_factor_secret = $3,
			backup_codes = $4,
			backup_codes_version = backup_codes_version + 1,
			updated_at = $5
		WHERE id = $1
	`, id, enabled, secret, backupCodes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update two-factor state: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetBackupCodes(ctx context.Context, userID string) (string, int64, error) {
	var blob string
	var version int64
	err := r.db.QueryRowContext(ctx, `
		SELECT backup_codes, backup_codes_version
		FROM users
		WHERE id = $1
	`, userID).Scan(&blob, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, ErrNotFound
		}
		return "", 0, fmt.Errorf("query backup codes: %w", err)
	}
	return blob, version, nil
}

// SwapBackupCodes writes blob only if the stored version still equals
// expectedVersion. It reports false when another writer got there first.
func (r *Repository) SwapBackupCodes(ctx context.Context, userID string, expectedVersion int64, blob string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET backup_codes = $3,
			backup_codes_version = backup_codes_version + 1,
			updated_at = $4
		WHERE id = $1 AND backup_codes_version = $2
	`, userID, expectedVersion, blob, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("swap backup codes: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}
