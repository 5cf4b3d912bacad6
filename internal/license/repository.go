package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const licenseColumns = `id, license_key, api_token_hash IS NOT NULL, status, client_name, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func scanLicense(row interface{ Scan(...any) error }) (License, error) {
	var l License
	var status string
	if err := row.Scan(&l.ID, &l.LicenseKey, &l.HasAPIToken, &status, &l.ClientName, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return License{}, err
	}
	l.Status = Status(status)
	return l, nil
}

func (r *Repository) getOne(ctx context.Context, where string, arg any) (License, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE `+where+` = $1
	`, arg)

	l, err := scanLicense(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return License{}, ErrNotFound
		}
		return License{}, fmt.Errorf("query license by %s: %w", where, err)
	}
	return l, nil
}

func (r *Repository) GetByAPIToken(ctx context.Context, token string) (License, error) {
	return r.getOne(ctx, "api_token_hash", hashToken(token))
}

func (r *Repository) GetByKey(ctx context.Context, key string) (License, error) {
	return r.getOne(ctx, "license_key", strings.TrimSpace(key))
}

func (r *Repository) GetByID(ctx context.Context, id string) (License, error) {
	if _, err := uuid.Parse(id); err != nil {
		return License{}, ErrNotFound
	}
	return r.getOne(ctx, "id", id)
}

func (r *Repository) List(ctx context.Context) ([]License, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query licenses: %w", err)
	}
	defer rows.Close()

	licenses := make([]License, 0)
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate licenses: %w", err)
	}

	return licenses, nil
}

// Create stores a new active license and returns it with its plaintext API
// token, which is not recoverable afterwards.
func (r *Repository) Create(ctx context.Context, input Input) (License, string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return License{}, "", fmt.Errorf("generate uuid v7: %w", err)
	}
	key, err := GenerateKey()
	if err != nil {
		return License{}, "", fmt.Errorf("generate license key: %w", err)
	}
	token, err := GenerateAPIToken()
	if err != nil {
		return License{}, "", fmt.Errorf("generate api token: %w", err)
	}

	now := time.Now().UTC()
	l := License{
		ID:          id.String(),
		LicenseKey:  key,
		HasAPIToken: true,
		Status:      StatusActive,
		ClientName:  input.ClientName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO licenses (id, license_key, api_token_hash, status, client_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, l.ID, l.LicenseKey, hashToken(token), string(l.Status), l.ClientName, now)
	if err != nil {
		return License{}, "", fmt.Errorf("insert license: %w", err)
	}

	return l, token, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) (License, error) {
	if _, err := uuid.Parse(id); err != nil {
		return License{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE licenses
		SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+licenseColumns+`
	`, id, string(status), time.Now().UTC())

	l, err := scanLicense(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return License{}, ErrNotFound
		}
		return License{}, fmt.Errorf("update license status: %w", err)
	}
	return l, nil
}

// ClearAPIToken detaches the bearer token; the legacy key keeps working.
func (r *Repository) ClearAPIToken(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE licenses
		SET api_token_hash = NULL, updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear api token: %w", err)
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
