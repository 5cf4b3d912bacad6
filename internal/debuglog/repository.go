package debuglog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, licenseID string, input Input) (Entry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Entry{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	e := Entry{
		ID:        id.String(),
		LicenseID: licenseID,
		Level:     input.Level,
		Message:   input.Message,
		Context:   input.Context,
		CreatedAt: time.Now().UTC(),
	}
	if len(e.Context) == 0 {
		e.Context = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO debug_logs (id, license_id, level, message, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.LicenseID, string(e.Level), e.Message, []byte(e.Context), e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("insert debug log: %w", err)
	}

	return e, nil
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	var where []string
	var args []any
	if filter.LicenseID != "" {
		args = append(args, filter.LicenseID)
		where = append(where, fmt.Sprintf("license_id = $%d", len(args)))
	}
	if filter.Level != "" {
		args = append(args, string(filter.Level))
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}

	query := `SELECT id, license_id, level, message, context, created_at FROM debug_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query debug logs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan debug log: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate debug logs: %w", err)
	}

	return entries, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Entry{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, license_id, level, message, context, created_at
		FROM debug_logs
		WHERE id = $1
	`, id)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("query debug log: %w", err)
	}
	return e, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM debug_logs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete debug log: %w", err)
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

// DeleteOlderThan removes up to batchSize entries created before cutoff.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM debug_logs
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM debug_logs t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale debug logs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale debug logs rows affected: %w", err)
	}

	return affected, nil
}

func scanEntry(row interface{ Scan(...any) error }) (Entry, error) {
	var e Entry
	var level string
	var raw []byte
	if err := row.Scan(&e.ID, &e.LicenseID, &level, &e.Message, &raw, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	e.Level = Level(level)
	e.Context = json.RawMessage(raw)
	return e, nil
}
