package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/salesbridge/followup/internal/model"
)

// PostgresRecipientStore keeps each recipient in a row with a JSONB state
// column and a version counter used for optimistic concurrency.
type PostgresRecipientStore struct {
	db *sql.DB
}

func NewPostgresRecipientStore(db *sql.DB) *PostgresRecipientStore {
	return &PostgresRecipientStore{db: db}
}

// EnsureSchema creates the recipients table on first run.
func (s *PostgresRecipientStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS recipients (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			phone      TEXT NOT NULL,
			role       TEXT NOT NULL,
			state      JSONB NOT NULL DEFAULT '{}'::jsonb,
			version    BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS recipients_phone_idx ON recipients (phone);
	`)
	return err
}

func (s *PostgresRecipientStore) Get(ctx context.Context, id string) (*model.Recipient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, role, state, version
		FROM recipients
		WHERE id = $1
	`, id)

	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PostgresRecipientStore) GetByPhone(ctx context.Context, phone string) (*model.Recipient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, role, state, version
		FROM recipients
		WHERE phone = $1
	`, phone)

	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PostgresRecipientStore) Put(ctx context.Context, r *model.Recipient) error {
	raw, err := json.Marshal(r.State)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recipients (id, name, phone, role, state, version)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    phone = EXCLUDED.phone,
		    role = EXCLUDED.role
	`, r.ID, r.Name, r.Phone, string(r.Role), raw)
	return err
}

func (s *PostgresRecipientStore) List(ctx context.Context) ([]*model.Recipient, error) {
	return s.query(ctx, `
		SELECT id, name, phone, role, state, version
		FROM recipients
		ORDER BY id
	`)
}

func (s *PostgresRecipientStore) ListQueued(ctx context.Context) ([]*model.Recipient, error) {
	return s.query(ctx, `
		SELECT id, name, phone, role, state, version
		FROM recipients
		WHERE jsonb_path_exists(state, '$.pending_messages.* ? (@.status == "queued")')
		ORDER BY id
	`)
}

func (s *PostgresRecipientStore) ListApprovals(ctx context.Context, statuses ...model.ApprovalStatus) ([]*model.Recipient, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(st)
	}

	return s.query(ctx, fmt.Sprintf(`
		SELECT id, name, phone, role, state, version
		FROM recipients
		WHERE state->'approval_context'->>'status' IN (%s)
		ORDER BY state->'approval_context'->>'created_at'
	`, strings.Join(placeholders, ", ")), args...)
}

// Merge writes the engine sub-document only if the version still matches the
// caller's read. A zero-row update means someone else got there first.
func (s *PostgresRecipientStore) Merge(ctx context.Context, id string, version int64, state model.RecipientState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE recipients
		SET state = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
	`, id, version, raw)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a lost race.
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresRecipientStore) query(ctx context.Context, q string, args ...any) ([]*model.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	var (
		r    model.Recipient
		role string
		raw  []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Phone, &role, &raw, &r.Version); err != nil {
		return nil, err
	}
	r.Role = model.Role(role)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &r.State); err != nil {
			return nil, fmt.Errorf("failed to decode state for %s: %w", r.ID, err)
		}
	}
	return &r, nil
}
