package storage

import (
	"context"
	"strings"
	"time"

	"castbot/internal/model"
)

const dateLayout = "2006-01-02"

func scanCredential(sc interface{ Scan(...any) error }) (model.Credential, error) {
	var (
		c       model.Credential
		until   string
		created int64
	)
	if err := sc.Scan(&c.ID, &c.Value, &until, &created); err != nil {
		return model.Credential{}, err
	}
	d, err := time.Parse(dateLayout, until)
	if err != nil {
		return model.Credential{}, err
	}
	c.ValidUntil = d
	c.CreatedAt = fromMillis(created)
	return c, nil
}

// CreateCredential stores a new unbound credential. Only the calendar date of
// validUntil is kept.
func (s *SQLite) CreateCredential(ctx context.Context, value string, validUntil time.Time) (model.Credential, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return model.Credential{}, model.Validation("storage.create_credential", "credential value is empty")
	}
	res, err := s.writer.ExecContext(ctx,
		`INSERT INTO credentials(value, valid_until, created_at) VALUES(?, ?, ?)`,
		value, validUntil.Format(dateLayout), toMillis(s.now()),
	)
	if err != nil {
		return model.Credential{}, storeErr("create_credential", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Credential{}, storeErr("create_credential", err)
	}
	return s.getCredential(ctx, "create_credential", `SELECT id, value, valid_until, created_at FROM credentials WHERE id = ?`, id, true)
}

func (s *SQLite) GetCredential(ctx context.Context, id int64) (model.Credential, error) {
	return s.getCredential(ctx, "get_credential", `SELECT id, value, valid_until, created_at FROM credentials WHERE id = ?`, id, false)
}

func (s *SQLite) GetCredentialByValue(ctx context.Context, value string) (model.Credential, error) {
	return s.getCredential(ctx, "get_credential_by_value", `SELECT id, value, valid_until, created_at FROM credentials WHERE value = ?`, strings.TrimSpace(value), false)
}

func (s *SQLite) getCredential(ctx context.Context, op, q string, arg any, fromWriter bool) (model.Credential, error) {
	db := s.reader
	if fromWriter {
		db = s.writer
	}
	c, err := scanCredential(db.QueryRowContext(ctx, q, arg))
	if err != nil {
		return model.Credential{}, rowErr(op, "credential", err)
	}
	return c, nil
}

// ListValidCredentials returns credentials whose expiry day is today or later.
func (s *SQLite) ListValidCredentials(ctx context.Context, today time.Time) ([]model.Credential, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT id, value, valid_until, created_at FROM credentials WHERE valid_until >= ? ORDER BY valid_until, id`,
		today.Format(dateLayout),
	)
	if err != nil {
		return nil, storeErr("list_valid_credentials", err)
	}
	defer rows.Close()
	var out []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, storeErr("list_valid_credentials", err)
		}
		out = append(out, c)
	}
	return out, storeErr("list_valid_credentials", rows.Err())
}
