package storage

import (
	"context"
	"database/sql"
	"strings"

	"castbot/internal/model"
)

const endpointCols = `id, actor_id, phone, code_hash, active, created_at`

func scanEndpoint(sc interface{ Scan(...any) error }) (model.Endpoint, error) {
	var (
		e       model.Endpoint
		active  int
		created int64
	)
	if err := sc.Scan(&e.ID, &e.ActorID, &e.Phone, &e.CodeHash, &active, &created); err != nil {
		return model.Endpoint{}, err
	}
	e.Active = active != 0
	e.CreatedAt = fromMillis(created)
	return e, nil
}

// UpsertEndpoint records a pending login for (actor, phone). An existing row
// keeps its id, gets the new code hash and goes back to inactive.
func (s *SQLite) UpsertEndpoint(ctx context.Context, actorID int64, phone, codeHash string) (model.Endpoint, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return model.Endpoint{}, model.Validation("storage.upsert_endpoint", "Please include the phone number.")
	}
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO endpoints(actor_id, phone, code_hash, active, created_at) VALUES(?, ?, ?, 0, ?)
		 ON CONFLICT(actor_id, phone) DO UPDATE SET code_hash = excluded.code_hash, active = 0`,
		actorID, phone, codeHash, toMillis(s.now()),
	)
	if err != nil {
		return model.Endpoint{}, storeErr("upsert_endpoint", err)
	}
	e, err := scanEndpoint(s.writer.QueryRowContext(ctx,
		`SELECT `+endpointCols+` FROM endpoints WHERE actor_id = ? AND phone = ?`, actorID, phone))
	if err != nil {
		return model.Endpoint{}, rowErr("upsert_endpoint", "account", err)
	}
	return e, nil
}

func (s *SQLite) GetEndpoint(ctx context.Context, id int64) (model.Endpoint, error) {
	e, err := scanEndpoint(s.reader.QueryRowContext(ctx, `SELECT `+endpointCols+` FROM endpoints WHERE id = ?`, id))
	if err != nil {
		return model.Endpoint{}, rowErr("get_endpoint", "account", err)
	}
	return e, nil
}

func (s *SQLite) GetEndpointByPhone(ctx context.Context, actorID int64, phone string) (model.Endpoint, error) {
	e, err := scanEndpoint(s.reader.QueryRowContext(ctx,
		`SELECT `+endpointCols+` FROM endpoints WHERE actor_id = ? AND phone = ?`, actorID, strings.TrimSpace(phone)))
	if err != nil {
		return model.Endpoint{}, rowErr("get_endpoint_by_phone", "account", err)
	}
	return e, nil
}

func (s *SQLite) ActivateEndpoint(ctx context.Context, id int64) error {
	res, err := s.writer.ExecContext(ctx, `UPDATE endpoints SET active = 1 WHERE id = ?`, id)
	if err != nil {
		return storeErr("activate_endpoint", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFound("storage.activate_endpoint", "account")
	}
	return nil
}

func (s *SQLite) ListEndpoints(ctx context.Context, actorID int64) ([]model.Endpoint, error) {
	return s.listEndpoints(ctx, "list_endpoints",
		`SELECT `+endpointCols+` FROM endpoints WHERE actor_id = ? ORDER BY created_at, id`, actorID)
}

func (s *SQLite) ListActiveEndpoints(ctx context.Context, actorID int64) ([]model.Endpoint, error) {
	return s.listEndpoints(ctx, "list_active_endpoints",
		`SELECT `+endpointCols+` FROM endpoints WHERE actor_id = ? AND active = 1 ORDER BY created_at, id`, actorID)
}

func (s *SQLite) listEndpoints(ctx context.Context, op, q string, args ...any) ([]model.Endpoint, error) {
	rows, err := s.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()
	var out []model.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, e)
	}
	return out, storeErr(op, rows.Err())
}

// DeleteEndpoint removes an actor's endpoint together with every job bound to
// it (and, through the jobs, their destinations).
func (s *SQLite) DeleteEndpoint(ctx context.Context, actorID, endpointID int64) (int64, error) {
	var removed int64
	err := s.withTx(ctx, "delete_endpoint", func(tx *sql.Tx) error {
		var owner int64
		err := tx.QueryRowContext(ctx, `SELECT actor_id FROM endpoints WHERE id = ?`, endpointID).Scan(&owner)
		if err != nil || owner != actorID {
			if err == nil || err == sql.ErrNoRows {
				return model.NotFound("storage.delete_endpoint", "account")
			}
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE endpoint_id = ?`, endpointID)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		_, err = tx.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, endpointID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
