package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"castbot/internal/model"
)

const actorCols = `id, api_id, api_hash, is_admin, credential_id, created_at`

func scanActor(sc interface{ Scan(...any) error }) (model.Actor, error) {
	var (
		a       model.Actor
		admin   int
		credID  sql.NullInt64
		created int64
	)
	if err := sc.Scan(&a.ID, &a.APIID, &a.APIHash, &admin, &credID, &created); err != nil {
		return model.Actor{}, err
	}
	a.IsAdmin = admin != 0
	if credID.Valid {
		v := credID.Int64
		a.CredentialID = &v
	}
	a.CreatedAt = fromMillis(created)
	return a, nil
}

func (s *SQLite) FindOrCreateActor(ctx context.Context, id int64) (model.Actor, error) {
	if _, err := s.writer.ExecContext(ctx,
		`INSERT INTO actors(id, created_at) VALUES(?, ?) ON CONFLICT(id) DO NOTHING`,
		id, toMillis(s.now()),
	); err != nil {
		return model.Actor{}, storeErr("find_or_create_actor", err)
	}
	return s.getActor(ctx, s.writer, "find_or_create_actor", id)
}

func (s *SQLite) GetActor(ctx context.Context, id int64) (model.Actor, error) {
	return s.getActor(ctx, s.reader, "get_actor", id)
}

func (s *SQLite) getActor(ctx context.Context, db *sql.DB, op string, id int64) (model.Actor, error) {
	a, err := scanActor(db.QueryRowContext(ctx, `SELECT `+actorCols+` FROM actors WHERE id = ?`, id))
	if err != nil {
		return model.Actor{}, rowErr(op, "actor", err)
	}
	return a, nil
}

// BindCredential replaces the actor's credential association. The previous
// credential row is left untouched.
func (s *SQLite) BindCredential(ctx context.Context, actorID, credentialID int64) error {
	res, err := s.writer.ExecContext(ctx, `UPDATE actors SET credential_id = ? WHERE id = ?`, credentialID, actorID)
	if err != nil {
		return storeErr("bind_credential", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFound("storage.bind_credential", "actor")
	}
	return nil
}

// ActorCredential resolves the credential bound to an actor. ok is false when
// the actor has none.
func (s *SQLite) ActorCredential(ctx context.Context, actorID int64) (model.Credential, bool, error) {
	c, err := scanCredential(s.reader.QueryRowContext(ctx,
		`SELECT c.id, c.value, c.valid_until, c.created_at
		   FROM actors a JOIN credentials c ON c.id = a.credential_id
		  WHERE a.id = ?`, actorID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, false, nil
	}
	if err != nil {
		return model.Credential{}, false, storeErr("actor_credential", err)
	}
	return c, true, nil
}

func (s *SQLite) SetAdmin(ctx context.Context, actorID int64, admin bool) error {
	if _, err := s.FindOrCreateActor(ctx, actorID); err != nil {
		return err
	}
	_, err := s.writer.ExecContext(ctx, `UPDATE actors SET is_admin = ? WHERE id = ?`, boolInt(admin), actorID)
	return storeErr("set_admin", err)
}

func (s *SQLite) ListAdmins(ctx context.Context) ([]model.Actor, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT `+actorCols+` FROM actors WHERE is_admin = 1 ORDER BY id`)
	if err != nil {
		return nil, storeErr("list_admins", err)
	}
	defer rows.Close()
	var out []model.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, storeErr("list_admins", err)
		}
		out = append(out, a)
	}
	return out, storeErr("list_admins", rows.Err())
}

// SetActorOverride stores per-actor gateway credentials. apiID 0 clears them.
func (s *SQLite) SetActorOverride(ctx context.Context, actorID int64, apiID int, apiHash string) error {
	apiHash = strings.TrimSpace(apiHash)
	if apiID == 0 {
		apiHash = ""
	}
	res, err := s.writer.ExecContext(ctx, `UPDATE actors SET api_id = ?, api_hash = ? WHERE id = ?`, apiID, apiHash, actorID)
	if err != nil {
		return storeErr("set_actor_override", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFound("storage.set_actor_override", "actor")
	}
	return nil
}
