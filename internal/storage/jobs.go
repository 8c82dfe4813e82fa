package storage

import (
	"context"
	"database/sql"

	"castbot/internal/model"
)

const jobCols = `id, actor_id, endpoint_id, message, interval_min, active, last_run_at, created_at`

func scanJob(sc interface{ Scan(...any) error }) (model.Job, error) {
	var (
		j        model.Job
		msg      sql.NullString
		interval sql.NullInt64
		active   int
		lastRun  sql.NullInt64
		created  int64
	)
	if err := sc.Scan(&j.ID, &j.ActorID, &j.EndpointID, &msg, &interval, &active, &lastRun, &created); err != nil {
		return model.Job{}, err
	}
	if msg.Valid {
		j.Message = model.Ptr(msg.String)
	}
	if interval.Valid {
		j.IntervalMin = model.Ptr(int(interval.Int64))
	}
	j.Active = active != 0
	if lastRun.Valid {
		j.LastRunAt = model.Ptr(fromMillis(lastRun.Int64))
	}
	j.CreatedAt = fromMillis(created)
	return j, nil
}

// CreateJob creates an empty, inactive job bound to the endpoint.
func (s *SQLite) CreateJob(ctx context.Context, actorID, endpointID int64) (model.Job, error) {
	var j model.Job
	err := s.withTx(ctx, "create_job", func(tx *sql.Tx) error {
		var owner int64
		if err := tx.QueryRowContext(ctx, `SELECT actor_id FROM endpoints WHERE id = ?`, endpointID).Scan(&owner); err != nil {
			if err == sql.ErrNoRows {
				return model.NotFound("storage.create_job", "account")
			}
			return err
		}
		if owner != actorID {
			return model.NotFound("storage.create_job", "account")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs(actor_id, endpoint_id, active, created_at) VALUES(?, ?, 0, ?)`,
			actorID, endpointID, toMillis(s.now()),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		j, err = scanJob(tx.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = ?`, id))
		return err
	})
	return j, err
}

func (s *SQLite) GetJob(ctx context.Context, id int64) (model.Job, error) {
	j, err := scanJob(s.reader.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return model.Job{}, rowErr("get_job", "task", err)
	}
	return j, nil
}

// UpdateJob applies p atomically. Activating a job that lacks a message, an
// interval or an endpoint is rejected, so an active job is always runnable.
func (s *SQLite) UpdateJob(ctx context.Context, id int64, p model.JobPatch) (model.Job, error) {
	if p.IntervalMin != nil && *p.IntervalMin <= 0 {
		return model.Job{}, model.Validation("storage.update_job", "Interval has to be a positive number of minutes.")
	}
	var j model.Job
	err := s.withTx(ctx, "update_job", func(tx *sql.Tx) error {
		cur, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = ?`, id))
		if err != nil {
			if err == sql.ErrNoRows {
				return model.NotFound("storage.update_job", "task")
			}
			return err
		}
		if p.Message != nil {
			cur.Message = model.Ptr(*p.Message)
		}
		if p.IntervalMin != nil {
			cur.IntervalMin = model.Ptr(*p.IntervalMin)
		}
		if p.Active != nil {
			cur.Active = *p.Active
		}
		if p.LastRunAt != nil {
			cur.LastRunAt = model.Ptr(*p.LastRunAt)
		}
		if cur.Active && !cur.Configured() {
			return model.Validation("storage.update_job", "This task is not fully configured yet.")
		}

		var msg, interval, lastRun any
		if cur.Message != nil {
			msg = *cur.Message
		}
		if cur.IntervalMin != nil {
			interval = *cur.IntervalMin
		}
		if cur.LastRunAt != nil {
			lastRun = toMillis(*cur.LastRunAt)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET message = ?, interval_min = ?, active = ?, last_run_at = ? WHERE id = ?`,
			msg, interval, boolInt(cur.Active), lastRun, id,
		); err != nil {
			return err
		}
		j = cur
		return nil
	})
	return j, err
}

// DeleteJob removes a job; its destinations go with it.
func (s *SQLite) DeleteJob(ctx context.Context, id int64) error {
	res, err := s.writer.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete_job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFound("storage.delete_job", "task")
	}
	return nil
}

// ListDueActiveJobs returns every active job in id order. Whether a job is
// actually due is the scheduler's call.
func (s *SQLite) ListDueActiveJobs(ctx context.Context) ([]model.Job, error) {
	return s.listJobs(ctx, "list_due_active_jobs", `SELECT `+jobCols+` FROM jobs WHERE active = 1 ORDER BY id`)
}

// ListActorJobs returns the actor's fully configured jobs.
func (s *SQLite) ListActorJobs(ctx context.Context, actorID int64) ([]model.Job, error) {
	return s.listJobs(ctx, "list_actor_jobs",
		`SELECT `+jobCols+` FROM jobs
		  WHERE actor_id = ? AND message IS NOT NULL AND interval_min IS NOT NULL
		  ORDER BY id`, actorID)
}

func (s *SQLite) listJobs(ctx context.Context, op, q string, args ...any) ([]model.Job, error) {
	rows, err := s.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()
	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, j)
	}
	return out, storeErr(op, rows.Err())
}

// DeactivateActorJobs switches off every job of the actor in one statement.
func (s *SQLite) DeactivateActorJobs(ctx context.Context, actorID int64) (int64, error) {
	res, err := s.writer.ExecContext(ctx, `UPDATE jobs SET active = 0 WHERE actor_id = ? AND active = 1`, actorID)
	if err != nil {
		return 0, storeErr("deactivate_actor_jobs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
