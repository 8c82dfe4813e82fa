package storage

import (
	"context"
	"database/sql"

	"castbot/internal/model"
)

// AddDestination attaches a target to a job. Adding an id twice is a no-op.
func (s *SQLite) AddDestination(ctx context.Context, jobID int64, c model.Candidate) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO destinations(job_id, external_id, title, created_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(job_id, external_id) DO NOTHING`,
		jobID, c.ID, c.Title, toMillis(s.now()),
	)
	if err != nil {
		return storeErr("add_destination", err)
	}
	return nil
}

// RemoveDestination detaches a target. A missing row is not an error.
func (s *SQLite) RemoveDestination(ctx context.Context, jobID, externalID int64) error {
	_, err := s.writer.ExecContext(ctx,
		`DELETE FROM destinations WHERE job_id = ? AND external_id = ?`, jobID, externalID)
	return storeErr("remove_destination", err)
}

// ListDestinations returns the job's targets in insertion order. It is a
// single statement, so callers always see a consistent snapshot.
func (s *SQLite) ListDestinations(ctx context.Context, jobID int64) ([]model.Destination, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT id, job_id, external_id, title, created_at FROM destinations WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, storeErr("list_destinations", err)
	}
	defer rows.Close()
	var out []model.Destination
	for rows.Next() {
		var (
			d       model.Destination
			created int64
		)
		if err := rows.Scan(&d.ID, &d.JobID, &d.ExternalID, &d.Title, &created); err != nil {
			return nil, storeErr("list_destinations", err)
		}
		d.CreatedAt = fromMillis(created)
		out = append(out, d)
	}
	return out, storeErr("list_destinations", rows.Err())
}

// ReplaceDestinations deletes every destination of the job and inserts cs, in
// one transaction.
func (s *SQLite) ReplaceDestinations(ctx context.Context, jobID int64, cs []model.Candidate) error {
	return s.withTx(ctx, "replace_destinations", func(tx *sql.Tx) error {
		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, jobID).Scan(&one); err != nil {
			if err == sql.ErrNoRows {
				return model.NotFound("storage.replace_destinations", "task")
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM destinations WHERE job_id = ?`, jobID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO destinations(job_id, external_id, title, created_at) VALUES(?, ?, ?, ?)
			 ON CONFLICT(job_id, external_id) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		now := toMillis(s.now())
		for _, c := range cs {
			if _, err := stmt.ExecContext(ctx, jobID, c.ID, c.Title, now); err != nil {
				return err
			}
		}
		return nil
	})
}
