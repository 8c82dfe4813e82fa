package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"castbot/internal/model"
)

func (s *SQLite) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	if s == nil || s.writer == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, target, detail) VALUES(?, ?, ?, ?, ?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, e.Action, e.Target, nullStr(e.Detail),
	)
	return storeErr("append_audit", err)
}

// ListAudit returns the newest entries first.
func (s *SQLite) ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.reader.QueryContext(ctx,
		`SELECT at, actor_id, action, target, COALESCE(detail, '') FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("list_audit", err)
	}
	defer rows.Close()
	var out []model.AuditEntry
	for rows.Next() {
		var (
			e  model.AuditEntry
			at string
		)
		if err := rows.Scan(&at, &e.ActorID, &e.Action, &e.Target, &e.Detail); err != nil {
			return nil, storeErr("list_audit", err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, storeErr("list_audit", rows.Err())
}

func (s *SQLite) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.writer == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO notifier_dedup(key, until) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.writer.ExecContext(pctx, `DELETE FROM notifier_dedup WHERE until < ?`, s.now().UnixMilli())
		cancel()
	}
	return storeErr("put_dedup", err)
}

func (s *SQLite) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.reader == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.reader.QueryRowContext(ctx, `SELECT until FROM notifier_dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, storeErr("get_dedup", err)
	}
	return time.UnixMilli(ms), true, nil
}
