package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"castbot/internal/model"
	logx "castbot/pkg/logx"
)

// SQLite implements Store on top of a writer connection and a reader pool.
type SQLite struct {
	writer *sql.DB
	reader *sql.DB
	log    logx.Logger

	now func() time.Time

	opCount    atomic.Uint64
	pruneEvery uint64
}

var memSeq atomic.Uint64

// Open opens (and migrates) the SQLite job store.
func Open(cfg Config, log logx.Logger) (*SQLite, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("storage: sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	readers := cfg.Readers
	if readers <= 0 {
		readers = 4
	}

	var dsn string
	if path == ":memory:" {
		dsn = fmt.Sprintf("file:castbot-%d-%d?mode=memory&cache=shared&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
			time.Now().UnixNano(), memSeq.Add(1), busy.Milliseconds())
		// Readers share the writer: shared-cache table locks do not honor busy_timeout.
		readers = 0
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
			path, busy.Milliseconds())
	}

	st, err := openDSN(dsn, readers, log)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("path", path), logx.Int("readers", readers))
	return st, nil
}

// openDSN opens the writer and reader pools. readers == 0 makes reads go
// through the writer connection.
func openDSN(dsn string, readers int, log logx.Logger) (*SQLite, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	// SQLite prefers a single writer; this also serializes job row mutations.
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)
	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	if readers == 0 {
		if err := RunMigrations(writer); err != nil {
			_ = writer.Close()
			return nil, err
		}
		return &SQLite{writer: writer, reader: writer, log: log, now: time.Now, pruneEvery: 500}, nil
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(readers)
	if err := reader.PingContext(context.Background()); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	if err := RunMigrations(writer); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, err
	}

	return &SQLite{
		writer:     writer,
		reader:     reader,
		log:        log,
		now:        time.Now,
		pruneEvery: 500,
	}, nil
}

// Close closes both pools and returns the first error.
func (s *SQLite) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	if s.reader != nil && s.reader != s.writer {
		if err := s.reader.Close(); err != nil {
			firstErr = fmt.Errorf("close reader: %w", err)
		}
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer: %w", err)
		}
	}
	return firstErr
}

// SetClock overrides the timestamp source used for created_at columns.
func (s *SQLite) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *SQLite) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return storeErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, err)
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// Ping checks the writer connection. It backs the /healthz endpoint.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.writer.PingContext(ctx); err != nil {
		return model.StoreFailure("storage.ping", err)
	}
	return nil
}
