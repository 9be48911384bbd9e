// Package history keeps an audit trail of item executions in SQLite.
// It is observability only: scheduling decisions never read it, so a
// missing or broken history store degrades to logging.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tickler/pkg/logx"
)

var ErrDisabled = errors.New("history disabled")

type Config struct {
	// Path to the SQLite file; empty disables the store.
	Path        string
	BusyTimeout time.Duration
	// Retention bounds PruneOlderThan from the daily maintenance job.
	Retention time.Duration
}

// Entry records one item execution.
type Entry struct {
	At         time.Time
	Item       string
	Kind       string // query | excursion
	Outcome    string // success | cancelled | skipped | timed-out | disabled
	Duration   time.Duration
	Dismissals int
	Error      string
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         TEXT NOT NULL,
	item       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	took_ms    INTEGER NOT NULL,
	dismissals INTEGER NOT NULL,
	err        TEXT
);
CREATE INDEX IF NOT EXISTS runs_at ON runs(at);
CREATE INDEX IF NOT EXISTS runs_item ON runs(item);
`

// Open initializes the store. It returns (nil, nil) when no path is
// configured; the nil *Store is safe to use.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) RecordRun(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at, item, kind, outcome, took_ms, dismissals, err)
		 VALUES(?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Item, e.Kind, e.Outcome,
		e.Duration.Milliseconds(), e.Dismissals, nullStr(e.Error),
	)
	return err
}

// Recent returns the newest n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, item, kind, outcome, took_ms, dismissals, COALESCE(err, '')
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		var tookMS int64
		if err := rows.Scan(&at, &e.Item, &e.Kind, &e.Outcome, &tookMS, &e.Dismissals, &e.Error); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Duration = time.Duration(tookMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneOlderThan drops entries older than the cutoff.
func (s *Store) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	cutoff := time.Now().Add(-age).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Debug("history pruned", logx.Int64("removed", n))
	}
	return n, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
