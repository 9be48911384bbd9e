// Package memstore persists named variables through the append-only
// variable log and reconstructs them on startup. Unchanged variables are
// never rewritten, so the log grows only when state actually moves.
package memstore

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"tickler/internal/eventlog"
	logx "tickler/pkg/logx"
)

// ErrCorruptLog means a variable-log row does not have exactly the
// (posted, name, value) shape. Saves refuse to extend a corrupt log;
// reads keep working so recovery stays possible.
var ErrCorruptLog = errors.New("memstore: corrupt variable log")

type Store struct {
	elog *eventlog.Store
	path string
	log  logx.Logger
}

func New(elog *eventlog.Store, path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{elog: elog, path: path, log: log}
}

// Values is a recovered variable set: name to most-recent raw value.
type Values map[string]string

// Time deserializes a timestamp-typed variable (raw unix number).
func (v Values) Time(name string) (time.Time, bool) {
	raw, ok := v[name]
	if !ok {
		return time.Time{}, false
	}
	return eventlog.ParsePosted(raw)
}

// Int deserializes an integer-typed variable.
func (v Values) Int(name string) (int, bool) {
	raw, ok := v[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

// Snapshot appends one record per variable whose value differs from the
// most recently stored one. It returns how many records were written.
func (s *Store) Snapshot(vars map[string]string) (int, error) {
	if err := s.sanityCheck(); err != nil {
		return 0, err
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	written := 0
	for _, name := range names {
		val := vars[name]
		if prev, ok := s.LastValueOf(name); ok && prev == val {
			continue
		}
		if err := s.elog.Append(s.path, name, val); err != nil {
			return written, fmt.Errorf("memstore: save %s: %w", name, err)
		}
		written++
	}
	if written > 0 {
		s.log.Debug("memory snapshot", logx.Int("written", written), logx.Int("vars", len(vars)))
	}
	return written, nil
}

// LastValueOf scans newest-to-oldest for the most recent value of name.
func (s *Store) LastValueOf(name string) (string, bool) {
	rows, err := s.elog.ReadAll(s.path)
	if err != nil {
		return "", false
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if len(rows[i]) == 3 && rows[i][1] == name {
			return rows[i][2], true
		}
	}
	return "", false
}

// Recover rebuilds the full variable set, latest occurrence winning.
// Later entries shadow earlier ones entirely; values are never merged.
func (s *Store) Recover() (Values, error) {
	rows, err := s.elog.ReadAll(s.path)
	if err != nil {
		return nil, err
	}
	vals := Values{}
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) != 3 {
			s.log.Warn("memstore: skipping malformed variable row", logx.Int("fields", len(row)))
			continue
		}
		if _, seen := vals[row[1]]; seen {
			continue
		}
		vals[row[1]] = row[2]
	}
	return vals, nil
}

// Purge removes every record for name from the variable log. This is an
// administrative maintenance operation, not part of normal operation.
func (s *Store) Purge(name string) (int, error) {
	return s.elog.RewriteWithout(s.path, func(row []string) bool {
		return len(row) == 3 && row[1] == name
	})
}

func (s *Store) sanityCheck() error {
	rows, err := s.elog.ReadAll(s.path)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if len(row) != 3 {
			return fmt.Errorf("%w: row %d has %d fields", ErrCorruptLog, i+1, len(row))
		}
	}
	return nil
}
