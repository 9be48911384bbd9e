package eventlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	logx "tickler/pkg/logx"
)

// Store reads and writes append-only, tab-delimited record files.
//
// File format:
//   - one record per '\n'-terminated line
//   - fields separated by a single tab
//   - field 0 is always the posted time (unix seconds; a float with 7
//     fractional digits when high-precision mode is on)
//
// Records carrying an embedded tab or newline are diverted verbatim to a
// sibling "<path>_errors" file so one bad field cannot break column
// alignment for every later reader.
type Store struct {
	fs  afero.Fs
	log logx.Logger
	now func() time.Time

	// HighPrecision switches posted times from integer seconds to a
	// 7-fractional-digit float.
	HighPrecision bool
}

// ErrMalformedField is returned when an append was diverted to the
// errors sibling because a field embedded a tab or newline.
var ErrMalformedField = errors.New("eventlog: field contains tab or newline")

type Option func(*Store)

// WithFs injects the filesystem (tests use afero.NewMemMapFs).
func WithFs(fs afero.Fs) Option { return func(s *Store) { s.fs = fs } }

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithHighPrecision(on bool) Option { return func(s *Store) { s.HighPrecision = on } }

func New(log logx.Logger, opts ...Option) *Store {
	s := &Store{fs: afero.NewOsFs(), log: log, now: time.Now}
	if log.IsZero() {
		s.log = logx.Nop()
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PostedStamp formats t the way Append stamps field 0.
func (s *Store) PostedStamp(t time.Time) string {
	if s.HighPrecision {
		// Format the two integer parts separately; a float64 of the full
		// nanosecond count cannot hold ~1.7e18 exactly.
		return fmt.Sprintf("%d.%07d", t.Unix(), t.Nanosecond()/100)
	}
	return strconv.FormatInt(t.Unix(), 10)
}

// Append writes one record to path, creating the file and parent
// directories as needed. The posted time is prepended as field 0.
func (s *Store) Append(path string, fields ...string) error {
	posted := s.PostedStamp(s.now())
	all := make([]string, 0, len(fields)+1)
	all = append(all, posted)
	all = append(all, fields...)

	line := strings.Join(all, "\t")

	malformed := strings.ContainsAny(line, "\n\r")
	if !malformed {
		for _, f := range fields {
			if strings.Contains(f, "\t") {
				malformed = true
				break
			}
		}
	}
	if malformed {
		if err := s.appendRaw(path+"_errors", line); err != nil {
			s.log.Error("eventlog: diverting malformed record failed", logx.String("path", path), logx.Err(err))
		}
		return fmt.Errorf("%w (diverted to %s_errors)", ErrMalformedField, path)
	}
	return s.appendRaw(path, line)
}

func (s *Store) appendRaw(path, line string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("eventlog: mkdir %s: %w", dir, err)
		}
	}

	// A record must start on its own line; if the last write was cut short
	// (no trailing newline) we patch that up here. An empty file must not
	// gain a leading blank line.
	needsNewline := false
	if fi, err := s.fs.Stat(path); err == nil && fi.Size() > 0 {
		f, err := s.fs.Open(path)
		if err != nil {
			return fmt.Errorf("eventlog: open %s: %w", path, err)
		}
		buf := make([]byte, 1)
		_, rerr := f.ReadAt(buf, fi.Size()-1)
		_ = f.Close()
		if rerr == nil && buf[0] != '\n' {
			needsNewline = true
		}
	}

	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	defer f.Close()

	out := line + "\n"
	if needsNewline {
		out = "\n" + out
	}
	if _, err := f.WriteString(out); err != nil {
		return fmt.Errorf("eventlog: write %s: %w", path, err)
	}
	return nil
}

// ReadAll returns every non-blank row of path, split on tabs.
// A missing file is "no data yet": empty result, warning, nil error.
func (s *Store) ReadAll(path string) ([][]string, error) {
	lines, ok, err := s.readLines(path)
	if err != nil || !ok {
		return nil, err
	}
	rows := make([][]string, 0, len(lines))
	prev := -1.0
	now := float64(s.now().Unix())
	for _, ln := range lines {
		row := strings.Split(ln, "\t")
		rows = append(rows, row)
		if posted, perr := strconv.ParseFloat(row[0], 64); perr == nil {
			if posted < prev || posted > now+1 {
				s.log.Warn("eventlog: anomalous posted time", logx.String("path", path), logx.Float64("posted", posted))
			}
			prev = posted
		}
	}
	return rows, nil
}

// LastRow returns the last non-blank row, split on tabs.
func (s *Store) LastRow(path string) ([]string, bool) {
	lines, ok, _ := s.readLines(path)
	if !ok || len(lines) == 0 {
		return nil, false
	}
	return strings.Split(lines[len(lines)-1], "\t"), true
}

// LastValue returns the last field of the last row.
func (s *Store) LastValue(path string) (string, bool) {
	row, ok := s.LastRow(path)
	if !ok || len(row) == 0 {
		return "", false
	}
	return row[len(row)-1], true
}

// LastPostedTime returns the posted time (field 0) of the last row.
func (s *Store) LastPostedTime(path string) (time.Time, bool) {
	row, ok := s.LastRow(path)
	if !ok || len(row) == 0 {
		return time.Time{}, false
	}
	return ParsePosted(row[0])
}

// LastDatestamp returns the last YYYY-MM-DD match scanning backward from
// the end of the file.
func (s *Store) LastDatestamp(path string) (string, bool) {
	lines, ok, _ := s.readLines(path)
	if !ok {
		return "", false
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if d, found := lastDatestampIn(lines[i]); found {
			return d, true
		}
	}
	return "", false
}

// EntriesMatchingDate returns the rows whose line contains a literal
// YYYY-MM-DD stamp equal to date.
func (s *Store) EntriesMatchingDate(path, date string) [][]string {
	lines, ok, _ := s.readLines(path)
	if !ok {
		return nil
	}
	var rows [][]string
	for _, ln := range lines {
		if strings.Contains(ln, date) {
			rows = append(rows, strings.Split(ln, "\t"))
		}
	}
	return rows
}

// EntriesPostedOnDay returns the rows whose posted time (field 0) falls
// on the given engine day. This is the count path for files that carry
// no embedded datestamp, such as the internal success logs.
func (s *Store) EntriesPostedOnDay(path, date string) [][]string {
	lines, ok, _ := s.readLines(path)
	if !ok {
		return nil
	}
	var rows [][]string
	for _, ln := range lines {
		row := strings.Split(ln, "\t")
		posted, pok := ParsePosted(row[0])
		if pok && Day(posted) == date {
			rows = append(rows, row)
		}
	}
	return rows
}

// RewriteWithout rewrites path dropping every row for which match
// returns true. This is the one maintenance operation allowed to touch
// history; everything else is append-only.
func (s *Store) RewriteWithout(path string, match func(row []string) bool) (removed int, err error) {
	lines, ok, err := s.readLines(path)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	kept := make([]string, 0, len(lines))
	for _, ln := range lines {
		if match(strings.Split(ln, "\t")) {
			removed++
			continue
		}
		kept = append(kept, ln)
	}
	if removed == 0 {
		return 0, nil
	}

	tmp := path + ".tmp"
	body := ""
	if len(kept) > 0 {
		body = strings.Join(kept, "\n") + "\n"
	}
	if err := afero.WriteFile(s.fs, tmp, []byte(body), 0o644); err != nil {
		return 0, fmt.Errorf("eventlog: rewrite %s: %w", path, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("eventlog: rewrite %s: %w", path, err)
	}
	return removed, nil
}

// Exists reports whether the file has ever been written.
func (s *Store) Exists(path string) bool {
	fi, err := s.fs.Stat(path)
	return err == nil && fi.Size() > 0
}

func (s *Store) readLines(path string) (lines []string, exists bool, err error) {
	b, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Warn("eventlog: no data yet", logx.String("path", path))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("eventlog: read %s: %w", path, err)
	}
	for _, ln := range strings.Split(string(b), "\n") {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		lines = append(lines, ln)
	}
	return lines, true, nil
}

// ParsePosted parses a field-0 posted time in either integer or
// high-precision float form.
func ParsePosted(field string) (time.Time, bool) {
	if sec, err := strconv.ParseInt(field, 10, 64); err == nil {
		return time.Unix(sec, 0), true
	}
	if f, err := strconv.ParseFloat(field, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec), true
	}
	return time.Time{}, false
}

func lastDatestampIn(line string) (string, bool) {
	for i := len(line) - 10; i >= 0; i-- {
		if isDatestamp(line[i : i+10]) {
			return line[i : i+10], true
		}
	}
	return "", false
}

func isDatestamp(s string) bool {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return false
	}
	for i, c := range []byte(s) {
		if i == 4 || i == 7 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
