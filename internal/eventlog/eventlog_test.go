package eventlog

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	logx "tickler/pkg/logx"
)

func newTestStore(now time.Time, opts ...Option) (*Store, afero.Fs) {
	fs := afero.NewMemMapFs()
	all := append([]Option{WithFs(fs), WithClock(func() time.Time { return now })}, opts...)
	return New(logx.Nop(), all...), fs
}

func TestAppendAndReadAll(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	s, _ := newTestStore(now)

	if err := s.Append("logs/mood.tsv", "2023-11-14", "7"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append("logs/mood.tsv", "2023-11-14", "8"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows, err := s.ReadAll("logs/mood.tsv")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "1700000000" || rows[0][1] != "2023-11-14" || rows[0][2] != "7" {
		t.Fatalf("unexpected first row: %v", rows[0])
	}
}

func TestAppendHighPrecision(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 250_000_000)
	s, _ := newTestStore(now, WithHighPrecision(true))

	if err := s.Append("x.tsv", "v"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	row, ok := s.LastRow("x.tsv")
	if !ok {
		t.Fatal("expected a row")
	}
	if row[0] != "1700000000.2500000" {
		t.Fatalf("posted = %q, want 7 fractional digits", row[0])
	}
	at, ok := ParsePosted(row[0])
	if !ok || at.Unix() != 1700000000 {
		t.Fatalf("ParsePosted round trip failed: %v %v", at, ok)
	}
}

func TestPostedStampExact(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(time.Unix(1700000000, 0), WithHighPrecision(true))

	// Nanosecond counts past 2^53 cannot survive a float64 detour; the
	// stamp must stay exact for any sub-second value.
	cases := []struct {
		sec  int64
		nsec int64
		want string
	}{
		{1700000000, 250_000_000, "1700000000.2500000"},
		{1700000000, 999_999_900, "1700000000.9999999"},
		{1700000000, 123_456_789, "1700000000.1234567"},
		{1700000000, 0, "1700000000.0000000"},
		{2000000000, 1_000, "2000000000.0000010"},
	}
	for _, c := range cases {
		got := s.PostedStamp(time.Unix(c.sec, c.nsec))
		if got != c.want {
			t.Fatalf("PostedStamp(%d,%d) = %q, want %q", c.sec, c.nsec, got, c.want)
		}
	}
}

func TestMissingFileWarns(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := New(logx.NewWriter(&buf, "warn"), WithFs(afero.NewMemMapFs()))

	rows, err := s.ReadAll("never-written.tsv")
	if err != nil || rows != nil {
		t.Fatalf("ReadAll: rows=%v err=%v", rows, err)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "no data yet") {
		t.Fatalf("expected a warn for the missing file, got %q", out)
	}
}

func TestAppendRepairsMissingTrailingNewline(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	s, fs := newTestStore(now)

	// Simulate a torn previous write.
	if err := afero.WriteFile(fs, "x.tsv", []byte("1699990000\told"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Append("x.tsv", "new"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	rows, err := s.ReadAll("x.tsv")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(rows), rows)
	}
	b, _ := afero.ReadFile(fs, "x.tsv")
	if strings.HasPrefix(string(b), "\n") {
		t.Fatalf("file gained a leading blank line: %q", string(b))
	}
}

func TestAppendMalformedFieldDiverted(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	s, _ := newTestStore(now)

	if err := s.Append("x.tsv", "clean"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err := s.Append("x.tsv", "bad\tfield")
	if !errors.Is(err, ErrMalformedField) {
		t.Fatalf("expected ErrMalformedField, got %v", err)
	}

	rows, _ := s.ReadAll("x.tsv")
	if len(rows) != 1 {
		t.Fatalf("primary file changed: %v", rows)
	}
	errRows, _ := s.ReadAll("x.tsv_errors")
	if len(errRows) != 1 {
		t.Fatalf("expected diverted record in errors sibling, got %v", errRows)
	}
	// The diverted record keeps the offending payload.
	if errRows[0][len(errRows[0])-1] != "field" {
		t.Fatalf("diverted record lost payload: %v", errRows[0])
	}
}

func TestReadMissingFileIsEmptyNotError(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(time.Unix(1700000000, 0))

	rows, err := s.ReadAll("never-written.tsv")
	if err != nil {
		t.Fatalf("ReadAll on missing file: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %v", rows)
	}
	if _, ok := s.LastRow("never-written.tsv"); ok {
		t.Fatal("LastRow reported data for missing file")
	}
	if s.Exists("never-written.tsv") {
		t.Fatal("Exists reported a missing file")
	}
}

func TestLastValueAndDatestamp(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	s, _ := newTestStore(now)

	_ = s.Append("x.tsv", "2023-11-12", "3")
	_ = s.Append("x.tsv", "2023-11-13", "5")
	_ = s.Append("x.tsv", "no date here", "9")

	v, ok := s.LastValue("x.tsv")
	if !ok || v != "9" {
		t.Fatalf("LastValue = %q %v", v, ok)
	}
	d, ok := s.LastDatestamp("x.tsv")
	if !ok || d != "2023-11-13" {
		t.Fatalf("LastDatestamp = %q %v", d, ok)
	}
}

func TestEntriesMatchingDate(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	s, _ := newTestStore(now)

	_ = s.Append("x.tsv", "2023-11-13", "a")
	_ = s.Append("x.tsv", "2023-11-14", "b")
	_ = s.Append("x.tsv", "2023-11-14", "c")

	got := s.EntriesMatchingDate("x.tsv", "2023-11-14")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
}

func TestEntriesPostedOnDay(t *testing.T) {
	t.Parallel()
	now := time.Unix(1699956800, 0)
	s, _ := newTestStore(now)

	_ = s.Append("successes.tsv") // bare posted-time record
	got := s.EntriesPostedOnDay("successes.tsv", Day(now))
	if len(got) != 1 {
		t.Fatalf("expected 1 record posted today, got %d", len(got))
	}
	if got := s.EntriesPostedOnDay("successes.tsv", "1999-01-01"); len(got) != 0 {
		t.Fatalf("expected no records for other day, got %v", got)
	}
}

func TestDayBoundaryAtFiveAM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"afternoon", time.Date(2023, 11, 14, 15, 0, 0, 0, time.UTC), "2023-11-14"},
		{"just after midnight", time.Date(2023, 11, 15, 0, 30, 0, 0, time.UTC), "2023-11-14"},
		{"before boundary", time.Date(2023, 11, 15, 4, 59, 0, 0, time.UTC), "2023-11-14"},
		{"at boundary", time.Date(2023, 11, 15, 5, 0, 0, 0, time.UTC), "2023-11-15"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Day(tt.at); got != tt.want {
				t.Fatalf("Day(%v) = %s, want %s", tt.at, got, tt.want)
			}
		})
	}
}

func TestRewriteWithout(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	s, _ := newTestStore(now)

	_ = s.Append("vars.tsv", "keep", "1")
	_ = s.Append("vars.tsv", "drop", "2")
	_ = s.Append("vars.tsv", "keep", "3")

	removed, err := s.RewriteWithout("vars.tsv", func(row []string) bool {
		return len(row) > 1 && row[1] == "drop"
	})
	if err != nil {
		t.Fatalf("RewriteWithout: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	rows, _ := s.ReadAll("vars.tsv")
	if len(rows) != 2 || rows[0][1] != "keep" || rows[1][1] != "keep" {
		t.Fatalf("unexpected rows after rewrite: %v", rows)
	}
}
