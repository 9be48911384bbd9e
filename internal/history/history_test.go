package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "tickler/pkg/logx"
)

func TestDisabledStore(t *testing.T) {
	t.Parallel()
	s, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open with no path: %v", err)
	}
	if s != nil {
		t.Fatal("no path should yield a nil store")
	}
	if err := s.RecordRun(context.Background(), Entry{Item: "a"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("RecordRun on nil store = %v, want ErrDisabled", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close on nil store: %v", err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()
	s, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2023, 11, 14, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{At: base, Item: "hydrate", Kind: "query", Outcome: "success", Duration: 1200 * time.Millisecond},
		{At: base.Add(time.Hour), Item: "journal", Kind: "query", Outcome: "cancelled", Dismissals: 1},
		{At: base.Add(2 * time.Hour), Item: "walk", Kind: "excursion", Outcome: "timed-out", Error: "watchdog"},
	}
	for _, e := range entries {
		if err := s.RecordRun(ctx, e); err != nil {
			t.Fatalf("RecordRun(%s): %v", e.Item, err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d entries, want 2", len(got))
	}
	if got[0].Item != "walk" || got[1].Item != "journal" {
		t.Fatalf("Recent order = %s, %s; want newest first", got[0].Item, got[1].Item)
	}
	if got[0].Error != "watchdog" {
		t.Fatalf("Error = %q", got[0].Error)
	}
	if got[1].Dismissals != 1 {
		t.Fatalf("Dismissals = %d", got[1].Dismissals)
	}
	if !got[1].At.Equal(base.Add(time.Hour)) {
		t.Fatalf("At = %v", got[1].At)
	}
}

func TestPruneOlderThan(t *testing.T) {
	t.Parallel()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "history.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	old := Entry{At: time.Now().Add(-48 * time.Hour), Item: "old", Kind: "query", Outcome: "success"}
	fresh := Entry{At: time.Now(), Item: "fresh", Kind: "query", Outcome: "success"}
	for _, e := range []Entry{old, fresh} {
		if err := s.RecordRun(ctx, e); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	n, err := s.PruneOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Item != "fresh" {
		t.Fatalf("remaining = %+v, want only fresh", got)
	}
}
