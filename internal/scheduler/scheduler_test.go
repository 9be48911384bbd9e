package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"tickler/internal/eventbus"
	"tickler/internal/eventlog"
	"tickler/internal/prompt"
	"tickler/internal/registry"
	logx "tickler/pkg/logx"
)

// fakeClock is a settable time source shared by all components in a test.
type fakeClock struct{ at time.Time }

func (c *fakeClock) now() time.Time          { return c.at }
func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

// scriptPrompter answers Confirm calls from a script.
type scriptPrompter struct {
	confirms []bool
	asked    int
}

func (p *scriptPrompter) Ask(ctx context.Context, q prompt.Question) prompt.Result {
	return prompt.Result{Outcome: prompt.Success}
}

func (p *scriptPrompter) Confirm(ctx context.Context, text string) (bool, error) {
	if p.asked >= len(p.confirms) {
		return false, nil
	}
	v := p.confirms[p.asked]
	p.asked++
	return v, nil
}

type fixture struct {
	clock *fakeClock
	elog  *eventlog.Store
	reg   *registry.Registry
	sched *Scheduler
	pr    *scriptPrompter
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := &fakeClock{at: time.Unix(1700000000, 0)}
	elog := eventlog.New(logx.Nop(),
		eventlog.WithFs(afero.NewMemMapFs()),
		eventlog.WithClock(clock.now))
	reg := registry.New(elog, "cache", logx.Nop())
	pr := &scriptPrompter{}
	sched := New(cfg, reg, pr, eventbus.New(), nil, logx.Nop(), WithClock(clock.now))
	return &fixture{clock: clock, elog: elog, reg: reg, sched: sched, pr: pr}
}

func succeedBody(ctx context.Context, exc *registry.Excursion) prompt.Result {
	return prompt.Result{Outcome: prompt.Success}
}

// outcomesBody replays the scripted outcomes, repeating the last one.
func outcomesBody(outcomes ...prompt.Outcome) registry.Body {
	i := 0
	return func(ctx context.Context, exc *registry.Excursion) prompt.Result {
		o := outcomes[i]
		if i < len(outcomes)-1 {
			i++
		}
		return prompt.Result{Outcome: o}
	}
}

func TestSessionScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	if err := f.reg.Register(registry.Item{FN: "A", MinHoursWait: 3, Run: succeedBody}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.reg.MarkRecovered()
	t0 := f.clock.at

	// Session 1: pending, runs, succeeds.
	q, err := f.sched.BuildQueue(false)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if len(q) != 1 || q[0] != "A" {
		t.Fatalf("queue = %v, want [A]", q)
	}
	if err := f.sched.RunQueue(context.Background()); err != nil {
		t.Fatalf("RunQueue: %v", err)
	}
	rows, _ := f.elog.ReadAll(f.reg.SuccessLogPath("A"))
	if len(rows) != 1 {
		t.Fatalf("success log rows = %d, want 1", len(rows))
	}
	if n := f.reg.Dismissals("A"); n != 0 {
		t.Fatalf("dismissals = %d, want 0", n)
	}
	if at, ok := f.reg.LastCalled("A"); !ok || !at.Equal(t0) {
		t.Fatalf("lastCalled = %v %v, want %v", at, ok, t0)
	}

	// Session 2 at T0+2h: not pending (within the 3h window).
	f.clock.advance(2 * time.Hour)
	q, err = f.sched.BuildQueue(false)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if len(q) != 0 {
		t.Fatalf("queue at T0+2h = %v, want empty", q)
	}

	// Session 3 at T0+4h: pending again.
	f.clock.advance(2 * time.Hour)
	q, err = f.sched.BuildQueue(false)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if len(q) != 1 {
		t.Fatalf("queue at T0+4h = %v, want [A]", q)
	}
}

func TestCancelIncrementsDismissalsAndRetries(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	calls := 0
	body := func(ctx context.Context, exc *registry.Excursion) prompt.Result {
		calls++
		if calls == 1 {
			return prompt.Result{Outcome: prompt.Cancelled}
		}
		return prompt.Result{Outcome: prompt.Success}
	}
	_ = f.reg.Register(registry.Item{FN: "A", Run: body})
	f.reg.MarkRecovered()

	if _, err := f.sched.BuildQueue(false); err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if err := f.sched.RunQueue(context.Background()); err != nil {
		t.Fatalf("RunQueue: %v", err)
	}
	if calls != 2 {
		t.Fatalf("body called %d times, want 2 (cancel then immediate retry)", calls)
	}
	// The retry succeeded, so the counter is reset.
	if n := f.reg.Dismissals("A"); n != 0 {
		t.Fatalf("dismissals after success = %d, want 0", n)
	}
}

func TestDisableFlowAfterThirdDismissal(t *testing.T) {
	t.Parallel()

	t.Run("confirm disables", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{})
		_ = f.reg.Register(registry.Item{FN: "A", Run: succeedBody})
		f.reg.MarkRecovered()
		for i := 0; i < 3; i++ {
			f.reg.AddDismissal("A")
		}
		f.pr.confirms = []bool{true}

		_, _ = f.sched.BuildQueue(true)
		if err := f.sched.RunQueue(context.Background()); err != nil {
			t.Fatalf("RunQueue: %v", err)
		}
		if ids := f.reg.EnabledIDs(); len(ids) != 0 {
			t.Fatalf("EnabledIDs = %v, want empty after disable", ids)
		}
	})

	t.Run("decline resets dismissals", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{})
		ran := false
		body := func(ctx context.Context, exc *registry.Excursion) prompt.Result {
			ran = true
			return prompt.Result{Outcome: prompt.Success}
		}
		_ = f.reg.Register(registry.Item{FN: "A", Run: body})
		f.reg.MarkRecovered()
		for i := 0; i < 3; i++ {
			f.reg.AddDismissal("A")
		}
		f.pr.confirms = []bool{false}

		_, _ = f.sched.BuildQueue(true)
		if err := f.sched.RunQueue(context.Background()); err != nil {
			t.Fatalf("RunQueue: %v", err)
		}
		if !ran {
			t.Fatal("declining disable should still run the item")
		}
		if ids := f.reg.EnabledIDs(); len(ids) != 1 {
			t.Fatalf("EnabledIDs = %v, want [A]", ids)
		}
		if n := f.reg.Dismissals("A"); n != 0 {
			t.Fatalf("dismissals = %d, want 0 after decline", n)
		}
	})
}

func TestSkipWithOthersQueuedContinues(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	var ranB bool
	_ = f.reg.Register(
		registry.Item{FN: "A", Run: outcomesBody(prompt.Skipped)},
		registry.Item{FN: "B", Run: func(ctx context.Context, exc *registry.Excursion) prompt.Result {
			ranB = true
			return prompt.Result{Outcome: prompt.Success}
		}},
	)
	f.reg.MarkRecovered()

	_, _ = f.sched.BuildQueue(true)
	if err := f.sched.RunQueue(context.Background()); err != nil {
		t.Fatalf("RunQueue: %v", err)
	}
	if !ranB {
		t.Fatal("skip should resume with the next item")
	}
	if n := f.reg.Dismissals("A"); n != 0 {
		t.Fatalf("skip must not count as a dismissal, got %d", n)
	}
}

func TestSkipAsOnlyItemAbortsRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	_ = f.reg.Register(registry.Item{FN: "A", Run: outcomesBody(prompt.Skipped)})
	f.reg.MarkRecovered()

	_, _ = f.sched.BuildQueue(true)
	if err := f.sched.RunQueue(context.Background()); err != nil {
		t.Fatalf("RunQueue: %v", err)
	}
	// The aborted run leaves the item queued for resume.
	if n := f.sched.QueueLen(); n != 1 {
		t.Fatalf("QueueLen = %d, want 1 after aborted run", n)
	}
}

func TestExcursionSuccessAfterResourcesClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ExcursionWatchdog: 5 * time.Second})
	body := func(ctx context.Context, exc *registry.Excursion) prompt.Result {
		release := exc.Open()
		go func() {
			time.Sleep(20 * time.Millisecond)
			release()
		}()
		return prompt.Result{Outcome: prompt.Success}
	}
	_ = f.reg.Register(registry.Item{FN: "E", Kind: registry.KindExcursion, Run: body})
	f.reg.MarkRecovered()

	_, _ = f.sched.BuildQueue(true)
	if err := f.sched.RunQueue(context.Background()); err != nil {
		t.Fatalf("RunQueue: %v", err)
	}
	rows, _ := f.elog.ReadAll(f.reg.SuccessLogPath("E"))
	if len(rows) != 1 {
		t.Fatalf("success rows = %d, want 1", len(rows))
	}
}

func TestExcursionWatchdogAbandons(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ExcursionWatchdog: 20 * time.Millisecond})
	body := func(ctx context.Context, exc *registry.Excursion) prompt.Result {
		exc.Open() // never released
		return prompt.Result{Outcome: prompt.Success}
	}
	_ = f.reg.Register(registry.Item{FN: "E", Kind: registry.KindExcursion, Run: body})
	f.reg.MarkRecovered()

	_, _ = f.sched.BuildQueue(true)
	if err := f.sched.RunQueue(context.Background()); err != nil {
		t.Fatalf("RunQueue: %v", err)
	}
	// Abandoned: no success bookkeeping, no dismissal.
	rows, _ := f.elog.ReadAll(f.reg.SuccessLogPath("E"))
	if len(rows) != 0 {
		t.Fatalf("success rows = %d, want 0 after watchdog", len(rows))
	}
	if n := f.reg.Dismissals("E"); n != 0 {
		t.Fatalf("dismissals = %d, want 0 after watchdog", n)
	}
}

func TestBuildQueueRefusedWhileRunning(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	started := make(chan struct{})
	unblock := make(chan struct{})
	body := func(ctx context.Context, exc *registry.Excursion) prompt.Result {
		close(started)
		<-unblock
		return prompt.Result{Outcome: prompt.Success}
	}
	_ = f.reg.Register(registry.Item{FN: "A", Run: body})
	f.reg.MarkRecovered()

	_, _ = f.sched.BuildQueue(true)
	done := make(chan error, 1)
	go func() { done <- f.sched.RunQueue(context.Background()) }()
	<-started

	if _, err := f.sched.BuildQueue(false); !errors.Is(err, ErrPassRunning) {
		t.Fatalf("expected ErrPassRunning, got %v", err)
	}
	if err := f.sched.RunQueue(context.Background()); !errors.Is(err, ErrPassRunning) {
		t.Fatalf("expected ErrPassRunning from second RunQueue, got %v", err)
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("RunQueue: %v", err)
	}
}

func TestBuildQueueBeforeRecoveryPanics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	_ = f.reg.Register(registry.Item{FN: "A", Run: succeedBody})

	defer func() {
		if recover() == nil {
			t.Fatal("BuildQueue before recovery must panic")
		}
	}()
	_, _ = f.sched.BuildQueue(false)
}

func TestBuildQueueAnchorsOneAsOfInstant(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	_ = f.reg.Register(
		registry.Item{FN: "A", MinHoursWait: 3, Run: succeedBody},
		registry.Item{FN: "B", MinHoursWait: 3, Run: succeedBody},
	)
	f.reg.MarkRecovered()
	for _, fn := range []string{"A", "B"} {
		if err := f.reg.RecordSuccess(fn); err != nil {
			t.Fatalf("RecordSuccess(%s): %v", fn, err)
		}
	}

	// A ticking clock: every read jumps 2h. Both items were satisfied just
	// now, so at the single build instant (T0+2h) neither has cleared the
	// 3h window. Re-reading the clock per item would find later checks
	// past the window and queue them.
	base := f.clock.at
	ticks := 0
	f.sched.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * 2 * time.Hour)
	}

	q, err := f.sched.BuildQueue(false)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if len(q) != 0 {
		t.Fatalf("queue = %v, want empty at the build instant", q)
	}
	if want := base.Add(2 * time.Hour); !f.sched.pass.asOf.Equal(want) {
		t.Fatalf("pass asOf = %v, want %v", f.sched.pass.asOf, want)
	}
}

func TestForceAllIgnoresPendingFilter(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	_ = f.reg.Register(registry.Item{FN: "A", Run: succeedBody}, registry.Item{FN: "B", Run: succeedBody})
	f.reg.MarkRecovered()

	// Make A non-pending by calling it just now.
	f.reg.SetLastCalled("A", f.clock.at)
	f.reg.AddDismissal("A")

	q, err := f.sched.BuildQueue(true)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if len(q) != 2 {
		t.Fatalf("force-all queue = %v, want both items", q)
	}
}
