// Package scheduler owns the due queue: it asks the pending policy
// which items qualify, runs them one at a time, and turns user
// reactions (answer, skip, dismiss) into registry state.
package scheduler

import (
	"context"
	"sync"
	"time"

	"tickler/internal/eventbus"
	"tickler/internal/history"
	"tickler/internal/pending"
	"tickler/internal/prompt"
	"tickler/internal/registry"
	logx "tickler/pkg/logx"
)

type Scheduler struct {
	cfg      Config
	reg      *registry.Registry
	prompter prompt.Prompter
	bus      *eventbus.Bus
	hist     *history.Store // nil-safe
	log      logx.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	pass    passState
}

type Option func(*Scheduler)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func New(cfg Config, reg *registry.Registry, prompter prompt.Prompter, bus *eventbus.Bus, hist *history.Store, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:      cfg.withDefaults(),
		reg:      reg,
		prompter: prompter,
		bus:      bus,
		hist:     hist,
		log:      log,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BuildQueue computes the due queue as of now. With forceAll, every
// enabled item is queued unfiltered. Building while a pass is running
// is refused.
//
// Serving eligibility from an unrecovered registry would silently
// double-prompt after every restart, so that is treated as a
// programming error.
func (s *Scheduler) BuildQueue(forceAll bool) ([]string, error) {
	if !s.reg.Recovered() {
		panic(ErrNotRecovered)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, ErrPassRunning
	}

	// One as-of instant anchors every eligibility check in the pass.
	s.pass = passState{asOf: s.now()}

	for _, fn := range s.reg.EnabledIDs() {
		if forceAll {
			s.pass.queue = append(s.pass.queue, fn)
			continue
		}
		in, err := s.reg.PendingInput(fn, s.pass.asOf)
		if err != nil {
			// One item's broken evidence never aborts the whole pass.
			s.log.Warn("pending check failed", logx.String("item", fn), logx.Err(err))
			continue
		}
		if d := pending.Check(in); d.Pending {
			s.pass.queue = append(s.pass.queue, fn)
		} else {
			s.log.Debug("not pending", logx.String("item", fn), logx.String("reason", d.Reason))
		}
	}

	s.log.Info("queue built",
		logx.Int("queued", len(s.pass.queue)),
		logx.Bool("force_all", forceAll))
	return append([]string(nil), s.pass.queue...), nil
}

// QueueLen reports how many items remain queued.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pass.queue)
}

// RunQueue drains the queue, one item at a time. At most one pass runs
// per process; a concurrent call is refused.
func (s *Scheduler) RunQueue(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrPassRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.pass.current = ""
		s.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.mu.Lock()
		fn, ok := s.pass.popFront()
		if ok {
			s.pass.current = fn
		}
		remaining := len(s.pass.queue)
		s.mu.Unlock()
		if !ok {
			s.log.Info("queue empty")
			return nil
		}

		verdict := s.callWithDismissalCheck(ctx, fn, remaining)
		switch verdict {
		case verdictContinue:
		case verdictRetryFront:
			s.mu.Lock()
			s.pass.pushFront(fn)
			s.mu.Unlock()
		case verdictAbortRun:
			// Leave the item queued so "resume" can pick it back up.
			s.mu.Lock()
			s.pass.pushFront(fn)
			s.mu.Unlock()
			s.log.Info("run aborted", logx.String("item", fn))
			return nil
		}
	}
}
