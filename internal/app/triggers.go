package app

import (
	"context"

	"tickler/internal/config"
	"tickler/internal/eventbus"
	"tickler/internal/prompt"
	logx "tickler/pkg/logx"
)

// NewSession builds a queue from pending items and drains it.
func (a *App) NewSession(ctx context.Context) error {
	queued, err := a.sched.BuildQueue(false)
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		a.log.Info("nothing pending")
		return nil
	}
	return a.sched.RunQueue(ctx)
}

// FullSession queues every enabled item regardless of pending state.
func (a *App) FullSession(ctx context.Context) error {
	if _, err := a.sched.BuildQueue(true); err != nil {
		return err
	}
	return a.sched.RunQueue(ctx)
}

// Resume continues draining the existing queue, picking up where an
// aborted run left off.
func (a *App) Resume(ctx context.Context) error {
	if a.sched.QueueLen() == 0 {
		a.log.Info("nothing to resume")
		return nil
	}
	return a.sched.RunQueue(ctx)
}

// RunOnce executes a single scheduling trigger without starting the
// monitor, jobs, or config watch. Used by the one-shot modes.
func (a *App) RunOnce(ctx context.Context, mode string) error {
	if err := a.claimInstance(); err != nil {
		return err
	}
	defer a.releaseInstance()

	if tg, ok := a.prompter.(*prompt.Telegram); ok {
		tg.Start()
		defer tg.Stop()
	}

	var err error
	switch mode {
	case "full-session":
		err = a.FullSession(ctx)
	case "resume":
		// A fresh process has no session-local queue to resume; fall
		// back to a pending pass.
		if a.sched.QueueLen() == 0 {
			err = a.NewSession(ctx)
		} else {
			err = a.Resume(ctx)
		}
	default:
		err = a.NewSession(ctx)
	}

	if serr := a.snapshot(); serr != nil {
		a.log.Warn("snapshot failed", logx.Err(serr))
	}
	return err
}

// watchPresence reacts to monitor events: a long idle period ending
// triggers a scheduling pass, present ticks refresh the snapshot, and
// finished runs feed the activity tracker.
func (a *App) watchPresence(ctx context.Context) {
	events, unsub := a.bus.Subscribe(16)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				a.handleEvent(ctx, ev)
			}
		}
	}()
}

func (a *App) handleEvent(ctx context.Context, ev eventbus.Event) {
	switch ev.Kind {
	case eventbus.PresenceReturn:
		a.log.Info("returned from idle", logx.Duration("idle_for", ev.IdleFor))
		if a.mon != nil && a.mon.LongIdle(ev.IdleFor) {
			if err := a.NewSession(ctx); err != nil {
				a.log.Warn("session after idle failed", logx.Err(err))
			}
		}
	case eventbus.PresenceTick:
		if err := a.snapshot(); err != nil {
			a.log.Warn("snapshot failed", logx.Err(err))
		}
	case eventbus.RunFinished:
		// A finished run means the user just interacted.
		if a.tracker != nil {
			a.tracker.Touch()
		}
	}
}

// watchConfig applies hot reloads: logging settings and per-item
// tuning. The item set itself stays static until restart.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	last := a.cfgm.Get()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(last, cfg)
				last = cfg
			}
		}
	}()
}

func (a *App) applyReload(old, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	byFN := make(map[string]config.ItemConfig, len(cfg.Items))
	for _, ic := range cfg.Items {
		byFN[ic.FN] = ic
	}
	for _, fn := range config.ChangedItems(old, cfg) {
		ic, stillThere := byFN[fn]
		if !stillThere {
			a.log.Warn("item removed from config, restart required", logx.String("item", fn))
			continue
		}
		if !a.reg.Retune(fn, ic.MinHoursWait, ic.MaxCallsPerDay, ic.MaxEntriesPerDay, ic.MaxSuccessesPerDay) {
			a.log.Warn("new item in config, restart required", logx.String("item", fn))
			continue
		}
		a.log.Info("item retuned", logx.String("item", fn))
	}
}
