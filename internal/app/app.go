// Package app wires the engine together: config, logging, the event
// log, registry recovery, the idle monitor, the scheduler, and the
// periodic snapshot and rollover jobs.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tickler/internal/config"
	"tickler/internal/eventbus"
	"tickler/internal/eventlog"
	"tickler/internal/history"
	"tickler/internal/idle"
	"tickler/internal/memstore"
	"tickler/internal/prompt"
	"tickler/internal/registry"
	"tickler/internal/scheduler"
	logx "tickler/pkg/logx"
)

// VariableLogName is the variable log file inside the cache dir.
const VariableLogName = "variables"

// varLastOnline is the snapshot key for the monitor's last-known-online
// time, restored on startup.
const varLastOnline = "lastOnline"

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	cacheDir string
	bus      *eventbus.Bus
	elog     *eventlog.Store
	reg      *registry.Registry
	mem      *memstore.Store
	mon      *idle.Monitor
	tracker  *idle.Tracker
	sched    *scheduler.Scheduler
	hist     *history.Store
	prompter prompt.Prompter

	snapshotEvery time.Duration
	retention     time.Duration
	cron          *cron.Cron

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// BodyDeps is what built-in item bodies get to work with.
type BodyDeps struct {
	Log      logx.Logger
	Elog     *eventlog.Store
	Prompter prompt.Prompter
	// Dataset is the item's resolved dataset path, empty for
	// dataset-less items.
	Dataset string
}

// BodyFactory builds a runnable body from an item's declaration.
type BodyFactory func(deps BodyDeps, ic config.ItemConfig) (registry.Body, error)

func New(cfgPath string, factories map[string]BodyFactory) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO").With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	elog := eventlog.New(log.With(logx.String("comp", "eventlog")),
		eventlog.WithHighPrecision(cfg.Scheduler.HighPrecision))
	reg := registry.New(elog, cfg.CacheDir, log.With(logx.String("comp", "registry")))
	mem := memstore.New(elog, filepath.Join(cfg.CacheDir, VariableLogName),
		log.With(logx.String("comp", "memstore")))

	prompter, err := buildPrompter(cfg, log)
	if err != nil {
		return nil, err
	}

	mon, tracker, err := buildMonitor(cfg, bus, log)
	if err != nil {
		return nil, err
	}

	var hist *history.Store
	if cfg.History != nil {
		busy, _ := config.ParseDurationOrDefault("history.busy_timeout", cfg.History.BusyTimeout, 5*time.Second)
		hist, err = history.Open(history.Config{
			Path:        cfg.History.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "history")))
		if err != nil {
			return nil, err
		}
	}

	watchdog, err := config.ParseDurationField("scheduler.excursion_watchdog", cfg.Scheduler.ExcursionWatchdog)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		ExcursionWatchdog: watchdog,
		DisableAfter:      cfg.Scheduler.DisableAfter,
	}, reg, prompter, bus, hist, log.With(logx.String("comp", "scheduler")))

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		cacheDir: cfg.CacheDir,
		bus:      bus,
		elog:     elog,
		reg:      reg,
		mem:      mem,
		mon:      mon,
		tracker:  tracker,
		sched:    sched,
		hist:     hist,
		prompter: prompter,
		cron:     cron.New(),
	}
	a.snapshotEvery, err = config.ParseDurationOrDefault("snapshot.interval", cfg.Snapshot.Interval, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	if cfg.History != nil {
		a.retention, err = config.ParseDurationField("history.retention", cfg.History.Retention)
		if err != nil {
			return nil, err
		}
	}

	if err := a.registerItems(cfg, factories); err != nil {
		return nil, err
	}
	return a, nil
}

func buildPrompter(cfg *config.Config, log logx.Logger) (prompt.Prompter, error) {
	switch cfg.Prompt.Transport {
	case "telegram":
		poll, err := config.ParseDurationOrDefault("prompt.telegram.poll_timeout",
			cfg.Prompt.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return prompt.NewTelegram(prompt.TelegramConfig{
			Token:       cfg.Prompt.Telegram.Token,
			OwnerID:     cfg.Prompt.Telegram.OwnerID,
			PollTimeout: poll,
		}, log.With(logx.String("comp", "telegram")))
	default:
		return prompt.NewConsole(os.Stdin, log.With(logx.String("comp", "console"))), nil
	}
}

func buildMonitor(cfg *config.Config, bus *eventbus.Bus, log logx.Logger) (*idle.Monitor, *idle.Tracker, error) {
	short, err := config.ParseDurationField("idle.short_threshold", cfg.Idle.ShortThreshold)
	if err != nil {
		return nil, nil, err
	}
	long, err := config.ParseDurationField("idle.long_idle", cfg.Idle.LongIdle)
	if err != nil {
		return nil, nil, err
	}
	presentPoll, err := config.ParseDurationField("idle.present_poll", cfg.Idle.PresentPoll)
	if err != nil {
		return nil, nil, err
	}
	idlePoll, err := config.ParseDurationField("idle.idle_poll", cfg.Idle.IdlePoll)
	if err != nil {
		return nil, nil, err
	}

	mlog := log.With(logx.String("comp", "idle"))
	var tracker *idle.Tracker
	probe, err := idle.SelectProbe(idle.ProbeConfig{Seat: cfg.Idle.Seat}, mlog)
	if err != nil {
		if !cfg.Idle.FallbackTracker {
			mlog.Warn("no idle probe available, presence monitoring disabled", logx.Err(err))
			return nil, nil, nil
		}
		mlog.Info("using activity tracker idle probe")
		tracker = idle.NewTracker()
		probe = tracker.Probe
	}

	mon := idle.New(idle.Config{
		ShortThreshold:      short,
		LongIdle:            long,
		PresentPoll:         presentPoll,
		IdlePoll:            idlePoll,
		CorrectDetectionLag: cfg.Idle.CorrectDetectionLag,
	}, probe, bus, mlog)
	return mon, tracker, nil
}

func (a *App) registerItems(cfg *config.Config, factories map[string]BodyFactory) error {
	for _, ic := range cfg.Items {
		name := ic.Body
		if name == "" {
			name = "prompt"
		}
		factory, ok := factories[name]
		if !ok {
			return fmt.Errorf("items: unknown body %q for item %q", name, ic.FN)
		}

		dataset := ic.Dataset
		if dataset != "" && !filepath.IsAbs(dataset) {
			dataset = filepath.Join(cfg.CacheDir, dataset)
		}
		body, err := factory(BodyDeps{
			Log:      a.log.With(logx.String("item", ic.FN)),
			Elog:     a.elog,
			Prompter: a.prompter,
			Dataset:  dataset,
		}, ic)
		if err != nil {
			return fmt.Errorf("items: %q: %w", ic.FN, err)
		}

		kind := registry.KindQuery
		if ic.Kind == "excursion" {
			kind = registry.KindExcursion
		}
		if err := a.reg.Register(registry.Item{
			FN:                 ic.FN,
			MinHoursWait:       ic.MinHoursWait,
			MaxCallsPerDay:     ic.MaxCallsPerDay,
			MaxEntriesPerDay:   ic.MaxEntriesPerDay,
			MaxSuccessesPerDay: ic.MaxSuccessesPerDay,
			LookupPostedTime:   ic.LookupPostedTime,
			Dataset:            dataset,
			Kind:               kind,
			Run:                body,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Recover replays the variable log into the registry and the monitor.
// It must run before any scheduling entry point; the scheduler enforces
// that by panicking on an unrecovered registry.
func (a *App) Recover() error {
	vars, err := a.mem.Recover()
	if err != nil {
		return err
	}
	a.reg.ApplyStateVars(vars)
	if a.mon != nil {
		if at, ok := vars.Time(varLastOnline); ok {
			a.mon.RestoreLastOnline(at)
		}
	}
	a.log.Info("state recovered", logx.Int("variables", len(vars)))
	return nil
}

// Start brings up the long-running pieces: duplicate-instance guard,
// prompter transport, periodic jobs, presence monitoring, config watch.
func (a *App) Start(ctx context.Context) error {
	if err := a.claimInstance(); err != nil {
		return err
	}

	ctx, a.cancel = context.WithCancel(ctx)

	if tg, ok := a.prompter.(*prompt.Telegram); ok {
		tg.Start()
	}

	a.startJobs(ctx)
	a.watchPresence(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(ctx)
	}()
	a.watchConfig(ctx)

	if a.mon != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.mon.Run(ctx)
		}()
	}

	a.log.Info("started", logx.String("cache_dir", a.cacheDir))
	return nil
}

// Stop cancels the workers, takes a final snapshot, and releases the
// instance marker.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if tg, ok := a.prompter.(*prompt.Telegram); ok {
		tg.Stop()
	}
	cronCtx := a.cron.Stop()
	<-cronCtx.Done()
	a.wg.Wait()

	if err := a.snapshot(); err != nil {
		a.log.Warn("final snapshot failed", logx.Err(err))
	}
	if a.hist != nil {
		if err := a.hist.Close(); err != nil {
			a.log.Warn("history close failed", logx.Err(err))
		}
	}
	a.releaseInstance()
	a.log.Info("stopped")
	_ = a.logs.Close()
}

// startJobs installs the periodic snapshot and the 05:00 day-rollover
// job.
func (a *App) startJobs(ctx context.Context) {
	_, err := a.cron.AddFunc(fmt.Sprintf("@every %s", a.snapshotEvery), func() {
		if err := a.snapshot(); err != nil {
			a.log.Warn("snapshot failed", logx.Err(err))
		}
	})
	if err != nil {
		a.log.Error("snapshot job failed to install", logx.Err(err))
	}

	_, err = a.cron.AddFunc("0 5 * * *", func() {
		a.log.Info("day rolled over", logx.String("day", eventlog.Day(time.Now())))
		if a.hist != nil && a.retention > 0 {
			pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			n, err := a.hist.PruneOlderThan(pruneCtx, a.retention)
			if err != nil {
				a.log.Warn("history prune failed", logx.Err(err))
			} else if n > 0 {
				a.log.Info("history pruned", logx.Int64("rows", n))
			}
		}
	})
	if err != nil {
		a.log.Error("rollover job failed to install", logx.Err(err))
	}

	a.cron.Start()
}

// snapshot writes the registry state and the monitor's last-online time
// to the variable log. Unchanged values are skipped by the store.
func (a *App) snapshot() error {
	vars := a.reg.StateVars()
	if a.mon != nil {
		if at := a.mon.LastOnline(); !at.IsZero() {
			vars[varLastOnline] = fmt.Sprintf("%d", at.Unix())
		}
	}
	n, err := a.mem.Snapshot(vars)
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Debug("snapshot written", logx.Int("changed", n))
	}
	return nil
}

// PurgeVariable removes every record of name from the variable log.
// Maintenance only.
func (a *App) PurgeVariable(name string) (int, error) {
	return a.mem.Purge(name)
}
