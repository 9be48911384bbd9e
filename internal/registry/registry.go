package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tickler/internal/eventlog"
	"tickler/internal/pending"
	logx "tickler/pkg/logx"
)

var (
	ErrNotRegistered = errors.New("registry: item not registered")
	ErrDuplicate     = errors.New("registry: duplicate item id")
)

// Registry holds the static item table and its mutable runtime state.
// Items never change after startup; only lastCalled, dismissal counters
// and disabled membership do. All state access goes through the one
// mutex so the "single scheduling pass" discipline holds even if a host
// touches it from another goroutine.
type Registry struct {
	log      logx.Logger
	elog     *eventlog.Store
	cacheDir string

	mu         sync.Mutex
	order      []string
	items      map[string]Item
	lastCalled map[string]time.Time
	dismissals map[string]int
	disabled   map[string]struct{}
	recovered  bool
}

func New(elog *eventlog.Store, cacheDir string, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:        log,
		elog:       elog,
		cacheDir:   cacheDir,
		items:      map[string]Item{},
		lastCalled: map[string]time.Time{},
		dismissals: map[string]int{},
		disabled:   map[string]struct{}{},
	}
}

// Register installs items. It is called once during startup wiring.
func (r *Registry) Register(items ...Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		fn := strings.TrimSpace(it.FN)
		if fn == "" {
			return errors.New("registry: item with empty id")
		}
		if _, dup := r.items[fn]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicate, fn)
		}
		it.FN = fn
		r.items[fn] = it
		r.order = append(r.order, fn)
	}
	return nil
}

func (r *Registry) ByID(fn string) (Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[fn]
	return it, ok
}

// IDs returns all item ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// EnabledIDs returns registered ids minus the disabled set, in
// registration order.
func (r *Registry) EnabledIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.order))
	for _, fn := range r.order {
		if _, off := r.disabled[fn]; !off {
			out = append(out, fn)
		}
	}
	return out
}

func (r *Registry) IsDisabled(fn string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, off := r.disabled[fn]
	return off
}

func (r *Registry) Disable(fn string) {
	r.mu.Lock()
	r.disabled[fn] = struct{}{}
	r.mu.Unlock()
	r.log.Info("item disabled", logx.String("item", fn))
}

func (r *Registry) Dismissals(fn string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dismissals[fn]
}

// AddDismissal bumps the item's dismissal counter and returns it.
func (r *Registry) AddDismissal(fn string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissals[fn]++
	return r.dismissals[fn]
}

func (r *Registry) ResetDismissals(fn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dismissals, fn)
}

func (r *Registry) LastCalled(fn string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lastCalled[fn]
	return t, ok
}

func (r *Registry) SetLastCalled(fn string, at time.Time) {
	r.mu.Lock()
	r.lastCalled[fn] = at
	r.mu.Unlock()
}

// SuccessLogPath is the internal per-item success log for items with no
// user-visible dataset.
func (r *Registry) SuccessLogPath(fn string) string {
	return filepath.Join(r.cacheDir, "successes-"+fn)
}

// RecordSuccess appends a bare success record for a dataset-less item.
// Items with a dataset get their success evidence from the dataset
// itself, written by the item body.
func (r *Registry) RecordSuccess(fn string) error {
	it, ok := r.ByID(fn)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, fn)
	}
	if it.Dataset != "" {
		return nil
	}
	return r.elog.Append(r.SuccessLogPath(fn))
}

// CountSuccessesToday counts today's successes for fn, where "today"
// respects the 05:00 boundary. Dataset items count matching dataset
// rows; dataset-less items count success-log records by posted time
// (the success log carries no embedded datestamp).
func (r *Registry) CountSuccessesToday(fn string, asOf time.Time) (int, error) {
	it, ok := r.ByID(fn)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotRegistered, fn)
	}
	day := eventlog.Day(asOf)
	if it.Dataset != "" {
		return len(r.elog.EntriesMatchingDate(it.Dataset, day)), nil
	}
	return len(r.elog.EntriesPostedOnDay(r.SuccessLogPath(fn), day)), nil
}

// lastLogged resolves the most recent entry time for it, via the
// posted-time field or the embedded datestamp per the item's mode.
// Dataset-less items read their internal success log, which only has
// posted times.
func (r *Registry) lastLogged(it Item) (time.Time, bool) {
	if it.Dataset == "" {
		return r.elog.LastPostedTime(r.SuccessLogPath(it.FN))
	}
	if it.LookupPostedTime {
		return r.elog.LastPostedTime(it.Dataset)
	}
	row, ok := r.elog.LastRow(it.Dataset)
	if !ok {
		return time.Time{}, false
	}
	for _, f := range row[1:] {
		if len(f) >= 10 {
			if at, err := time.ParseInLocation("2006-01-02", f[:10], time.Local); err == nil {
				return at, true
			}
		}
	}
	return time.Time{}, false
}

// PendingInput gathers the eligibility evidence for fn as of now.
func (r *Registry) PendingInput(fn string, now time.Time) (pending.Input, error) {
	it, ok := r.ByID(fn)
	if !ok {
		return pending.Input{}, fmt.Errorf("%w: %s", ErrNotRegistered, fn)
	}

	in := pending.Input{
		Now:      now,
		MinWait:  time.Duration(it.MinWaitHours() * float64(time.Hour)),
		DailyCap: it.DailyCap(),
	}

	if at, called := r.LastCalled(fn); called {
		in.LastCalled = at
		in.CalledToday = eventlog.SameDay(at, now)
	}
	in.Dismissals = r.Dismissals(fn)

	// The internal success log serves as the effective dataset for
	// dataset-less items, so a fresh success still holds off the next
	// invocation for the min-wait window.
	if it.Dataset != "" {
		in.DatasetExists = r.elog.Exists(it.Dataset)
		in.EntriesToday = len(r.elog.EntriesMatchingDate(it.Dataset, eventlog.Day(now)))
	} else {
		in.DatasetExists = r.elog.Exists(r.SuccessLogPath(fn))
	}
	if at, logged := r.lastLogged(it); logged {
		in.LastLog = at
	}
	successes, err := r.CountSuccessesToday(fn, now)
	if err != nil {
		return pending.Input{}, err
	}
	in.SuccessesToday = successes
	return in, nil
}

// Retune applies reloadable tuning to a registered item. The item set
// itself is static; unknown ids report false so callers can log that a
// restart is needed.
func (r *Registry) Retune(fn string, minHoursWait float64, maxCalls, maxEntries, maxSuccesses int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[fn]
	if !ok {
		return false
	}
	it.MinHoursWait = minHoursWait
	it.MaxCallsPerDay = maxCalls
	it.MaxEntriesPerDay = maxEntries
	it.MaxSuccessesPerDay = maxSuccesses
	r.items[fn] = it
	return true
}

// ---- Snapshot state (through memstore) ----

const (
	varLastCalledPrefix = "lastCalled-"
	varDismissalsPrefix = "dismissals-"
	varDisabledItems    = "disabledItems"
)

// StateVars exports the registry's mutable state as named variables for
// the variable log. Keys are stable so snapshots diff cleanly.
func (r *Registry) StateVars() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	vars := map[string]string{}
	for fn, at := range r.lastCalled {
		vars[varLastCalledPrefix+fn] = strconv.FormatInt(at.Unix(), 10)
	}
	for fn, n := range r.dismissals {
		if n > 0 {
			vars[varDismissalsPrefix+fn] = strconv.Itoa(n)
		}
	}
	off := make([]string, 0, len(r.disabled))
	for fn := range r.disabled {
		off = append(off, fn)
	}
	sort.Strings(off)
	vars[varDisabledItems] = strings.Join(off, ",")
	return vars
}

// ApplyStateVars restores mutable state from recovered variables and
// marks the registry recovered. Variables naming unregistered items are
// ignored with a warning (the item set is static; stale state is
// harmless).
func (r *Registry) ApplyStateVars(vars map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, val := range vars {
		switch {
		case strings.HasPrefix(name, varLastCalledPrefix):
			fn := strings.TrimPrefix(name, varLastCalledPrefix)
			if !r.knownLocked(fn) {
				continue
			}
			if sec, err := strconv.ParseInt(val, 10, 64); err == nil {
				r.lastCalled[fn] = time.Unix(sec, 0)
			}
		case strings.HasPrefix(name, varDismissalsPrefix):
			fn := strings.TrimPrefix(name, varDismissalsPrefix)
			if !r.knownLocked(fn) {
				continue
			}
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				r.dismissals[fn] = n
			}
		case name == varDisabledItems:
			for _, fn := range strings.Split(val, ",") {
				fn = strings.TrimSpace(fn)
				if fn == "" {
					continue
				}
				if !r.knownLocked(fn) {
					continue
				}
				r.disabled[fn] = struct{}{}
			}
		}
	}
	r.recovered = true
}

// MarkRecovered declares the registry usable without recovered state
// (fresh installs with no variable log yet).
func (r *Registry) MarkRecovered() {
	r.mu.Lock()
	r.recovered = true
	r.mu.Unlock()
}

// Recovered reports whether startup recovery has populated this
// registry. Scheduling decisions before that are a programming error.
func (r *Registry) Recovered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recovered
}

func (r *Registry) knownLocked(fn string) bool {
	if _, ok := r.items[fn]; ok {
		return true
	}
	r.log.Warn("recovered state names unknown item", logx.String("item", fn))
	return false
}
