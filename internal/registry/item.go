package registry

import (
	"context"
	"sync"

	"tickler/internal/prompt"
)

// ExecKind selects how the scheduler drives an item body.
type ExecKind int

const (
	// KindQuery is a plain prompt/answer call: the body returns and the
	// outcome is final.
	KindQuery ExecKind = iota
	// KindExcursion is a body that opens auxiliary resources (helper
	// buffers, child processes) and completes indirectly, once every
	// resource has been released.
	KindExcursion
)

func (k ExecKind) String() string {
	if k == KindExcursion {
		return "excursion"
	}
	return "query"
}

// Body is an item's executable part. For KindExcursion items exc is
// non-nil and the body must register each auxiliary resource via
// exc.Open before returning.
type Body func(ctx context.Context, exc *Excursion) prompt.Result

// Item is one registered recurring task. Items are defined once at
// startup; only runtime state (last-called, dismissals, disabled
// membership) changes afterwards.
type Item struct {
	// FN uniquely identifies the item.
	FN string

	// MinHoursWait is the minimum gap between invocations, in hours.
	// Zero means the default of 3.
	MinHoursWait float64

	// Daily caps. They are aliases of one effective cap: entries wins
	// over successes, successes over calls.
	MaxCallsPerDay     int
	MaxEntriesPerDay   int
	MaxSuccessesPerDay int

	// LookupPostedTime switches recency from the last row's embedded
	// datestamp to its posted-time field.
	LookupPostedTime bool

	// Dataset is the path to this item's outcome log. Empty means the
	// item only has an internal success log.
	Dataset string

	Kind ExecKind
	Run  Body
}

const defaultMinHoursWait = 3

// MinWaitHours returns the configured minimum wait, applying the default.
func (it Item) MinWaitHours() float64 {
	if it.MinHoursWait > 0 {
		return it.MinHoursWait
	}
	return defaultMinHoursWait
}

// DailyCap returns the effective per-day cap, or 0 when uncapped.
func (it Item) DailyCap() int {
	switch {
	case it.MaxEntriesPerDay > 0:
		return it.MaxEntriesPerDay
	case it.MaxSuccessesPerDay > 0:
		return it.MaxSuccessesPerDay
	case it.MaxCallsPerDay > 0:
		return it.MaxCallsPerDay
	}
	return 0
}

// Excursion tracks the auxiliary resources an excursion body opens.
// Done fires once every opened resource has been released, provided at
// least one resource was opened.
type Excursion struct {
	mu     sync.Mutex
	open   int
	opened bool
	fired  bool
	done   chan struct{}
}

func NewExcursion() *Excursion {
	return &Excursion{done: make(chan struct{})}
}

// Open registers one auxiliary resource and returns its release func.
// Calling release more than once is a no-op.
func (e *Excursion) Open() (release func()) {
	e.mu.Lock()
	e.open++
	e.opened = true
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.open--
			fire := e.opened && e.open == 0 && !e.fired
			if fire {
				e.fired = true
			}
			e.mu.Unlock()
			if fire {
				close(e.done)
			}
		})
	}
}

// Done returns a channel closed once all auxiliary resources are released.
func (e *Excursion) Done() <-chan struct{} { return e.done }

// Opened reports whether the body registered any resource at all.
func (e *Excursion) Opened() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}
