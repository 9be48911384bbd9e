package scheduler

import (
	"errors"
	"time"
)

var (
	// ErrPassRunning means a scheduling pass is already active; building
	// or running a second queue in the same process is not supported.
	ErrPassRunning = errors.New("scheduler: a pass is already running")
	// ErrNotRecovered means scheduling was attempted before startup
	// recovery populated the registry.
	ErrNotRecovered = errors.New("scheduler: registry state not recovered")
)

type Config struct {
	// ExcursionWatchdog bounds how long an excursion may wait for its
	// auxiliary resources to close before being abandoned.
	ExcursionWatchdog time.Duration
	// DisableAfter is the dismissal count that triggers the
	// disable-this-item confirmation.
	DisableAfter int
}

func (c Config) withDefaults() Config {
	if c.ExcursionWatchdog <= 0 {
		c.ExcursionWatchdog = 300 * time.Second
	}
	if c.DisableAfter <= 0 {
		c.DisableAfter = 3
	}
	return c
}

// passState is the mutable state of one scheduling pass. It is explicit
// so no ambient globals carry the queue or the current item.
type passState struct {
	queue   []string
	asOf    time.Time
	current string
}

func (p *passState) popFront() (string, bool) {
	if len(p.queue) == 0 {
		return "", false
	}
	fn := p.queue[0]
	p.queue = p.queue[1:]
	return fn, true
}

func (p *passState) pushFront(fn string) {
	p.queue = append([]string{fn}, p.queue...)
}
