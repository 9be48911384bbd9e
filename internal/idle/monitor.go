// Package idle tracks user presence from an injected idle-seconds probe
// and turns it into engine events: a periodic present tick, an idle
// transition, and a return-from-idle that fires exactly once per idle
// episode.
package idle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tickler/internal/eventbus"
	logx "tickler/pkg/logx"
)

// Probe reports how many seconds the user has been idle so far.
// Implementations are platform-specific; see SelectProbe.
type Probe func() (float64, error)

type State int

const (
	Present State = iota
	Idle
)

func (s State) String() string {
	if s == Idle {
		return "idle"
	}
	return "present"
}

type Config struct {
	// ShortThreshold is how much probed idle time flips PRESENT to IDLE.
	ShortThreshold time.Duration
	// LongIdle gates whether a return-from-idle should trigger a full
	// scheduling pass rather than just being logged.
	LongIdle time.Duration
	// PresentPoll / IdlePoll are the two polling cadences.
	PresentPoll time.Duration
	IdlePoll    time.Duration
	// CorrectDetectionLag subtracts ShortThreshold from the computed
	// idle length, compensating for the gap between idle onset and its
	// detection. Floored at zero.
	CorrectDetectionLag bool
}

func (c Config) withDefaults() Config {
	if c.ShortThreshold <= 0 {
		c.ShortThreshold = 600 * time.Second
	}
	if c.LongIdle <= 0 {
		c.LongIdle = 5400 * time.Second
	}
	if c.PresentPoll <= 0 {
		c.PresentPoll = 111 * time.Second
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = 2 * time.Second
	}
	return c
}

// Monitor is the PRESENT/IDLE state machine. All state is touched from
// the single Run loop; the mutex only covers the read-side accessors.
type Monitor struct {
	cfg   Config
	probe Probe
	bus   *eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	// probeWarn throttles probe-failure logging; a broken probe would
	// otherwise warn every two seconds while idle.
	probeWarn *rate.Limiter

	mu               sync.Mutex
	state            State
	lastPoll         time.Time
	lastOnline       time.Time
	idleBeginning    time.Time
	lengthOfLastIdle time.Duration
}

type Option func(*Monitor)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func New(cfg Config, probe Probe, bus *eventbus.Bus, log logx.Logger, opts ...Option) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Monitor{
		cfg:       cfg.withDefaults(),
		probe:     probe,
		bus:       bus,
		log:       log,
		now:       time.Now,
		probeWarn: rate.NewLimiter(rate.Every(30*time.Second), 1),
		state:     Present,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Run polls until ctx ends, at the long cadence while present and the
// short cadence while idle.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("idle monitor started",
		logx.Duration("short_threshold", m.cfg.ShortThreshold),
		logx.Duration("present_poll", m.cfg.PresentPoll),
		logx.Duration("idle_poll", m.cfg.IdlePoll))

	timer := time.NewTimer(m.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("idle monitor stopped")
			return
		case <-timer.C:
			m.step(m.now())
			timer.Reset(m.interval())
		}
	}
}

func (m *Monitor) interval() time.Duration {
	if m.State() == Idle {
		return m.cfg.IdlePoll
	}
	return m.cfg.PresentPoll
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastOnline is the most recent instant the user was known present.
func (m *Monitor) LastOnline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOnline
}

// RestoreLastOnline seeds lastOnline from recovered state, so the first
// idle computation after a restart has a baseline.
func (m *Monitor) RestoreLastOnline(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastOnline.IsZero() || at.After(m.lastOnline) {
		m.lastOnline = at
	}
}

// LengthOfLastIdle is the duration of the most recent idle episode.
func (m *Monitor) LengthOfLastIdle() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lengthOfLastIdle
}

// LongIdle reports whether d qualifies as a long idle episode.
func (m *Monitor) LongIdle(d time.Duration) bool { return d >= m.cfg.LongIdle }

// step advances the state machine one poll. Split out from Run so tests
// can drive it with a fake clock.
func (m *Monitor) step(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Present:
		m.stepPresentLocked(now)
	case Idle:
		m.stepIdleLocked(now)
	}
	m.lastPoll = now
}

func (m *Monitor) stepPresentLocked(now time.Time) {
	// A poll gap far beyond the cadence means the process itself was
	// suspended (machine slept): idle already began, no probe needed.
	if !m.lastPoll.IsZero() && now.Sub(m.lastPoll) > m.cfg.ShortThreshold {
		m.log.Info("poll gap exceeds idle threshold, treating as idle",
			logx.Duration("gap", now.Sub(m.lastPoll)))
		m.idleBeginning = m.lastPoll
		m.enterIdleLocked(now)
		return
	}

	idleFor, err := m.probe()
	if err != nil {
		if m.probeWarn.Allow() {
			m.log.Warn("idle probe failed", logx.Err(err))
		}
		return
	}

	if time.Duration(idleFor*float64(time.Second)) > m.cfg.ShortThreshold {
		m.idleBeginning = now
		m.enterIdleLocked(now)
		return
	}

	m.lastOnline = now
	m.idleBeginning = now
	m.bus.Publish(eventbus.Event{Kind: eventbus.PresenceTick, Time: now})
}

func (m *Monitor) stepIdleLocked(now time.Time) {
	idleFor, err := m.probe()
	if err != nil {
		if m.probeWarn.Allow() {
			m.log.Warn("idle probe failed", logx.Err(err))
		}
		return
	}
	if time.Duration(idleFor*float64(time.Second)) > m.cfg.ShortThreshold {
		return // still idle, keep polling
	}

	// User returned.
	length := now.Sub(m.idleBeginning)
	if m.cfg.CorrectDetectionLag {
		length -= m.cfg.ShortThreshold
	}
	if length < 0 {
		length = 0
	}
	m.lengthOfLastIdle = length
	m.lastOnline = now
	m.idleBeginning = now
	m.state = Present

	m.log.Info("return from idle", logx.Duration("idle_for", length))
	m.bus.Publish(eventbus.Event{Kind: eventbus.PresenceReturn, Time: now, IdleFor: length})
}

func (m *Monitor) enterIdleLocked(now time.Time) {
	m.state = Idle
	m.log.Info("user went idle", logx.Time("since", m.idleBeginning))
	m.bus.Publish(eventbus.Event{Kind: eventbus.PresenceIdle, Time: now})
}
