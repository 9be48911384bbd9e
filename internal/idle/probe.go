package idle

import (
	"errors"
	"sync"
	"time"

	logx "tickler/pkg/logx"
)

// ErrNoProbe means no idle-time source is available on this platform
// and none was opted into; the monitor should stay disabled.
var ErrNoProbe = errors.New("idle: no idle probe available")

// ProbeConfig selects the idle-seconds source.
type ProbeConfig struct {
	// Seat is the logind seat to query (default "seat0").
	Seat string
}

// SelectProbe picks the platform idle query. Hosts that opt into the
// engine-internal measure instead wire a Tracker probe themselves.
func SelectProbe(cfg ProbeConfig, log logx.Logger) (Probe, error) {
	p, err := platformProbe(cfg)
	if err != nil {
		if !errors.Is(err, errNoPlatformProbe) {
			log.Warn("platform idle probe unavailable", logx.Err(err))
		}
		return nil, ErrNoProbe
	}
	return p, nil
}

var errNoPlatformProbe = errors.New("idle: platform probe not supported")

// Tracker is the opt-in fallback probe: the host reports user activity
// via Touch and the probe measures time since the last report. It only
// sees activity that reaches the engine (prompt replies), so it is a
// coarse substitute for a real platform query.
type Tracker struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.last = t.now()
	return t
}

func (t *Tracker) Touch() {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()
}

func (t *Tracker) Probe() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.last).Seconds(), nil
}
