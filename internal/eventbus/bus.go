// Package eventbus decouples the presence monitor, the scheduler and
// the persistence loops. It replaces ad-hoc ordered hook lists: handlers
// subscribe once at wiring time and receive events in publish order.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind names the engine events that ride the bus.
type Kind string

const (
	// PresenceTick fires on every long-interval poll while present.
	PresenceTick Kind = "presence.tick"
	// PresenceIdle fires on the PRESENT -> IDLE transition.
	PresenceIdle Kind = "presence.idle"
	// PresenceReturn fires exactly once per idle episode, on return.
	PresenceReturn Kind = "presence.return"
	// RunStarted / RunFinished bracket one item execution.
	RunStarted  Kind = "run.started"
	RunFinished Kind = "run.finished"
)

// Event is a lightweight in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - Slow subscribers drop events (bounded backpressure).
type Event struct {
	Kind Kind
	Time time.Time

	// Item is set on run events.
	Item string
	// IdleFor is set on PresenceReturn: the length of the idle episode.
	IdleFor time.Duration
	// Outcome is set on RunFinished.
	Outcome string
}

type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() *Bus {
	return &Bus{subs: map[uint64]chan Event{}}
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; a concurrently unsubscribed channel may
		// close mid-send, so recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
