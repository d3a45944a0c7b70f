package telemetry

import (
	"sync"
	"time"

	"github.com/chaz8081/hyena-bridge/internal/ble/protocol"
)

// Update is published whenever a decoded reading changes the stored
// value for its metric. State is the full snapshot after the change.
type Update struct {
	Metric protocol.Metric `json:"metric"`
	State  State           `json:"state"`
	At     time.Time       `json:"at"`
}

// updateBuffer is the per-subscriber channel depth. The stream carries at
// most a handful of updates per telemetry frame, so a shallow buffer is
// plenty before a consumer counts as stuck.
const updateBuffer = 64

// subscriber holds the buffered channel for one consumer.
type subscriber struct {
	ch   chan Update
	once sync.Once
}

// Bus fans telemetry updates out to all subscribers. Subscribers consume
// from their own buffered channel; the publisher never blocks on them.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a consumer. The returned unsubscribe function must
// be called when the consumer goes away; it closes the channel and may
// be called more than once.
func (b *Bus) Subscribe() (<-chan Update, func()) {
	s := &subscriber{ch: make(chan Update, updateBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Publish delivers an Update to every current subscriber. A subscriber
// whose buffer is full misses the update; it can recover current state
// from a Store snapshot at any time.
func (b *Bus) Publish(u Update) {
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- u:
		default:
			// Slow consumer, drop.
		}
	}
}
