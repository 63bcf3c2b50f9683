// Package eventbus fans application events out to in-process subscribers.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one observable occurrence, named dot-style ("bridge.displayed",
// "config.reloaded"). Payloads should stay small; subscribers all see the
// same Data value, not a copy.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers events best-effort. Publish never blocks; a subscriber whose
// buffer is full loses the event rather than stalling the publisher.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped counts events discarded because a subscriber could not keep up.
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// Publish offers e to every subscriber. Sends happen under the read lock so
// an unsubscribe, which closes the channel under the write lock, can never
// interleave with a send.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
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
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
