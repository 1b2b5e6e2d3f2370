package event

import (
	"sync"
	"time"
)

// Handler receives events published on a Bus.
type Handler func(Event)

// Bus is a minimal typed publish/subscribe channel. It exists so that the
// supervisor and the watchdog can exchange status and alert events without
// importing each other. Handlers run synchronously inside Publish, in the
// order they were subscribed.
type Bus struct {
	mu   sync.RWMutex
	subs map[Type][]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]Handler)}
}

// Subscribe registers h for events of type t. There is no unsubscribe; a
// Bus lives as long as the components wired to it.
func (b *Bus) Subscribe(t Type, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.subs[t] = append(b.subs[t], h)
	b.mu.Unlock()
}

// SubscribeAll registers h for every event regardless of type.
func (b *Bus) SubscribeAll(h Handler) {
	b.Subscribe(typeWildcard, h)
}

const typeWildcard Type = "*"

// Publish delivers e to all handlers subscribed to e.Type, then to wildcard
// subscribers. A zero Timestamp is filled in with the current time.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[e.Type]...)
	handlers = append(handlers, b.subs[typeWildcard]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}
