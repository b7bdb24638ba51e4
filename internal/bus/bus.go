// Package bus is the in-process publish/subscribe channel for stream
// lifecycle events. Delivery is synchronous: Publish returns after every
// handler subscribed to the event's kind has run, in registration order.
// There is no persistence or replay.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Handler receives events of the kind it subscribed to.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id int
	fn Handler
}

// Bus fans events out to subscribers.
type Bus struct {
	log *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[Kind][]subscription
}

func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log, subs: make(map[Kind][]subscription)}
}

// Subscribe registers fn for kind and returns a function that removes it.
func (b *Bus) Subscribe(kind Kind, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		lst := b.subs[kind]
		out := lst[:0:0]
		for _, s := range lst {
			if s.id != id {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			delete(b.subs, kind)
		} else {
			b.subs[kind] = out
		}
	}
}

// On registers a typed handler for events of type T.
func On[T Event](b *Bus, fn func(ctx context.Context, ev T)) (unsubscribe func()) {
	var zero T
	return b.Subscribe(zero.Kind(), func(ctx context.Context, ev Event) {
		if t, ok := ev.(T); ok {
			fn(ctx, t)
		}
	})
}

// Publish delivers ev to every current subscriber of its kind. A panicking
// handler is logged and does not stop delivery to the rest.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Kind()]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s.fn, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				"event", string(ev.Kind()),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn(ctx, ev)
}
