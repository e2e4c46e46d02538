package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/flowgrid/flowgrid/common/hash"
)

// Logger is the minimal logging surface the bus needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Fanout broadcasts a published event beyond in-process subscribers, e.g. to
// a tenant-scoped Redis pubsub channel for UI consumers. Best effort only.
type Fanout interface {
	Fanout(ctx context.Context, channel string, message string) error
}

// Bus publishes domain events: append to the store first, then notify
// subscribers. An event counts as published once the store acknowledges the
// append; a failing subscriber never unpublishes it.
type Bus struct {
	store  Store
	fanout Fanout
	log    Logger

	mu   sync.RWMutex
	subs map[string][]Handler
	all  []Handler
}

// NewBus creates a bus over the given store. fanout may be nil.
func NewBus(store Store, fanout Fanout, log Logger) *Bus {
	return &Bus{
		store:  store,
		fanout: fanout,
		log:    log,
		subs:   make(map[string][]Handler),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish appends the event to the store, then invokes subscribers in
// registration order. Returns the store error if the append fails; subscriber
// errors are logged and swallowed.
func (b *Bus) Publish(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = hash.NewID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if err := b.store.Append(ctx, ev); err != nil {
		return err
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Type])+len(b.all))
	handlers = append(handlers, b.subs[ev.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ev); err != nil {
			b.log.Warn("event subscriber failed", "event_type", ev.Type, "event_id", ev.ID, "error", err)
		}
	}

	if b.fanout != nil {
		if msg, err := json.Marshal(ev); err == nil {
			if err := b.fanout.Fanout(ctx, "wf.events."+ev.TenantID, string(msg)); err != nil {
				b.log.Debug("event fanout failed", "event_id", ev.ID, "error", err)
			}
		}
	}

	return nil
}

// Store exposes the underlying event store for queries and replay.
func (b *Bus) Store() Store {
	return b.store
}
