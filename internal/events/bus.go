package events

import (
	"sync"

	"go.uber.org/zap"
)

// Kind identifies a category of event on the bus.
type Kind string

const (
	// ScanCompleted fires when an email scan finishes; the payload is the
	// resulting core.ScanRecord.
	ScanCompleted Kind = "scan_completed"
	// DataUpdated fires when a fresh analytics snapshot lands in the
	// cache; the payload is a core.DataUpdate.
	DataUpdated Kind = "data_updated"
)

// Handler receives an event payload. Handlers run synchronously on the
// publisher's goroutine.
type Handler func(payload any)

type subscription struct {
	id int
	fn Handler
}

// Bus is an in-process publish/subscribe channel. Events are ephemeral:
// they fan out to the handlers registered at publish time and are gone; a
// handler registered afterwards never sees them.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[Kind][]subscription
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[Kind][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for an event kind and returns a function
// that deregisters exactly this handler. Removal is by subscription
// identity, so unsubscribing is safe while other subscribers come and go.
// The returned function is idempotent.
func (b *Bus) Subscribe(kind Kind, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[kind]
		for i, sub := range list {
			if sub.id == id {
				b.subs[kind] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish invokes every handler currently registered for the kind, in
// registration order, on the calling goroutine. Each handler runs to
// completion before the next starts. A panicking handler is logged and
// does not stop delivery to the remaining handlers, and nothing propagates
// back to the publisher: one misbehaving consumer must not break scan
// reporting for the rest.
func (b *Bus) Publish(kind Kind, payload any) {
	b.mu.Lock()
	subs := b.subs[kind]
	handlers := make([]Handler, len(subs))
	for i, sub := range subs {
		handlers[i] = sub.fn
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		b.invoke(kind, fn, payload)
	}
}

func (b *Bus) invoke(kind Kind, fn Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("event_kind", string(kind)),
				zap.Any("panic", r))
		}
	}()
	fn(payload)
}
