package hooks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Subscriber reacts to published events.
type Subscriber interface {
	HandleEvent(ctx context.Context, event Event) error
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event Event) error

func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// Subscription represents an active registration on a Bus. Close is
// idempotent and safe to call multiple times.
type Subscription interface {
	Close()
}

// Bus fans out published events to every registered subscriber in-process.
// Delivery is synchronous in the publisher's goroutine; a subscriber that
// returns an error is logged and isolated so it never blocks delivery to
// the remaining subscribers or the workflow that published the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscription]Subscriber
}

type subscription struct {
	bus  *Bus
	once sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
}

// NewBus constructs an empty, ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[*subscription]Subscriber)}
}

// Register adds sub to the bus and returns a Subscription that can be
// closed to unregister it.
func (b *Bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("hooks: subscriber is required")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.mu.Unlock()
	return s, nil
}

// Publish delivers event to every currently registered subscriber; the
// order of delivery across subscribers is not defined. A subscriber error
// is logged and does not prevent delivery to the remaining subscribers.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			slog.Error("hooks: subscriber failed handling event", "event_type", event.Type, "session_id", event.SessionID, "error", err)
		}
	}
}
