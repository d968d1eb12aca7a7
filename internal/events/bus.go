package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler processes one event. Returned errors are logged by the bus and never
// reach the publisher.
type Handler func(ctx context.Context, evt Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process publish/subscribe registry. Handlers subscribed to a
// type run concurrently; Publish returns once all of them finished.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]subscription
	wildcard []subscription
	nextID   uint64
	logger   *zap.Logger
	now      func() time.Time
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[Type][]subscription),
		logger:   logger,
		now:      time.Now,
	}
}

// Subscribe registers h for events of type t. The returned func removes it
// from future dispatch; in-flight invocations are not cancelled.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], subscription{id: id, handler: h})
	return func() { b.unsubscribe(t, id) }
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.wildcard = append(b.wildcard, subscription{id: id, handler: h})
	return func() { b.unsubscribe("", id) }
}

func (b *Bus) unsubscribe(t Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t == "" {
		b.wildcard = without(b.wildcard, id)
		return
	}
	b.handlers[t] = without(b.handlers[t], id)
	if len(b.handlers[t]) == 0 {
		delete(b.handlers, t)
	}
}

func without(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish wraps payload into a new event and dispatches it.
func (b *Bus) Publish(ctx context.Context, payload Payload, source string) Event {
	evt := Event{
		ID:        uuid.NewString(),
		Type:      payload.EventType(),
		Payload:   payload,
		Timestamp: b.now().UTC(),
		Source:    source,
	}
	b.Dispatch(ctx, evt)
	return evt
}

// Dispatch delivers an already built event, filling in ID and timestamp when missing.
func (b *Bus) Dispatch(ctx context.Context, evt Event) {
	if evt.Payload == nil {
		b.logger.Warn("event bus: dropping event without payload", zap.String("event_type", string(evt.Type)))
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now().UTC()
	}
	evt.Type = evt.Payload.EventType()

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[evt.Type])+len(b.wildcard))
	subs = append(subs, b.handlers[evt.Type]...)
	subs = append(subs, b.wildcard...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.Debug("event bus: no subscribers", zap.String("event_type", string(evt.Type)))
		return
	}

	var g errgroup.Group
	for _, s := range subs {
		g.Go(func() error {
			b.invoke(ctx, evt, s)
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Bus) invoke(ctx context.Context, evt Event, s subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event bus: handler panicked",
				zap.String("event_type", string(evt.Type)),
				zap.String("event_id", evt.ID),
				zap.Uint64("subscription_id", s.id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	if err := s.handler(ctx, evt); err != nil {
		b.logger.Error("event bus: handler failed",
			zap.String("event_type", string(evt.Type)),
			zap.String("event_id", evt.ID),
			zap.String("source", evt.Source),
			zap.Uint64("subscription_id", s.id),
			zap.Error(err),
		)
	}
}

// On subscribes a handler typed on the concrete payload P.
func On[P Payload](b *Bus, h func(ctx context.Context, p P, evt Event) error) func() {
	var zero P
	return b.Subscribe(zero.EventType(), func(ctx context.Context, evt Event) error {
		p, ok := evt.Payload.(P)
		if !ok {
			return fmt.Errorf("events: payload %T does not match %s", evt.Payload, evt.Type)
		}
		return h(ctx, p, evt)
	})
}
