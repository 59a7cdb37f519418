// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusClosed is returned when publishing after Shutdown.
var ErrBusClosed = errors.New("event bus is shut down")

type registration struct {
	id      string
	handler Handler
}

// Bus is an in-memory, synchronous event bus. Handlers run in the order
// they subscribed, specific subscribers before AllEvents subscribers.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[EventType][]registration
	published map[EventType]int
	failed    int
	closed    bool
	logger    *zap.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers:  make(map[EventType][]registration),
		published: make(map[EventType]int),
		logger:    logger.Named("event_bus"),
	}
}

// Subscribe registers a handler for a specific event type, or AllEvents.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.handlers[eventType] = append(b.handlers[eventType], registration{id: id, handler: handler})

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &subscription{
		id:       id,
		eventBus: b,
		typ:      eventType,
	}
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// PublishSync delivers an event to every matching handler before returning.
// A failing handler does not stop delivery to the rest.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.published[event.Type()]++
	targets := make([]registration, 0, len(b.handlers[event.Type()])+len(b.handlers[AllEvents]))
	targets = append(targets, b.handlers[event.Type()]...)
	if event.Type() != AllEvents {
		targets = append(targets, b.handlers[AllEvents]...)
	}
	b.mu.Unlock()

	var errs []error
	for _, r := range targets {
		if err := r.handler.Handle(ctx, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", r.id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		b.mu.Lock()
		b.failed += len(errs)
		b.mu.Unlock()
		return fmt.Errorf("handlers failed: %w", errors.Join(errs...))
	}
	return nil
}

// PublishAll delivers events in order. It keeps going after handler errors
// and returns them joined.
func (b *Bus) PublishAll(ctx context.Context, evts []Event) error {
	var errs []error
	for _, e := range evts {
		if err := b.PublishSync(ctx, e); err != nil {
			if errors.Is(err, ErrBusClosed) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// unsubscribe removes a handler subscription.
func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[eventType]
	for i, r := range regs {
		if r.id == id {
			b.handlers[eventType] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}

	b.logger.Debug("Handler unsubscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))
}

// Shutdown stops accepting events. Handlers already running finish normally.
func (b *Bus) Shutdown(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.logger.Info("Event bus shut down",
		zap.Int("failed_deliveries", b.failed))
	return nil
}

// BusStats summarizes bus activity.
type BusStats struct {
	HandlersPerType  map[EventType]int
	PublishedPerType map[EventType]int
	FailedDeliveries int
}

// Stats returns statistics about the event bus.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BusStats{
		HandlersPerType:  make(map[EventType]int, len(b.handlers)),
		PublishedPerType: make(map[EventType]int, len(b.published)),
		FailedDeliveries: b.failed,
	}
	for t, regs := range b.handlers {
		stats.HandlersPerType[t] = len(regs)
	}
	for t, n := range b.published {
		stats.PublishedPerType[t] = n
	}
	return stats
}
