package event

import (
	"context"
	"sync"

	"github.com/ash-erp/billing/internal/domain/shared"
	"go.uber.org/zap"
)

// InMemoryEventBus delivers domain events synchronously and in process.
// Handler failures are logged and never propagate to the publisher, so a
// broken notification cannot roll back a committed payment. Delivery is
// at-most-once; events published before Start or after Stop are dropped
// with a warning.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	subs     map[string][]shared.EventHandler
	catchAll []shared.EventHandler
	running  bool
	logger   *zap.Logger
}

func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		subs:   make(map[string][]shared.EventHandler),
		logger: logger,
	}
}

// Publish dispatches each event to its subscribed handlers in subscription
// order. Always returns nil; failures surface in the log only.
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, ev := range events {
		b.mu.RLock()
		running := b.running
		handlers := make([]shared.EventHandler, 0, len(b.subs[ev.EventType()])+len(b.catchAll))
		handlers = append(handlers, b.subs[ev.EventType()]...)
		handlers = append(handlers, b.catchAll...)
		b.mu.RUnlock()

		if !running {
			b.logger.Warn("event dropped, bus not running",
				zap.String("event_type", ev.EventType()),
				zap.String("event_id", ev.EventID().String()),
			)
			continue
		}

		for _, h := range handlers {
			if err := b.dispatch(ctx, h, ev); err != nil {
				b.logger.Error("handler failed to process event",
					zap.String("event_type", ev.EventType()),
					zap.String("event_id", ev.EventID().String()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// Subscribe registers a handler. With no explicit event types the handler's
// own EventTypes are used, and an empty result subscribes it to everything.
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(eventTypes) == 0 {
		b.catchAll = append(b.catchAll, handler)
	} else {
		for _, et := range eventTypes {
			b.subs[et] = append(b.subs[et], handler)
		}
	}

	b.logger.Debug("handler subscribed", zap.Strings("event_types", eventTypes))
}

// Unsubscribe removes the handler from every subscription.
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.catchAll = without(b.catchAll, handler)
	for et, handlers := range b.subs {
		if remaining := without(handlers, handler); len(remaining) == 0 {
			delete(b.subs, et)
		} else {
			b.subs[et] = remaining
		}
	}

	b.logger.Debug("handler unsubscribed")
}

func (b *InMemoryEventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	b.logger.Info("event bus started")
	return nil
}

func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.logger.Info("event bus stopped")
	return nil
}

// dispatch shields the bus from handler panics.
func (b *InMemoryEventBus) dispatch(ctx context.Context, handler shared.EventHandler, ev shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked",
				zap.String("event_type", ev.EventType()),
				zap.Any("panic", r),
			)
		}
	}()
	return handler.Handle(ctx, ev)
}

func without(handlers []shared.EventHandler, target shared.EventHandler) []shared.EventHandler {
	var kept []shared.EventHandler
	for _, h := range handlers {
		if h != target {
			kept = append(kept, h)
		}
	}
	return kept
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
