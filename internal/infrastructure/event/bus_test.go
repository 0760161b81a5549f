package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ash-erp/billing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingHandler collects every event it receives
type recordingHandler struct {
	mu         sync.Mutex
	eventTypes []string
	received   []shared.DomainEvent
	fail       bool
	panics     bool
}

func (h *recordingHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if h.panics {
		panic("handler exploded")
	}
	h.mu.Lock()
	h.received = append(h.received, event)
	h.mu.Unlock()
	if h.fail {
		return errors.New("handler failure")
	}
	return nil
}

func (h *recordingHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func newTestEvent(eventType string) shared.DomainEvent {
	e := shared.NewBaseDomainEvent(eventType, "Invoice", uuid.New(), uuid.New())
	return &e
}

func newStartedBus(t *testing.T) *InMemoryEventBus {
	t.Helper()
	bus := NewInMemoryEventBus(zap.NewNop())
	require.NoError(t, bus.Start(context.Background()))
	return bus
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	t.Run("delivers to matching handler", func(t *testing.T) {
		bus := newStartedBus(t)
		handler := &recordingHandler{eventTypes: []string{"InvoicePaid"}}
		bus.Subscribe(handler)

		err := bus.Publish(context.Background(), newTestEvent("InvoicePaid"))

		require.NoError(t, err)
		assert.Equal(t, 1, handler.count())
	})

	t.Run("skips non-matching handler", func(t *testing.T) {
		bus := newStartedBus(t)
		handler := &recordingHandler{eventTypes: []string{"InvoicePaid"}}
		bus.Subscribe(handler)

		err := bus.Publish(context.Background(), newTestEvent("PaymentReceived"))

		require.NoError(t, err)
		assert.Equal(t, 0, handler.count())
	})

	t.Run("catch-all handler receives all events", func(t *testing.T) {
		bus := newStartedBus(t)
		handler := &recordingHandler{}
		bus.Subscribe(handler)

		err := bus.Publish(context.Background(),
			newTestEvent("InvoicePaid"),
			newTestEvent("PaymentReceived"),
		)

		require.NoError(t, err)
		assert.Equal(t, 2, handler.count())
	})

	t.Run("handler error does not stop other handlers", func(t *testing.T) {
		bus := newStartedBus(t)
		failing := &recordingHandler{eventTypes: []string{"InvoicePaid"}, fail: true}
		healthy := &recordingHandler{eventTypes: []string{"InvoicePaid"}}
		bus.Subscribe(failing)
		bus.Subscribe(healthy)

		err := bus.Publish(context.Background(), newTestEvent("InvoicePaid"))

		require.NoError(t, err)
		assert.Equal(t, 1, healthy.count())
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		bus := newStartedBus(t)
		panicking := &recordingHandler{eventTypes: []string{"InvoicePaid"}, panics: true}
		healthy := &recordingHandler{eventTypes: []string{"InvoicePaid"}}
		bus.Subscribe(panicking)
		bus.Subscribe(healthy)

		assert.NotPanics(t, func() {
			_ = bus.Publish(context.Background(), newTestEvent("InvoicePaid"))
		})
		assert.Equal(t, 1, healthy.count())
	})

	t.Run("drops events before Start", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		handler := &recordingHandler{eventTypes: []string{"InvoicePaid"}}
		bus.Subscribe(handler)

		err := bus.Publish(context.Background(), newTestEvent("InvoicePaid"))

		require.NoError(t, err)
		assert.Equal(t, 0, handler.count())
	})

	t.Run("drops events after Stop", func(t *testing.T) {
		bus := newStartedBus(t)
		handler := &recordingHandler{eventTypes: []string{"InvoicePaid"}}
		bus.Subscribe(handler)
		require.NoError(t, bus.Stop(context.Background()))

		err := bus.Publish(context.Background(), newTestEvent("InvoicePaid"))

		require.NoError(t, err)
		assert.Equal(t, 0, handler.count())
	})
}

func TestInMemoryEventBus_Subscribe(t *testing.T) {
	t.Run("explicit types override handler types", func(t *testing.T) {
		bus := newStartedBus(t)
		handler := &recordingHandler{eventTypes: []string{"InvoicePaid"}}
		bus.Subscribe(handler, "PaymentReceived")

		_ = bus.Publish(context.Background(), newTestEvent("InvoicePaid"))
		assert.Equal(t, 0, handler.count())

		_ = bus.Publish(context.Background(), newTestEvent("PaymentReceived"))
		assert.Equal(t, 1, handler.count())
	})

	t.Run("one handler can cover several types", func(t *testing.T) {
		bus := newStartedBus(t)
		handler := &recordingHandler{eventTypes: []string{"InvoicePaid", "InvoiceCancelled"}}
		bus.Subscribe(handler)

		_ = bus.Publish(context.Background(),
			newTestEvent("InvoicePaid"),
			newTestEvent("InvoiceCancelled"),
			newTestEvent("PaymentReceived"),
		)

		assert.Equal(t, 2, handler.count())
	})
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	t.Run("removes typed subscription", func(t *testing.T) {
		bus := newStartedBus(t)
		handler := &recordingHandler{eventTypes: []string{"InvoicePaid"}}
		bus.Subscribe(handler)
		bus.Unsubscribe(handler)

		err := bus.Publish(context.Background(), newTestEvent("InvoicePaid"))

		require.NoError(t, err)
		assert.Equal(t, 0, handler.count())
	})

	t.Run("removes catch-all subscription", func(t *testing.T) {
		bus := newStartedBus(t)
		handler := &recordingHandler{}
		bus.Subscribe(handler)
		bus.Unsubscribe(handler)

		_ = bus.Publish(context.Background(), newTestEvent("PaymentReceived"))

		assert.Equal(t, 0, handler.count())
	})

	t.Run("other handlers keep their subscriptions", func(t *testing.T) {
		bus := newStartedBus(t)
		leaving := &recordingHandler{eventTypes: []string{"InvoicePaid"}}
		staying := &recordingHandler{eventTypes: []string{"InvoicePaid"}}
		bus.Subscribe(leaving)
		bus.Subscribe(staying)
		bus.Unsubscribe(leaving)

		_ = bus.Publish(context.Background(), newTestEvent("InvoicePaid"))

		assert.Equal(t, 0, leaving.count())
		assert.Equal(t, 1, staying.count())
	})
}

func TestInMemoryEventBus_StartStop(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	assert.NoError(t, bus.Start(context.Background()))
	assert.NoError(t, bus.Stop(context.Background()))
}
