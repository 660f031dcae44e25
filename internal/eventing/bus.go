package eventing

import (
	"context"
	"errors"
	"sync"
)

// Handler handles a delivered event.
type Handler func(ctx context.Context, event any) error

var (
	// ErrNilEvent is returned when a nil event is published.
	ErrNilEvent = errors.New("eventing: nil event")
	// ErrInvalidEventType is returned when a handler receives an unexpected type.
	ErrInvalidEventType = errors.New("eventing: invalid event type")
)

// Bus is a minimal in-process event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Publish delivers an event to all handlers of its type and returns the first error.
func (b *Bus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	eventType := TypeName(event)

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// TypeOf returns the event type name for T.
func TypeOf[T any]() string {
	var zero T
	return TypeName(zero)
}
