package events

import (
	"context"
	"sync"
)

// Handler consumes a published event.
type Handler func(eventType string, payload map[string]any)

// Bus is a simple in-memory notifier for tests and single-process setups.
// It is injected wherever a Notifier is needed; there is no process-wide
// registry.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish delivers the event synchronously to all subscribed handlers.
func (b *Bus) Publish(_ context.Context, eventType string, payload map[string]any) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()
	for _, h := range hs {
		h(eventType, payload)
	}
}
