package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler is a subscriber callback. Handlers run on their own goroutine per
// delivery; delivery is at-least-once, so handlers must be idempotent
// (consumers key off order/trade ids).
type Handler func(event *Event)

// Bus is the in-process publish/subscribe hub.
// Subscriptions are registered at wiring time; Emit never blocks the caller.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for the given event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit broadcasts an event to all handlers subscribed to its type.
// Each handler runs on its own goroutine; panics are recovered and logged
// so one bad consumer cannot take down the emitter.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	for _, handler := range handlers {
		h := handler
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().
						Str("event_type", string(eventType)).
						Interface("panic", r).
						Msg("Event handler panicked")
				}
			}()
			h(event)
		}()
	}
}

// Wait blocks until all in-flight handler goroutines finish.
// Used during shutdown and in tests.
func (b *Bus) Wait() {
	b.wg.Wait()
}
