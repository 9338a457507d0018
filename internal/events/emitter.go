// Package events carries committed task changes from the store to its
// subscribers: the sync layer and any presentation collaborators.
package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEmitter is a simple implementation of the Emitter interface that
// stores registered handlers in memory and dispatches events to them
// synchronously, in registration order.
type InMemoryEmitter struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEmitter creates a new instance of InMemoryEmitter.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	return &InMemoryEmitter{
		handlers: make([]Handler, 0),
		logger:   logger.With("component", "change_emitter"),
	}
}

// Subscribe adds a new handler to receive change events.
func (e *InMemoryEmitter) Subscribe(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered change handler", "handler_count", len(e.handlers))
}

// Emit publishes the given event to all registered handlers. If any handler
// returns an error, the event is still delivered to the remaining handlers
// and the first error encountered is returned.
func (e *InMemoryEmitter) Emit(ctx context.Context, event *ChangeEvent) error {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	e.logger.Debug("emitting change event",
		"event_id", event.ID,
		"kind", event.Kind,
		"task_id", event.Task.ID,
		"handler_count", len(handlers))

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleChange(ctx, event); err != nil {
			e.logger.Error("handler failed to process change event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"kind", event.Kind)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
