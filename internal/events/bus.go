package events

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"katalyst/internal/logging"
)

// Handler is one subscriber's callback. The bus matches handlers by
// exact Event.Type equality; Go has no runtime inheritance, so type
// assignability collapses to string equality on the type name, with
// wildcard subscription available via SubscribeAll.
type Handler func(ctx context.Context, e Event) error

// ErrorSink receives handler failures instead of having them propagate
// and block sibling handlers.
type ErrorSink interface {
	HandlerFailed(ctx context.Context, e Event, handlerID string, err error)
}

// LoggingErrorSink logs failures through internal/logging; it is the
// default sink when none is supplied.
type LoggingErrorSink struct{}

func (LoggingErrorSink) HandlerFailed(ctx context.Context, e Event, handlerID string, err error) {
	logging.FromContext(ctx, nil).Error("event handler failed",
		"handler_id", handlerID, "event_type", e.Type, "event_id", e.ID, "error", err)
}

type registeredHandler struct {
	id string
	fn Handler
}

// Bus routes a published event to every handler subscribed to its type,
// in registration order. Dispatch is synchronous by default;
// NewPooledBus enables a worker-pool dispatcher for fan-out.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[string][]registeredHandler
	wildcard    []registeredHandler
	sink        ErrorSink
	concurrency int // 0 means synchronous dispatch on the caller's goroutine
}

// NewBus returns a synchronous-dispatch bus. A nil sink defaults to
// LoggingErrorSink.
func NewBus(sink ErrorSink) *Bus {
	if sink == nil {
		sink = LoggingErrorSink{}
	}
	return &Bus{handlers: make(map[string][]registeredHandler), sink: sink}
}

// NewPooledBus returns a bus that fans handler invocations for a single
// Publish call out across a worker pool bounded by concurrency, using
// golang.org/x/sync/errgroup.
func NewPooledBus(sink ErrorSink, concurrency int) *Bus {
	b := NewBus(sink)
	if concurrency < 1 {
		concurrency = 1
	}
	b.concurrency = concurrency
	return b
}

// Subscribe registers fn under id for eventType. Order of registration
// is preserved and is the dispatch order for that type.
func (b *Bus) Subscribe(eventType, id string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], registeredHandler{id: id, fn: fn})
}

// SubscribeAll registers fn for every event type published on this bus.
// Wildcard handlers run after type-specific handlers.
func (b *Bus) SubscribeAll(id string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, registeredHandler{id: id, fn: fn})
}

func (b *Bus) handlersFor(eventType string) []registeredHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]registeredHandler, 0, len(b.handlers[eventType])+len(b.wildcard))
	out = append(out, b.handlers[eventType]...)
	out = append(out, b.wildcard...)
	return out
}

// Publish dispatches e to every subscribed handler. Outside any
// transaction this is the bus's entire behavior.
func (b *Bus) Publish(ctx context.Context, e Event) {
	handlers := b.handlersFor(e.Type)
	if len(handlers) == 0 {
		return
	}
	if b.concurrency == 0 {
		b.dispatchSequential(ctx, e, handlers)
		return
	}
	b.dispatchPooled(ctx, e, handlers)
}

func (b *Bus) dispatchSequential(ctx context.Context, e Event, handlers []registeredHandler) {
	for _, h := range handlers {
		if err := h.fn(ctx, e); err != nil {
			b.sink.HandlerFailed(ctx, e, h.id, err)
		}
	}
}

func (b *Bus) dispatchPooled(ctx context.Context, e Event, handlers []registeredHandler) {
	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for _, h := range handlers {
		h := h
		g.Go(func() error {
			if err := h.fn(ctx, e); err != nil {
				b.sink.HandlerFailed(ctx, e, h.id, err)
			}
			return nil
		})
	}
	_ = g.Wait() // handler errors are routed to sink, never to the group
}

// sortedTypes is a small test/debug helper returning every event type
// with at least one non-wildcard subscriber, sorted.
func (b *Bus) sortedTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
