package events

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	mu       sync.Mutex
	failures []string
}

func (s *collectingSink) HandlerFailed(ctx context.Context, e Event, handlerID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, handlerID)
}

func TestPublishDispatchesInRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []string
	bus.Subscribe("order.placed", "first", func(ctx context.Context, e Event) error {
		order = append(order, "first")
		return nil
	})
	bus.Subscribe("order.placed", "second", func(ctx context.Context, e Event) error {
		order = append(order, "second")
		return nil
	})

	bus.Publish(context.Background(), NewEvent("order.placed", nil))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPublishIgnoresEventsWithNoSubscribers(t *testing.T) {
	bus := NewBus(nil)
	assert.NotPanics(t, func() { bus.Publish(context.Background(), NewEvent("nobody.home", nil)) })
}

func TestHandlerFailureDoesNotBlockSiblings(t *testing.T) {
	sink := &collectingSink{}
	bus := NewBus(sink)
	var secondRan bool
	bus.Subscribe("e", "boom", func(ctx context.Context, e Event) error { return fmt.Errorf("fail") })
	bus.Subscribe("e", "ok", func(ctx context.Context, e Event) error { secondRan = true; return nil })

	bus.Publish(context.Background(), NewEvent("e", nil))
	assert.True(t, secondRan)
	assert.Equal(t, []string{"boom"}, sink.failures)
}

func TestWildcardHandlerRunsForEveryType(t *testing.T) {
	bus := NewBus(nil)
	var seen []string
	bus.SubscribeAll("audit", func(ctx context.Context, e Event) error {
		seen = append(seen, e.Type)
		return nil
	})

	bus.Publish(context.Background(), NewEvent("a", nil))
	bus.Publish(context.Background(), NewEvent("b", nil))
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestPooledBusDispatchesAllHandlersAndCollectsFailures(t *testing.T) {
	sink := &collectingSink{}
	bus := NewPooledBus(sink, 4)

	var mu sync.Mutex
	var ran int
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("h%d", i)
		bus.Subscribe("burst", id, func(ctx context.Context, e Event) error {
			mu.Lock()
			ran++
			mu.Unlock()
			if id == "h0" {
				return fmt.Errorf("boom")
			}
			return nil
		})
	}

	bus.Publish(context.Background(), NewEvent("burst", nil))
	assert.Equal(t, 10, ran)
	assert.Equal(t, []string{"h0"}, sink.failures)
}

func TestSortedTypesListsSubscribedTypes(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe("b", "h1", func(ctx context.Context, e Event) error { return nil })
	bus.Subscribe("a", "h2", func(ctx context.Context, e Event) error { return nil })
	assert.Equal(t, []string{"a", "b"}, bus.sortedTypes())
}

func TestNewEventAssignsRandomIDAndDefaultVersion(t *testing.T) {
	a := NewEvent("x", 1)
	b := NewEvent("x", 1)
	require.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 1, a.Version)
	assert.False(t, a.OccurredAt.IsZero())
}
