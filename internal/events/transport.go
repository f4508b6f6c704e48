package events

import (
	"fmt"
	"sync"

	kerrors "katalyst/internal/errors"
)

// Destination is where a Router sends an event: a named queue, topic, or
// stream.
type Destination struct {
	Name string
	Kind string // "queue" | "topic" | "stream"
}

const (
	DestinationQueue  = "queue"
	DestinationTopic  = "topic"
	DestinationStream = "stream"
)

// Serializer turns an event into wire bytes plus a content type and
// transport headers, the consumer-supplied half of the external bridge
// contract. No concrete broker bridge ships with the core
// (AMQP is explicitly out of scope); only this contract and an
// in-memory reference implementation do.
type Serializer interface {
	Serialize(e Event) (contentType string, body []byte, headers map[string]string, err error)
}

// Deserializer is the Serializer's inverse.
type Deserializer interface {
	Deserialize(contentType string, body []byte, headers map[string]string) (Event, error)
}

// Router decides the transport destination for an event.
type Router interface {
	Route(e Event) Destination
}

// TypeResolver maps a wire type string back to the concrete Go event
// type the consumer expects, so a Deserializer can reconstruct Payload.
type TypeResolver interface {
	Resolve(typeName string) (any, bool)
}

// Publisher is what the BEFORE_COMMIT bridge hook (if a transport
// bridge is wired) flushes events to.
type Publisher interface {
	Publish(e Event, dest Destination, contentType string, body []byte, headers map[string]string) error
}

// InMemoryTransport is a reference Serializer/Deserializer/Router/
// Publisher used by tests and local development; it never touches the
// network. Serialize/Deserialize round-trip the Event value itself
// rather than a real wire format, since the contract's only testable
// property is "round-trip yields an equal payload".
type InMemoryTransport struct {
	mu        sync.Mutex
	Published []PublishedMessage
	router    func(Event) Destination
}

// PublishedMessage records one Publisher.Publish call for assertions.
type PublishedMessage struct {
	Event       Event
	Destination Destination
	ContentType string
	Body        []byte
	Headers     map[string]string
}

// NewInMemoryTransport builds a transport whose Router sends every
// event to a single default queue unless router is supplied.
func NewInMemoryTransport(router func(Event) Destination) *InMemoryTransport {
	if router == nil {
		router = func(Event) Destination { return Destination{Name: "default", Kind: DestinationQueue} }
	}
	return &InMemoryTransport{router: router}
}

const inMemoryContentType = "application/vnd.katalyst.event+gob-ref"

func (t *InMemoryTransport) Serialize(e Event) (string, []byte, map[string]string, error) {
	if e.Type == "" {
		return "", nil, nil, kerrors.NewTransportError("SERIALIZATION_FAILED", "event has empty type", nil)
	}
	headers := map[string]string{"event-id": e.ID, "event-type": e.Type}
	return inMemoryContentType, []byte(e.ID), headers, nil
}

func (t *InMemoryTransport) Deserialize(contentType string, body []byte, headers map[string]string) (Event, error) {
	if contentType != inMemoryContentType {
		return Event{}, kerrors.NewTransportError("UNKNOWN_TYPE", fmt.Sprintf("unrecognized content type %q", contentType), nil)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.Published {
		if m.Event.ID == string(body) {
			return m.Event, nil
		}
	}
	return Event{}, kerrors.NewTransportError("UNKNOWN_TYPE", fmt.Sprintf("no event recorded with id %q", string(body)), nil)
}

func (t *InMemoryTransport) Route(e Event) Destination {
	return t.router(e)
}

func (t *InMemoryTransport) Publish(e Event, dest Destination, contentType string, body []byte, headers map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Published = append(t.Published, PublishedMessage{Event: e, Destination: dest, ContentType: contentType, Body: body, Headers: headers})
	return nil
}
