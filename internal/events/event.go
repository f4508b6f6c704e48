// Package events implements the in-process EventBus and its
// transaction-aware decorator.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the domain event envelope.
// Payload is opaque to the bus; handlers type-assert it to the concrete
// shape their EventType declares.
type Event struct {
	ID            string
	Type          string
	OccurredAt    time.Time
	CorrelationID string
	CausationID   string
	Source        string
	Version       int
	Payload       any
}

// NewEvent builds an envelope with a random 128-bit event id and
// OccurredAt set to now.
func NewEvent(eventType string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now(),
		Version:    1,
		Payload:    payload,
	}
}
