// Package bus provides a generic publish/subscribe event system.
package bus

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// MessageEvent carries a turn event bound for connected clients.
	MessageEvent EventType = "message"
	// CreatedEvent carries newly produced payloads such as log entries.
	CreatedEvent EventType = "created"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
