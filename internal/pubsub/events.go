// Package pubsub provides a generic publish/subscribe event system.
// It carries log entries and MCP log notifications between producers that
// must never block (process readers) and slower consumers (stdout writers).
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// MessageEvent carries a log message or log notification.
	MessageEvent EventType = "message"
	// ToolCallEvent carries the record of a completed tool call.
	ToolCallEvent EventType = "tool_call"
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
