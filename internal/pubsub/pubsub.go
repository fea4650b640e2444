// Package pubsub is the in-process event bus a chat session publishes its
// state changes on. Consumers such as the CLI subscribe to it instead of
// polling the components.
package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g., "chat.store.changed").
	Topic string
	// SessionID identifies the chat session that emitted the message.
	SessionID string
	// Payload contains the JSON-encoded event.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context (e.g., timestamps).
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the bus.
type Subscriber interface {
	// Subscribe starts listening to the given topic, processing messages with
	// the handler in a background goroutine until ctx is cancelled or the bus
	// is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus is both ends of the event bus.
type Bus interface {
	Publisher
	Subscriber
}
