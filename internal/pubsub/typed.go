package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/nfrund/chatsession/internal/topicmgr"
)

// Event[T] ties a topic name to its payload type.
type Event[T any] struct {
	topic *topicmgr.TypedTopic
}

// NewEvent defines a typed event and registers it with the default topic
// manager. The payload field names of T are recorded as topic metadata.
func NewEvent[T any](name, description string) Event[T] {
	return NewEventIn[T](topicmgr.Default(), name, description)
}

// NewEventIn is NewEvent against a specific manager.
func NewEventIn[T any](m *topicmgr.Manager, name, description string) Event[T] {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var fields []string
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			tag := t.Field(i).Tag.Get("json")
			if tag == "" || tag == "-" {
				continue
			}
			fields = append(fields, strings.Split(tag, ",")[0])
		}
	}

	topic := topicmgr.Define(topicmgr.TopicConfig{
		Name:        name,
		Description: description,
		Metadata: map[string]any{
			"payload_fields": fields,
			"type_name":      t.Name(),
		},
	})
	m.MustRegister(topic)
	return Event[T]{topic: topic}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topic.Name()
}

// Publish sends a typed event.
func Publish[T any](ctx context.Context, p Publisher, sessionID string, event Event[T], payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Name(), err)
	}
	return p.Publish(ctx, Message{
		Topic:     event.Name(),
		SessionID: sessionID,
		Payload:   data,
	})
}

// Subscribe decodes every message on the event's topic into T before calling fn.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], fn func(ctx context.Context, payload T) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.Name(), err)
		}
		return fn(ctx, payload)
	})
}
