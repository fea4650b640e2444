package pubsub

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatsession/internal/topicmgr"
)

type pingEvent struct {
	Count int    `json:"count"`
	Note  string `json:"note,omitempty"`
}

func TestWatermillBridge_PublishSubscribe(t *testing.T) {
	bus := NewWatermillBridge()
	defer bus.Close()

	got := make(chan Message, 1)
	require.NoError(t, bus.Subscribe(context.Background(), "chat.test.raw", func(_ context.Context, msg Message) error {
		got <- msg
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), Message{
		Topic:     "chat.test.raw",
		SessionID: "s1",
		Payload:   []byte(`hello`),
		Metadata:  map[string]string{"k": "v"},
	}))

	select {
	case msg := <-got:
		assert.Equal(t, "chat.test.raw", msg.Topic)
		assert.Equal(t, "s1", msg.SessionID)
		assert.Equal(t, []byte("hello"), msg.Payload)
		assert.Equal(t, map[string]string{"k": "v"}, msg.Metadata)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestTypedEvent(t *testing.T) {
	m := topicmgr.NewManager()
	event := NewEventIn[pingEvent](m, "chat.test.ping", "test ping")

	topic, err := m.Get("chat.test.ping")
	require.NoError(t, err)
	assert.Equal(t, []string{"count", "note"}, topic.Metadata()["payload_fields"])

	bus := NewWatermillBridge()
	defer bus.Close()

	got := make(chan pingEvent, 1)
	require.NoError(t, Subscribe(context.Background(), bus, event, func(_ context.Context, p pingEvent) error {
		got <- p
		return nil
	}))
	require.NoError(t, Publish(context.Background(), bus, "s1", event, pingEvent{Count: 3}))

	select {
	case p := <-got:
		assert.Equal(t, 3, p.Count)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillBridge_CloseIsIdempotent(t *testing.T) {
	bus := NewWatermillBridge()
	require.NoError(t, bus.Close())
	assert.NoError(t, bus.Close())
}

func TestWatermillBridge_LogsThroughBridgeLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bus := NewWatermillBridge(WithBridgeLogger(logger))
	defer bus.Close()

	// Publishing to a topic nobody listens on is routine, not worth a line.
	require.NoError(t, bus.Publish(context.Background(), Message{Topic: "chat.test.nobody", Payload: []byte("{}")}))
	assert.Empty(t, buf.String())
}

func TestLevelFloor(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := levelFloor{Handler: inner, min: slog.LevelWarn}

	ctx := context.Background()
	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelError))

	logger := slog.New(h).With("component", "pubsub")
	logger.Info("dropped")
	logger.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept component=pubsub")
}
