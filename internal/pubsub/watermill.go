package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// WatermillBridge implements Bus on top of watermill's GoChannel.
type WatermillBridge struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ Bus = (*WatermillBridge)(nil)

const (
	// Metadata keys used to transfer our Message fields through watermill's message.
	metaKeySessionID = "session_id"
	metaKeyTopic     = "topic"
)

// BridgeOption configures a WatermillBridge.
type BridgeOption func(*bridgeConfig)

type bridgeConfig struct {
	buffer int64
	logger *slog.Logger
	debug  bool
}

// WithBuffer sets the per-subscriber output buffer size.
func WithBuffer(n int64) BridgeOption {
	return func(c *bridgeConfig) {
		c.buffer = n
	}
}

// WithBridgeLogger sets the logger for handler failures.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(c *bridgeConfig) {
		c.logger = l
	}
}

// WithWatermillDebug lets watermill's own info and debug lines through to the
// bridge logger. Without it only its warnings and errors are logged.
func WithWatermillDebug(debug bool) BridgeOption {
	return func(c *bridgeConfig) {
		c.debug = debug
	}
}

// NewWatermillBridge initializes an in-memory bus.
func NewWatermillBridge(opts ...BridgeOption) *WatermillBridge {
	cfg := bridgeConfig{
		buffer: 64,
		logger: slog.Default().With("component", "pubsub"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	floor := slog.LevelWarn
	if cfg.debug {
		floor = slog.LevelDebug
	}
	wmLogger := watermill.NewSlogLogger(slog.New(levelFloor{Handler: cfg.logger.Handler(), min: floor}))
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: cfg.buffer},
		wmLogger,
	)

	return &WatermillBridge{
		pub:    goChannel,
		sub:    goChannel,
		logger: cfg.logger,
	}
}

// mapToWatermillMessage converts a Message to a watermill message.
func mapToWatermillMessage(msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}
	wmMsg.Metadata.Set(metaKeySessionID, msg.SessionID)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	return wmMsg
}

// mapToPubSubMessage converts a watermill message back to a Message.
func mapToPubSubMessage(wmMsg *message.Message) Message {
	metadata := make(map[string]string)
	for k, v := range wmMsg.Metadata {
		if k != metaKeySessionID && k != metaKeyTopic {
			metadata[k] = v
		}
	}
	return Message{
		Topic:     wmMsg.Metadata.Get(metaKeyTopic),
		SessionID: wmMsg.Metadata.Get(metaKeySessionID),
		Payload:   wmMsg.Payload,
		Metadata:  metadata,
	}
}

// Publish implements Publisher. The message topic is the watermill topic.
func (wb *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	return wb.pub.Publish(msg.Topic, mapToWatermillMessage(msg))
}

// Subscribe implements Subscriber. It returns once the subscription is active.
func (wb *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for wmMsg := range messages {
			msg := mapToPubSubMessage(wmMsg)
			if err := handler(ctx, msg); err != nil {
				wb.logger.Error("Failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
				// In-memory delivery does not retry; a nack would redeliver forever.
			}
			wmMsg.Ack()
		}
		wb.logger.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

// Close shuts the bus down. It is safe to call more than once.
func (wb *WatermillBridge) Close() error {
	wb.closeOnce.Do(func() {
		wb.closeErr = wb.sub.Close()
	})
	return wb.closeErr
}

// levelFloor drops records below min before they reach the wrapped handler.
type levelFloor struct {
	slog.Handler
	min slog.Level
}

func (h levelFloor) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.min && h.Handler.Enabled(ctx, l)
}

func (h levelFloor) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelFloor{Handler: h.Handler.WithAttrs(attrs), min: h.min}
}

func (h levelFloor) WithGroup(name string) slog.Handler {
	return levelFloor{Handler: h.Handler.WithGroup(name), min: h.min}
}
