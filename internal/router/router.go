// Package router manages the live and backlog subscriptions on top of the
// connection manager and dispatches inbound frames to the message store.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nfrund/chatsession/internal/domain"
	ws "github.com/nfrund/chatsession/internal/websocket"
)

// DefaultMaxProtocolErrors is how many consecutive bad frames fail the connection.
const DefaultMaxProtocolErrors = 3

// Sender writes raw frames on the current transport.
type Sender interface {
	SendRaw(ctx context.Context, payload []byte) error
}

// LiveConsumer receives messages from the live subscription.
type LiveConsumer interface {
	AppendLive(msg domain.ChatMessage) bool
}

// BacklogConsumer receives backlog batches.
type BacklogConsumer interface {
	MergeBacklog(msgs []domain.ChatMessage) int
}

// Consumer receives both kinds of deliveries.
type Consumer interface {
	LiveConsumer
	BacklogConsumer
}

// Delivery hooks run after the consumer has ingested a frame.
type (
	LiveFunc    func(msg domain.ChatMessage, added bool)
	BacklogFunc func(msgs []domain.ChatMessage, added int)
)

// Router is safe for concurrent use. HandleFrame is expected to be called
// sequentially by the connection's reader.
type Router struct {
	sender    Sender
	consumer  Consumer
	maxErrors int
	logger    *slog.Logger

	mu          sync.Mutex
	detached    bool
	pending     map[string]string // request id -> channel
	badFrames   int
	onLive      []LiveFunc
	onBacklog   []BacklogFunc
	subscribeID func() string
}

// Option configures a Router.
type Option func(*Router)

// WithMaxProtocolErrors sets the consecutive bad-frame budget.
func WithMaxProtocolErrors(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxErrors = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// New creates a router writing through sender and delivering to consumer.
func New(sender Sender, consumer Consumer, opts ...Option) *Router {
	r := &Router{
		sender:      sender,
		consumer:    consumer,
		maxErrors:   DefaultMaxProtocolErrors,
		logger:      slog.Default().With("component", "router"),
		pending:     make(map[string]string),
		subscribeID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnLive registers a hook run after every live delivery.
func (r *Router) OnLive(fn LiveFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLive = append(r.onLive, fn)
}

// OnBacklog registers a hook run after every backlog delivery.
func (r *Router) OnBacklog(fn BacklogFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onBacklog = append(r.onBacklog, fn)
}

// OnReady subscribes to the live channel. It is meant to be registered as the
// connection manager's ready hook; an error fails that connection.
func (r *Router) OnReady(ctx context.Context, generation uint64) error {
	r.mu.Lock()
	if r.detached {
		r.mu.Unlock()
		return nil
	}
	// Subscriptions do not survive a transport.
	clear(r.pending)
	r.badFrames = 0
	r.mu.Unlock()

	r.logger.Debug("Subscribing", "channel", ws.ChannelLive, "generation", generation)
	return r.subscribe(ctx, ws.ChannelLive)
}

// RequestBacklog subscribes to the backlog channel. The backend replies with
// one batch.
func (r *Router) RequestBacklog(ctx context.Context) error {
	return r.subscribe(ctx, ws.ChannelBacklog)
}

func (r *Router) subscribe(ctx context.Context, channel string) error {
	id := r.subscribeID()
	r.mu.Lock()
	if r.detached {
		r.mu.Unlock()
		return domain.ErrClosed
	}
	r.pending[id] = channel
	r.mu.Unlock()

	if err := r.sender.SendRaw(ctx, ws.MustEncode(ws.NewSubscribe(channel, id))); err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return nil
}

// Detach stops all further dispatch.
func (r *Router) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = true
	clear(r.pending)
}

// HandleFrame decodes and dispatches one inbound frame. Bad frames are logged
// and dropped until the consecutive error budget runs out. An error frame for a
// pending subscription is returned as an error so the connection is recycled.
// It matches connection.FrameHandler.
func (r *Router) HandleFrame(ctx context.Context, data []byte) error {
	r.mu.Lock()
	detached := r.detached
	r.mu.Unlock()
	if detached {
		return nil
	}

	err := r.dispatch(data)
	var perr *domain.ProtocolError
	if errors.As(err, &perr) {
		return r.protocolError(perr)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.badFrames = 0
	r.mu.Unlock()
	return nil
}

func (r *Router) dispatch(data []byte) error {
	f, err := ws.Decode(data)
	if err != nil {
		return err
	}

	switch f.Type {
	case ws.TypeMessage:
		if f.Channel != ws.ChannelLive {
			return &domain.ProtocolError{FrameType: f.Type, Reason: "unexpected channel " + f.Channel}
		}
		msg, err := f.Message()
		if err != nil {
			return err
		}
		if err := msg.Validate(); err != nil {
			return &domain.ProtocolError{FrameType: f.Type, Reason: "invalid message", Err: err}
		}
		r.deliverLive(msg)

	case ws.TypeBatch:
		if f.Channel != ws.ChannelBacklog {
			return &domain.ProtocolError{FrameType: f.Type, Reason: "unexpected channel " + f.Channel}
		}
		msgs, err := f.Batch()
		if err != nil {
			return err
		}
		valid := make([]domain.ChatMessage, 0, len(msgs))
		for _, m := range msgs {
			if err := m.Validate(); err != nil {
				r.logger.Warn("Dropping invalid backlog entry", "error", err)
				continue
			}
			valid = append(valid, m)
		}
		r.resolve(f.RequestID)
		r.deliverBacklog(valid)

	case ws.TypeSubscribed:
		r.logger.Debug("Subscription acknowledged", "channel", f.Channel, "request_id", f.RequestID)
		if f.Channel == ws.ChannelLive {
			r.resolve(f.RequestID)
		}

	case ws.TypeError:
		info, err := f.ErrorInfo()
		if err != nil {
			return err
		}
		channel, pending := r.resolve(f.RequestID)
		if pending {
			return fmt.Errorf("subscribe %s rejected: %s: %s", channel, info.Code, info.Message)
		}
		r.logger.Warn("Backend reported error", "code", info.Code, "message", info.Message, "retryable", info.Retryable)

	case ws.TypeHeartbeat:

	default:
		return &domain.ProtocolError{FrameType: f.Type, Reason: "unknown frame type"}
	}
	return nil
}

func (r *Router) resolve(requestID string) (channel string, ok bool) {
	if requestID == "" {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	channel, ok = r.pending[requestID]
	delete(r.pending, requestID)
	return channel, ok
}

func (r *Router) deliverLive(msg domain.ChatMessage) {
	added := r.consumer.AppendLive(msg)
	r.mu.Lock()
	hooks := append([]LiveFunc(nil), r.onLive...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(msg, added)
	}
}

func (r *Router) deliverBacklog(msgs []domain.ChatMessage) {
	added := r.consumer.MergeBacklog(msgs)
	r.mu.Lock()
	hooks := append([]BacklogFunc(nil), r.onBacklog...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(msgs, added)
	}
}

func (r *Router) protocolError(perr *domain.ProtocolError) error {
	r.mu.Lock()
	r.badFrames++
	n := r.badFrames
	r.mu.Unlock()

	r.logger.Warn("Dropping bad frame", "error", perr, "consecutive", n)
	if n >= r.maxErrors {
		return fmt.Errorf("%d consecutive bad frames: %w", n, perr)
	}
	return nil
}

// Pending returns the number of subscriptions awaiting a reply.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
