// Package chat assembles the connection, subscription, store, send gate and
// backfill components into the session one mounted chat view owns.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/chatsession/internal/backfill"
	"github.com/nfrund/chatsession/internal/connection"
	"github.com/nfrund/chatsession/internal/credential"
	"github.com/nfrund/chatsession/internal/domain"
	"github.com/nfrund/chatsession/internal/pubsub"
	"github.com/nfrund/chatsession/internal/router"
	"github.com/nfrund/chatsession/internal/sendgate"
	"github.com/nfrund/chatsession/internal/store"
)

// MessageSender posts outbound text.
type MessageSender interface {
	Send(ctx context.Context, cred domain.Credential, text string) error
}

// Deps are the collaborators of a Session.
type Deps struct {
	Manager     *connection.Manager
	Credentials credential.Source
	Outbound    MessageSender
	Gate        *sendgate.Gate
	Store       *store.Store
	// Bus receives session events. The session owns it and closes it on Close.
	Bus    pubsub.Publisher
	Logger *slog.Logger
}

// Session is safe for concurrent use.
type Session struct {
	id       string
	manager  *connection.Manager
	creds    credential.Source
	outbound MessageSender
	gate     *sendgate.Gate
	store    *store.Store
	router   *router.Router
	backfill *backfill.Coordinator
	bus      pubsub.Publisher
	logger   *slog.Logger

	mu      sync.Mutex
	closed  bool
	lastErr error

	// sendMu spans the gate check, the POST and the recorded send, so a burst
	// of concurrent callers is counted one at a time.
	sendMu sync.Mutex
}

// New wires a session. Nothing connects until Start.
func New(d Deps) (*Session, error) {
	if d.Manager == nil || d.Credentials == nil || d.Outbound == nil {
		return nil, errors.New("chat: manager, credentials and outbound are required")
	}
	if d.Store == nil {
		d.Store = store.New()
	}
	if d.Gate == nil {
		d.Gate = sendgate.New()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	s := &Session{
		id:       uuid.NewString(),
		manager:  d.Manager,
		creds:    d.Credentials,
		outbound: d.Outbound,
		gate:     d.Gate,
		store:    d.Store,
		bus:      d.Bus,
	}
	s.logger = d.Logger.With("component", "chat", "session_id", s.id)
	s.router = router.New(d.Manager, d.Store, router.WithLogger(d.Logger.With("component", "router")))
	s.backfill = backfill.New(s.router, d.Store, backfill.WithLogger(d.Logger.With("component", "backfill")))

	// The live subscription must be in place before the backlog is requested,
	// and the store is sampled before either.
	s.manager.OnReady(s.backfill.Prepare)
	s.manager.OnReady(s.router.OnReady)
	s.manager.OnReady(s.backfill.OnReady)
	s.manager.OnStateChange(s.publishState)
	s.manager.OnError(s.recordError)

	s.router.OnLive(func(msg domain.ChatMessage, added bool) {
		if added {
			s.gate.RecordForeignMessage(msg.Author())
		}
	})
	s.router.OnBacklog(func(_ []domain.ChatMessage, added int) {
		s.backfill.MarkDelivered()
		if last, ok := s.store.Last(); ok && added > 0 {
			s.gate.RecordForeignMessage(last.Author())
		}
	})
	s.store.OnChange(s.publishStoreChange)
	s.gate.OnPenalty(s.publishPenalty)

	return s, nil
}

// ID identifies the session on the event bus.
func (s *Session) ID() string { return s.id }

// Start fetches a credential and connects. The connection runs in the
// background; watch State or the event bus for progress.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return domain.ErrClosed
	}

	cred, err := s.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	// Echoes without a sender id are attributed by display name.
	s.gate.SetLocalUser(cred.Subject, cred.Name)
	return s.manager.Connect(s.router.HandleFrame, cred)
}

// Send submits text through the send gate. On success the message appears in
// the store only once the backend echoes it. Errors leave the caller's input
// untouched: *domain.RateLimitRejection, domain.ErrNotConnected,
// domain.ErrEmptyMessage, *domain.AuthError or *domain.SendError.
func (s *Session) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return domain.ErrClosed
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.gate.Evaluate(s.manager.State(), text); err != nil {
		return err
	}
	cred, err := s.creds.Token(ctx)
	if err != nil {
		return err
	}

	err = s.outbound.Send(ctx, cred, sendgate.Normalize(text))
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		s.creds.Invalidate()
		return err
	}
	if err != nil {
		return err
	}
	s.gate.RecordSend()
	return nil
}

// CanSend reports whether Send would pass the local checks for text.
func (s *Session) CanSend(text string) bool {
	return s.gate.CanSend(s.manager.State(), text)
}

// State returns the connection state.
func (s *Session) State() domain.ConnectionState { return s.manager.State() }

// Snapshot returns the messages in order.
func (s *Session) Snapshot() []domain.ChatMessage { return s.store.Snapshot() }

// Timeline returns the messages with day boundaries.
func (s *Session) Timeline() []store.Entry { return s.store.Timeline() }

// PenaltyRemaining returns how long sending stays locked.
func (s *Session) PenaltyRemaining() time.Duration { return s.gate.PenaltyRemaining() }

// BacklogDelivered reports whether the history batch has arrived.
func (s *Session) BacklogDelivered() bool { return s.backfill.Delivered() }

// BacklogRequests returns how many times the history was requested.
func (s *Session) BacklogRequests() int { return s.backfill.Requests() }

// Err returns the error that stopped the connection manager, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Close tears the session down: dispatch stops first so the store is not
// touched afterwards, then the connection closes, timers stop and the bus is
// closed. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.router.Detach()
	s.manager.Disconnect()
	s.gate.Stop()
	s.logger.Info("Session closed")
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Session) publishState(prev, next domain.ConnectionState) {
	s.logger.Info("Connection state", "from", prev.String(), "state", next.String())
	s.publish(func(ctx context.Context) error {
		return pubsub.Publish(ctx, s.bus, s.id, ConnectionStateTopic, StateEvent{
			From:  prev.String(),
			State: next.String(),
			At:    time.Now().UnixMilli(),
		})
	})
}

func (s *Session) publishStoreChange(c store.Change) {
	s.publish(func(ctx context.Context) error {
		return pubsub.Publish(ctx, s.bus, s.id, StoreChangedTopic, StoreEvent{Kind: c.Kind, Added: c.Added, Len: c.Len})
	})
}

func (s *Session) publishPenalty(until time.Time) {
	s.publish(func(ctx context.Context) error {
		return pubsub.Publish(ctx, s.bus, s.id, GatePenaltyTopic, PenaltyEvent{
			Until:    until,
			Duration: time.Until(until).Round(time.Second).String(),
		})
	})
}

func (s *Session) publish(fn func(ctx context.Context) error) {
	if s.bus == nil {
		return
	}
	if err := fn(context.Background()); err != nil {
		s.logger.Debug("Failed to publish session event", "error", err)
	}
}
