package chat_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatsession/internal/chat"
	"github.com/nfrund/chatsession/internal/config"
	"github.com/nfrund/chatsession/internal/connection"
	"github.com/nfrund/chatsession/internal/credential"
	"github.com/nfrund/chatsession/internal/devserver"
	"github.com/nfrund/chatsession/internal/domain"
	"github.com/nfrund/chatsession/internal/outbound"
	"github.com/nfrund/chatsession/internal/pubsub"
)

const waitFor = 3 * time.Second

type harness struct {
	server  *devserver.Server
	ts      *httptest.Server
	bus     *pubsub.WatermillBridge
	session *chat.Session
}

func newHarness(t *testing.T, seed ...domain.ChatMessage) *harness {
	t.Helper()
	srv := devserver.New(config.DevServer{
		SigningKey:   "chat-session-test-signing-key",
		TokenTTL:     time.Minute,
		HistoryLimit: 50,
		SendRate:     600,
	}, devserver.WithHeartbeatInterval(50*time.Millisecond))
	srv.Room().Seed(seed...)
	ts := httptest.NewServer(srv)

	creds := credential.NewCache(credential.HTTPFetcher(ts.Client(), ts.URL, "ann"))
	manager, err := connection.New(ts.URL,
		connection.WithCredentialSource(creds),
		connection.WithBackoff(connection.ConstantPolicy(20*time.Millisecond)),
		connection.WithHeartbeat(50*time.Millisecond, 10),
	)
	require.NoError(t, err)

	bus := pubsub.NewWatermillBridge()
	session, err := chat.New(chat.Deps{
		Manager:     manager,
		Credentials: creds,
		Outbound:    outbound.New(ts.URL, outbound.WithHTTPClient(ts.Client())),
		Bus:         bus,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()
		srv.Room().DropConnections()
		ts.Close()
	})
	return &harness{server: srv, ts: ts, bus: bus, session: session}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool {
		return h.session.State() == domain.StateConnected && h.session.BacklogDelivered()
	}, waitFor, 10*time.Millisecond)
}

func texts(msgs []domain.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestSession_BacklogThenLiveEcho(t *testing.T) {
	h := newHarness(t,
		domain.ChatMessage{ID: "h1", SenderDisplayName: "bob", Text: "first", SentAtDate: "2026-01-30", SentAtLocalTime: "09:00:00"},
		domain.ChatMessage{ID: "h2", SenderDisplayName: "bob", Text: "second", SentAtDate: "2026-01-30", SentAtLocalTime: "09:01:00"},
	)
	h.start(t)
	assert.Equal(t, []string{"first", "second"}, texts(h.session.Snapshot()))

	require.NoError(t, h.session.Send(context.Background(), "  hello  "))

	require.Eventually(t, func() bool { return len(h.session.Snapshot()) == 3 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"first", "second", "hello"}, texts(h.session.Snapshot()))
	assert.Equal(t, 1, h.session.BacklogRequests())
}

func TestSession_ReconnectKeepsHistoryWithoutRefetch(t *testing.T) {
	h := newHarness(t, domain.ChatMessage{ID: "h1", SenderDisplayName: "bob", Text: "first"})

	var mu sync.Mutex
	var states []string
	require.NoError(t, pubsub.Subscribe(context.Background(), h.bus, chat.ConnectionStateTopic, func(_ context.Context, e chat.StateEvent) error {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, e.State)
		return nil
	}))

	h.start(t)
	h.server.Room().DropConnections()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 4 && states[len(states)-1] == "connected"
	}, waitFor, 10*time.Millisecond)

	mu.Lock()
	assert.Contains(t, states, "reconnecting")
	mu.Unlock()
	assert.Equal(t, 1, h.session.BacklogRequests(), "store was not empty, no second backlog request")
	assert.Len(t, h.session.Snapshot(), 1)

	// Live subscription was re-established on the new transport.
	require.NoError(t, h.session.Send(context.Background(), "after reconnect"))
	require.Eventually(t, func() bool { return len(h.session.Snapshot()) == 2 }, waitFor, 10*time.Millisecond)
}

func TestSession_ReconnectWithEmptyStoreRequestsBacklogAgain(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	require.Equal(t, 1, h.session.BacklogRequests())

	h.server.Room().DropConnections()
	require.Eventually(t, func() bool { return h.session.BacklogRequests() == 2 }, waitFor, 10*time.Millisecond)
}

func TestSession_RapidSendsArePenalized(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	penalties := make(chan chat.PenaltyEvent, 1)
	require.NoError(t, pubsub.Subscribe(context.Background(), h.bus, chat.GatePenaltyTopic, func(_ context.Context, e chat.PenaltyEvent) error {
		penalties <- e
		return nil
	}))

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, h.session.Send(context.Background(), text))
	}

	err := h.session.Send(context.Background(), "d")
	var rej *domain.RateLimitRejection
	require.True(t, errors.As(err, &rej), "got %v", err)
	assert.InDelta(t, 15*time.Second, rej.Remaining, float64(time.Second))
	assert.False(t, h.session.CanSend("d"))
	assert.Positive(t, h.session.PenaltyRemaining())

	select {
	case e := <-penalties:
		assert.False(t, e.Until.IsZero())
	case <-time.After(waitFor):
		t.Fatal("penalty event not published")
	}
}

func TestSession_ConcurrentBurstIsCountedOnce(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	const callers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.session.Send(context.Background(), "burst")
			var rej *domain.RateLimitRejection
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.As(err, &rej):
				rejected++
			default:
				t.Errorf("unexpected send error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, accepted, "the third send starts the lockout")
	assert.Equal(t, callers-3, rejected)
	assert.Positive(t, h.session.PenaltyRemaining())
}

func TestSession_LocalRejections(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.session.Send(context.Background(), "hi"), domain.ErrNotConnected)

	h.start(t)
	assert.ErrorIs(t, h.session.Send(context.Background(), " \n "), domain.ErrEmptyMessage)

	require.NoError(t, h.session.Close())
	require.NoError(t, h.session.Close())
	assert.ErrorIs(t, h.session.Send(context.Background(), "hi"), domain.ErrClosed)
	assert.Equal(t, domain.StateDisconnected, h.session.State())
}

func TestSession_StoreEventsArePublished(t *testing.T) {
	h := newHarness(t, domain.ChatMessage{ID: "h1", SenderDisplayName: "bob", Text: "first"})

	events := make(chan chat.StoreEvent, 4)
	require.NoError(t, pubsub.Subscribe(context.Background(), h.bus, chat.StoreChangedTopic, func(_ context.Context, e chat.StoreEvent) error {
		events <- e
		return nil
	}))
	h.start(t)

	select {
	case e := <-events:
		assert.Equal(t, 1, e.Added)
		assert.Equal(t, 1, e.Len)
	case <-time.After(waitFor):
		t.Fatal("store event not published")
	}
}
