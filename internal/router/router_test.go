package router

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatsession/internal/domain"
	"github.com/nfrund/chatsession/internal/store"
	ws "github.com/nfrund/chatsession/internal/websocket"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []ws.Frame
	err    error
}

func (s *fakeSender) SendRaw(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	f, err := ws.Decode(payload)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSender) last() ws.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

func newTestRouter() (*Router, *fakeSender, *store.Store) {
	sender := &fakeSender{}
	st := store.New()
	r := New(sender, st)
	n := 0
	r.subscribeID = func() string {
		n++
		return fmt.Sprintf("req-%d", n)
	}
	return r, sender, st
}

func liveFrame(t *testing.T, m domain.ChatMessage) []byte {
	t.Helper()
	f, err := ws.NewMessage(m)
	require.NoError(t, err)
	return ws.MustEncode(f)
}

func batchFrame(t *testing.T, requestID string, msgs ...domain.ChatMessage) []byte {
	t.Helper()
	f, err := ws.NewBatch(msgs, requestID)
	require.NoError(t, err)
	return ws.MustEncode(f)
}

func TestOnReady_SubscribesLive(t *testing.T) {
	r, sender, _ := newTestRouter()
	require.NoError(t, r.OnReady(context.Background(), 1))

	assert.Equal(t, ws.NewSubscribe(ws.ChannelLive, "req-1"), sender.last())
	assert.Equal(t, 1, r.Pending())
}

func TestOnReady_SendFailureIsReturned(t *testing.T) {
	r, sender, _ := newTestRouter()
	sender.err = domain.ErrNotConnected
	err := r.OnReady(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Zero(t, r.Pending())
}

func TestHandleFrame_RoutesLiveAndBacklog(t *testing.T) {
	r, sender, st := newTestRouter()
	ctx := context.Background()
	require.NoError(t, r.RequestBacklog(ctx))
	assert.Equal(t, ws.ChannelBacklog, sender.last().Channel)

	var liveSeen []string
	r.OnLive(func(m domain.ChatMessage, added bool) {
		if added {
			liveSeen = append(liveSeen, m.ID)
		}
	})
	var backlogAdded int
	r.OnBacklog(func(_ []domain.ChatMessage, added int) { backlogAdded += added })

	require.NoError(t, r.HandleFrame(ctx, liveFrame(t, domain.ChatMessage{ID: "l1", SenderDisplayName: "ann", Text: "now"})))
	require.NoError(t, r.HandleFrame(ctx, batchFrame(t, "req-1",
		domain.ChatMessage{ID: "b1", SenderDisplayName: "bob", Text: "before"},
		domain.ChatMessage{ID: "l1", SenderDisplayName: "ann", Text: "now"},
	)))

	assert.Equal(t, []string{"l1"}, liveSeen)
	assert.Equal(t, 1, backlogAdded)
	assert.Equal(t, 2, st.Len())
	assert.Zero(t, r.Pending())
}

func TestHandleFrame_InvalidBacklogEntriesAreDropped(t *testing.T) {
	r, _, st := newTestRouter()
	require.NoError(t, r.HandleFrame(context.Background(), batchFrame(t, "",
		domain.ChatMessage{ID: "ok", SenderDisplayName: "bob"},
		domain.ChatMessage{ID: "no-sender"},
	)))
	assert.Equal(t, 1, st.Len())
}

func TestHandleFrame_ProtocolErrorBudget(t *testing.T) {
	r, _, st := newTestRouter()
	ctx := context.Background()

	assert.NoError(t, r.HandleFrame(ctx, []byte("garbage")))
	assert.NoError(t, r.HandleFrame(ctx, []byte(`{"type":"mystery"}`)))
	require.NoError(t, r.HandleFrame(ctx, liveFrame(t, domain.ChatMessage{ID: "1", SenderDisplayName: "ann"})), "good frame resets the budget")
	assert.NoError(t, r.HandleFrame(ctx, []byte(`{"type":"message","channel":"backlog","payload":{}}`)))
	assert.NoError(t, r.HandleFrame(ctx, []byte(`{"type":"message","channel":"live","payload":{"text":"no sender"}}`)))
	assert.Error(t, r.HandleFrame(ctx, []byte(`{"type":"batch","channel":"backlog","payload":"x"}`)))

	assert.Equal(t, 1, st.Len())
}

func TestHandleFrame_SubscribeRejectionFailsConnection(t *testing.T) {
	r, _, _ := newTestRouter()
	ctx := context.Background()
	require.NoError(t, r.OnReady(ctx, 1))

	err := r.HandleFrame(ctx, ws.MustEncode(ws.NewError(ws.CodeUnknownChannel, "nope", false, "req-1")))
	assert.ErrorContains(t, err, "subscribe live rejected")

	assert.NoError(t, r.HandleFrame(ctx, ws.MustEncode(ws.NewError(ws.CodeRateLimited, "slow down", true, ""))),
		"uncorrelated errors are only logged")
}

func TestHandleFrame_AckResolvesLiveSubscription(t *testing.T) {
	r, _, _ := newTestRouter()
	ctx := context.Background()
	require.NoError(t, r.OnReady(ctx, 1))
	require.NoError(t, r.HandleFrame(ctx, ws.MustEncode(ws.NewSubscribed(ws.ChannelLive, "req-1"))))
	assert.Zero(t, r.Pending())
}

func TestDetach_StopsDispatch(t *testing.T) {
	r, sender, st := newTestRouter()
	r.Detach()

	require.NoError(t, r.HandleFrame(context.Background(), liveFrame(t, domain.ChatMessage{ID: "1", SenderDisplayName: "ann"})))
	assert.Zero(t, st.Len())
	assert.NoError(t, r.OnReady(context.Background(), 2))
	assert.ErrorIs(t, r.RequestBacklog(context.Background()), domain.ErrClosed)
	assert.Empty(t, sender.frames)
}
