package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/nfrund/chatsession/internal/credential"
	"github.com/nfrund/chatsession/internal/domain"
	"github.com/nfrund/chatsession/internal/middleware"
	ws "github.com/nfrund/chatsession/internal/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// maxDecodeErrorsPerConn closes a socket after this many consecutive bad frames.
	maxDecodeErrorsPerConn = 3
	// Frames a client may send per second, with a small burst.
	maxFramesPerSecond = 20
	sendBuffer         = 256
)

// peer is one accepted socket.
type peer struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	live   atomic.Bool
	cancel context.CancelFunc
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// enqueue queues data for the peer, dropping the connection when it cannot
// keep up.
func (p *peer) enqueue(data []byte) {
	select {
	case <-p.closed:
	case p.send <- data:
	default:
		p.logger.Warn("Peer send buffer full, dropping connection", "peer", p.id)
		p.drop()
	}
}

// closeWithError flushes queued frames, writes f and then closes with a policy
// violation, so the client learns why it was disconnected.
func (p *peer) closeWithError(ctx context.Context, f ws.Frame, reason string) {
	wctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
drain:
	for {
		select {
		case data := <-p.send:
			if err := p.conn.Write(wctx, websocket.MessageText, data); err != nil {
				return
			}
		default:
			break drain
		}
	}
	if err := p.conn.Write(wctx, websocket.MessageText, ws.MustEncode(f)); err != nil {
		p.logger.Debug("WebSocket write error", "error", err)
		return
	}
	_ = p.conn.Close(websocket.StatusPolicyViolation, reason)
}

func (p *peer) drop() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.cancel()
	})
}

// handleSocket upgrades GET /ws after verifying the bearer token.
func (s *Server) handleSocket(c echo.Context) error {
	token := middleware.BearerToken(c.Request())
	claims, err := credential.Verify(s.signingKey, token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// The dev backend is reached from CLIs and tests, not browsers.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		id:     uuid.NewString(),
		userID: claims.Subject,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		cancel: cancel,
		closed: make(chan struct{}),
	}
	p.logger = s.logger.With("peer", p.id, "user", p.userID)

	s.room.join(p)
	defer s.room.leave(p)
	defer p.drop()

	go s.writePump(ctx, p)
	s.readPump(ctx, p)
	return nil
}

// readPump handles client frames until the socket closes.
func (s *Server) readPump(ctx context.Context, p *peer) {
	defer p.conn.CloseNow()

	limiter := rate.NewLimiter(rate.Limit(maxFramesPerSecond), maxFramesPerSecond)
	decodeErrors := 0

	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				p.logger.Debug("WebSocket closed", "status", status)
			} else {
				p.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}

		if !limiter.Allow() {
			p.closeWithError(ctx, ws.NewError(ws.CodeRateLimited, "rate limit exceeded", true, ""), "rate limit exceeded")
			return
		}

		frame, err := ws.Decode(data)
		if err != nil {
			decodeErrors++
			bad := ws.NewError(ws.CodeBadFrame, "invalid frame payload", false, "")
			if decodeErrors >= maxDecodeErrorsPerConn {
				p.closeWithError(ctx, bad, "too many invalid frames")
				return
			}
			p.enqueue(ws.MustEncode(bad))
			continue
		}
		decodeErrors = 0

		switch frame.Type {
		case ws.TypeHeartbeat:
		case ws.TypeSubscribe:
			s.handleSubscribe(p, frame)
		default:
			p.enqueue(ws.MustEncode(ws.NewError(ws.CodeBadFrame, "unsupported frame type", false, frame.RequestID)))
		}
	}
}

func (s *Server) handleSubscribe(p *peer, frame ws.Frame) {
	switch frame.Channel {
	case ws.ChannelLive:
		p.live.Store(true)
		p.enqueue(ws.MustEncode(ws.NewSubscribed(ws.ChannelLive, frame.RequestID)))
	case ws.ChannelBacklog:
		batch, err := ws.NewBatch(s.room.History(), frame.RequestID)
		if err != nil {
			p.logger.Error("Failed to encode backlog", "error", err)
			return
		}
		p.enqueue(ws.MustEncode(batch))
	default:
		p.enqueue(ws.MustEncode(ws.NewError(ws.CodeUnknownChannel, "unknown channel "+frame.Channel, false, frame.RequestID)))
	}
}

// writePump sends queued frames and heartbeats.
func (s *Server) writePump(ctx context.Context, p *peer) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	heartbeat := ws.MustEncode(ws.NewHeartbeat())

	write := func(data []byte) bool {
		wctx, cancel := context.WithTimeout(ctx, writeWait)
		defer cancel()
		if err := p.conn.Write(wctx, websocket.MessageText, data); err != nil {
			p.logger.Debug("WebSocket write error", "error", err)
			p.drop()
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-p.send:
			if !write(data) {
				return
			}
		case <-ticker.C:
			if !write(heartbeat) {
				return
			}
		}
	}
}

// newMessage stamps text from the given user as a room message.
func newMessage(claims *credential.Claims, text string, now time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		ID:                uuid.NewString(),
		SenderID:          claims.Subject,
		SenderDisplayName: claims.Name,
		Text:              text,
		SentAtDate:        now.Format(domain.DateLayout),
		SentAtLocalTime:   now.Format("15:04:05"),
	}
}
