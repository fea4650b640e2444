package devserver

import (
	"log/slog"
	"sync"

	"github.com/nfrund/chatsession/internal/domain"
	ws "github.com/nfrund/chatsession/internal/websocket"
)

// Room is the single chat room of the development backend. It keeps a bounded
// history and fans live messages out to every subscribed peer.
type Room struct {
	mu      sync.Mutex
	limit   int
	history []domain.ChatMessage
	peers   map[*peer]struct{}
	logger  *slog.Logger
}

// NewRoom creates a room holding at most limit messages of history.
func NewRoom(limit int, logger *slog.Logger) *Room {
	if limit < 1 {
		limit = 1
	}
	return &Room{
		limit:  limit,
		peers:  make(map[*peer]struct{}),
		logger: logger,
	}
}

func (r *Room) join(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p] = struct{}{}
	r.logger.Debug("Peer joined", "peer", p.id, "user", p.userID, "peers", len(r.peers))
}

func (r *Room) leave(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p]; ok {
		delete(r.peers, p)
		r.logger.Debug("Peer left", "peer", p.id, "peers", len(r.peers))
	}
}

// Post appends msg to the history and broadcasts it to live subscribers.
func (r *Room) Post(msg domain.ChatMessage) error {
	frame, err := ws.NewMessage(msg)
	if err != nil {
		return err
	}
	data := ws.MustEncode(frame)

	r.mu.Lock()
	r.history = append(r.history, msg)
	if len(r.history) > r.limit {
		r.history = r.history[len(r.history)-r.limit:]
	}
	targets := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		if p.live.Load() {
			targets = append(targets, p)
		}
	}
	r.mu.Unlock()

	for _, p := range targets {
		p.enqueue(data)
	}
	return nil
}

// Seed appends msgs to the history without broadcasting them.
func (r *Room) Seed(msgs ...domain.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, msgs...)
	if len(r.history) > r.limit {
		r.history = r.history[len(r.history)-r.limit:]
	}
}

// History returns a copy of the retained messages, oldest first.
func (r *Room) History() []domain.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChatMessage(nil), r.history...)
}

// Peers returns the number of connected sockets.
func (r *Room) Peers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// DropConnections closes every socket as if the server restarted.
func (r *Room) DropConnections() int {
	r.mu.Lock()
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.drop()
	}
	r.logger.Info("Dropped all connections", "count", len(peers))
	return len(peers)
}
