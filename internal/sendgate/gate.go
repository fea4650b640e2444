// Package sendgate implements the client-side send policy: a streak of rapid
// sends earns a temporary lockout, and idle time or other people talking resets
// the streak.
package sendgate

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/nfrund/chatsession/internal/clock"
	"github.com/nfrund/chatsession/internal/domain"
)

const (
	// DefaultThreshold is the number of consecutive sends that triggers a penalty.
	DefaultThreshold = 3
	// DefaultPenalty is how long sending stays locked once the threshold is hit.
	DefaultPenalty = 15 * time.Second
	// DefaultIdleReset is the silence after which an unfinished streak is forgotten.
	DefaultIdleReset = 30 * time.Second
)

// PenaltyFunc is called when a lockout starts.
type PenaltyFunc func(until time.Time)

// Gate is safe for concurrent use.
type Gate struct {
	mu sync.Mutex

	clock     clock.Clock
	threshold int
	penalty   time.Duration
	idleReset time.Duration
	local     map[string]struct{}
	logger    *slog.Logger

	streak       int
	sends        []time.Time
	penaltyUntil time.Time
	idleTimer    clock.Timer
	idleGen      uint64
	onPenalty    []PenaltyFunc
	stopped      bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) {
		g.clock = c
	}
}

// WithThreshold sets the streak length that triggers a penalty.
func WithThreshold(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.threshold = n
		}
	}
}

// WithPenalty sets the lockout duration.
func WithPenalty(d time.Duration) Option {
	return func(g *Gate) {
		g.penalty = d
	}
}

// WithIdleReset sets the silence after which the streak resets.
func WithIdleReset(d time.Duration) Option {
	return func(g *Gate) {
		g.idleReset = d
	}
}

// WithLocalUser sets the identities that count as the local user. Messages
// from anyone else reset the streak.
func WithLocalUser(ids ...string) Option {
	return func(g *Gate) {
		for _, id := range ids {
			if id != "" {
				g.local[id] = struct{}{}
			}
		}
	}
}

// WithLogger sets the logger used by the gate.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = l
	}
}

// New creates a gate in the idle state.
func New(opts ...Option) *Gate {
	g := &Gate{
		clock:     clock.Real(),
		threshold: DefaultThreshold,
		penalty:   DefaultPenalty,
		idleReset: DefaultIdleReset,
		local:     make(map[string]struct{}),
		logger:    slog.Default().With("component", "sendgate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Normalize returns text in NFC form with surrounding whitespace removed.
func Normalize(text string) string {
	return strings.TrimSpace(norm.NFC.String(text))
}

// OnPenalty registers fn to be called whenever a lockout starts.
func (g *Gate) OnPenalty(fn PenaltyFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onPenalty = append(g.onPenalty, fn)
}

// SetLocalUser adds identities that count as the local user.
func (g *Gate) SetLocalUser(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	WithLocalUser(ids...)(g)
}

// Evaluate decides whether text may be sent right now. It returns
// domain.ErrNotConnected, domain.ErrEmptyMessage or a *domain.RateLimitRejection.
func (g *Gate) Evaluate(state domain.ConnectionState, text string) error {
	if state != domain.StateConnected {
		return domain.ErrNotConnected
	}
	if Normalize(text) == "" {
		return domain.ErrEmptyMessage
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if now.Before(g.penaltyUntil) {
		return &domain.RateLimitRejection{Until: g.penaltyUntil, Remaining: g.penaltyUntil.Sub(now)}
	}
	return nil
}

// CanSend reports whether Evaluate would accept text.
func (g *Gate) CanSend(state domain.ConnectionState, text string) bool {
	return g.Evaluate(state, text) == nil
}

// RecordSend registers a send the backend accepted.
func (g *Gate) RecordSend() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	now := g.clock.Now()
	g.streak++
	g.sends = append(g.sends, now)
	if len(g.sends) > g.threshold {
		g.sends = g.sends[len(g.sends)-g.threshold:]
	}

	if g.streak < g.threshold {
		g.armIdleTimer()
		g.mu.Unlock()
		return
	}

	until := now.Add(g.penalty)
	g.penaltyUntil = until
	g.resetStreak()
	listeners := g.onPenalty
	g.mu.Unlock()

	g.logger.Info("Send penalty started", "until", until, "duration", g.penalty)
	for _, fn := range listeners {
		fn(until)
	}
}

// RecordForeignMessage resets the streak when sender is not the local user.
func (g *Gate) RecordForeignMessage(sender string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, mine := g.local[sender]; mine {
		return
	}
	if g.streak > 0 {
		g.logger.Debug("Streak reset by foreign message", "streak", g.streak)
	}
	g.resetStreak()
}

// Streak returns the number of sends in the current streak.
func (g *Gate) Streak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streak
}

// PenaltyRemaining returns how long the lockout lasts, or zero.
func (g *Gate) PenaltyRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.penaltyUntil.Sub(g.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// RecentSends returns the timestamps of the sends in the current streak.
func (g *Gate) RecentSends() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]time.Time(nil), g.sends...)
}

// Stop cancels pending timers. The gate keeps answering queries but stops
// recording sends.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	g.cancelIdleTimer()
}

// armIdleTimer must be called with g.mu held.
func (g *Gate) armIdleTimer() {
	g.cancelIdleTimer()
	gen := g.idleGen
	g.idleTimer = g.clock.AfterFunc(g.idleReset, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.idleGen != gen {
			return
		}
		g.logger.Debug("Streak reset after idle", "streak", g.streak)
		g.streak = 0
		g.sends = nil
		g.idleTimer = nil
	})
}

// cancelIdleTimer must be called with g.mu held.
func (g *Gate) cancelIdleTimer() {
	g.idleGen++
	if g.idleTimer != nil {
		g.idleTimer.Stop()
		g.idleTimer = nil
	}
}

// resetStreak must be called with g.mu held.
func (g *Gate) resetStreak() {
	g.streak = 0
	g.sends = nil
	g.cancelIdleTimer()
}
