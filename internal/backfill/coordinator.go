// Package backfill decides when a connection should ask for the backlog so the
// history is fetched once per view and again only when it was lost.
package backfill

import (
	"context"
	"log/slog"
	"sync"
)

// Requester sends the backlog request on the current connection.
type Requester interface {
	RequestBacklog(ctx context.Context) error
}

// Counter reports how many messages the store holds.
type Counter interface {
	Len() int
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	requester Requester
	store     Counter
	logger    *slog.Logger

	mu           sync.Mutex
	readies      int
	requestedGen uint64
	delivered    bool
	requests     int

	preparedGen  uint64
	emptyAtReady bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// New creates a coordinator.
func New(requester Requester, store Counter, opts ...Option) *Coordinator {
	c := &Coordinator{
		requester: requester,
		store:     store,
		logger:    slog.Default().With("component", "backfill"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prepare records whether the store is empty for generation gen. It must run as
// a ready hook before the live subscription is made, so live frames arriving on
// the new connection do not hide a lost history. It matches connection.ReadyHook.
func (c *Coordinator) Prepare(_ context.Context, gen uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preparedGen = gen
	c.emptyAtReady = c.store.Len() == 0
	return nil
}

// OnReady requests the backlog for connection generation gen when this is the
// first connection, when no backlog has been delivered yet, or when the store is
// empty. At most one request is made per generation, so a ready hook that races
// a reconnect cannot double up. It matches connection.ReadyHook.
func (c *Coordinator) OnReady(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if c.requestedGen != 0 && gen <= c.requestedGen {
		c.mu.Unlock()
		c.logger.Debug("Backlog already requested for this connection", "generation", gen)
		return nil
	}
	first := c.readies == 0
	c.readies++
	empty := c.store.Len() == 0
	if c.preparedGen == gen {
		empty = c.emptyAtReady
	}
	if !first && c.delivered && !empty {
		c.mu.Unlock()
		c.logger.Debug("Skipping backlog request", "generation", gen)
		return nil
	}
	c.requestedGen = gen
	c.requests++
	c.mu.Unlock()

	c.logger.Info("Requesting backlog", "generation", gen, "first", first, "empty", empty)
	return c.requester.RequestBacklog(ctx)
}

// MarkDelivered records that a backlog batch reached the store.
func (c *Coordinator) MarkDelivered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = true
}

// Delivered reports whether a backlog batch has been delivered.
func (c *Coordinator) Delivered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

// Requests returns how many backlog requests were issued.
func (c *Coordinator) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}
