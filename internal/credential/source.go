// Package credential provides the short-lived bearer tokens attached to the
// connection handshake and to outbound sends.
package credential

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfrund/chatsession/internal/clock"
	"github.com/nfrund/chatsession/internal/domain"
)

const (
	// DefaultTTL is how long a token without an exp claim is reused.
	DefaultTTL = 30 * time.Second
	// DefaultSkew is subtracted from the expiry so a token is not handed out
	// moments before the backend rejects it.
	DefaultSkew = 2 * time.Second
)

// Source hands out credentials. Token returns domain.ErrUnauthorized when the
// user must re-authenticate. Invalidate drops any cached credential.
type Source interface {
	Token(ctx context.Context) (domain.Credential, error)
	Invalidate()
}

// Fetcher obtains a fresh raw token.
type Fetcher func(ctx context.Context) (string, error)

// Cache reuses a fetched token for its remaining lifetime.
type Cache struct {
	fetch  Fetcher
	ttl    time.Duration
	skew   time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex // serializes fetches
	current atomic.Pointer[domain.Credential]
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the lifetime assumed for tokens that carry no expiry.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithSkew sets how early a cached token is considered expired.
func WithSkew(d time.Duration) CacheOption {
	return func(c *Cache) {
		c.skew = d
	}
}

// WithClock replaces the wall clock.
func WithClock(cl clock.Clock) CacheOption {
	return func(c *Cache) {
		c.clock = cl
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = l
	}
}

// NewCache wraps fetch with a cache.
func NewCache(fetch Fetcher, opts ...CacheOption) *Cache {
	c := &Cache{
		fetch:  fetch,
		ttl:    DefaultTTL,
		skew:   DefaultSkew,
		clock:  clock.Real(),
		logger: slog.Default().With("component", "credential"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the cached credential or fetches a new one.
func (c *Cache) Token(ctx context.Context) (domain.Credential, error) {
	if cred, ok := c.cached(); ok {
		return cred, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cred, ok := c.cached(); ok {
		return cred, nil
	}

	raw, err := c.fetch(ctx)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("fetch token: %w", err)
	}
	cred := Parse(raw, c.clock.Now().Add(c.ttl))
	c.current.Store(&cred)
	c.logger.Debug("Fetched token", "subject", cred.Subject, "expires_at", cred.ExpiresAt)
	return cred, nil
}

// Invalidate drops the cached credential.
func (c *Cache) Invalidate() {
	c.current.Store(nil)
}

func (c *Cache) cached() (domain.Credential, bool) {
	cur := c.current.Load()
	if cur == nil {
		return domain.Credential{}, false
	}
	if !cur.Valid(c.clock.Now().Add(c.skew)) {
		return domain.Credential{}, false
	}
	return *cur, true
}

// StaticSource serves one fixed token until it expires or is invalidated.
type StaticSource struct {
	cred    domain.Credential
	clock   clock.Clock
	revoked atomic.Bool
}

// NewStatic creates a source for a token obtained out of band.
func NewStatic(token string) *StaticSource {
	return &StaticSource{cred: Parse(token, time.Time{}), clock: clock.Real()}
}

// Token returns the fixed credential.
func (s *StaticSource) Token(context.Context) (domain.Credential, error) {
	if s.revoked.Load() || !s.cred.Valid(s.clock.Now()) {
		return domain.Credential{}, domain.ErrUnauthorized
	}
	return s.cred, nil
}

// Invalidate marks the token as rejected. A static token cannot be refreshed,
// so every later call returns domain.ErrUnauthorized.
func (s *StaticSource) Invalidate() {
	s.revoked.Store(true)
}
