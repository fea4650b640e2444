// Package app is the composition root of the chat client. It builds the
// object graph one chat session needs from configuration.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"

	"github.com/nfrund/chatsession/internal/chat"
	"github.com/nfrund/chatsession/internal/config"
	"github.com/nfrund/chatsession/internal/connection"
	"github.com/nfrund/chatsession/internal/content"
	"github.com/nfrund/chatsession/internal/credential"
	"github.com/nfrund/chatsession/internal/logging"
	"github.com/nfrund/chatsession/internal/outbound"
	"github.com/nfrund/chatsession/internal/pubsub"
	"github.com/nfrund/chatsession/internal/rendering"
	"github.com/nfrund/chatsession/internal/sendgate"
	"github.com/nfrund/chatsession/internal/store"
)

// Container owns the dependency injector. Services are built lazily on first
// use and live until Close.
type Container struct {
	injector *do.RootScope

	mu      sync.Mutex
	session *chat.Session
	bus     *pubsub.WatermillBridge
}

// Option overrides a default service.
type Option func(do.Injector)

// WithHTTPClient sets the client used for token, socket and send requests.
func WithHTTPClient(c *http.Client) Option {
	return func(i do.Injector) {
		do.OverrideValue(i, c)
	}
}

// WithLogger uses l instead of building a logger from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(i do.Injector) {
		do.OverrideValue(i, l)
	}
}

// WithFs sets the filesystem content pools are read from.
func WithFs(fs afero.Fs) Option {
	return func(i do.Injector) {
		do.OverrideValue(i, fs)
	}
}

// New registers every service for cfg.
func New(cfg *config.Config, opts ...Option) *Container {
	i := do.New()

	do.ProvideValue(i, cfg)
	do.ProvideValue(i, http.DefaultClient)
	do.ProvideValue[afero.Fs](i, afero.NewOsFs())
	do.Provide(i, provideLogger)
	do.Provide(i, provideBus)
	do.Provide(i, provideCredentials)
	do.Provide(i, provideManager)
	do.Provide(i, provideGate)
	do.Provide(i, provideStore)
	do.Provide(i, provideOutbound)
	do.Provide(i, provideContent)
	do.Provide(i, provideRenderer)
	do.Provide(i, provideSession)

	for _, opt := range opts {
		opt(i)
	}
	return &Container{injector: i}
}

// Session returns the chat session, building it on first call.
func (c *Container) Session() (*chat.Session, error) {
	s, err := do.Invoke[*chat.Session](c.injector)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	return s, nil
}

// Bus returns the event bus the session publishes on.
func (c *Container) Bus() (*pubsub.WatermillBridge, error) {
	b, err := do.Invoke[*pubsub.WatermillBridge](c.injector)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.bus = b
	c.mu.Unlock()
	return b, nil
}

// Content returns the loaded text pools.
func (c *Container) Content() (*content.Pools, error) {
	return do.Invoke[*content.Pools](c.injector)
}

// Outbound returns the message sender, for one-shot sends without a socket.
func (c *Container) Outbound() (*outbound.Sender, error) {
	return do.Invoke[*outbound.Sender](c.injector)
}

// Credentials returns the credential source.
func (c *Container) Credentials() (credential.Source, error) {
	return do.Invoke[credential.Source](c.injector)
}

// Logger returns the application logger.
func (c *Container) Logger() *slog.Logger {
	return do.MustInvoke[*slog.Logger](c.injector)
}

// Close closes whatever was built and shuts the injector down.
func (c *Container) Close() error {
	c.mu.Lock()
	session, bus := c.session, c.bus
	c.mu.Unlock()

	var errs []error
	switch {
	case session != nil:
		// The session owns the bus.
		errs = append(errs, session.Close())
	case bus != nil:
		errs = append(errs, bus.Close())
	}
	if report := c.injector.Shutdown(); report != nil && !report.Succeed {
		errs = append(errs, report)
	}
	return errors.Join(errs...)
}

func provideLogger(i do.Injector) (*slog.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return logging.New(cfg.LogFormat, cfg.LogLevel), nil
}

func provideBus(i do.Injector) (*pubsub.WatermillBridge, error) {
	logger := do.MustInvoke[*slog.Logger](i)
	return pubsub.NewWatermillBridge(pubsub.WithBridgeLogger(logger)), nil
}

// provideCredentials uses the configured token as-is when present, otherwise
// fetches short-lived tokens from the backend.
func provideCredentials(i do.Injector) (credential.Source, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if cfg.Token != "" {
		return credential.NewStatic(cfg.Token), nil
	}
	client := do.MustInvoke[*http.Client](i)
	logger := do.MustInvoke[*slog.Logger](i)
	return credential.NewCache(
		credential.HTTPFetcher(client, cfg.BaseURL, cfg.DisplayName),
		credential.WithTTL(cfg.TokenTTL),
		credential.WithLogger(logger.With("component", "credential")),
	), nil
}

func provideManager(i do.Injector) (*connection.Manager, error) {
	cfg := do.MustInvoke[*config.Config](i)
	policy := connection.ConstantPolicy(cfg.ReconnectDelay)
	if cfg.Exponential() {
		policy = connection.ExponentialPolicy(cfg.ReconnectDelay, cfg.ReconnectMaxDelay)
	}
	m, err := connection.New(cfg.BaseURL,
		connection.WithCredentialSource(do.MustInvoke[credential.Source](i)),
		connection.WithBackoff(policy),
		connection.WithHeartbeat(cfg.HeartbeatInterval, cfg.HeartbeatMisses),
		connection.WithHTTPClient(do.MustInvoke[*http.Client](i)),
		connection.WithLogger(do.MustInvoke[*slog.Logger](i).With("component", "connection")),
	)
	if err != nil {
		return nil, fmt.Errorf("connection manager: %w", err)
	}
	return m, nil
}

func provideGate(i do.Injector) (*sendgate.Gate, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return sendgate.New(
		sendgate.WithLocalUser(cfg.UserID, cfg.DisplayName),
		sendgate.WithLogger(do.MustInvoke[*slog.Logger](i).With("component", "sendgate")),
	), nil
}

func provideStore(i do.Injector) (*store.Store, error) {
	return store.New(store.WithLogger(do.MustInvoke[*slog.Logger](i).With("component", "store"))), nil
}

func provideOutbound(i do.Injector) (*outbound.Sender, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return outbound.New(cfg.BaseURL,
		outbound.WithHTTPClient(do.MustInvoke[*http.Client](i)),
		outbound.WithLogger(do.MustInvoke[*slog.Logger](i).With("component", "outbound")),
	), nil
}

func provideContent(i do.Injector) (*content.Pools, error) {
	cfg := do.MustInvoke[*config.Config](i)
	p := content.New(do.MustInvoke[afero.Fs](i), cfg.ContentDir,
		content.WithLogger(do.MustInvoke[*slog.Logger](i).With("component", "content")))
	if err := p.Load(); err != nil {
		return nil, err
	}
	return p, nil
}

func provideRenderer(do.Injector) (rendering.Renderer, error) {
	return rendering.New(), nil
}

func provideSession(i do.Injector) (*chat.Session, error) {
	return chat.New(chat.Deps{
		Manager:     do.MustInvoke[*connection.Manager](i),
		Credentials: do.MustInvoke[credential.Source](i),
		Outbound:    do.MustInvoke[*outbound.Sender](i),
		Gate:        do.MustInvoke[*sendgate.Gate](i),
		Store:       do.MustInvoke[*store.Store](i),
		Bus:         do.MustInvoke[*pubsub.WatermillBridge](i),
		Logger:      do.MustInvoke[*slog.Logger](i),
	})
}
