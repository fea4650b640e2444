// Package connection owns the single persistent socket of a chat session. It
// dials with the bearer credential, keeps the link alive with heartbeats and
// reconnects after failures until told to stop.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/nfrund/chatsession/internal/credential"
	"github.com/nfrund/chatsession/internal/domain"
	ws "github.com/nfrund/chatsession/internal/websocket"
)

const (
	// DefaultReconnectDelay is the pause between connection attempts.
	DefaultReconnectDelay = 5 * time.Second
	// DefaultHeartbeatInterval is how often a heartbeat frame is written.
	DefaultHeartbeatInterval = 4 * time.Second
	// DefaultHeartbeatMisses is how many silent intervals end the connection.
	DefaultHeartbeatMisses = 3
	// DefaultHandshakeTimeout bounds the upgrade request.
	DefaultHandshakeTimeout = 10 * time.Second

	writeWait = 10 * time.Second
	readLimit = 1 << 20
)

var errHeartbeatTimeout = errors.New("no inbound frame within heartbeat window")

// FrameHandler receives every inbound frame except heartbeats, in arrival
// order. Returning an error fails the connection.
type FrameHandler func(ctx context.Context, data []byte) error

// ReadyHook runs after each successful handshake. generation increases with
// every new transport. Returning an error fails the connection.
type ReadyHook func(ctx context.Context, generation uint64) error

// StateFunc observes state transitions.
type StateFunc func(prev, next domain.ConnectionState)

// ErrorFunc receives errors that stopped the manager for good.
type ErrorFunc func(err error)

// BackoffPolicy creates the retry delay sequence for one Connect call.
type BackoffPolicy func() backoff.BackOff

// ConstantPolicy retries after the same delay forever.
func ConstantPolicy(d time.Duration) BackoffPolicy {
	return func() backoff.BackOff { return backoff.NewConstantBackOff(d) }
}

// ExponentialPolicy doubles the delay from initial up to max.
func ExponentialPolicy(initial, max time.Duration) BackoffPolicy {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		return b
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	endpoint          string
	source            credential.Source
	policy            BackoffPolicy
	heartbeatInterval time.Duration
	heartbeatMisses   int
	handshakeTimeout  time.Duration
	httpClient        *http.Client
	logger            *slog.Logger

	mu         sync.Mutex
	state      domain.ConnectionState
	conn       *websocket.Conn
	cancel     context.CancelFunc
	done       chan struct{}
	generation uint64
	readyHooks []ReadyHook
	stateHooks []StateFunc
	errorHooks []ErrorFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithCredentialSource lets the manager refresh the token before reconnecting.
func WithCredentialSource(s credential.Source) Option {
	return func(m *Manager) {
		m.source = s
	}
}

// WithBackoff sets the reconnect delay policy.
func WithBackoff(p BackoffPolicy) Option {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithHeartbeat sets the heartbeat interval and the number of silent
// intervals tolerated before the connection is considered lost.
func WithHeartbeat(interval time.Duration, misses int) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.heartbeatInterval = interval
		}
		if misses > 0 {
			m.heartbeatMisses = misses
		}
	}
}

// WithHandshakeTimeout bounds each dial.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.handshakeTimeout = d
	}
}

// WithHTTPClient sets the client used for the upgrade request.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// New creates a manager for the socket endpoint of the backend at baseURL.
func New(baseURL string, opts ...Option) (*Manager, error) {
	endpoint, err := Endpoint(baseURL)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		endpoint:          endpoint,
		policy:            ConstantPolicy(DefaultReconnectDelay),
		heartbeatInterval: DefaultHeartbeatInterval,
		heartbeatMisses:   DefaultHeartbeatMisses,
		handshakeTimeout:  DefaultHandshakeTimeout,
		logger:            slog.Default().With("component", "connection"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Endpoint derives the socket URL from the backend base URL.
func Endpoint(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("parse base url: unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// OnReady registers a hook run after every successful handshake.
func (m *Manager) OnReady(h ReadyHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyHooks = append(m.readyHooks, h)
}

// OnStateChange registers an observer of state transitions. Observers run on
// the manager's goroutine in transition order.
func (m *Manager) OnStateChange(fn StateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateHooks = append(m.stateHooks, fn)
}

// OnError registers an observer of errors that stopped the manager.
func (m *Manager) OnError(fn ErrorFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorHooks = append(m.errorHooks, fn)
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Generation returns the number of transports established so far.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Connect starts connecting in the background and returns immediately.
// Calling it while the manager is already active does nothing.
func (m *Manager) Connect(onFrame FrameHandler, cred domain.Credential) error {
	if onFrame == nil {
		return errors.New("connection: nil frame handler")
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(ctx, done, onFrame, cred)
	return nil
}

// Disconnect stops the manager, cancelling any pending retry and closing the
// transport. It blocks until the manager is idle and is safe to call at any
// time, any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SendRaw writes one text frame on the current transport.
func (m *Manager) SendRaw(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if conn == nil || state != domain.StateConnected {
		return domain.ErrNotConnected
	}
	wctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, payload); err != nil {
		return &domain.TransportError{Op: "write", Err: err}
	}
	return nil
}

func (m *Manager) run(ctx context.Context, done chan struct{}, onFrame FrameHandler, cred domain.Credential) {
	defer close(done)
	defer m.setState(domain.StateDisconnected)
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.cancel, m.done = nil, nil
		}
		m.mu.Unlock()
	}()

	policy := m.policy()
	attempt := 0
	for {
		attempt++
		if attempt == 1 {
			m.setState(domain.StateConnecting)
		} else {
			m.setState(domain.StateReconnecting)
		}

		var (
			connected bool
			err       error
		)
		cred, err = m.credentialFor(ctx, cred, attempt)
		if err == nil {
			connected, err = m.session(ctx, onFrame, cred)
		}
		if ctx.Err() != nil {
			return
		}
		if connected {
			policy.Reset()
		}

		if isAuthFailure(err) {
			if m.source == nil || errors.Is(err, domain.ErrUnauthorized) {
				m.fail(err)
				return
			}
			m.logger.Warn("Credential rejected, refreshing", "error", err)
			m.source.Invalidate()
			cred = domain.Credential{}
		} else if err != nil {
			m.logger.Warn("Connection lost", "attempt", attempt, "error", err)
		}

		m.setState(domain.StateReconnecting)
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			m.fail(fmt.Errorf("reconnect attempts exhausted: %w", err))
			return
		}
		m.logger.Debug("Waiting to reconnect", "delay", delay, "attempt", attempt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// credentialFor returns the credential for the given attempt. The credential
// passed to Connect is used as long as it is valid.
func (m *Manager) credentialFor(ctx context.Context, cred domain.Credential, attempt int) (domain.Credential, error) {
	if m.source == nil {
		if cred.Token == "" {
			return cred, domain.ErrUnauthorized
		}
		return cred, nil
	}
	if attempt == 1 && cred.Valid(time.Now()) {
		return cred, nil
	}
	fresh, err := m.source.Token(ctx)
	if err != nil {
		return cred, err
	}
	return fresh, nil
}

// session runs one transport from dial to failure. connected reports whether
// the handshake succeeded.
func (m *Manager) session(ctx context.Context, onFrame FrameHandler, cred domain.Credential) (connected bool, err error) {
	dialCtx, cancelDial := context.WithTimeout(ctx, m.handshakeTimeout)
	conn, resp, err := websocket.Dial(dialCtx, m.endpoint, &websocket.DialOptions{
		HTTPClient: m.httpClient,
		HTTPHeader: http.Header{"Authorization": []string{cred.Header()}},
	})
	cancelDial()
	if err != nil {
		if resp != nil && domain.IsAuthStatus(resp.StatusCode) {
			return false, &domain.AuthError{StatusCode: resp.StatusCode, Err: err}
		}
		return false, &domain.TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(readLimit)

	m.mu.Lock()
	m.conn = conn
	m.generation++
	gen := m.generation
	hooks := append([]ReadyHook(nil), m.readyHooks...)
	m.mu.Unlock()

	connCtx, cancelConn := context.WithCancel(ctx)
	failures := make(chan error, 1)
	fail := func(err error) {
		select {
		case failures <- err:
		default:
		}
	}

	var lastInbound atomic.Int64
	lastInbound.Store(time.Now().UnixNano())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.readLoop(connCtx, conn, onFrame, &lastInbound, fail)
	}()
	go func() {
		defer wg.Done()
		m.heartbeatLoop(connCtx, conn, &lastInbound, fail)
	}()

	defer func() {
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		if err == nil {
			_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		}
		cancelConn()
		_ = conn.CloseNow()
		wg.Wait()
	}()

	m.setState(domain.StateConnected)
	m.logger.Info("Connected", "generation", gen)

	for _, hook := range hooks {
		if hookErr := hook(connCtx, gen); hookErr != nil {
			fail(fmt.Errorf("ready hook: %w", hookErr))
			break
		}
	}

	select {
	case <-ctx.Done():
		return true, nil
	case err = <-failures:
		return true, err
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, onFrame FrameHandler, last *atomic.Int64, fail func(error)) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				fail(&domain.TransportError{Op: "read", Err: err})
			}
			return
		}
		last.Store(time.Now().UnixNano())

		if ws.PeekType(data) == ws.TypeHeartbeat {
			continue
		}
		if err := onFrame(ctx, data); err != nil {
			fail(err)
			return
		}
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, conn *websocket.Conn, last *atomic.Int64, fail func(error)) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	window := time.Duration(m.heartbeatMisses) * m.heartbeatInterval
	beat := ws.MustEncode(ws.NewHeartbeat())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, last.Load())) > window {
				fail(&domain.TransportError{Op: "heartbeat", Err: errHeartbeatTimeout})
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Write(wctx, websocket.MessageText, beat)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					fail(&domain.TransportError{Op: "heartbeat", Err: err})
				}
				return
			}
		}
	}
}

func (m *Manager) setState(next domain.ConnectionState) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	hooks := append([]StateFunc(nil), m.stateHooks...)
	m.mu.Unlock()

	m.logger.Debug("Connection state changed", "from", prev.String(), "state", next.String())
	for _, fn := range hooks {
		fn(prev, next)
	}
}

func (m *Manager) fail(err error) {
	m.logger.Error("Connection manager stopped", "error", err)
	m.mu.Lock()
	hooks := append([]ErrorFunc(nil), m.errorHooks...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn(err)
	}
}

func isAuthFailure(err error) bool {
	var authErr *domain.AuthError
	return errors.As(err, &authErr) || errors.Is(err, domain.ErrUnauthorized)
}
