// Package outbound posts chat messages to the backend. The backend echoes
// accepted messages on the live subscription; nothing is rendered locally.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nfrund/chatsession/internal/domain"
)

// DefaultTimeout bounds one send request.
const DefaultTimeout = 10 * time.Second

// Request is the body of POST /messages.
type Request struct {
	Message string `json:"message"`
}

// Sender posts messages to {baseURL}/messages.
type Sender struct {
	client   *http.Client
	endpoint string
	logger   *slog.Logger
}

// Option configures a Sender.
type Option func(*Sender)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) {
		s.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) {
		s.logger = l
	}
}

// New creates a sender for the backend at baseURL.
func New(baseURL string, opts ...Option) *Sender {
	s := &Sender{
		client:   &http.Client{Timeout: DefaultTimeout},
		endpoint: strings.TrimRight(baseURL, "/") + "/messages",
		logger:   slog.Default().With("component", "outbound"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts text with the given credential. A 401 or 403 reply is a
// *domain.AuthError; any other failure is a *domain.SendError.
func (s *Sender) Send(ctx context.Context, cred domain.Credential, text string) error {
	body, err := json.Marshal(Request{Message: text})
	if err != nil {
		return &domain.SendError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return &domain.SendError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", cred.Header())

	resp, err := s.client.Do(req)
	if err != nil {
		return &domain.SendError{Err: fmt.Errorf("post message: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Debug("Message accepted", "status", resp.StatusCode)
		return nil
	case domain.IsAuthStatus(resp.StatusCode):
		return &domain.AuthError{StatusCode: resp.StatusCode}
	default:
		s.logger.Warn("Message rejected", "status", resp.StatusCode)
		return &domain.SendError{StatusCode: resp.StatusCode}
	}
}
