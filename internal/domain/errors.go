package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for the chat core. These provide consistent, checkable
// errors for the failures callers are expected to branch on.
var (
	// ErrUnauthorized tells the caller to abandon the current flow and send the
	// user back to a login entry point.
	ErrUnauthorized = errors.New("unauthorized: re-authentication required")
	// ErrNotConnected is returned when an operation needs a live transport.
	ErrNotConnected = errors.New("not connected")
	// ErrEmptyMessage is returned for empty or whitespace-only text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrClosed is returned by a session after it was torn down.
	ErrClosed = errors.New("session closed")
)

// TransportError is a handshake or socket failure. The connection manager
// recovers from it locally by reconnecting.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected frame. The frame is dropped.
type ProtocolError struct {
	FrameType string
	Reason    string
	Err       error
}

func (e *ProtocolError) Error() string {
	msg := "protocol: " + e.Reason
	if e.FrameType != "" {
		msg += " (frame " + e.FrameType + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AuthError means the backend rejected the bearer token. It is never retried
// with the same credential.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth rejected (%d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("auth rejected (%d %s)", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *AuthError) Unwrap() error { return e.Err }

// SendError is an outbound call that failed on the network or with a non-2xx
// status. StatusCode is zero for network failures.
type SendError struct {
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("send failed: %v", e.Err)
	}
	return fmt.Sprintf("send failed with status %d", e.StatusCode)
}

func (e *SendError) Unwrap() error { return e.Err }

// RateLimitRejection is a local policy decision, never sent to the server.
type RateLimitRejection struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *RateLimitRejection) Error() string {
	return fmt.Sprintf("sending too fast, wait %s", e.Remaining.Round(time.Second))
}

// IsAuthStatus reports whether an HTTP status code signals a rejected credential.
func IsAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
