// Package websocket defines the JSON frame envelope exchanged between the chat
// client and the backend over the persistent connection.
package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/nfrund/chatsession/internal/domain"
)

// Frame types.
const (
	TypeSubscribe  = "subscribe"
	TypeSubscribed = "subscribed"
	TypeMessage    = "message"
	TypeBatch      = "batch"
	TypeHeartbeat  = "heartbeat"
	TypeError      = "error"
)

// Channels a client can subscribe to.
const (
	ChannelLive    = "live"
	ChannelBacklog = "backlog"
)

// Frame is the envelope of every text message on the socket.
type Frame struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Error codes sent by the backend.
const (
	CodeBadFrame       = "bad_frame"
	CodeUnknownChannel = "unknown_channel"
	CodeRateLimited    = "rate_limited"
	CodeUnauthorized   = "unauthorized"
)

// Encode marshals the frame.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses a frame envelope. The payload is left raw.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, &domain.ProtocolError{Reason: "undecodable frame", Err: err}
	}
	if f.Type == "" {
		return Frame{}, &domain.ProtocolError{Reason: "missing frame type"}
	}
	return f, nil
}

// PeekType returns the frame type without decoding the payload. It returns
// an empty string for anything that is not a frame.
func PeekType(data []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Type
}

// Message decodes the payload of a message frame.
func (f Frame) Message() (domain.ChatMessage, error) {
	var msg domain.ChatMessage
	if err := f.decodePayload(&msg); err != nil {
		return domain.ChatMessage{}, err
	}
	return msg, nil
}

// Batch decodes the payload of a batch frame.
func (f Frame) Batch() ([]domain.ChatMessage, error) {
	var msgs []domain.ChatMessage
	if err := f.decodePayload(&msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ErrorInfo decodes the payload of an error frame.
func (f Frame) ErrorInfo() (ErrorPayload, error) {
	var p ErrorPayload
	if err := f.decodePayload(&p); err != nil {
		return ErrorPayload{}, err
	}
	return p, nil
}

func (f Frame) decodePayload(v any) error {
	if len(f.Payload) == 0 {
		return &domain.ProtocolError{FrameType: f.Type, Reason: "missing payload"}
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return &domain.ProtocolError{FrameType: f.Type, Reason: "bad payload", Err: err}
	}
	return nil
}

// NewSubscribe creates a subscribe request for channel.
func NewSubscribe(channel, requestID string) Frame {
	return Frame{Type: TypeSubscribe, Channel: channel, RequestID: requestID}
}

// NewSubscribed acknowledges a subscribe request.
func NewSubscribed(channel, requestID string) Frame {
	return Frame{Type: TypeSubscribed, Channel: channel, RequestID: requestID}
}

// NewHeartbeat creates a heartbeat frame.
func NewHeartbeat() Frame {
	return Frame{Type: TypeHeartbeat}
}

// NewMessage wraps a live chat message.
func NewMessage(msg domain.ChatMessage) (Frame, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("encode message: %w", err)
	}
	return Frame{Type: TypeMessage, Channel: ChannelLive, Payload: raw}, nil
}

// NewBatch wraps a backlog reply.
func NewBatch(msgs []domain.ChatMessage, requestID string) (Frame, error) {
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return Frame{}, fmt.Errorf("encode batch: %w", err)
	}
	return Frame{Type: TypeBatch, Channel: ChannelBacklog, RequestID: requestID, Payload: raw}, nil
}

// NewError creates an error frame, correlated to requestID when it is set.
func NewError(code, message string, retryable bool, requestID string) Frame {
	raw, _ := json.Marshal(ErrorPayload{Code: code, Message: message, Retryable: retryable})
	return Frame{Type: TypeError, RequestID: requestID, Payload: raw}
}

// MustEncode marshals a frame known to be encodable.
func MustEncode(f Frame) []byte {
	b, err := f.Encode()
	if err != nil {
		panic(fmt.Sprintf("websocket: encode %s frame: %v", f.Type, err))
	}
	return b
}
