// Package protocol is the JSON wire format of the chat socket. Every frame
// in either direction is an object whose "type" field names the event;
// event fields sit beside it at the top level.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType marks a well-formed frame whose type is not a client type.
var ErrUnknownType = errors.New("protocol: unknown client message type")

// Client -> Server message types.
const (
	TypeSearch     = "search"
	TypeMessage    = "message"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypeNext       = "next"
	TypePing       = "ping"
)

// Server -> Client message types. TypeMessage is shared with the client side.
const (
	TypeSessionCreated       = "session_created"
	TypeSearching            = "searching"
	TypeConnected            = "connected"
	TypePartnerTyping        = "partner_typing"
	TypePartnerStoppedTyping = "partner_stopped_typing"
	TypePartnerDisconnected  = "partner_disconnected"
	TypeBanned               = "banned"
	TypeRateLimited          = "rate_limited"
	TypeError                = "error"
	TypePong                 = "pong"
)

// Error codes carried by ErrorMsg.
const (
	CodeInvalidMessage   = "invalid_message"
	CodeNoActiveSession  = "no_active_session"
	CodeAlreadyConnected = "already_connected"
	CodeBadRequest       = "bad_request"
	CodeInternal         = "internal_error"
)

// BannedText is shown to a banned client before it is disconnected.
const BannedText = "You are temporarily banned from using this service."

var clientTypes = map[string]bool{
	TypeSearch:     true,
	TypeMessage:    true,
	TypeTyping:     true,
	TypeStopTyping: true,
	TypeNext:       true,
	TypePing:       true,
}

// Inbound is a decoded client frame. Text is only meaningful for
// TypeMessage; the other client events carry no fields.
type Inbound struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseClientMessage decodes a client frame. Frames that are not JSON
// objects, lack a type, or carry mistyped fields are rejected. A server-only
// or unknown type returns the type with an error wrapping ErrUnknownType.
func ParseClientMessage(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("protocol: parse: %w", err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("protocol: missing \"type\" field")
	}
	if !clientTypes[in.Type] {
		return Inbound{Type: in.Type}, fmt.Errorf("%w %q", ErrUnknownType, in.Type)
	}
	if in.Type != TypeMessage {
		in.Text = ""
	}
	return in, nil
}

// Server event payloads. They must not declare a "type" field of their own;
// NewServerMessage adds it.

// SessionCreatedMsg tells the client its connection id.
type SessionCreatedMsg struct {
	SessionID string `json:"session_id"`
}

// ConnectedMsg is sent to both sides of a new pairing.
type ConnectedMsg struct {
	PartnerName string `json:"partner_name"`
	SessionID   string `json:"session_id"`
}

// ServerChatMsg is a text message relayed from the partner.
type ServerChatMsg struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

type BannedMsg struct {
	Message string `json:"message"`
}

// RateLimitedMsg tells the client how many seconds to wait.
type RateLimitedMsg struct {
	RetryAfter int `json:"retry_after"`
}

type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewServerMessage encodes a server frame of msgType. payload must encode
// to a JSON object, whose fields are placed beside "type"; nil yields a
// bare {"type": msgType} frame.
func NewServerMessage(msgType string, payload any) ([]byte, error) {
	name, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode type: %w", err)
	}
	out := make([]byte, 0, 64)
	out = append(out, `{"type":`...)
	out = append(out, name...)

	if payload == nil {
		return append(out, '}'), nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msgType, err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("protocol: %s payload is not an object", msgType)
	}
	if len(body) == 2 {
		return append(out, '}'), nil
	}
	out = append(out, ',')
	return append(out, body[1:]...), nil
}
