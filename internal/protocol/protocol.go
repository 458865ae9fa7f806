// Package protocol defines the websocket wire format shared by the server
// and the client engine: one JSON frame per message, with an optional
// sequence number correlating a request with its acknowledgment.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event names, client->server unless noted.
const (
	EventAck = "ack" // server->client, correlated by Seq

	EventUserUpsert   = "user:upsert"
	EventUserList     = "user:list"
	EventUserUpserted = "user:upserted" // server->client push

	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventConversationRead  = "conversation:read"

	EventMessageSend      = "message:send"
	EventMessageSent      = "message:sent" // server->client push, sender only
	EventMessageNew       = "message:new"  // server->client push, room
	EventMessageStatus    = "message:status"
	EventMessageDelivered = "message:delivered"
	EventMessageHistory   = "message:history"
)

// Frame is the envelope for every websocket message. Seq > 0 marks a
// request expecting exactly one ack frame carrying the same Seq; Seq == 0
// marks a push or a fire-and-forget emission.
type Frame struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals a frame with its payload.
func Encode(event string, seq uint64, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Seq: seq, Data: data})
}

// Decode parses a raw websocket message into a frame.
func Decode(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("decode frame: missing event")
	}
	return &f, nil
}

// ValidationError rejects a request synchronously; it names the offending
// field and is never retried automatically.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return e.Field + "_required"
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NormalizeEndpoint trims a user-entered server URL: drops trailing
// slashes and defaults the scheme to http.
func NormalizeEndpoint(raw string) string {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "http://" + s
	}
	return s
}
