// Package interaction defines the wire format of inbound chat-platform
// command events and the ed25519 verifier that gates them.
package interaction

import (
	"encoding/json"
	"time"
)

// Payload types.
const (
	TypePing    = "ping"
	TypeCommand = "command"
)

// Payload is the signed inbound event body.
type Payload struct {
	Type           string          `json:"type"`
	CommandName    string          `json:"command_name,omitempty"`
	Arguments      map[string]any  `json:"arguments,omitempty"`
	RequesterID    string          `json:"requester_id"`
	RequesterRoles []string        `json:"requester_roles,omitempty"`
	ChannelID      string          `json:"channel_id,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// Invocation is the immutable, verified record of one command request.
type Invocation struct {
	ID             string
	CommandName    string
	Arguments      map[string]any
	RequesterID    string
	RequesterRoles []string
	ChannelID      string
	ReceivedAt     time.Time
}

// StringArg returns the named argument as a string, with ok=false when the
// argument is absent or not a string.
func (inv *Invocation) StringArg(name string) (string, bool) {
	v, ok := inv.Arguments[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolArg returns the named argument as a bool; absent arguments are false.
func (inv *Invocation) BoolArg(name string) bool {
	v, ok := inv.Arguments[name]
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "yes" || b == "1"
	default:
		return false
	}
}

// Response is what the endpoint returns within the platform deadline.
type Response struct {
	Type    string `json:"type"` // pong, message, deferred
	Content string `json:"content,omitempty"`
	// Ephemeral marks the message visible only to the requester.
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// Response types.
const (
	ResponsePong     = "pong"
	ResponseMessage  = "message"
	ResponseDeferred = "deferred"
)
