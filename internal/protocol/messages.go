package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeHello    = "hello"
	TypeStart    = "start"
	TypeNext     = "next"
	TypeStop     = "stop"
	TypeMe       = "me"
	TypeSettings = "settings"
	TypeMessage  = "message"
	TypeAction   = "action"
	TypePing     = "ping"
)

// Server -> Client message types.
const (
	TypeStatus      = "status"
	TypeNotice      = "notice"
	TypePartnerMsg  = "partner_message"
	TypeProfile     = "profile"
	TypeBlocked     = "blocked"
	TypePrompt      = "prompt"
	TypeRateLimited = "rate_limited"
	TypeError       = "error"
	TypePong        = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// HelloMsg binds the connection to the platform user id. Identity is
// authenticated upstream by the front-end platform; the gateway trusts
// the id it is handed.
type HelloMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// StartMsg corresponds to the /start command.
type StartMsg struct {
	Type string `json:"type"`
}

// NextMsg asks for a new partner, ending the current session if any.
type NextMsg struct {
	Type string `json:"type"`
}

// StopMsg ends the current session or stops searching.
type StopMsg struct {
	Type string `json:"type"`
}

// MeMsg requests the profile summary.
type MeMsg struct {
	Type string `json:"type"`
}

// SettingsMsg opens the settings menu.
type SettingsMsg struct {
	Type string `json:"type"`
}

// RelayMsg carries a payload to relay to the session partner. Kind is
// one of the transport payload kinds; media kinds reference files by
// opaque id and are never inspected.
type RelayMsg struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Text    string `json:"text,omitempty"`
	FileID  string `json:"file_id,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// ActionMsg carries an inline-callback action token (verb:argument).
type ActionMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// StatusMsg reports the outcome of a command: the user's current state
// and a human-readable line the front-end can show directly.
type StatusMsg struct {
	Type  string `json:"type"`
	State string `json:"state"` // idle | searching | chatting
	Text  string `json:"text"`
}

// NoticeMsg is an unsolicited system notification (match found,
// partner left, unban notice).
type NoticeMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// PartnerPayloadMsg relays the partner's payload to the client.
type PartnerPayloadMsg struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Text    string `json:"text,omitempty"`
	FileID  string `json:"file_id,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// ProfileMsg is the response to a profile summary request.
type ProfileMsg struct {
	Type     string `json:"type"`
	Gender   string `json:"gender,omitempty"`
	Language string `json:"language,omitempty"`
	Age      int    `json:"age,omitempty"`
}

// BlockedMsg is sent when a blocked user attempts any action.
type BlockedMsg struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Until int64  `json:"until"` // unix seconds
}

// PromptMsg asks the client to collect a missing profile field.
type PromptMsg struct {
	Type  string `json:"type"`
	Field string `json:"field"` // gender | language
}

// RateLimitedMsg is sent when the client is throttled.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg communicates an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client
// message. It returns the message type string, the decoded struct, and
// any error encountered. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeHello:
		var m HelloMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStart:
		var m StartMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNext:
		var m NextMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStop:
		var m StopMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMe:
		var m MeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSettings:
		var m SettingsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m RelayMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAction:
		var m ActionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server
// message, injecting msgType under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal message: %w", err)
	}
	return out, nil
}
