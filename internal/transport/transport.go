// Package transport defines the delivery capability the engine uses to
// reach users: relayed chat payloads between partners and system
// notices (match found, partner left, unban). Implementations live at
// the edge (the WebSocket gateway, the NATS notify bus); the engine
// only sees this interface.
package transport

import (
	"context"
	"fmt"
)

// Kind discriminates relayed payload types. Media payloads carry an
// opaque file reference; content is relayed, never inspected.
type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindSticker   Kind = "sticker"
	KindVoice     Kind = "voice"
	KindVideo     Kind = "video"
	KindAnimation Kind = "animation"
	KindAudio     Kind = "audio"
	KindDocument  Kind = "document"
	KindNotice    Kind = "notice" // system notification, not partner content
)

// Payload is one deliverable unit.
type Payload struct {
	Kind    Kind   `json:"kind"`
	Text    string `json:"text,omitempty"`
	FileID  string `json:"file_id,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Notice builds a system-notice payload.
func Notice(text string) Payload {
	return Payload{Kind: KindNotice, Text: text}
}

// Transport delivers a payload to a user. Implementations must return
// a DeliveryError when the recipient is unreachable; callers log it
// and move on, since the recipient may simply be offline.
type Transport interface {
	Deliver(ctx context.Context, userID int64, p Payload) error
}

// DeliveryError reports a failed delivery to a specific user.
type DeliveryError struct {
	UserID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("transport: deliver to user %d: %v", e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, userID int64, p Payload) error

func (f Func) Deliver(ctx context.Context, userID int64, p Payload) error {
	return f(ctx, userID, p)
}
