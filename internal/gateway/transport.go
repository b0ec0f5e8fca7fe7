package gateway

import (
	"context"
	"errors"

	"github.com/gabbar/chat-engine/internal/messaging"
	"github.com/gabbar/chat-engine/internal/protocol"
	"github.com/gabbar/chat-engine/internal/transport"
)

// ErrNotConnected is the delivery failure for a user with no live
// connection and no notify bus to fall back to.
var ErrNotConnected = errors.New("gateway: user not connected")

// Transport delivers engine payloads to users: directly over the local
// WebSocket connection when the user is connected here, otherwise via
// the NATS notify subject so another instance (or a later reconnect
// consumer) can pick it up. The engine only sees transport.Transport.
type Transport struct {
	conns *Registry
	nats  *messaging.NATSClient // optional
}

// NewTransport creates a Transport over the given connection registry.
// nats may be nil, in which case delivery to unconnected users fails.
func NewTransport(conns *Registry, nats *messaging.NATSClient) *Transport {
	return &Transport{conns: conns, nats: nats}
}

// Deliver encodes the payload as a server message and writes it to the
// user's connection, or publishes it on user.notify.<id> when the user
// is not connected locally.
func (t *Transport) Deliver(ctx context.Context, userID int64, p transport.Payload) error {
	data, err := encodePayload(p)
	if err != nil {
		return err
	}

	if c := t.conns.Get(userID); c != nil {
		if err := c.WriteMessage(data); err != nil {
			return &transport.DeliveryError{UserID: userID, Err: err}
		}
		return nil
	}

	if t.nats != nil {
		if err := t.nats.PublishUserNotify(userID, data); err != nil {
			return &transport.DeliveryError{UserID: userID, Err: err}
		}
		return nil
	}
	return &transport.DeliveryError{UserID: userID, Err: ErrNotConnected}
}

// encodePayload maps a transport payload to its wire form: system
// notices become notice messages, everything else is partner content.
func encodePayload(p transport.Payload) ([]byte, error) {
	if p.Kind == transport.KindNotice {
		return protocol.NewServerMessage(protocol.TypeNotice, protocol.NoticeMsg{Text: p.Text})
	}
	return protocol.NewServerMessage(protocol.TypePartnerMsg, protocol.PartnerPayloadMsg{
		Kind:    string(p.Kind),
		Text:    p.Text,
		FileID:  p.FileID,
		Caption: p.Caption,
	})
}
