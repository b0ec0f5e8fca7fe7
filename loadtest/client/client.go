// Package client provides a reusable WebSocket load test client for
// the Gabbar chat engine. It connects using gobwas/ws (the same
// library the gateway uses), performs the hello binding handshake, and
// tracks per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server message types (local equivalents of the gateway
// protocol constants).
const (
	TypeHello   = "hello"
	TypeStart   = "start"
	TypeNext    = "next"
	TypeStop    = "stop"
	TypeMessage = "message"
	TypeAction  = "action"
	TypePing    = "ping"
)

// Server -> Client message types.
const (
	TypeStatus      = "status"
	TypeNotice      = "notice"
	TypePartnerMsg  = "partner_message"
	TypeBlocked     = "blocked"
	TypePrompt      = "prompt"
	TypeRateLimited = "rate_limited"
	TypeError       = "error"
	TypePong        = "pong"
)

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client simulates one user connection to the gateway. It manages the
// WebSocket lifecycle and dispatches incoming messages to registered
// handlers.
type Client struct {
	conn      net.Conn
	userID    int64
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
}

// New dials the gateway and binds the connection to userID via hello.
// A background goroutine begins reading messages immediately.
func New(ctx context.Context, url string, userID int64) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		userID:   userID,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	if err := c.Send(map[string]interface{}{
		"type":    TypeHello,
		"user_id": userID,
	}); err != nil {
		c.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}

	return c, nil
}

// Send sends a JSON message to the gateway. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Next asks for a partner, ending any current session.
func (c *Client) Next() error {
	return c.Send(map[string]string{"type": TypeNext})
}

// Stop ends the current chat or leaves the queue.
func (c *Client) Stop() error {
	return c.Send(map[string]string{"type": TypeStop})
}

// SendText relays a text payload to the current partner.
func (c *Client) SendText(text string) error {
	return c.Send(map[string]string{"type": TypeMessage, "kind": "text", "text": text})
}

// Action sends an inline-callback action token.
func (c *Client) Action(token string) error {
	return c.Send(map[string]string{"type": TypeAction, "token": token})
}

// On registers a handler for a server message type. Handlers run on
// the read loop goroutine and must not block. Registering a second
// handler for the same type replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// Close closes the connection and stops the read loop. Safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// UserID returns the user id this client is bound as.
func (c *Client) UserID() int64 {
	return c.userID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop reads frames until the connection closes and dispatches
// them by type.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Intentional close, not an error.
				return
			default:
			}
			c.mu.Lock()
			c.metrics.Errors++
			c.mu.Unlock()
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
