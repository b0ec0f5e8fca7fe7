// Package messaging provides a NATS client wrapper for the engine's
// notification fan-out. It handles connection lifecycle, subject-based
// subscriptions, and convenience methods for user notices and
// moderator alerts.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	// SubjectUserNotify carries system notices for one user
	// (match found, partner left, unban): user.notify.<user_id>.
	SubjectUserNotify = "user.notify"

	// SubjectModerationAlert carries new-report alerts consumed by
	// moderator side-cars.
	SubjectModerationAlert = "moderation.alert"
)

// ModerationAlert is the wire form of a new-report alert published on
// SubjectModerationAlert.
type ModerationAlert struct {
	ReportID   string `json:"report_id"`
	ReporterID int64  `json:"reporter_id"`
	ReportedID int64  `json:"reported_id"`
	Reason     string `json:"reason"`
	CreatedAt  int64  `json:"created_at"` // unix seconds
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "gabbar",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a
// ready client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup. Subjects here are stable
// (one per user, one per alert stream), so re-subscribing replaces the
// previous subscription: the stale one is unsubscribed, never left
// live on the server to deliver duplicates.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	prev := c.subs[subject]
	c.subs[subject] = sub
	c.mu.Unlock()

	if prev != nil {
		if err := prev.Unsubscribe(); err != nil {
			log.Printf("[nats] unsubscribe stale %s: %v", subject, err)
		}
	}

	return nil
}

// PublishUserNotify publishes a notice for a specific user.
func (c *NATSClient) PublishUserNotify(userID int64, data []byte) error {
	return c.Publish(fmt.Sprintf("%s.%d", SubjectUserNotify, userID), data)
}

// SubscribeUserNotify subscribes to notices for a specific user.
func (c *NATSClient) SubscribeUserNotify(userID int64, handler func(data []byte)) error {
	subject := fmt.Sprintf("%s.%d", SubjectUserNotify, userID)
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeUserNotify unsubscribes from a user's notice subject.
func (c *NATSClient) UnsubscribeUserNotify(userID int64) error {
	return c.unsubscribe(fmt.Sprintf("%s.%d", SubjectUserNotify, userID))
}

// PublishModerationAlert publishes a new-report alert.
func (c *NATSClient) PublishModerationAlert(data []byte) error {
	return c.Publish(SubjectModerationAlert, data)
}

// SubscribeModerationAlert subscribes to new-report alerts.
func (c *NATSClient) SubscribeModerationAlert(handler func(data []byte)) error {
	return c.Subscribe(SubjectModerationAlert, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
