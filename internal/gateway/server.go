// Package gateway is the WebSocket front-end for the pairing engine.
// It upgrades HTTP connections with gobwas/ws, runs one read goroutine
// per connection, binds connections to user ids via the hello message,
// and routes typed client messages to engine operations. It also serves
// the liveness and Prometheus endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/gabbar/chat-engine/internal/engine"
	"github.com/gabbar/chat-engine/internal/messaging"
	"github.com/gabbar/chat-engine/internal/metrics"
	"github.com/gabbar/chat-engine/internal/ratelimit"
)

// Config holds tunable parameters for the gateway.
type Config struct {
	ListenAddr        string        // address to listen on, e.g. ":8080"
	MaxConnections    int           // hard cap on total connections
	WriteTimeout      time.Duration // timeout for WebSocket write operations
	HeartbeatInterval time.Duration // how often to ping idle connections
	HeartbeatTimeout  time.Duration // grace after ping before eviction
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8080",
		MaxConnections:    100000,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
	}
}

// Server accepts WebSocket connections and feeds the engine.
type Server struct {
	config  Config
	engine  *engine.Engine
	conns   *Registry
	limiter *ratelimit.Limiter    // optional, nil disables throttling
	nats    *messaging.NATSClient // optional, nil disables notify fan-in

	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a Server. The registry must be the same one the
// engine's Transport writes to, so deliveries reach live connections.
func NewServer(config Config, eng *engine.Engine, conns *Registry, limiter *ratelimit.Limiter, nats *messaging.NATSClient) *Server {
	return &Server{
		config:  config,
		engine:  eng,
		conns:   conns,
		limiter: limiter,
		nats:    nats,
		done:    make(chan struct{}),
	}
}

// Start configures the HTTP routes and blocks on ListenAndServe. The
// heartbeat monitor runs in the background until Shutdown.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	go s.heartbeatLoop()

	log.Printf("gateway: listening on %s (max_conns=%d)",
		s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection and
// starts its read goroutine. The connection stays anonymous until the
// client sends hello.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("gateway: upgrade failed: %v", err)
		return
	}

	c := &Conn{
		Conn:      netConn,
		CreatedAt: time.Now(),
	}
	c.Touch()

	go s.readLoop(c)
}

// readLoop reads frames from one connection until it fails or closes.
// Control frames only refresh the activity timestamp; data frames go to
// the message handler.
func (s *Server) readLoop(c *Conn) {
	defer s.removeConn(c)

	for {
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}

		c.Touch()

		if header.OpCode.IsControl() {
			if header.OpCode == ws.OpClose {
				return
			}
			if header.Length > 0 {
				if _, err := io.Copy(io.Discard, reader); err != nil {
					return
				}
			}
			if header.OpCode == ws.OpPing {
				if err := c.writePong(); err != nil {
					return
				}
			}
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		s.handleMessage(context.Background(), c, data)
	}
}

// bindConn binds a connection to its user id. A previous connection for
// the same user is evicted; at most one connection per user.
func (s *Server) bindConn(c *Conn, userID int64) {
	if prev := s.conns.Bind(userID, c); prev != nil {
		log.Printf("gateway: user %d reconnected, closing previous connection", userID)
		prev.Close()
	}
	metrics.ConnectedUsers.Set(float64(s.conns.Count()))

	// Notices published while the user was connected elsewhere (or to
	// another instance) are forwarded onto this connection.
	if s.nats != nil {
		err := s.nats.SubscribeUserNotify(userID, func(data []byte) {
			if conn := s.conns.Get(userID); conn != nil {
				_ = conn.WriteMessage(data)
			}
		})
		if err != nil {
			log.Printf("gateway: notify subscribe for user %d failed: %v", userID, err)
		}
	}

	log.Printf("gateway: user %d connected (total=%d)", userID, s.conns.Count())
}

// removeConn closes a connection and, if it was still the user's
// current one, drops its registration and notify subscription.
func (s *Server) removeConn(c *Conn) {
	userID := c.UserID()
	current := s.conns.Remove(c)
	c.Close()

	if !current {
		return
	}

	if s.nats != nil && userID != 0 {
		if err := s.nats.UnsubscribeUserNotify(userID); err != nil {
			log.Printf("gateway: notify unsubscribe for user %d failed: %v", userID, err)
		}
	}
	metrics.ConnectedUsers.Set(float64(s.conns.Count()))
	log.Printf("gateway: user %d disconnected (total=%d)", userID, s.conns.Count())
}

// heartbeatLoop periodically pings bound connections and evicts those
// with no read activity within interval + timeout.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkConnections()
		}
	}
}

func (s *Server) checkConnections() {
	deadline := s.config.HeartbeatInterval + s.config.HeartbeatTimeout
	now := time.Now()

	for _, c := range s.conns.All() {
		if now.Sub(c.LastSeen()) > deadline {
			log.Printf("gateway: heartbeat timeout user=%d last_activity=%s ago",
				c.UserID(), now.Sub(c.LastSeen()).Round(time.Second))
			c.Close() // read loop unblocks and cleans up
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("gateway: heartbeat ping failed user=%d: %v", c.UserID(), err)
			c.Close()
		}
	}
}

// handleHealth responds with liveness status as JSON, including the
// current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// Shutdown stops the HTTP listener, the heartbeat, and closes all
// active connections.
func (s *Server) Shutdown() error {
	log.Println("gateway: shutting down...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("gateway: http shutdown error: %v", err)
	}

	for _, c := range s.conns.All() {
		c.Close()
	}

	log.Printf("gateway: stopped, all connections closed")
	return nil
}

// writePong answers a protocol-level ping.
func (c *Conn) writePong() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPongFrame(nil))
}
