package gateway

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is a single WebSocket client connection. A connection starts
// anonymous and becomes bound to a platform user id by the first hello
// message; until then only hello and ping are accepted.
type Conn struct {
	Conn      net.Conn
	CreatedAt time.Time

	mu       sync.Mutex // guards userID, lastSeen and writes
	userID   int64      // 0 until hello binds the connection
	lastSeen time.Time
}

// WriteMessage sends a WebSocket text frame. The mutex ensures that
// concurrent goroutines do not interleave frame bytes.
func (c *Conn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Conn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return c.Conn.Close()
}

// UserID returns the bound user id, or 0 for an anonymous connection.
func (c *Conn) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) bind(userID int64) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Touch records read activity for the heartbeat monitor.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// LastSeen returns the time of the most recent successful read.
func (c *Conn) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Registry is a thread-safe map from bound user ids to their live
// connections. Anonymous connections are not registered; they live only
// in their read goroutine until hello binds them.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]*Conn
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[int64]*Conn)}
}

// Bind registers conn under userID. If the user already had a live
// connection it is returned so the caller can close it; a user has at
// most one connection at a time.
func (r *Registry) Bind(userID int64, conn *Conn) *Conn {
	r.mu.Lock()
	prev := r.byUser[userID]
	r.byUser[userID] = conn
	r.mu.Unlock()

	conn.bind(userID)
	if prev == conn {
		return nil
	}
	return prev
}

// Remove drops the registration for conn if it is still current. A
// stale registration (the user reconnected and was re-bound) is left
// alone. Returns whether the registration was removed.
func (r *Registry) Remove(conn *Conn) bool {
	id := conn.UserID()
	if id == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byUser[id] != conn {
		return false
	}
	delete(r.byUser, id)
	return true
}

// Get returns the live connection for userID, or nil.
func (r *Registry) Get(userID int64) *Conn {
	r.mu.RLock()
	conn := r.byUser[userID]
	r.mu.RUnlock()
	return conn
}

// Count returns the number of bound connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of all bound connections, safe to iterate
// without holding the lock.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	return conns
}
