// Package session tracks active 1:1 chat sessions. A session is an
// unordered pair of users stored as two directed entries so partner
// lookup is O(1) from either side. The registry also remembers each
// user's most recent partner, which the report flow uses to resolve
// its target after a session has ended.
package session

import (
	"fmt"
	"sync"
)

// Registry is the in-memory session registry. The peers map is always
// symmetric: peers[a] == b implies peers[b] == a.
type Registry struct {
	mu          sync.RWMutex
	peers       map[int64]int64
	lastPartner map[int64]int64
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		peers:       make(map[int64]int64),
		lastPartner: make(map[int64]int64),
	}
}

// Create installs a session between a and b, recording both directed
// entries atomically and overwriting LastPartner for both sides. It is
// an error if either user already has a session, or if a == b.
func (r *Registry) Create(a, b int64) error {
	if a == b {
		return fmt.Errorf("session: cannot pair user %d with itself", a)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if peer, ok := r.peers[a]; ok {
		return fmt.Errorf("session: user %d already in session with %d", a, peer)
	}
	if peer, ok := r.peers[b]; ok {
		return fmt.Errorf("session: user %d already in session with %d", b, peer)
	}

	r.peers[a] = b
	r.peers[b] = a
	r.lastPartner[a] = b
	r.lastPartner[b] = a
	return nil
}

// Teardown removes the session the user participates in and returns
// the former partner so the caller can notify them. Teardown never
// re-queues anybody; re-entering the waiting queue is an explicit,
// separate step owned by the engine. Safe no-op when the user has no
// session.
func (r *Registry) Teardown(userID int64) (partner int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	partner, ok = r.peers[userID]
	if !ok {
		return 0, false
	}
	delete(r.peers, userID)
	delete(r.peers, partner)
	return partner, true
}

// PeerOf returns the user's current session partner.
func (r *Registry) PeerOf(userID int64) (partner int64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	partner, ok = r.peers[userID]
	return partner, ok
}

// LastPartnerOf returns the most recent partner, live or past. Used
// only to target the report flow; overwritten on every new pairing.
func (r *Registry) LastPartnerOf(userID int64) (partner int64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	partner, ok = r.lastPartner[userID]
	return partner, ok
}

// ClearLastPartner drops the ephemeral last-partner pointer, e.g.
// after a report has been filed against it.
func (r *Registry) ClearLastPartner(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastPartner, userID)
}

// Count returns the number of active sessions. Each symmetric pair is
// counted once.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers) / 2
}

// Participants returns the ids of every user currently in a session.
func (r *Registry) Participants() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int64, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}
