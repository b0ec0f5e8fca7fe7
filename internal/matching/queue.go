// Package matching implements the FIFO waiting queue that pairs users
// into chat sessions. The queue holds ids of users looking for a
// partner; pairing always picks the earliest-enqueued eligible
// candidate so wait times stay fair and tests stay deterministic.
package matching

import "sync"

// Eligible reports whether a queued candidate may be paired right now.
// The engine passes a check that rejects blocked users.
type Eligible func(userID int64) bool

// Queue is the in-memory waiting queue. Order is strict FIFO; a user
// appears at most once.
type Queue struct {
	mu      sync.Mutex
	order   []int64
	present map[int64]struct{}
}

// NewQueue creates an empty waiting queue.
func NewQueue() *Queue {
	return &Queue{present: make(map[int64]struct{})}
}

// Enqueue appends a user to the queue. No-op if already queued.
func (q *Queue) Enqueue(userID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueueLocked(userID)
}

// Remove takes a user out of the queue, if present. Returns whether
// the user was queued.
func (q *Queue) Remove(userID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.present[userID]; !ok {
		return false
	}
	q.removeLocked(userID)
	return true
}

// Contains reports whether a user is currently queued.
func (q *Queue) Contains(userID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.present[userID]
	return ok
}

// Len returns the number of queued users.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Snapshot returns the queued ids in insertion order.
func (q *Queue) Snapshot() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]int64, len(q.order))
	copy(out, q.order)
	return out
}

// TryPair scans the queue in insertion order for the first candidate
// that is not the requester and passes the eligibility check. On a
// match both ids leave the queue and the partner id is returned. If no
// candidate qualifies the requester is appended to the queue and
// ok is false.
//
// TryPair alone does not create the session; the engine runs TryPair
// and session creation under one pairing lock so the check-then-act
// cannot interleave with a concurrent pairing attempt.
func (q *Queue) TryPair(userID int64, eligible Eligible) (partner int64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, candidate := range q.order {
		if candidate == userID {
			continue
		}
		if eligible != nil && !eligible(candidate) {
			continue
		}
		q.removeLocked(candidate)
		q.removeLocked(userID)
		return candidate, true
	}

	q.enqueueLocked(userID)
	return 0, false
}

// Caller must hold q.mu.
func (q *Queue) enqueueLocked(userID int64) {
	if _, ok := q.present[userID]; ok {
		return
	}
	q.order = append(q.order, userID)
	q.present[userID] = struct{}{}
}

// Caller must hold q.mu.
func (q *Queue) removeLocked(userID int64) {
	if _, ok := q.present[userID]; !ok {
		return
	}
	delete(q.present, userID)
	for i, id := range q.order {
		if id == userID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}
