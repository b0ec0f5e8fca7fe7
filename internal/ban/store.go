// Package ban implements the ban ledger and its escalation state
// machine. A user is either unblocked or blocked until an absolute
// expiry instant; each block action raises a lifetime strike counter
// that indexes into a fixed ladder of durations, clamped at the final
// rung so punishment grows monotonically but stays bounded.
package ban

import (
	"fmt"
	"sync"
	"time"
)

// Ladder is the escalation ladder: block duration by pre-increment
// strike count, clamped at the last entry.
var Ladder = []time.Duration{
	24 * time.Hour,
	48 * time.Hour,
	96 * time.Hour,
	480 * time.Hour,
	720 * time.Hour,
}

// LadderDuration returns the block duration for a given pre-increment
// strike count.
func LadderDuration(strikes int) time.Duration {
	if strikes >= len(Ladder) {
		strikes = len(Ladder) - 1
	}
	return Ladder[strikes]
}

// Record is one user's block state.
type Record struct {
	UserID  int64
	Until   time.Time
	Strikes int // lifetime block count, never decreases
	Reason  string
}

// Remaining returns the time left on the block relative to now,
// clamped at zero.
func (r Record) Remaining(now time.Time) time.Duration {
	if d := r.Until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Message renders the refusal shown to a blocked user on every
// attempted action.
func (r Record) Message() string {
	return fmt.Sprintf(
		"You have been banned due to rules violation.\n"+
			"It is prohibited to: sell or advertise, send group/channel invites, "+
			"share pornographic content, or ask for money or personal info.\n"+
			"Reason: %s\n"+
			"You will be able to use the chat again at %s.",
		r.Reason, r.Until.UTC().Format("2 January 2006 at 15:04 UTC"))
}

// Store is the in-memory ban ledger. Strike counters outlive the block
// records themselves so escalation carries across expiries.
type Store struct {
	mu      sync.Mutex
	active  map[int64]*Record
	strikes map[int64]int
	now     func() time.Time
}

// NewStore creates an empty ban ledger.
func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock creates a ban ledger reading time from the given
// clock. Used by callers that inject time for deterministic expiry.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		active:  make(map[int64]*Record),
		strikes: make(map[int64]int),
		now:     now,
	}
}

// Check is the guard used by every user-facing entry point. It returns
// the block record when the user has an unexpired block. An expired
// record that the sweep has not collected yet reads as unblocked.
func (s *Store) Check(userID int64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.active[userID]
	if !ok || !s.now().Before(r.Until) {
		return Record{}, false
	}
	return *r, true
}

// Block applies a moderation block: the duration is selected by the
// current (pre-increment) strike count, then the counter is raised.
// Blocking an already-blocked user overwrites the expiry and reason
// with the escalated duration; the counter still increments once per
// explicit block action. Returns the applied record.
func (s *Store) Block(userID int64, reason string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	strikes := s.strikes[userID]
	d := LadderDuration(strikes)
	s.strikes[userID] = strikes + 1

	r := &Record{
		UserID:  userID,
		Until:   s.now().Add(d),
		Strikes: strikes + 1,
		Reason:  reason,
	}
	s.active[userID] = r
	return *r
}

// Unblock lifts a block immediately. The strike counter is preserved,
// so a later block still escalates. Returns whether a block existed.
func (s *Store) Unblock(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[userID]; !ok {
		return false
	}
	delete(s.active, userID)
	return true
}

// Strikes returns the user's lifetime strike count.
func (s *Store) Strikes(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strikes[userID]
}

// Count returns the number of currently blocked users, excluding
// records that have expired but not yet been swept.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, r := range s.active {
		if now.Before(r.Until) {
			n++
		}
	}
	return n
}

// Blocked returns a copy of every unexpired block record.
func (s *Store) Blocked() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]Record, 0, len(s.active))
	for _, r := range s.active {
		if now.Before(r.Until) {
			out = append(out, *r)
		}
	}
	return out
}

// collectExpired removes and returns the records whose expiry has
// passed. Used by the sweep.
func (s *Store) collectExpired() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []Record
	for id, r := range s.active {
		if !now.Before(r.Until) {
			expired = append(expired, *r)
			delete(s.active, id)
		}
	}
	return expired
}
