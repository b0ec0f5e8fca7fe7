// Package engine orchestrates the core stores — profiles, waiting
// queue, session registry, report ledger, ban ledger — behind the
// command surface the gateway exposes. Every user-facing operation
// passes the ban guard first; the pairing and teardown transitions run
// under a single pairing lock so queue membership and session state
// can never be observed mid-change by a concurrent attempt.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gabbar/chat-engine/internal/ban"
	"github.com/gabbar/chat-engine/internal/matching"
	"github.com/gabbar/chat-engine/internal/metrics"
	"github.com/gabbar/chat-engine/internal/profile"
	"github.com/gabbar/chat-engine/internal/protocol"
	"github.com/gabbar/chat-engine/internal/report"
	"github.com/gabbar/chat-engine/internal/session"
	"github.com/gabbar/chat-engine/internal/transport"
)

// User-visible states reported by Status.
const (
	StateIdle      = "idle"
	StateSearching = "searching"
	StateChatting  = "chatting"
)

// Status is the outcome of a command: the user's resulting state and a
// line the front-end can show directly.
type Status struct {
	State string
	Text  string
}

// Alerter receives newly filed reports for moderator fan-out.
type Alerter func(r report.Report)

// Config wires an Engine.
type Config struct {
	Transport transport.Transport
	Alert     Alerter // optional moderator alert hook
	AdminIDs  []int64
	Clock     func() time.Time // nil means time.Now
}

// Engine owns all core state. State is volatile by design: a process
// restart discards every queue entry, session, report, and ban.
type Engine struct {
	profiles *profile.Store
	queue    *matching.Queue
	sessions *session.Registry
	reports  *report.Ledger
	bans     *ban.Store

	tr     transport.Transport
	alert  Alerter
	admins map[int64]struct{}

	// pairMu serializes pairing and teardown transitions. TryPair plus
	// session creation is the check-then-act that must not interleave.
	pairMu    sync.Mutex
	waitSince map[int64]time.Time // enqueue instants, guarded by pairMu

	dayMu        sync.Mutex
	day          time.Time
	matchesToday int

	now func() time.Time
}

// New creates an Engine with empty stores.
func New(cfg Config) *Engine {
	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		profiles:  profile.NewStore(),
		queue:     matching.NewQueue(),
		sessions:  session.NewRegistry(),
		reports:   report.NewLedger(),
		bans:      ban.NewStoreWithClock(now),
		tr:        cfg.Transport,
		alert:     cfg.Alert,
		admins:    admins,
		waitSince: make(map[int64]time.Time),
		now:       now,
	}
}

// CheckBlocked is the guard every user-facing entry point runs first.
func (e *Engine) CheckBlocked(userID int64) (ban.Record, bool) {
	return e.bans.Check(userID)
}

// StartOrResume handles first contact and /start. It creates the
// profile if needed, walks the setup flow, and otherwise reports or
// establishes the user's matchmaking state.
func (e *Engine) StartOrResume(ctx context.Context, userID int64) (Status, error) {
	if rec, blocked := e.bans.Check(userID); blocked {
		return Status{}, &BlockedError{Record: rec}
	}

	e.profiles.Ensure(userID)
	if missing := e.profiles.MissingField(userID); missing != "" {
		return Status{}, &ProfileIncompleteError{Missing: missing}
	}

	if _, ok := e.sessions.PeerOf(userID); ok {
		return Status{State: StateChatting, Text: "You are in a chat. Use /stop to end or /next to skip."}, nil
	}
	if e.queue.Contains(userID) {
		return Status{State: StateSearching, Text: "Searching for a partner. Use /stop to stop searching."}, nil
	}

	return e.pairOrWait(ctx, userID), nil
}

// RequestNext skips the current partner (if any) and looks for a new
// one. Teardown and re-queueing happen under the pairing lock so a
// concurrent attempt on the same user cannot interleave.
func (e *Engine) RequestNext(ctx context.Context, userID int64) (Status, error) {
	if rec, blocked := e.bans.Check(userID); blocked {
		return Status{}, &BlockedError{Record: rec}
	}

	e.profiles.Ensure(userID)
	if missing := e.profiles.MissingField(userID); missing != "" {
		return Status{}, &ProfileIncompleteError{Missing: missing}
	}

	if partner, ok := e.teardown(userID); ok {
		e.notify(ctx, partner, "Your partner left the chat. Use /next to find a new one.")
	}

	return e.pairOrWait(ctx, userID), nil
}

// Stop ends the current chat or leaves the waiting queue. It never
// re-queues the user; that requires an explicit /next.
func (e *Engine) Stop(ctx context.Context, userID int64) (Status, error) {
	if rec, blocked := e.bans.Check(userID); blocked {
		return Status{}, &BlockedError{Record: rec}
	}

	if partner, ok := e.teardown(userID); ok {
		e.notify(ctx, partner, "Your partner left the chat. Use /next to find a new one.")
		return Status{State: StateIdle, Text: "Chat ended. Use /next to find a partner. Use report:open to report your previous partner."}, nil
	}

	e.pairMu.Lock()
	removed := e.queue.Remove(userID)
	delete(e.waitSince, userID)
	metrics.QueueSize.Set(float64(e.queue.Len()))
	e.pairMu.Unlock()

	if removed {
		return Status{State: StateIdle, Text: "Stopped searching. Use /next when you want a partner."}, nil
	}
	return Status{State: StateIdle, Text: "You are not in a chat. Use /next to find a partner."}, nil
}

// Relay forwards a payload to the user's current partner. Delivery
// failures are logged, never surfaced to the sender and never rolled
// back: the partner may simply be offline.
func (e *Engine) Relay(ctx context.Context, userID int64, p transport.Payload) (Status, error) {
	if rec, blocked := e.bans.Check(userID); blocked {
		return Status{}, &BlockedError{Record: rec}
	}

	e.profiles.Ensure(userID)
	if missing := e.profiles.MissingField(userID); missing != "" {
		return Status{}, &ProfileIncompleteError{Missing: missing}
	}

	partner, ok := e.sessions.PeerOf(userID)
	if !ok {
		if e.queue.Contains(userID) {
			return Status{State: StateSearching, Text: "Searching for a partner. You are not in a chat yet."}, nil
		}
		return Status{State: StateIdle, Text: "You are not in a chat. Use /next to find a partner."}, nil
	}

	if err := e.tr.Deliver(ctx, partner, p); err != nil {
		log.Printf("[engine] relay to partner %d failed: %v", partner, err)
	}
	metrics.RelayedTotal.WithLabelValues(string(p.Kind)).Inc()
	return Status{State: StateChatting}, nil
}

// FileReport files an abuse report against the user's most recent
// partner and alerts the moderators.
func (e *Engine) FileReport(ctx context.Context, userID int64, reason report.Reason) (report.Report, error) {
	if rec, blocked := e.bans.Check(userID); blocked {
		return report.Report{}, &BlockedError{Record: rec}
	}

	target, ok := e.sessions.LastPartnerOf(userID)
	if !ok {
		return report.Report{}, ErrNoReportTarget
	}

	r, err := e.reports.File(userID, target, reason)
	if err != nil {
		return report.Report{}, err
	}

	// One report per partner: the pointer is consumed by filing.
	e.sessions.ClearLastPartner(userID)
	metrics.ReportsTotal.Inc()

	if e.alert != nil {
		e.alert(r)
	}
	for admin := range e.admins {
		e.notify(ctx, admin, fmt.Sprintf("Report received. Reporter: %d, against: %d, reason: %s",
			r.ReporterID, r.ReportedID, report.ReasonLabels[r.Reason]))
	}

	return r, nil
}

// ProfileSummary returns the user's profile, complete or not.
func (e *Engine) ProfileSummary(ctx context.Context, userID int64) (*profile.Profile, error) {
	if rec, blocked := e.bans.Check(userID); blocked {
		return nil, &BlockedError{Record: rec}
	}
	return e.profiles.Ensure(userID), nil
}

// OpenSettings returns the action verbs the settings menu offers;
// each one is a valid token prefix for HandleAction. Gender is absent
// on purpose: it is write-once.
func (e *Engine) OpenSettings(ctx context.Context, userID int64) ([]string, error) {
	if rec, blocked := e.bans.Check(userID); blocked {
		return nil, &BlockedError{Record: rec}
	}
	return []string{protocol.VerbSetAge, protocol.VerbSetLanguage}, nil
}

// SetGender records the write-once gender selection.
func (e *Engine) SetGender(userID int64, g profile.Gender) error {
	return e.profiles.SetGender(userID, g)
}

// SetLanguage records or changes the language selection.
func (e *Engine) SetLanguage(userID int64, code string) error {
	return e.profiles.SetLanguage(userID, code)
}

// SetAge records the optional age field.
func (e *Engine) SetAge(userID int64, age int) error {
	return e.profiles.SetAge(userID, age)
}

// StartSweep runs the ban expiry sweep until ctx is cancelled,
// notifying each unblocked user once.
func (e *Engine) StartSweep(ctx context.Context, interval time.Duration) {
	e.bans.StartSweep(ctx, interval, func(userID int64) error {
		metrics.BlockedUsers.Set(float64(e.bans.Count()))
		return e.tr.Deliver(ctx, userID,
			transport.Notice("Your ban has expired. You can use the chat again. Please follow the rules."))
	})
}

// SweepOnce runs one sweep pass. Exposed for tests and manual runs.
func (e *Engine) SweepOnce(ctx context.Context) int {
	n := e.bans.Sweep(func(userID int64) error {
		return e.tr.Deliver(ctx, userID,
			transport.Notice("Your ban has expired. You can use the chat again. Please follow the rules."))
	})
	metrics.BlockedUsers.Set(float64(e.bans.Count()))
	return n
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

// pairOrWait runs the pairing scan for userID and either creates a
// session with the first eligible queued candidate or leaves the user
// waiting. The whole transition holds the pairing lock.
func (e *Engine) pairOrWait(ctx context.Context, userID int64) Status {
	e.pairMu.Lock()

	partner, matched := e.queue.TryPair(userID, func(candidate int64) bool {
		_, blocked := e.bans.Check(candidate)
		return !blocked
	})

	if !matched {
		if _, ok := e.waitSince[userID]; !ok {
			e.waitSince[userID] = e.now()
		}
		metrics.QueueSize.Set(float64(e.queue.Len()))
		e.pairMu.Unlock()
		return Status{State: StateSearching, Text: "Searching for a partner. Use /stop to stop searching."}
	}

	if err := e.sessions.Create(userID, partner); err != nil {
		// Create refuses when either side already has a session. TryPair
		// removed both ids from the queue, so each session-free side goes
		// back: the candidate first, keeping its position ahead of the
		// requester. A side that does hold a session stays out, so nobody
		// is ever queued and chatting at once.
		log.Printf("[engine] pairing %d with %d failed: %v", userID, partner, err)
		if _, ok := e.sessions.PeerOf(partner); !ok {
			e.queue.Enqueue(partner)
		}
		if _, ok := e.sessions.PeerOf(userID); !ok {
			e.queue.Enqueue(userID)
		}
		metrics.QueueSize.Set(float64(e.queue.Len()))
		e.pairMu.Unlock()
		return Status{State: StateSearching, Text: "Searching for a partner. Use /stop to stop searching."}
	}

	if since, ok := e.waitSince[partner]; ok {
		metrics.PairingWait.Observe(e.now().Sub(since).Seconds())
		delete(e.waitSince, partner)
	}
	delete(e.waitSince, userID)

	e.bumpMatchesToday()
	metrics.MatchesTotal.Inc()
	metrics.QueueSize.Set(float64(e.queue.Len()))
	metrics.ActiveSessions.Set(float64(e.sessions.Count()))
	e.pairMu.Unlock()

	e.notify(ctx, partner, "Partner found. Say hi!")
	return Status{State: StateChatting, Text: "Partner found. Say hi!"}
}

// teardown ends the user's session under the pairing lock and returns
// the former partner. It never re-queues anybody.
func (e *Engine) teardown(userID int64) (int64, bool) {
	e.pairMu.Lock()
	defer e.pairMu.Unlock()

	partner, ok := e.sessions.Teardown(userID)
	if ok {
		metrics.ActiveSessions.Set(float64(e.sessions.Count()))
	}
	return partner, ok
}

// notify sends a best-effort system notice.
func (e *Engine) notify(ctx context.Context, userID int64, text string) {
	if err := e.tr.Deliver(ctx, userID, transport.Notice(text)); err != nil {
		log.Printf("[engine] notify user %d failed: %v", userID, err)
	}
}

// bumpMatchesToday increments the per-day match counter, rolling the
// day over at UTC midnight.
func (e *Engine) bumpMatchesToday() {
	e.dayMu.Lock()
	defer e.dayMu.Unlock()

	today := e.now().UTC().Truncate(24 * time.Hour)
	if !e.day.Equal(today) {
		e.day = today
		e.matchesToday = 0
	}
	e.matchesToday++
}

// MatchesToday returns today's successful pairing count.
func (e *Engine) MatchesToday() int {
	e.dayMu.Lock()
	defer e.dayMu.Unlock()

	if !e.day.Equal(e.now().UTC().Truncate(24 * time.Hour)) {
		return 0
	}
	return e.matchesToday
}
