package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gabbar/chat-engine/internal/protocol"
	"github.com/gabbar/chat-engine/internal/report"
	"github.com/gabbar/chat-engine/internal/transport"
)

// fakeTransport records deliveries and can simulate unreachable users.
type fakeTransport struct {
	mu        sync.Mutex
	delivered map[int64][]transport.Payload
	fail      map[int64]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		delivered: make(map[int64][]transport.Payload),
		fail:      make(map[int64]bool),
	}
}

func (f *fakeTransport) Deliver(ctx context.Context, userID int64, p transport.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[userID] {
		return &transport.DeliveryError{UserID: userID, Err: errors.New("offline")}
	}
	f.delivered[userID] = append(f.delivered[userID], p)
	return nil
}

func (f *fakeTransport) count(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered[userID])
}

const adminID int64 = 100

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestEngine() (*Engine, *fakeTransport, *testClock) {
	ft := newFakeTransport()
	clock := &testClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	e := New(Config{
		Transport: ft,
		AdminIDs:  []int64{adminID},
		Clock:     clock.Now,
	})
	return e, ft, clock
}

// completeProfile walks a user through the setup flow.
func completeProfile(t *testing.T, e *Engine, id int64) {
	t.Helper()
	e.profiles.Ensure(id)
	if err := e.profiles.SetGender(id, "Male"); err != nil {
		t.Fatalf("SetGender(%d): %v", id, err)
	}
	if err := e.profiles.SetLanguage(id, "en"); err != nil {
		t.Fatalf("SetLanguage(%d): %v", id, err)
	}
}

func TestStartOrResumeNewUserPromptsForGender(t *testing.T) {
	e, _, _ := newTestEngine()

	_, err := e.StartOrResume(context.Background(), 1)
	var pe *ProfileIncompleteError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProfileIncompleteError, got %v", err)
	}
	if pe.Missing != "gender" {
		t.Errorf("missing field = %q, want gender", pe.Missing)
	}
}

func TestPairingScenarioFIFOWithBlockedCandidate(t *testing.T) {
	// C enqueues and then gets blocked; the block leaves the queue
	// entry but makes C ineligible. A's request skips C and enqueues A.
	// B's request pairs B with A (FIFO), leaving C queued alone.
	e, ft, _ := newTestEngine()
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		completeProfile(t, e, id)
	}

	if _, err := e.RequestNext(ctx, 3); err != nil { // C
		t.Fatalf("C: %v", err)
	}
	if _, err := e.AdminBlock(ctx, adminID, 3); err != nil {
		t.Fatalf("AdminBlock: %v", err)
	}
	if !e.queue.Contains(3) {
		t.Fatal("blocked user keeps its queue entry but becomes ineligible")
	}

	st, err := e.RequestNext(ctx, 1) // A skips blocked C
	if err != nil {
		t.Fatalf("A: %v", err)
	}
	if st.State != StateSearching {
		t.Fatalf("A should be searching (C is ineligible), got %q", st.State)
	}

	st, err = e.RequestNext(ctx, 2) // B
	if err != nil {
		t.Fatalf("B: %v", err)
	}
	if st.State != StateChatting {
		t.Fatalf("B should be chatting, got %q", st.State)
	}
	if !e.queue.Contains(3) {
		t.Error("C should remain queued alone")
	}

	// Pairing is symmetric.
	if p, ok := e.sessions.PeerOf(1); !ok || p != 2 {
		t.Errorf("PeerOf(1) = (%d, %v), want (2, true)", p, ok)
	}
	if p, ok := e.sessions.PeerOf(2); !ok || p != 1 {
		t.Errorf("PeerOf(2) = (%d, %v), want (1, true)", p, ok)
	}

	// A got the match notice.
	if ft.count(1) == 0 {
		t.Error("expected a match notice delivered to A")
	}
}

func TestQueuedAndInSessionAreMutuallyExclusive(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	completeProfile(t, e, 1)
	completeProfile(t, e, 2)

	e.RequestNext(ctx, 1)
	e.RequestNext(ctx, 2) // pairs 1 and 2

	for _, id := range []int64{1, 2} {
		_, inSession := e.sessions.PeerOf(id)
		queued := e.queue.Contains(id)
		if inSession && queued {
			t.Errorf("user %d is both queued and in session", id)
		}
		if !inSession {
			t.Errorf("user %d should be in session", id)
		}
	}

	// Searching user is queued, not in session.
	completeProfile(t, e, 3)
	e.RequestNext(ctx, 3)
	if _, ok := e.sessions.PeerOf(3); ok {
		t.Error("user 3 should not have a session")
	}
	if !e.queue.Contains(3) {
		t.Error("user 3 should be queued")
	}
}

func TestStopTearsDownAndNeverRequeues(t *testing.T) {
	e, ft, _ := newTestEngine()
	ctx := context.Background()
	completeProfile(t, e, 1)
	completeProfile(t, e, 2)

	e.RequestNext(ctx, 1)
	e.RequestNext(ctx, 2)
	before := ft.count(2)

	st, err := e.Stop(ctx, 1)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st.State != StateIdle {
		t.Errorf("state after stop = %q, want idle", st.State)
	}

	// Ex-partner was notified.
	if ft.count(2) != before+1 {
		t.Error("expected partner-left notice for user 2")
	}

	// Neither side is auto-requeued.
	if e.queue.Contains(1) || e.queue.Contains(2) {
		t.Error("teardown must not re-queue either side")
	}
	if _, ok := e.sessions.PeerOf(2); ok {
		t.Error("user 2 should have no session after partner stopped")
	}
}

func TestBlockedGuardRefusesWithNoSideEffects(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	completeProfile(t, e, 1)
	e.AdminBlock(ctx, adminID, 1)

	queueBefore := e.queue.Len()

	_, err := e.RequestNext(ctx, 1)
	var be *BlockedError
	if !errors.As(err, &be) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if be.Record.Reason == "" || be.Record.Until.IsZero() {
		t.Error("blocked refusal must carry reason and expiry")
	}
	if msg := be.Record.Message(); msg == "" {
		t.Error("expected a formatted refusal message")
	}

	if e.queue.Len() != queueBefore {
		t.Error("refused action must leave the queue untouched")
	}
	if _, err := e.Stop(ctx, 1); !errors.As(err, &be) {
		t.Error("Stop should also be refused for a blocked user")
	}
	if _, err := e.Relay(ctx, 1, transport.Payload{Kind: transport.KindText, Text: "hi"}); !errors.As(err, &be) {
		t.Error("Relay should also be refused for a blocked user")
	}
}

func TestRelay(t *testing.T) {
	e, ft, _ := newTestEngine()
	ctx := context.Background()
	completeProfile(t, e, 1)
	completeProfile(t, e, 2)

	// Not in chat and not queued.
	st, err := e.Relay(ctx, 1, transport.Payload{Kind: transport.KindText, Text: "hi"})
	if err != nil || st.State != StateIdle {
		t.Fatalf("idle relay: status=%+v err=%v", st, err)
	}

	e.RequestNext(ctx, 1)
	st, err = e.Relay(ctx, 1, transport.Payload{Kind: transport.KindText, Text: "hi"})
	if err != nil || st.State != StateSearching {
		t.Fatalf("queued relay: status=%+v err=%v", st, err)
	}

	e.RequestNext(ctx, 2)
	before := ft.count(1)
	st, err = e.Relay(ctx, 2, transport.Payload{Kind: transport.KindPhoto, FileID: "f-1", Caption: "look"})
	if err != nil || st.State != StateChatting {
		t.Fatalf("chat relay: status=%+v err=%v", st, err)
	}
	if ft.count(1) != before+1 {
		t.Error("payload should be delivered to the partner")
	}
}

func TestRelayDeliveryFailureDoesNotFailSender(t *testing.T) {
	e, ft, _ := newTestEngine()
	ctx := context.Background()
	completeProfile(t, e, 1)
	completeProfile(t, e, 2)
	e.RequestNext(ctx, 1)
	e.RequestNext(ctx, 2)

	ft.fail[1] = true
	st, err := e.Relay(ctx, 2, transport.Payload{Kind: transport.KindText, Text: "hello?"})
	if err != nil {
		t.Fatalf("sender must not see the partner's delivery failure: %v", err)
	}
	if st.State != StateChatting {
		t.Errorf("state = %q, want chatting", st.State)
	}
}

func TestFileReport(t *testing.T) {
	e, ft, _ := newTestEngine()
	ctx := context.Background()
	completeProfile(t, e, 1)
	completeProfile(t, e, 2)

	// No partner yet: no report target.
	if _, err := e.FileReport(ctx, 1, report.ReasonInsult); !errors.Is(err, ErrNoReportTarget) {
		t.Fatalf("expected ErrNoReportTarget, got %v", err)
	}

	e.RequestNext(ctx, 1)
	e.RequestNext(ctx, 2)
	e.Stop(ctx, 1)

	r, err := e.FileReport(ctx, 1, report.ReasonSelling)
	if err != nil {
		t.Fatalf("FileReport: %v", err)
	}
	if r.ReportedID != 2 {
		t.Errorf("report target = %d, want last partner 2", r.ReportedID)
	}
	if ft.count(adminID) == 0 {
		t.Error("moderators should be alerted about the new report")
	}

	// The last-partner pointer is consumed by filing.
	if _, err := e.FileReport(ctx, 1, report.ReasonSelling); !errors.Is(err, ErrNoReportTarget) {
		t.Errorf("second report without a new partner should fail, got %v", err)
	}
}

func TestAdminBlockClosesReportsAndOnlyBlockDoes(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	completeProfile(t, e, 1)
	completeProfile(t, e, 2)
	e.RequestNext(ctx, 1)
	e.RequestNext(ctx, 2)
	e.Stop(ctx, 1)
	e.FileReport(ctx, 1, report.ReasonVulgar)

	if got := e.reports.OpenCount(); got != 1 {
		t.Fatalf("open reports = %d, want 1", got)
	}

	// Queries and unblock do not touch the handled flag.
	e.AdminListReports(adminID, "all")
	e.AdminUnblock(ctx, adminID, 2)
	if got := e.reports.OpenCount(); got != 1 {
		t.Fatalf("open reports after queries = %d, want 1", got)
	}

	rec, err := e.AdminBlock(ctx, adminID, 2)
	if err != nil {
		t.Fatalf("AdminBlock: %v", err)
	}
	if rec.Strikes != 1 {
		t.Errorf("strikes = %d, want 1", rec.Strikes)
	}
	if got := e.reports.OpenCount(); got != 0 {
		t.Errorf("open reports after block = %d, want 0", got)
	}
}

func TestAdminOpsSilentlyDenied(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()

	if _, err := e.AdminStats(55); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("AdminStats by non-admin: %v, want ErrNotAuthorized", err)
	}
	if _, err := e.AdminBlock(ctx, 55, 2); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("AdminBlock by non-admin: %v, want ErrNotAuthorized", err)
	}
	if _, err := e.AdminListReports(55, "all"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("AdminListReports by non-admin: %v, want ErrNotAuthorized", err)
	}

	// And via the action surface: drops with no response at all.
	res, err := e.HandleAction(ctx, 55, "blk_do:2")
	if err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if !res.Ignored {
		t.Error("non-admin blk_do should be silently ignored")
	}
	if _, blocked := e.bans.Check(2); blocked {
		t.Error("denied admin action must have no effect")
	}
}

func TestStatsComputedOnDemand(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3, 4} {
		completeProfile(t, e, id)
	}
	e.profiles.Ensure(5) // incomplete profile

	e.RequestNext(ctx, 1)
	e.RequestNext(ctx, 2) // 1+2 chatting
	e.RequestNext(ctx, 3) // searching
	e.AdminBlock(ctx, adminID, 4)
	e.sessions.Teardown(0) // no-op, stats must not care

	stats, err := e.AdminStats(adminID)
	if err != nil {
		t.Fatalf("AdminStats: %v", err)
	}

	if stats.TotalUsers != 5 {
		t.Errorf("TotalUsers = %d, want 5", stats.TotalUsers)
	}
	if stats.CompletedProfiles != 4 {
		t.Errorf("CompletedProfiles = %d, want 4", stats.CompletedProfiles)
	}
	if stats.ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d, want 1", stats.ActiveSessions)
	}
	if stats.Queued != 1 {
		t.Errorf("Queued = %d, want 1", stats.Queued)
	}
	if stats.BlockedCount != 1 {
		t.Errorf("BlockedCount = %d, want 1", stats.BlockedCount)
	}
	if stats.Online != 3 {
		t.Errorf("Online = %d, want 3 (two chatting, one searching)", stats.Online)
	}
	if stats.MatchesToday != 1 {
		t.Errorf("MatchesToday = %d, want 1", stats.MatchesToday)
	}
}

func TestSweepNotifiesOnceAndIsIdempotent(t *testing.T) {
	e, ft, clock := newTestEngine()
	ctx := context.Background()
	completeProfile(t, e, 1)
	e.AdminBlock(ctx, adminID, 1) // 24h first rung

	if n := e.SweepOnce(ctx); n != 0 {
		t.Fatalf("sweep before expiry unblocked %d users", n)
	}

	clock.Advance(24*time.Hour + time.Minute)
	before := ft.count(1)
	if n := e.SweepOnce(ctx); n != 1 {
		t.Fatalf("sweep at expiry unblocked %d users, want 1", n)
	}
	if ft.count(1) != before+1 {
		t.Error("expected exactly one unban notice")
	}
	if n := e.SweepOnce(ctx); n != 0 {
		t.Errorf("second sweep unblocked %d users, want 0", n)
	}
	if ft.count(1) != before+1 {
		t.Error("idempotent sweep must not notify again")
	}

	// User can act again.
	if _, err := e.StartOrResume(ctx, 1); err != nil {
		t.Errorf("unblocked user should be served: %v", err)
	}
}

func TestHandleActionSetupFlow(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()

	if res, err := e.HandleAction(ctx, 1, "set_gender:Female"); err != nil || res.Ignored {
		t.Fatalf("set_gender: res=%+v err=%v", res, err)
	}
	// Write-once: second attempt is refused with a message, not applied.
	if res, _ := e.HandleAction(ctx, 1, "set_gender:Male"); res.Ignored {
		t.Error("second set_gender should answer, not be ignored")
	}
	if got := e.profiles.Get(1).Gender; got != "Female" {
		t.Errorf("gender = %q, want unchanged Female", got)
	}

	if res, err := e.HandleAction(ctx, 1, "set_lang:hi"); err != nil || res.Ignored {
		t.Fatalf("set_lang: res=%+v err=%v", res, err)
	}
	if !e.profiles.Complete(1) {
		t.Error("profile should be complete after the action flow")
	}

	// Unknown verbs are ignored, not fatal.
	if res, err := e.HandleAction(ctx, 1, "warp_drive:on"); err != nil || !res.Ignored {
		t.Errorf("unknown verb: res=%+v err=%v, want ignored", res, err)
	}
}

func TestOpenSettingsTokensRoundTrip(t *testing.T) {
	// Every verb the settings menu advertises must be accepted by the
	// action grammar and applied by HandleAction.
	e, _, _ := newTestEngine()
	ctx := context.Background()
	completeProfile(t, e, 1)

	tokens, err := e.OpenSettings(ctx, 1)
	if err != nil {
		t.Fatalf("OpenSettings: %v", err)
	}
	if len(tokens) == 0 {
		t.Fatal("settings menu offers no tokens")
	}

	args := map[string]string{
		protocol.VerbSetAge:      "25",
		protocol.VerbSetLanguage: "es",
	}
	for _, tok := range tokens {
		arg, ok := args[tok]
		if !ok {
			t.Fatalf("settings menu offers unknown token %q", tok)
		}
		res, err := e.HandleAction(ctx, 1, tok+":"+arg)
		if err != nil {
			t.Fatalf("settings token %q: %v", tok, err)
		}
		if res.Ignored {
			t.Errorf("settings token %q is ignored by the action grammar", tok)
		}
	}

	p := e.profiles.Get(1)
	if p.Age != 25 {
		t.Errorf("age = %d, want 25", p.Age)
	}
	if p.Language != "es" {
		t.Errorf("language = %q, want es", p.Language)
	}
}

func TestPairingCreateFailureRequeuesSessionFreeSide(t *testing.T) {
	// If session creation refuses a scanned candidate, the requester
	// goes back in the queue; the side that already holds a session
	// does not.
	e, _, _ := newTestEngine()
	ctx := context.Background()
	completeProfile(t, e, 1)
	completeProfile(t, e, 2)

	e.queue.Enqueue(2)
	if err := e.sessions.Create(2, 99); err != nil {
		t.Fatalf("Create(2, 99): %v", err)
	}

	st, err := e.RequestNext(ctx, 1)
	if err != nil {
		t.Fatalf("RequestNext: %v", err)
	}
	if st.State != StateSearching {
		t.Fatalf("state = %q, want searching", st.State)
	}
	if !e.queue.Contains(1) {
		t.Error("requester should be back in the queue")
	}
	if e.queue.Contains(2) {
		t.Error("a user holding a session must not be re-queued")
	}
	if p, ok := e.sessions.PeerOf(2); !ok || p != 99 {
		t.Errorf("PeerOf(2) = (%d, %v), want (99, true)", p, ok)
	}
}

func TestStateIsLostOnRestart(t *testing.T) {
	// State is volatile by design: a fresh engine knows nothing about
	// the old one's queues, sessions, reports, or bans.
	e, _, _ := newTestEngine()
	ctx := context.Background()
	completeProfile(t, e, 1)
	completeProfile(t, e, 2)
	e.RequestNext(ctx, 1)
	e.RequestNext(ctx, 2)
	e.Stop(ctx, 1)
	e.FileReport(ctx, 1, report.ReasonInsult)
	e.AdminBlock(ctx, adminID, 2)

	restarted, _, _ := newTestEngine()
	stats, err := restarted.AdminStats(adminID)
	if err != nil {
		t.Fatalf("AdminStats: %v", err)
	}
	if stats != (Stats{}) {
		t.Errorf("restarted engine should start empty, got %+v", stats)
	}
	if _, blocked := restarted.bans.Check(2); blocked {
		t.Error("ban state must not survive a restart")
	}
}
