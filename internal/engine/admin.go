package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/gabbar/chat-engine/internal/ban"
	"github.com/gabbar/chat-engine/internal/metrics"
	"github.com/gabbar/chat-engine/internal/report"
)

// Stats is the on-demand snapshot the admin panel shows. Nothing here
// is cached; every field is computed from current store state so the
// numbers are always consistent with the stores' invariants.
type Stats struct {
	TotalUsers        int
	CompletedProfiles int
	ActiveSessions    int
	Queued            int
	BlockedCount      int
	OpenReports       int
	NewUsersToday     int
	Online            int
	MatchesToday      int
}

// ReportCard summarizes the reports against one user for moderator
// review.
type ReportCard struct {
	UserID  int64
	Total   int
	Latest  report.Report
	Strikes int
}

// IsAdmin reports membership in the fixed admin allow-list.
func (e *Engine) IsAdmin(userID int64) bool {
	_, ok := e.admins[userID]
	return ok
}

// AdminListReports returns the open reports matching the named filter
// ("all", "7d", "3+"). Unknown filter names behave like "all".
func (e *Engine) AdminListReports(adminID int64, filterName string) ([]report.Report, error) {
	if !e.IsAdmin(adminID) {
		return nil, ErrNotAuthorized
	}

	f := report.FilterAll
	switch filterName {
	case "7d":
		f = report.FilterRecent
	case "3+":
		f = report.FilterRepeat
	}
	return e.reports.Open(f), nil
}

// AdminReportCard returns the review card for one reported user.
func (e *Engine) AdminReportCard(adminID, targetID int64) (ReportCard, error) {
	if !e.IsAdmin(adminID) {
		return ReportCard{}, ErrNotAuthorized
	}

	card := ReportCard{
		UserID:  targetID,
		Total:   e.reports.CountAgainst(targetID),
		Strikes: e.bans.Strikes(targetID),
	}
	if latest, ok := e.reports.Latest(targetID); ok {
		card.Latest = latest
	}
	return card, nil
}

// AdminBlock applies an escalating block to the target and closes the
// target's open reports. A still-queued target keeps its queue entry
// but the pairing scan skips blocked candidates, so it stays
// ineligible until the block lifts.
func (e *Engine) AdminBlock(ctx context.Context, adminID, targetID int64) (ban.Record, error) {
	if !e.IsAdmin(adminID) {
		return ban.Record{}, ErrNotAuthorized
	}

	rec := e.bans.Block(targetID, "Admin")
	closed := e.reports.MarkHandled(targetID)

	metrics.BlocksTotal.Inc()
	metrics.BlockedUsers.Set(float64(e.bans.Count()))

	log.Printf("[engine] admin %d blocked user %d for %s (strike %d, %d reports closed)",
		adminID, targetID, ban.LadderDuration(rec.Strikes-1), rec.Strikes, closed)
	return rec, nil
}

// AdminUnblock lifts a block immediately. The strike counter stays,
// so a later block still escalates.
func (e *Engine) AdminUnblock(ctx context.Context, adminID, targetID int64) (bool, error) {
	if !e.IsAdmin(adminID) {
		return false, ErrNotAuthorized
	}

	lifted := e.bans.Unblock(targetID)
	metrics.BlockedUsers.Set(float64(e.bans.Count()))
	if lifted {
		e.notify(ctx, targetID, "You have been unblocked. Please follow the rules.")
	}
	return lifted, nil
}

// AdminBlockedList returns every currently blocked user.
func (e *Engine) AdminBlockedList(adminID int64) ([]ban.Record, error) {
	if !e.IsAdmin(adminID) {
		return nil, ErrNotAuthorized
	}
	return e.bans.Blocked(), nil
}

// formatBlockedList renders the blocked-user list with hours
// remaining.
func (e *Engine) formatBlockedList() string {
	blocked := e.bans.Blocked()
	if len(blocked) == 0 {
		return "No blocked users."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Blocked users: %d\n", len(blocked))
	now := e.now()
	for _, rec := range blocked {
		fmt.Fprintf(&b, "- %d: %s, %.0fh left (strike %d)\n",
			rec.UserID, rec.Reason, rec.Remaining(now).Hours(), rec.Strikes)
	}
	return strings.TrimRight(b.String(), "\n")
}

// AdminStats computes the stats snapshot on demand.
func (e *Engine) AdminStats(adminID int64) (Stats, error) {
	if !e.IsAdmin(adminID) {
		return Stats{}, ErrNotAuthorized
	}

	participants := e.sessions.Participants()
	online := make(map[int64]struct{}, len(participants))
	for _, id := range participants {
		online[id] = struct{}{}
	}
	for _, id := range e.queue.Snapshot() {
		online[id] = struct{}{}
	}

	return Stats{
		TotalUsers:        e.profiles.Count(),
		CompletedProfiles: e.profiles.CompletedCount(),
		ActiveSessions:    e.sessions.Count(),
		Queued:            e.queue.Len(),
		BlockedCount:      e.bans.Count(),
		OpenReports:       e.reports.OpenCount(),
		NewUsersToday:     e.profiles.CreatedTodayCount(),
		Online:            len(online),
		MatchesToday:      e.MatchesToday(),
	}, nil
}

// Format renders the stats block the admin panel displays.
func (s Stats) Format() string {
	return fmt.Sprintf(
		"Total users: %d\nProfiles completed: %d\nActive chats: %d\n"+
			"Searching: %d\nNew users today: %d\nOnline: %d\n"+
			"Blocked users: %d\nOpen reports: %d\nMatches today: %d",
		s.TotalUsers, s.CompletedProfiles, s.ActiveSessions,
		s.Queued, s.NewUsersToday, s.Online,
		s.BlockedCount, s.OpenReports, s.MatchesToday)
}
