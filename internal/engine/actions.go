package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gabbar/chat-engine/internal/profile"
	"github.com/gabbar/chat-engine/internal/protocol"
	"github.com/gabbar/chat-engine/internal/report"
)

// ActionResult is the outcome of an inline-callback action. Ignored is
// true for unknown verbs and silently dropped admin actions; the edge
// sends nothing back for those.
type ActionResult struct {
	Ignored bool
	Text    string
}

// HandleAction parses and executes a callback token. Unknown verbs are
// ignored, never fatal. Admin-prefixed verbs from non-admins are
// dropped with no response.
func (e *Engine) HandleAction(ctx context.Context, userID int64, token string) (ActionResult, error) {
	a := protocol.ParseAction(token)
	if a == nil {
		return ActionResult{Ignored: true}, nil
	}

	if rec, blocked := e.bans.Check(userID); blocked {
		return ActionResult{}, &BlockedError{Record: rec}
	}

	switch a.Verb {
	case protocol.VerbSetGender:
		g, err := profile.ParseGender(a.Arg)
		if err != nil {
			return ActionResult{Ignored: true}, nil
		}
		if err := e.profiles.SetGender(userID, g); err != nil {
			return ActionResult{Text: "Gender is already set and cannot be changed."}, nil
		}
		return ActionResult{Text: "Gender saved."}, nil

	case protocol.VerbSetLanguage:
		if err := e.profiles.SetLanguage(userID, a.Arg); err != nil {
			return ActionResult{Ignored: true}, nil
		}
		return ActionResult{Text: "Language saved."}, nil

	case protocol.VerbSetAge:
		age, err := strconv.Atoi(a.Arg)
		if err != nil {
			return ActionResult{Ignored: true}, nil
		}
		if err := e.profiles.SetAge(userID, age); err != nil {
			return ActionResult{Text: "That age does not look right."}, nil
		}
		return ActionResult{Text: "Age saved."}, nil

	case protocol.VerbReportOpen:
		if _, ok := e.sessions.LastPartnerOf(userID); !ok {
			return ActionResult{}, ErrNoReportTarget
		}
		return ActionResult{Text: "Select a reason to report your previous partner."}, nil

	case protocol.VerbReportReason:
		reason, err := report.ParseReason(a.Arg)
		if err != nil {
			return ActionResult{Ignored: true}, nil
		}
		if _, err := e.FileReport(ctx, userID, reason); err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Text: "Report submitted. Thank you!"}, nil

	case protocol.VerbReportCancel:
		return ActionResult{Text: "Report cancelled."}, nil

	case protocol.VerbCancelSettings:
		if _, ok := e.sessions.PeerOf(userID); ok {
			return ActionResult{Text: "Cancelled. You are currently in a chat."}, nil
		}
		return ActionResult{Text: "Cancelled. Use /next to start chatting."}, nil

	case protocol.VerbAdminNav:
		if !e.IsAdmin(userID) {
			return ActionResult{Ignored: true}, nil
		}
		switch a.Arg {
		case "stats":
			stats, err := e.AdminStats(userID)
			if err != nil {
				return ActionResult{}, err
			}
			return ActionResult{Text: stats.Format()}, nil
		case "reports":
			return ActionResult{Text: fmt.Sprintf("%d open reports. Filters: all, 7d, 3+.",
				e.reports.OpenCount())}, nil
		case "blocked":
			return ActionResult{Text: e.formatBlockedList()}, nil
		}
		return ActionResult{Text: "Admin panel: reports, blocked, stats."}, nil

	case protocol.VerbReportFilter:
		reports, err := e.AdminListReports(userID, a.Arg)
		if err != nil {
			return ActionResult{Ignored: true}, nil
		}
		return ActionResult{Text: fmt.Sprintf("%d open reports in this filter.", len(reports))}, nil

	case protocol.VerbReportInfo:
		card, err := e.AdminReportCard(userID, a.UserID)
		if err != nil {
			return ActionResult{Ignored: true}, nil
		}
		return ActionResult{Text: fmt.Sprintf("Reports for %d: total %d, last reason %s",
			card.UserID, card.Total, report.ReasonLabels[card.Latest.Reason])}, nil

	case protocol.VerbBlockInfo:
		if !e.IsAdmin(userID) {
			return ActionResult{Ignored: true}, nil
		}
		if rec, blocked := e.bans.Check(a.UserID); blocked {
			return ActionResult{Text: fmt.Sprintf("Blocked user %d: reason %s, strikes %d, ends %s",
				rec.UserID, rec.Reason, rec.Strikes, rec.Until.UTC().Format("2006-01-02 15:04"))}, nil
		}
		return ActionResult{Text: fmt.Sprintf("User %d is not blocked.", a.UserID)}, nil

	case protocol.VerbBlockDo:
		rec, err := e.AdminBlock(ctx, userID, a.UserID)
		if err != nil {
			return ActionResult{Ignored: true}, nil
		}
		return ActionResult{Text: fmt.Sprintf("User %d blocked until %s.",
			a.UserID, rec.Until.UTC().Format("2006-01-02 15:04"))}, nil

	case protocol.VerbBlockUndo:
		if _, err := e.AdminUnblock(ctx, userID, a.UserID); err != nil {
			return ActionResult{Ignored: true}, nil
		}
		return ActionResult{Text: fmt.Sprintf("User %d unblocked.", a.UserID)}, nil
	}

	return ActionResult{Ignored: true}, nil
}
