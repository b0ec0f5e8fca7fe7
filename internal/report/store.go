// Package report provides the append-only abuse report ledger. Reports
// capture who reported whom and why; they are never deleted (audit
// trail) and never mutated except for the handled flag, which a
// moderation block flips exactly once.
package report

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reason is a closed enum of report reasons.
type Reason string

const (
	ReasonAdvertising Reason = "Advertising"
	ReasonSelling     Reason = "Selling"
	ReasonChild       Reason = "Child"
	ReasonBegging     Reason = "Begging"
	ReasonInsult      Reason = "Insult"
	ReasonViolence    Reason = "Violence"
	ReasonVulgar      Reason = "Vulgar"
)

// ReasonLabels maps reason codes to their display names.
var ReasonLabels = map[Reason]string{
	ReasonAdvertising: "Advertising",
	ReasonSelling:     "Selling",
	ReasonChild:       "Child Porn",
	ReasonBegging:     "Begging",
	ReasonInsult:      "Insulting",
	ReasonViolence:    "Violence",
	ReasonVulgar:      "Vulgar Partner",
}

// ParseReason validates a reason code received from the action protocol.
func ParseReason(s string) (Reason, error) {
	if _, ok := ReasonLabels[Reason(s)]; !ok {
		return "", fmt.Errorf("report: invalid reason %q", s)
	}
	return Reason(s), nil
}

// Report is a single abuse report. Immutable once created except for
// Handled.
type Report struct {
	ID         string
	ReporterID int64
	ReportedID int64
	Reason     Reason
	CreatedAt  time.Time
	Handled    bool
}

// Filter selects which open reports a moderation query returns.
type Filter struct {
	// Window limits results to reports no older than this. Zero means
	// no time limit.
	Window time.Duration
	// MinCount keeps only reports whose target has at least this many
	// open reports. Zero means no threshold.
	MinCount int
}

// Common filters matching the admin panel's choices.
var (
	FilterAll    = Filter{}
	FilterRecent = Filter{Window: 7 * 24 * time.Hour}
	FilterRepeat = Filter{MinCount: 3}
)

// Ledger is the in-memory report ledger.
type Ledger struct {
	mu      sync.RWMutex
	reports []*Report
	now     func() time.Time
}

// NewLedger creates an empty report ledger.
func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// File appends a new open report and returns a copy of it.
func (l *Ledger) File(reporterID, reportedID int64, reason Reason) (Report, error) {
	if _, ok := ReasonLabels[reason]; !ok {
		return Report{}, fmt.Errorf("report: invalid reason %q", reason)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r := &Report{
		ID:         uuid.New().String(),
		ReporterID: reporterID,
		ReportedID: reportedID,
		Reason:     reason,
		CreatedAt:  l.now(),
	}
	l.reports = append(l.reports, r)
	return *r, nil
}

// Open returns copies of the unhandled reports matching the filter, in
// filing order. Querying never mutates the ledger.
func (l *Ledger) Open(f Filter) []Report {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var cutoff time.Time
	if f.Window > 0 {
		cutoff = l.now().Add(-f.Window)
	}

	open := make([]Report, 0)
	counts := make(map[int64]int)
	for _, r := range l.reports {
		if r.Handled {
			continue
		}
		if f.Window > 0 && r.CreatedAt.Before(cutoff) {
			continue
		}
		open = append(open, *r)
		counts[r.ReportedID]++
	}

	if f.MinCount <= 1 {
		return open
	}

	kept := open[:0]
	for _, r := range open {
		if counts[r.ReportedID] >= f.MinCount {
			kept = append(kept, r)
		}
	}
	return kept
}

// MarkHandled flips the handled flag on every open report against the
// given user. Returns how many reports were closed. Only a moderation
// block action calls this.
func (l *Ledger) MarkHandled(reportedID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, r := range l.reports {
		if r.ReportedID == reportedID && !r.Handled {
			r.Handled = true
			n++
		}
	}
	return n
}

// OpenCount returns the total number of unhandled reports.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, r := range l.reports {
		if !r.Handled {
			n++
		}
	}
	return n
}

// CountAgainst returns the total number of reports (handled or not)
// ever filed against a user. Used for the admin review card.
func (l *Ledger) CountAgainst(reportedID int64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, r := range l.reports {
		if r.ReportedID == reportedID {
			n++
		}
	}
	return n
}

// Latest returns the most recent report against a user, if any.
func (l *Ledger) Latest(reportedID int64) (Report, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.reports) - 1; i >= 0; i-- {
		if l.reports[i].ReportedID == reportedID {
			return *l.reports[i], true
		}
	}
	return Report{}, false
}
