package engine

import (
	"errors"
	"fmt"

	"github.com/gabbar/chat-engine/internal/ban"
)

// ErrNoReportTarget is returned when a report is filed with no
// resolvable previous partner.
var ErrNoReportTarget = errors.New("engine: no partner to report")

// ErrNotAuthorized is returned for admin operations invoked by a user
// outside the allow-list. Callers drop it silently: the caller gets no
// response, not an error message.
var ErrNotAuthorized = errors.New("engine: not authorized")

// BlockedError refuses an action from a blocked user. It carries the
// block record so the edge can surface the formatted reason and expiry.
type BlockedError struct {
	Record ban.Record
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("engine: user %d blocked until %s (%s)",
		e.Record.UserID, e.Record.Until.UTC().Format("2006-01-02 15:04"), e.Record.Reason)
}

// ProfileIncompleteError refuses an action until profile setup is
// finished. It is a re-prompt step, not a fault: the edge responds by
// prompting for the missing field.
type ProfileIncompleteError struct {
	Missing string // "gender" or "language"
}

func (e *ProfileIncompleteError) Error() string {
	return fmt.Sprintf("engine: profile incomplete, missing %s", e.Missing)
}
