// Package protocol defines the two wire surfaces of the engine: the
// JSON message envelope exchanged with gateway clients, and the opaque
// action-token grammar (verb:argument) used by inline UI callbacks.
package protocol

import (
	"strconv"
	"strings"
)

// Action verbs. Tokens look like "set_gender:Male" or "blk_do:12345";
// some verbs carry no argument.
const (
	VerbSetGender      = "set_gender"
	VerbSetLanguage    = "set_lang"
	VerbSetAge         = "age"
	VerbReportOpen     = "report"
	VerbReportReason   = "rep_reason"
	VerbReportCancel   = "rep_cancel"
	VerbCancelSettings = "cancel_settings"
	VerbAdminNav       = "admin"
	VerbReportFilter   = "rep_filter"
	VerbReportInfo     = "rep_info"
	VerbBlockInfo      = "blk_info"
	VerbBlockDo        = "blk_do"
	VerbBlockUndo      = "blk_un"
)

// Action is a parsed callback token. Exactly one interpretation
// applies per verb: Arg holds string arguments, UserID holds numeric
// ones. Unknown verbs produce a nil Action from ParseAction; callers
// ignore them rather than erroring.
type Action struct {
	Verb   string
	Arg    string
	UserID int64
}

// numericVerbs are the verbs whose argument must parse as a user id.
var numericVerbs = map[string]bool{
	VerbReportInfo: true,
	VerbBlockInfo:  true,
	VerbBlockDo:    true,
	VerbBlockUndo:  true,
}

// knownVerbs is the closed set of recognized action verbs.
var knownVerbs = map[string]bool{
	VerbSetGender:      true,
	VerbSetLanguage:    true,
	VerbSetAge:         true,
	VerbReportOpen:     true,
	VerbReportReason:   true,
	VerbReportCancel:   true,
	VerbCancelSettings: true,
	VerbAdminNav:       true,
	VerbReportFilter:   true,
	VerbReportInfo:     true,
	VerbBlockInfo:      true,
	VerbBlockDo:        true,
	VerbBlockUndo:      true,
}

// ParseAction parses a callback token. Unknown verbs and malformed
// numeric arguments return nil: the protocol treats them as ignorable,
// never fatal.
func ParseAction(token string) *Action {
	verb, arg, _ := strings.Cut(token, ":")
	if !knownVerbs[verb] {
		return nil
	}

	a := &Action{Verb: verb, Arg: arg}
	if numericVerbs[verb] {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil
		}
		a.UserID = id
		a.Arg = ""
	}
	return a
}
