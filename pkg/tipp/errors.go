package tipp

import (
	"fmt"
	"strings"
)

// ParseError means the page did not contain the expected tipp rows.
// Fatal for the matchday.
type ParseError struct {
	Matchday int
	Found    int
	Expected int
	Reason   string
}

func (e *ParseError) Error() string {
	if e.Expected > 0 {
		return fmt.Sprintf("parse matchday %d: found %d of %d rows: %s", e.Matchday, e.Found, e.Expected, e.Reason)
	}
	return fmt.Sprintf("parse matchday %d: found %d rows: %s", e.Matchday, e.Found, e.Reason)
}

// MappingError is the soft failure of TeamMatcher. It never leaves the validator.
type MappingError struct {
	Query     Pairing
	BestIndex int
	BestScore float64
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("no row matches %q - %q (best #%d at %.2f)", e.Query.Home, e.Query.Away, e.BestIndex, e.BestScore)
}

// Rule names the structural rule a candidate set violated
type Rule string

const (
	RuleEmpty     Rule = "empty"
	RuleCount     Rule = "count"
	RuleDuplicate Rule = "duplicate"
)

// ValidationError rejects a candidate set; callers re-invoke the predictor
type ValidationError struct {
	Rule   Rule
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Detail)
}

// Mismatch is a row whose rendered values differ from what was sent
type Mismatch struct {
	RowIndex     int    `json:"row_index"`
	WantHome     int    `json:"want_home"`
	WantAway     int    `json:"want_away"`
	RenderedHome string `json:"rendered_home"`
	RenderedAway string `json:"rendered_away"`
}

// SubmissionMismatchError reports rows still wrong after the retry bound
type SubmissionMismatchError struct {
	Matchday   int
	Confirmed  int
	Total      int
	Mismatches []Mismatch
}

func (e *SubmissionMismatchError) Error() string {
	rows := make([]string, 0, len(e.Mismatches))
	for _, m := range e.Mismatches {
		rows = append(rows, fmt.Sprintf("#%d want %d:%d got %q:%q", m.RowIndex, m.WantHome, m.WantAway, m.RenderedHome, m.RenderedAway))
	}
	return fmt.Sprintf("matchday %d: %d/%d rows confirmed, mismatched %s", e.Matchday, e.Confirmed, e.Total, strings.Join(rows, ", "))
}

// NetworkError wraps any HTTP failure or timeout
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
