package tipp

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/richard-senior/kicktipp/internal/logger"
)

type submitState int

const (
	stateFill submitState = iota
	stateSubmit
	stateReload
	stateVerify
	stateRetry
	stateDone
)

func (s submitState) String() string {
	switch s {
	case stateFill:
		return "fill"
	case stateSubmit:
		return "submit"
	case stateReload:
		return "reload"
	case stateVerify:
		return "verify"
	case stateRetry:
		return "retry"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// SubmissionReport describes what a Submit call achieved
type SubmissionReport struct {
	Matchday int `json:"matchday"`
	// Total counts the rows that were still writable at the last verification
	Total     int `json:"total"`
	Confirmed int `json:"confirmed"`
	// Attempts is the number of form writes, Writes the number of row values sent
	Attempts   int        `json:"attempts"`
	Writes     int        `json:"writes"`
	Excluded   []int      `json:"excluded,omitempty"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// Err returns a *SubmissionMismatchError if rows remain unconfirmed
func (r *SubmissionReport) Err() error {
	if r == nil || len(r.Mismatches) == 0 {
		return nil
	}
	return &SubmissionMismatchError{
		Matchday:   r.Matchday,
		Confirmed:  r.Confirmed,
		Total:      r.Total,
		Mismatches: r.Mismatches,
	}
}

// SubmissionEngine writes a final prediction set and proves it by reloading
type SubmissionEngine struct {
	remote    Remote
	extractor *FormExtractor
	cfg       SubmitConfig
}

func NewSubmissionEngine(remote Remote, extractor *FormExtractor, cfg SubmitConfig) *SubmissionEngine {
	return &SubmissionEngine{remote: remote, extractor: extractor, cfg: cfg}
}

// MaxAttempts is the number of form writes Submit may perform
func (e *SubmissionEngine) MaxAttempts() int {
	if e.cfg.Retries < 0 {
		return 1
	}
	return 1 + e.cfg.Retries
}

// target is a prediction tied to the field names of the row it was made for
type target struct {
	pred      Prediction
	homeField string
	awayField string
}

// Submit brings the rendered values of page in line with preds.
// The page is verified first, so an already correct set is never written.
// Network failures from the Remote are returned unchanged, remaining
// mismatches as *SubmissionMismatchError alongside the report.
func (e *SubmissionEngine) Submit(ctx context.Context, page *Page, preds []Prediction) (*SubmissionReport, error) {
	report := &SubmissionReport{Matchday: page.Matchday}
	targets := e.targets(page, preds)
	if len(targets) == 0 {
		logger.Info(fmt.Sprintf("Matchday %d: nothing to submit", page.Matchday))
		return report, nil
	}

	current := page
	var pending []Prediction
	var values url.Values
	state := stateVerify

	for state != stateDone {
		logger.Debug(fmt.Sprintf("Matchday %d: submission state %s (attempt %d/%d)", page.Matchday, state, report.Attempts, e.MaxAttempts()))
		switch state {
		case stateVerify:
			targets, pending = e.verify(current, targets, report)
			switch {
			case len(pending) == 0:
				state = stateDone
			case report.Attempts == 0:
				state = stateFill
			case report.Attempts >= e.MaxAttempts():
				state = stateDone
			default:
				state = stateRetry
			}

		case stateRetry:
			logger.Warn(fmt.Sprintf("Matchday %d: %d rows not confirmed, retrying", page.Matchday, len(pending)))
			state = stateFill

		case stateFill:
			if current.Form == nil {
				return report, fmt.Errorf("matchday %d: page has no tipp form to submit", page.Matchday)
			}
			values = current.Form.Fill(current.Rows, pending)
			state = stateSubmit

		case stateSubmit:
			if report.Attempts > 0 {
				if err := e.pause(ctx); err != nil {
					return report, err
				}
			}
			req := SubmitRequest{
				Method:  current.Form.Method,
				Action:  current.Form.Action,
				Referer: current.URL,
				Values:  values,
			}
			if err := e.remote.Send(ctx, req); err != nil {
				return report, err
			}
			report.Attempts++
			report.Writes += len(pending)
			logger.Info(fmt.Sprintf("Matchday %d: sent %d tipps (attempt %d)", page.Matchday, len(pending), report.Attempts))
			state = stateReload

		case stateReload:
			doc, err := e.remote.Load(ctx, page.Matchday)
			if err != nil {
				return report, err
			}
			next, err := e.extractor.ParsePage(doc.HTML, doc.URL, page.Matchday)
			if err != nil {
				return report, fmt.Errorf("reload after submit: %w", err)
			}
			current = next
			state = stateVerify
		}
	}

	sort.Ints(report.Excluded)
	if err := report.Err(); err != nil {
		logger.Error(err.Error())
		return report, err
	}
	logger.Inform(fmt.Sprintf("Matchday %d: %d/%d tipps confirmed", page.Matchday, report.Confirmed, report.Total))
	return report, nil
}

func (e *SubmissionEngine) targets(page *Page, preds []Prediction) []target {
	byIndex := make(map[int]Row, len(page.Rows))
	for _, r := range page.Rows {
		byIndex[r.Index] = r
	}
	var out []target
	for _, p := range preds {
		r, ok := byIndex[p.RowIndex]
		if !ok || !r.Open {
			continue
		}
		out = append(out, target{pred: p, homeField: r.HomeField, awayField: r.AwayField})
	}
	return out
}

// verify compares every target against the rendered values of current.
// Targets whose row vanished or closed are dropped and recorded as excluded.
// The pending predictions are returned with the row indices of current.
func (e *SubmissionEngine) verify(current *Page, targets []target, report *SubmissionReport) ([]target, []Prediction) {
	byField := make(map[string]Row, len(current.Rows))
	byIndex := make(map[int]Row, len(current.Rows))
	for _, r := range current.Rows {
		byField[r.HomeField] = r
		byIndex[r.Index] = r
	}

	kept := targets[:0]
	var pending []Prediction
	report.Confirmed = 0
	report.Mismatches = nil
	for _, t := range targets {
		r, ok := byField[t.homeField]
		if !ok || t.homeField == "" {
			r, ok = byIndex[t.pred.RowIndex]
		}
		if !ok || !r.Open {
			logger.Warn(fmt.Sprintf("Matchday %d: row %d is no longer open, excluded", current.Matchday, t.pred.RowIndex))
			report.Excluded = append(report.Excluded, t.pred.RowIndex)
			continue
		}
		kept = append(kept, t)

		home, away := current.Values[r.HomeField], current.Values[r.AwayField]
		if sameGoals(home, t.pred.HomeGoals) && sameGoals(away, t.pred.AwayGoals) {
			report.Confirmed++
			continue
		}
		report.Mismatches = append(report.Mismatches, Mismatch{
			RowIndex:     t.pred.RowIndex,
			WantHome:     t.pred.HomeGoals,
			WantAway:     t.pred.AwayGoals,
			RenderedHome: home,
			RenderedAway: away,
		})
		p := t.pred
		p.RowIndex = r.Index
		pending = append(pending, p)
	}
	report.Total = len(kept)
	return kept, pending
}

func sameGoals(rendered string, want int) bool {
	n, err := strconv.Atoi(strings.TrimSpace(rendered))
	return err == nil && n == want
}

func (e *SubmissionEngine) pause(ctx context.Context) error {
	if e.cfg.Pause <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.cfg.Pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
