package tipp

import (
	"context"
	"fmt"
	"math"
	"net/url"
)

//////////////////////////////////////////////////////////////////
////// Odds
//////////////////////////////////////////////////////////////////

// Odds are decimal bookmaker odds for home win, draw and away win
type Odds struct {
	Home float64 `json:"h"`
	Draw float64 `json:"d"`
	Away float64 `json:"a"`
}

// Valid is true when all three prices are finite and greater than 1.0
func (o *Odds) Valid() bool {
	if o == nil {
		return false
	}
	for _, v := range []float64{o.Home, o.Draw, o.Away} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 1.0 {
			return false
		}
	}
	return true
}

// Implied returns the overround free probabilities (pH, pD, pA), summing to 1
func (o *Odds) Implied() (float64, float64, float64) {
	h, d, a := 1/o.Home, 1/o.Draw, 1/o.Away
	sum := h + d + a
	return h / sum, d / sum, a / sum
}

func (o *Odds) String() string {
	if o == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f/%.2f/%.2f", o.Home, o.Draw, o.Away)
}

//////////////////////////////////////////////////////////////////
////// Row
//////////////////////////////////////////////////////////////////

// Row is one fixture slot of the tipp form as rendered on one page fetch.
// Rows are never modified after extraction, a reload yields new rows.
type Row struct {
	Index     int    `json:"index"`
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	HomeField string `json:"home_field"`
	AwayField string `json:"away_field"`
	Odds      *Odds  `json:"odds"`
	Open      bool   `json:"open"`
}

func (r Row) String() string {
	return fmt.Sprintf("#%d %s - %s", r.Index, r.HomeTeam, r.AwayTeam)
}

// Pairing is an unresolved pair of raw team names
type Pairing struct {
	Home string `json:"home_team"`
	Away string `json:"away_team"`
}

//////////////////////////////////////////////////////////////////
////// Prediction
//////////////////////////////////////////////////////////////////

// Source records who produced a prediction
type Source string

const (
	SourcePredictor Source = "predictor"
	SourceBackfill  Source = "backfill"
	SourceHeuristic Source = "heuristic"
)

// Prediction is a candidate or final score for one row.
// RowIndex 0 means the row is not resolved yet and Teams must be set.
type Prediction struct {
	RowIndex  int      `json:"row_index"`
	Teams     *Pairing `json:"teams,omitempty"`
	HomeGoals int      `json:"home_goals"`
	AwayGoals int      `json:"away_goals"`
	Reason    string   `json:"reason"`
	Source    Source   `json:"source,omitempty"`
}

// IsDraw is true for level scores
func (p Prediction) IsDraw() bool {
	return p.HomeGoals == p.AwayGoals
}

func (p Prediction) Score() string {
	return fmt.Sprintf("%d:%d", p.HomeGoals, p.AwayGoals)
}

// MatchDaySet is the unit of work handed to the SubmissionEngine
type MatchDaySet struct {
	Matchday    int          `json:"matchday"`
	Rows        []Row        `json:"rows"`
	Predictions []Prediction `json:"predictions"`
}

//////////////////////////////////////////////////////////////////
////// Form and page
//////////////////////////////////////////////////////////////////

// Field is a single named form control
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Form is the writable state of the tipp form. Fields carries every
// successful control (hidden tokens included) and is passed back unchanged.
type Form struct {
	Action string     `json:"action"`
	Method string     `json:"method"`
	Fields url.Values `json:"fields"`
	Submit *Field     `json:"submit,omitempty"`
}

// Page is one parsed fetch of a matchday
type Page struct {
	Matchday int    `json:"matchday"`
	URL      string `json:"url"`
	Rows     []Row  `json:"rows"`
	Form     *Form  `json:"form"`
	// Values holds the rendered value of every score input, disabled ones included
	Values map[string]string `json:"values"`
}

// OpenRows returns the rows that accept writes
func (p *Page) OpenRows() []Row {
	var out []Row
	for _, r := range p.Rows {
		if r.Open {
			out = append(out, r)
		}
	}
	return out
}

//////////////////////////////////////////////////////////////////
////// Collaborators
//////////////////////////////////////////////////////////////////

// Document is a fetched HTML page
type Document struct {
	URL  string
	HTML string
}

// SubmitRequest is one write of the tipp form
type SubmitRequest struct {
	Method  string
	Action  string
	Referer string
	Values  url.Values
}

// Remote is the tipping site. Errors should be *NetworkError for I/O failures.
type Remote interface {
	Load(ctx context.Context, matchday int) (*Document, error)
	Send(ctx context.Context, req SubmitRequest) error
}

// PredictRequest is what a Predictor gets to see for one matchday
type PredictRequest struct {
	Season   string
	Matchday int
	Rows     []Row
	// Attempt starts at 1, Hint describes why the previous attempt was rejected
	Attempt int
	Hint    string
	// Digest is an optional markdown rendering of the matchday page
	Digest string
}

// Predictor produces candidate predictions for a matchday
type Predictor interface {
	Predict(ctx context.Context, req PredictRequest) ([]Prediction, error)
}

// Notifier is told about every processed matchday
type Notifier interface {
	Notify(ctx context.Context, outcome MatchdayOutcome) error
}

// Recorder persists artifacts of a matchday. Only fully validated
// prediction sets are handed to SavePredictions.
type Recorder interface {
	SaveRows(season string, page *Page) error
	SavePredictions(season string, matchday int, preds []Prediction) error
	SaveOutcome(season string, outcome MatchdayOutcome) error
}
