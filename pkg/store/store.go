package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/richard-senior/kicktipp/internal/logger"
	"github.com/richard-senior/kicktipp/pkg/tipp"
)

//////////////////////////////////////////////////////////////////
////// Records
//////////////////////////////////////////////////////////////////

// RowRecord is a snapshot of one extracted row
type RowRecord struct {
	Season     string  `column:"season" dbtype:"TEXT NOT NULL" primary:"true"`
	Matchday   int     `column:"matchday" dbtype:"INTEGER NOT NULL" primary:"true"`
	RowIndex   int     `column:"row_index" dbtype:"INTEGER NOT NULL" primary:"true"`
	HomeTeam   string  `column:"home_team" dbtype:"TEXT" index:"true"`
	AwayTeam   string  `column:"away_team" dbtype:"TEXT" index:"true"`
	HomeField  string  `column:"home_field" dbtype:"TEXT"`
	AwayField  string  `column:"away_field" dbtype:"TEXT"`
	OddsHome   float64 `column:"odds_home" dbtype:"REAL"`
	OddsDraw   float64 `column:"odds_draw" dbtype:"REAL"`
	OddsAway   float64 `column:"odds_away" dbtype:"REAL"`
	Open       int     `column:"open" dbtype:"INTEGER"`
	CapturedAt string  `column:"captured_at" dbtype:"TEXT"`
}

func (r *RowRecord) GetTableName() string { return "row_snapshot" }

func (r *RowRecord) GetPrimaryKey() map[string]any {
	return map[string]any{"season": r.Season, "matchday": r.Matchday, "row_index": r.RowIndex}
}

func (r *RowRecord) BeforeSave() error {
	if r.Matchday < 1 || r.RowIndex < 1 {
		return fmt.Errorf("row record needs matchday and row index, got %d/%d", r.Matchday, r.RowIndex)
	}
	return nil
}

// PredictionRecord is one row of a final, validated prediction set
type PredictionRecord struct {
	Season    string `column:"season" dbtype:"TEXT NOT NULL" primary:"true"`
	Matchday  int    `column:"matchday" dbtype:"INTEGER NOT NULL" primary:"true"`
	RowIndex  int    `column:"row_index" dbtype:"INTEGER NOT NULL" primary:"true"`
	HomeGoals int    `column:"home_goals" dbtype:"INTEGER"`
	AwayGoals int    `column:"away_goals" dbtype:"INTEGER"`
	Reason    string `column:"reason" dbtype:"TEXT"`
	Source    string `column:"source" dbtype:"TEXT" index:"true"`
	SavedAt   string `column:"saved_at" dbtype:"TEXT"`
}

func (p *PredictionRecord) GetTableName() string { return "prediction" }

func (p *PredictionRecord) GetPrimaryKey() map[string]any {
	return map[string]any{"season": p.Season, "matchday": p.Matchday, "row_index": p.RowIndex}
}

func (p *PredictionRecord) BeforeSave() error {
	if p.HomeGoals < 0 || p.AwayGoals < 0 {
		return fmt.Errorf("negative goals for row %d", p.RowIndex)
	}
	return nil
}

// Prediction converts the record back to the domain type
func (p *PredictionRecord) Prediction() tipp.Prediction {
	return tipp.Prediction{
		RowIndex:  p.RowIndex,
		HomeGoals: p.HomeGoals,
		AwayGoals: p.AwayGoals,
		Reason:    p.Reason,
		Source:    tipp.Source(p.Source),
	}
}

// OutcomeRecord is the result of one processed matchday; Detail holds the
// full outcome as JSON
type OutcomeRecord struct {
	Season    string `column:"season" dbtype:"TEXT NOT NULL" primary:"true"`
	Matchday  int    `column:"matchday" dbtype:"INTEGER NOT NULL" primary:"true"`
	Status    string `column:"status" dbtype:"TEXT" index:"true"`
	Confirmed int    `column:"confirmed" dbtype:"INTEGER"`
	Total     int    `column:"total" dbtype:"INTEGER"`
	Attempts  int    `column:"attempts" dbtype:"INTEGER"`
	Fallback  int    `column:"fallback" dbtype:"INTEGER"`
	Error     string `column:"error" dbtype:"TEXT"`
	Finished  string `column:"finished" dbtype:"TEXT"`
	Detail    string `column:"detail" dbtype:"TEXT"`
}

func (o *OutcomeRecord) GetTableName() string { return "outcome" }

func (o *OutcomeRecord) GetPrimaryKey() map[string]any {
	return map[string]any{"season": o.Season, "matchday": o.Matchday}
}

func (o *OutcomeRecord) BeforeSave() error {
	if o.Status == "" {
		return fmt.Errorf("outcome of matchday %d has no status", o.Matchday)
	}
	return nil
}

// Outcome decodes the stored outcome
func (o *OutcomeRecord) Outcome() (tipp.MatchdayOutcome, error) {
	var out tipp.MatchdayOutcome
	if err := json.Unmarshal([]byte(o.Detail), &out); err != nil {
		return out, fmt.Errorf("decode outcome of matchday %d: %w", o.Matchday, err)
	}
	return out, nil
}

var (
	_ Persistable = (*RowRecord)(nil)
	_ Persistable = (*PredictionRecord)(nil)
	_ Persistable = (*OutcomeRecord)(nil)
)

//////////////////////////////////////////////////////////////////
////// Store
//////////////////////////////////////////////////////////////////

// Store is the SQLite artifact store. It implements tipp.Recorder.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ tipp.Recorder = (*Store)(nil)

// Open opens (creating if needed) the database at path. ":memory:" is
// accepted for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serialises writers
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &Store{db: db, path: path, now: time.Now}
	for _, obj := range []Persistable{&RowRecord{}, &PredictionRecord{}, &OutcomeRecord{}} {
		if err := createTable(context.Background(), db, obj); err != nil {
			db.Close()
			return nil, err
		}
	}
	logger.Info("Database initialized successfully", path)
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// bulkSave saves every object in one transaction
func (s *Store) bulkSave(objs []Persistable) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	for _, obj := range objs {
		if err := save(ctx, tx, obj); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) SaveRows(season string, page *tipp.Page) error {
	now := s.stamp()
	objs := make([]Persistable, 0, len(page.Rows))
	for _, r := range page.Rows {
		rec := &RowRecord{
			Season:     season,
			Matchday:   page.Matchday,
			RowIndex:   r.Index,
			HomeTeam:   r.HomeTeam,
			AwayTeam:   r.AwayTeam,
			HomeField:  r.HomeField,
			AwayField:  r.AwayField,
			CapturedAt: now,
		}
		if r.Odds.Valid() {
			rec.OddsHome, rec.OddsDraw, rec.OddsAway = r.Odds.Home, r.Odds.Draw, r.Odds.Away
		}
		if r.Open {
			rec.Open = 1
		}
		objs = append(objs, rec)
	}
	return s.bulkSave(objs)
}

func (s *Store) SavePredictions(season string, matchday int, preds []tipp.Prediction) error {
	now := s.stamp()
	objs := make([]Persistable, 0, len(preds))
	for _, p := range preds {
		objs = append(objs, &PredictionRecord{
			Season:    season,
			Matchday:  matchday,
			RowIndex:  p.RowIndex,
			HomeGoals: p.HomeGoals,
			AwayGoals: p.AwayGoals,
			Reason:    p.Reason,
			Source:    string(p.Source),
			SavedAt:   now,
		})
	}
	return s.bulkSave(objs)
}

func (s *Store) SaveOutcome(season string, outcome tipp.MatchdayOutcome) error {
	detail, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	rec := &OutcomeRecord{
		Season:   season,
		Matchday: outcome.Matchday,
		Status:   string(outcome.Status),
		Error:    outcome.Err,
		Finished: outcome.Finished.UTC().Format(time.RFC3339),
		Detail:   string(detail),
	}
	if outcome.Report != nil {
		rec.Confirmed, rec.Total, rec.Attempts = outcome.Report.Confirmed, outcome.Report.Total, outcome.Report.Attempts
	}
	if outcome.Fallback {
		rec.Fallback = 1
	}
	return save(context.Background(), s.db, rec)
}

// Rows returns the stored snapshot of a matchday in row order
func (s *Store) Rows(season string, matchday int) ([]RowRecord, error) {
	res, err := findWhere(context.Background(), s.db, &RowRecord{}, "season = ? AND matchday = ? ORDER BY row_index", season, matchday)
	if err != nil {
		return nil, err
	}
	out := make([]RowRecord, 0, len(res))
	for _, r := range res {
		out = append(out, *r.(*RowRecord))
	}
	return out, nil
}

// Predictions returns the final set stored for a matchday in row order
func (s *Store) Predictions(season string, matchday int) ([]tipp.Prediction, error) {
	res, err := findWhere(context.Background(), s.db, &PredictionRecord{}, "season = ? AND matchday = ? ORDER BY row_index", season, matchday)
	if err != nil {
		return nil, err
	}
	out := make([]tipp.Prediction, 0, len(res))
	for _, r := range res {
		out = append(out, r.(*PredictionRecord).Prediction())
	}
	return out, nil
}

// Outcomes returns every stored outcome of a season by matchday
func (s *Store) Outcomes(season string) ([]OutcomeRecord, error) {
	res, err := findWhere(context.Background(), s.db, &OutcomeRecord{}, "season = ? ORDER BY matchday", season)
	if err != nil {
		return nil, err
	}
	out := make([]OutcomeRecord, 0, len(res))
	for _, r := range res {
		out = append(out, *r.(*OutcomeRecord))
	}
	return out, nil
}
