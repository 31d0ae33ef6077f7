package tipp

import (
	"context"
	"fmt"
	"math"
)

// OddsBackfill derives a plausible score from market odds
type OddsBackfill struct {
	cfg BackfillConfig
}

func NewOddsBackfill(cfg BackfillConfig) *OddsBackfill {
	return &OddsBackfill{cfg: cfg}
}

func (b *OddsBackfill) clip(v float64) int {
	g := int(math.Round(v))
	if g < 0 {
		return 0
	}
	if g > b.cfg.MaxGoals {
		return b.cfg.MaxGoals
	}
	return g
}

// Score maps odds to a score. Without valid odds the configured non-draw
// default is returned.
func (b *OddsBackfill) Score(o *Odds) (int, int) {
	if !o.Valid() {
		return b.cfg.DefaultHome, b.cfg.DefaultAway
	}
	pH, _, pA := o.Implied()
	total := b.cfg.TotalGoals
	diff := b.cfg.Sensitivity * b.cfg.MarginFactor * (pH - pA) * total

	home := b.clip((total + diff) / 2)
	away := b.clip((total - diff) / 2)

	// a lopsided match must not come out level
	if home == away && math.Abs(pH-pA) > b.cfg.LopsidedThreshold {
		if pH > pA {
			home, away = nudge(home, away, b.cfg.MaxGoals)
		} else {
			away, home = nudge(away, home, b.cfg.MaxGoals)
		}
	}
	return home, away
}

// nudge moves a level score one goal towards the first side:
// it gains a goal, or if already at max the other side loses one
func nudge(fav, other, max int) (int, int) {
	if fav < max {
		return fav + 1, other
	}
	if other > 0 {
		return fav, other - 1
	}
	return fav, other
}

// Synthesize builds the backfill prediction for row
func (b *OddsBackfill) Synthesize(row Row) Prediction {
	h, a := b.Score(row.Odds)
	reason := "keine Quoten, Standardtipp"
	if row.Odds.Valid() {
		pH, pD, pA := row.Odds.Implied()
		reason = fmt.Sprintf("aus Quoten %s (%.0f%%/%.0f%%/%.0f%%)", row.Odds, pH*100, pD*100, pA*100)
	}
	return Prediction{
		RowIndex:  row.Index,
		HomeGoals: h,
		AwayGoals: a,
		Reason:    reason,
		Source:    SourceBackfill,
	}
}

// OddsPredictor is a Predictor that only looks at the odds
type OddsPredictor struct {
	backfill *OddsBackfill
}

var _ Predictor = (*OddsPredictor)(nil)

func NewOddsPredictor(b *OddsBackfill) *OddsPredictor {
	return &OddsPredictor{backfill: b}
}

func (p *OddsPredictor) Predict(ctx context.Context, req PredictRequest) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Prediction
	for _, r := range req.Rows {
		if !r.Open {
			continue
		}
		pred := p.backfill.Synthesize(r)
		pred.Source = SourceHeuristic
		out = append(out, pred)
	}
	return out, nil
}
