package tipp

import (
	"fmt"
	"math"
	"sort"

	"github.com/richard-senior/kicktipp/internal/logger"
	"github.com/richard-senior/kicktipp/pkg/util"
)

// Validation is a final prediction set plus the record of every repair
type Validation struct {
	// Predictions holds exactly one entry per open row, ordered by row index
	Predictions []Prediction
	Mapped      int
	Unmapped    []MappingError
	Discarded   int
	Clamped     []int
	Backfilled  []int
	Nudged      []int
}

// DrawShare is the fraction of level scores in the final set
func (v *Validation) DrawShare() float64 {
	if len(v.Predictions) == 0 {
		return 0
	}
	draws := 0
	for _, p := range v.Predictions {
		if p.IsDraw() {
			draws++
		}
	}
	return float64(draws) / float64(len(v.Predictions))
}

// PredictionValidator turns a candidate set into a final set or rejects it
type PredictionValidator struct {
	cfg      ValidatorConfig
	matcher  *TeamMatcher
	backfill *OddsBackfill
}

func NewPredictionValidator(cfg ValidatorConfig, matcher *TeamMatcher, backfill *OddsBackfill) *PredictionValidator {
	return &PredictionValidator{cfg: cfg, matcher: matcher, backfill: backfill}
}

type mapped struct {
	pred     Prediction
	target   int
	explicit bool
	score    float64
}

// Validate maps, checks, clamps, backfills and de-degenerates candidates.
// Only an empty set, too many predictions or duplicate explicit row indices
// are errors, everything else is repaired and logged.
func (v *PredictionValidator) Validate(candidates []Prediction, rows []Row) (*Validation, error) {
	res := &Validation{}
	byIndex := make(map[int]Row, len(rows))
	var open []Row
	for _, r := range rows {
		byIndex[r.Index] = r
		if r.Open {
			open = append(open, r)
		}
	}
	if len(open) == 0 {
		logger.Info("No open rows, nothing to validate")
		return res, nil
	}
	if len(candidates) == 0 {
		return nil, &ValidationError{Rule: RuleEmpty, Detail: "predictor returned no predictions"}
	}

	// map
	var hits []mapped
	for i, c := range candidates {
		m, ok := v.resolve(c, rows, byIndex, res)
		if !ok {
			continue
		}
		if !byIndex[m.target].Open {
			logger.Warn(fmt.Sprintf("Discarding prediction %d for closed row %d", i+1, m.target))
			res.Discarded++
			continue
		}
		hits = append(hits, m)
	}

	// count
	if len(hits) == 0 {
		return nil, &ValidationError{Rule: RuleEmpty, Detail: fmt.Sprintf("none of %d predictions maps onto an open row", len(candidates))}
	}
	if len(hits) > len(open) {
		return nil, &ValidationError{Rule: RuleCount, Detail: fmt.Sprintf("%d predictions for %d open rows", len(hits), len(open))}
	}

	// index integrity
	final := make(map[int]mapped, len(open))
	for _, m := range hits {
		cur, taken := final[m.target]
		if !taken {
			final[m.target] = m
			continue
		}
		if m.explicit && cur.explicit {
			return nil, &ValidationError{Rule: RuleDuplicate, Detail: fmt.Sprintf("row_index %d returned twice", m.target)}
		}
		loser := m
		if m.explicit || (!cur.explicit && m.score > cur.score) {
			final[m.target] = m
			loser = cur
		}
		logger.Warn(fmt.Sprintf("Two predictions map onto row %d, dropping the weaker one", m.target))
		res.Unmapped = append(res.Unmapped, mappingMiss(loser, m.target))
	}
	res.Mapped = len(final)

	// range
	for idx, m := range final {
		p, clamped := v.clamp(m.pred)
		p.RowIndex = idx
		p.Teams = nil
		if p.Source == "" {
			p.Source = SourcePredictor
		}
		if clamped {
			logger.Info(fmt.Sprintf("Clamped prediction for row %d from %d:%d to %d:%d", idx, m.pred.HomeGoals, m.pred.AwayGoals, p.HomeGoals, p.AwayGoals))
			res.Clamped = append(res.Clamped, idx)
		}
		m.pred = p
		final[idx] = m
	}
	sort.Ints(res.Clamped)

	// backfill
	for _, r := range open {
		if m, ok := final[r.Index]; ok {
			res.Predictions = append(res.Predictions, m.pred)
			continue
		}
		p := v.backfill.Synthesize(r)
		logger.Info(fmt.Sprintf("Backfilled row %d %s - %s with %s", r.Index, r.HomeTeam, r.AwayTeam, p.Score()))
		res.Backfilled = append(res.Backfilled, r.Index)
		res.Predictions = append(res.Predictions, p)
	}
	sort.Slice(res.Predictions, func(i, j int) bool { return res.Predictions[i].RowIndex < res.Predictions[j].RowIndex })

	// degeneracy
	res.Nudged = v.degeneracy(res.Predictions, byIndex)
	return res, nil
}

func (v *PredictionValidator) resolve(c Prediction, rows []Row, byIndex map[int]Row, res *Validation) (mapped, bool) {
	if c.RowIndex > 0 {
		if _, ok := byIndex[c.RowIndex]; ok {
			return mapped{pred: c, target: c.RowIndex, explicit: true, score: 1}, true
		}
		logger.Warn(fmt.Sprintf("Prediction names unknown row_index %d", c.RowIndex))
	}
	if c.Teams == nil || v.matcher == nil {
		res.Unmapped = append(res.Unmapped, MappingError{})
		return mapped{}, false
	}
	mr := v.matcher.Match(*c.Teams, rows)
	if !mr.OK {
		me := MappingError{Query: *c.Teams, BestIndex: mr.Index, BestScore: mr.Score}
		logger.Warn(me.Error())
		res.Unmapped = append(res.Unmapped, me)
		return mapped{}, false
	}
	return mapped{pred: c, target: mr.Index, score: mr.Score}, true
}

func mappingMiss(m mapped, target int) MappingError {
	me := MappingError{BestIndex: target, BestScore: m.score}
	if m.pred.Teams != nil {
		me.Query = *m.pred.Teams
	}
	return me
}

func (v *PredictionValidator) clamp(p Prediction) (Prediction, bool) {
	clamped := false
	fix := func(g int) int {
		if g < 0 {
			clamped = true
			return 0
		}
		if g > v.cfg.MaxGoals {
			clamped = true
			return v.cfg.MaxGoals
		}
		return g
	}
	p.HomeGoals = fix(p.HomeGoals)
	p.AwayGoals = fix(p.AwayGoals)
	if v.cfg.MaxReason > 0 {
		p.Reason = util.Truncate(p.Reason, v.cfg.MaxReason)
	}
	return p, clamped
}

// degeneracy nudges as few draws as needed to bring the draw share down to
// MaxDrawShare. Draws with the clearest favourite go first, rows without
// odds last, then by row index. Returns the nudged row indices.
func (v *PredictionValidator) degeneracy(preds []Prediction, byIndex map[int]Row) []int {
	n := len(preds)
	if n < v.cfg.MinDegeneracySet {
		return nil
	}
	var draws []int
	for i, p := range preds {
		if p.IsDraw() {
			draws = append(draws, i)
		}
	}
	allowed := int(math.Floor(v.cfg.MaxDrawShare*float64(n) + 1e-9))
	need := len(draws) - allowed
	if need <= 0 {
		return nil
	}

	signal := func(i int) (float64, bool) {
		odds := byIndex[preds[i].RowIndex].Odds
		if !odds.Valid() {
			return 0, false
		}
		pH, _, pA := odds.Implied()
		return math.Abs(pH - pA), true
	}
	sort.SliceStable(draws, func(a, b int) bool {
		sa, oka := signal(draws[a])
		sb, okb := signal(draws[b])
		if oka != okb {
			return oka
		}
		if sa != sb {
			return sa > sb
		}
		return preds[draws[a]].RowIndex < preds[draws[b]].RowIndex
	})

	var nudged []int
	for _, i := range draws[:need] {
		p := &preds[i]
		before := p.Score()
		homeFav := true
		if odds := byIndex[p.RowIndex].Odds; odds.Valid() {
			pH, _, pA := odds.Implied()
			homeFav = pH >= pA
		}
		if homeFav {
			p.HomeGoals, p.AwayGoals = nudge(p.HomeGoals, p.AwayGoals, v.cfg.MaxGoals)
		} else {
			p.AwayGoals, p.HomeGoals = nudge(p.AwayGoals, p.HomeGoals, v.cfg.MaxGoals)
		}
		logger.Info(fmt.Sprintf("Draw share too high, nudged row %d from %s to %s", p.RowIndex, before, p.Score()))
		nudged = append(nudged, p.RowIndex)
	}
	sort.Ints(nudged)
	return nudged
}
