package tipp

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator() *PredictionValidator {
	return NewPredictionValidator(DefaultValidatorConfig(), NewTeamMatcher(DefaultMatcherConfig()), NewOddsBackfill(DefaultBackfillConfig()))
}

func fixtureRows(t *testing.T, fixtures []fixtureRow) []Row {
	t.Helper()
	rows, err := NewFormExtractor(len(fixtures)).ExtractRows(renderTippPage(1, fixtures))
	require.NoError(t, err, "Failed to extract fixture rows")
	return rows
}

func explicit(rows []Row, home, away int) []Prediction {
	var out []Prediction
	for _, r := range rows {
		if r.Open {
			out = append(out, Prediction{RowIndex: r.Index, HomeGoals: home, AwayGoals: away, Reason: "test"})
		}
	}
	return out
}

func TestValidatorAllDrawsAreNudged(t *testing.T) {
	rows := fixtureRows(t, bundesligaFixtures())
	res, err := newTestValidator().Validate(explicit(rows, 1, 1), rows)
	require.NoError(t, err)
	require.Len(t, res.Predictions, 9)

	t.Logf("draw share after validation %.2f", res.DrawShare())
	assert.LessOrEqual(t, res.DrawShare(), 0.45)
	// the five rows with the clearest favourite, all home favourites
	assert.Equal(t, []int{1, 2, 3, 4, 7}, res.Nudged)
	for _, idx := range res.Nudged {
		assert.Equal(t, "2:1", res.Predictions[idx-1].Score(), "row %d", idx)
	}
}

func TestValidatorNudgeWithoutOddsGoesHome(t *testing.T) {
	fixtures := make([]fixtureRow, 5)
	names := []string{"Hertha BSC", "FC Schalke 04", "Hannover 96", "Karlsruher SC", "SC Paderborn 07", "1. FC Magdeburg", "Arminia Bielefeld", "Preußen Münster", "SV Darmstadt 98", "Fortuna Düsseldorf"}
	for i := range fixtures {
		fixtures[i] = fixtureRow{Home: names[2*i], Away: names[2*i+1]}
	}
	rows := fixtureRows(t, fixtures)
	res, err := newTestValidator().Validate(explicit(rows, 0, 0), rows)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, res.Nudged)
	for _, idx := range res.Nudged {
		assert.Equal(t, "1:0", res.Predictions[idx-1].Score())
	}
	assert.InDelta(t, 0.4, res.DrawShare(), 1e-9)
}

func TestValidatorNudgesTowardsAwayFavouriteAndRespectsMax(t *testing.T) {
	fixtures := bundesligaFixtures()[:5]
	fixtures[0].Odds = "6.50 / 4.00 / 1.50"
	rows := fixtureRows(t, fixtures)
	cands := explicit(rows, 1, 0)
	cands[0].HomeGoals, cands[0].AwayGoals = 2, 2
	cands[1].HomeGoals, cands[1].AwayGoals = 9, 9
	cands[3].HomeGoals, cands[3].AwayGoals = 1, 1

	res, err := newTestValidator().Validate(cands, rows)
	require.NoError(t, err)
	// three draws of five, two are allowed
	require.Len(t, res.Nudged, 1)
	assert.Equal(t, 1, res.Nudged[0], "row 1 has the strongest favourite")
	assert.Equal(t, "2:3", res.Predictions[0].Score())

	v := NewPredictionValidator(ValidatorConfig{MaxGoals: 9, MaxReason: 250, MaxDrawShare: 0.0, MinDegeneracySet: 5}, nil, NewOddsBackfill(DefaultBackfillConfig()))
	res, err = v.Validate(cands, rows)
	require.NoError(t, err)
	assert.Equal(t, "9:8", res.Predictions[1].Score())
	assert.InDelta(t, 0.0, res.DrawShare(), 1e-9)
}

func TestValidatorSmallSetsKeepDraws(t *testing.T) {
	rows := fixtureRows(t, bundesligaFixtures()[:4])
	res, err := newTestValidator().Validate(explicit(rows, 1, 1), rows)
	require.NoError(t, err)
	assert.Empty(t, res.Nudged)
	assert.InDelta(t, 1.0, res.DrawShare(), 1e-9)
}

func TestValidatorRejectsDuplicateIndex(t *testing.T) {
	rows := fixtureRows(t, bundesligaFixtures())
	cands := explicit(rows, 2, 1)
	cands[4].RowIndex = 4

	_, err := newTestValidator().Validate(cands, rows)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	assert.Equal(t, RuleDuplicate, ve.Rule)
}

func TestValidatorRejectsEmptyAndOversizedSets(t *testing.T) {
	rows := fixtureRows(t, bundesligaFixtures())
	v := newTestValidator()
	var ve *ValidationError

	_, err := v.Validate(nil, rows)
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, RuleEmpty, ve.Rule)

	_, err = v.Validate([]Prediction{{Teams: &Pairing{Home: "Real Madrid", Away: "FC Barcelona"}, HomeGoals: 1}}, rows)
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, RuleEmpty, ve.Rule)

	cands := append(explicit(rows, 2, 1), Prediction{Teams: &Pairing{Home: "Bayern", Away: "BVB"}, HomeGoals: 3})
	_, err = v.Validate(cands, rows)
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, RuleCount, ve.Rule)
}

func TestValidatorClampsRange(t *testing.T) {
	rows := fixtureRows(t, bundesligaFixtures())
	cands := explicit(rows, 2, 1)
	cands[0].HomeGoals = 12
	cands[1].AwayGoals = -3
	cands[2].Reason = strings.Repeat("ä", 400)

	res, err := newTestValidator().Validate(cands, rows)
	require.NoError(t, err)
	assert.Equal(t, "9:1", res.Predictions[0].Score())
	assert.Equal(t, "2:0", res.Predictions[1].Score())
	assert.Equal(t, []int{1, 2}, res.Clamped)
	assert.Len(t, []rune(res.Predictions[2].Reason), 250)
}

func TestValidatorBackfillsUnmappedRows(t *testing.T) {
	rows := fixtureRows(t, bundesligaFixtures())
	cands := explicit(rows, 2, 1)
	// row 3 is predicted under names that match nothing
	cands[2] = Prediction{Teams: &Pairing{Home: "Real Madrid", Away: "FC Barcelona"}, HomeGoals: 1, AwayGoals: 1}

	res, err := newTestValidator().Validate(cands, rows)
	require.NoError(t, err)
	require.Len(t, res.Predictions, 9)
	require.Len(t, res.Unmapped, 1)
	assert.Equal(t, "Real Madrid", res.Unmapped[0].Query.Home)
	assert.Equal(t, []int{3}, res.Backfilled)

	h, a := NewOddsBackfill(DefaultBackfillConfig()).Score(rows[2].Odds)
	assert.Equal(t, h, res.Predictions[2].HomeGoals)
	assert.Equal(t, a, res.Predictions[2].AwayGoals)
	assert.Equal(t, SourceBackfill, res.Predictions[2].Source)
	for i, p := range res.Predictions {
		assert.Equal(t, i+1, p.RowIndex)
	}
}

func TestValidatorMapsTeamNames(t *testing.T) {
	rows := fixtureRows(t, bundesligaFixtures())
	cands := []Prediction{
		{Teams: &Pairing{Home: "Köln", Away: "HSV"}, HomeGoals: 2, AwayGoals: 0},
		{Teams: &Pairing{Home: "FC Bayern", Away: "Dortmnd"}, HomeGoals: 1, AwayGoals: 0},
		{Teams: &Pairing{Home: "Bayern", Away: "BVB"}, HomeGoals: 3, AwayGoals: 1},
	}
	res, err := newTestValidator().Validate(cands, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Mapped)
	assert.Equal(t, "2:0", res.Predictions[7].Score())
	// the exact pairing beats the misspelt one for row 1
	assert.Equal(t, "3:1", res.Predictions[0].Score())
	require.Len(t, res.Unmapped, 1)
	assert.Equal(t, "Dortmnd", res.Unmapped[0].Query.Away)
	assert.Len(t, res.Backfilled, 7)
	assert.Nil(t, res.Predictions[0].Teams)
	assert.Equal(t, SourcePredictor, res.Predictions[0].Source)
}

func TestValidatorIgnoresClosedRows(t *testing.T) {
	fixtures := bundesligaFixtures()
	fixtures[1].Closed = true
	rows := fixtureRows(t, fixtures)
	cands := explicit(rows, 2, 1)
	cands = append(cands, Prediction{RowIndex: 2, HomeGoals: 0, AwayGoals: 0})

	res, err := newTestValidator().Validate(cands, rows)
	require.NoError(t, err)
	require.Len(t, res.Predictions, 8)
	assert.Equal(t, 1, res.Discarded)
	for _, p := range res.Predictions {
		assert.NotEqual(t, 2, p.RowIndex)
	}
}

func TestValidatorNoOpenRows(t *testing.T) {
	fixtures := bundesligaFixtures()[:2]
	fixtures[0].Closed = true
	fixtures[1].Closed = true
	res, err := newTestValidator().Validate(nil, fixtureRows(t, fixtures))
	require.NoError(t, err)
	assert.Empty(t, res.Predictions)
}
