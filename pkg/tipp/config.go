package tipp

import (
	"fmt"
	"time"
)

// MatcherConfig is the immutable configuration of a TeamMatcher.
// Synonym keys and values are in normalised form (see Normalise).
type MatcherConfig struct {
	HomeWeight          float64           `yaml:"home_weight"`           // weight of the home name similarity (default: 0.6)
	AwayWeight          float64           `yaml:"away_weight"`           // weight of the away name similarity (default: 0.4)
	Threshold           float64           `yaml:"threshold"`             // first pass acceptance (default: 0.86)
	SecondPassThreshold float64           `yaml:"second_pass_threshold"` // second pass acceptance (default: 0.80)
	Synonyms            map[string]string `yaml:"synonyms"`              // applied in both passes
	ExtendedSynonyms    map[string]string `yaml:"extended_synonyms"`     // second pass only
	AffixTokens         []string          `yaml:"affix_tokens"`          // club affixes ignored in the second pass
}

// ValidatorConfig holds the structural and anti-degeneracy limits
type ValidatorConfig struct {
	MaxGoals         int     `yaml:"max_goals"`          // clamp bound for predictor goals (default: 9)
	MaxReason        int     `yaml:"max_reason"`         // reason length in runes (default: 250)
	MaxDrawShare     float64 `yaml:"max_draw_share"`     // maximum share of draws (default: 0.45)
	MinDegeneracySet int     `yaml:"min_degeneracy_set"` // guard only applies from this set size (default: 5)
}

// BackfillConfig holds the constants of the odds to score mapping.
// They are empirical, not fitted.
type BackfillConfig struct {
	TotalGoals        float64 `yaml:"total_goals"`        // competition average goals per match (default: 2.95)
	Sensitivity       float64 `yaml:"sensitivity"`        // k (default: 0.85)
	MarginFactor      float64 `yaml:"margin_factor"`      // scales k (default: 2.4)
	MaxGoals          int     `yaml:"max_goals"`          // clip bound per side (default: 4)
	LopsidedThreshold float64 `yaml:"lopsided_threshold"` // |pH-pA| above which a 1:1 is nudged (default: 0.10)
	DefaultHome       int     `yaml:"default_home"`       // score without odds (default: 2)
	DefaultAway       int     `yaml:"default_away"`       // (default: 0)
}

// SubmitConfig bounds the submission state machine
type SubmitConfig struct {
	Retries int           `yaml:"retries"` // extra attempts for mismatched rows (default: 1)
	Pause   time.Duration `yaml:"pause"`   // courtesy pause between writes (default: 1s)
}

// RunConfig drives the Orchestrator
type RunConfig struct {
	Season            string        `yaml:"season"`
	ExpectedRows      int           `yaml:"expected_rows"`       // rows per matchday (default: 9)
	PredictorRetries  int           `yaml:"predictor_retries"`   // extra predictor calls after a rejected set (default: 2)
	RetryBackoff      time.Duration `yaml:"retry_backoff"`       // linear backoff unit (default: 2s)
	MatchdayRetries   int           `yaml:"matchday_retries"`    // re-runs of a matchday after a NetworkError (default: 1)
	AllowOddsFallback bool          `yaml:"allow_odds_fallback"` // use OddsPredictor if the predictor keeps failing
	DryRun            bool          `yaml:"dry_run"`             // validate and persist, never submit
}

// DefaultSynonyms maps common Bundesliga spellings onto one canonical form
func DefaultSynonyms() map[string]string {
	return map[string]string{
		"fc koln":                  "koln",
		"1 fc koln":                "koln",
		"hamburger sv":             "hsv",
		"fc bayern munchen":        "bayern munchen",
		"fc bayern":                "bayern munchen",
		"bayern":                   "bayern munchen",
		"tsg 1899 hoffenheim":      "hoffenheim",
		"tsg hoffenheim":           "hoffenheim",
		"bayer 04 leverkusen":      "bayer leverkusen",
		"leverkusen":               "bayer leverkusen",
		"rasenballsport leipzig":   "rb leipzig",
		"leipzig":                  "rb leipzig",
		"1 fc union berlin":        "union berlin",
		"1 fc heidenheim 1846":     "heidenheim",
		"1 fc heidenheim":          "heidenheim",
		"sv werder bremen":         "werder bremen",
		"bremen":                   "werder bremen",
		"vfl wolfsburg":            "wolfsburg",
		"vfb stuttgart":            "stuttgart",
		"sc freiburg":              "freiburg",
		"eintracht frankfurt":      "frankfurt",
		"fc st pauli":              "st pauli",
		"1 fsv mainz 05":           "mainz 05",
		"mainz":                    "mainz 05",
		"borussia monchengladbach": "gladbach",
		"bor monchengladbach":      "gladbach",
		"monchengladbach":          "gladbach",
		"borussia dortmund":        "dortmund",
		"bvb":                      "dortmund",
		"fc augsburg":              "augsburg",
		"vfl bochum":               "bochum",
		"vfl bochum 1848":          "bochum",
		"sv darmstadt 98":          "darmstadt",
		"holstein kiel":            "kiel",
		"fc schalke 04":            "schalke",
		"hertha bsc":               "hertha",
	}
}

// DefaultExtendedSynonyms covers nicknames, transliterations and renamed clubs
func DefaultExtendedSynonyms() map[string]string {
	return map[string]string{
		"hamburg":             "hsv",
		"koeln":               "koln",
		"fc koeln":            "koln",
		"1 fc koeln":          "koln",
		"cologne":             "koln",
		"bayern muenchen":     "bayern munchen",
		"bayern munich":       "bayern munchen",
		"fcb":                 "bayern munchen",
		"b04":                 "bayer leverkusen",
		"rbl":                 "rb leipzig",
		"union":               "union berlin",
		"werder":              "werder bremen",
		"eintracht":           "frankfurt",
		"sge":                 "frankfurt",
		"m gladbach":          "gladbach",
		"moenchengladbach":    "gladbach",
		"bmg":                 "gladbach",
		"hoffe":               "hoffenheim",
		"tsg":                 "hoffenheim",
		"pauli":               "st pauli",
		"s04":                 "schalke",
		"schalke 04":          "schalke",
		"hertha berlin":       "hertha",
		"fortuna dusseldorf":  "dusseldorf",
		"fortuna duesseldorf": "dusseldorf",
		"f95":                 "dusseldorf",
	}
}

// DefaultAffixTokens are legal form tokens that carry no identity
func DefaultAffixTokens() []string {
	return []string{"fc", "sv", "vfl", "vfb", "tsg", "fsv", "sc", "bv", "1"}
}

func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		HomeWeight:          0.6,
		AwayWeight:          0.4,
		Threshold:           0.86,
		SecondPassThreshold: 0.80,
		Synonyms:            DefaultSynonyms(),
		ExtendedSynonyms:    DefaultExtendedSynonyms(),
		AffixTokens:         DefaultAffixTokens(),
	}
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxGoals:         9,
		MaxReason:        250,
		MaxDrawShare:     0.45,
		MinDegeneracySet: 5,
	}
}

func DefaultBackfillConfig() BackfillConfig {
	return BackfillConfig{
		TotalGoals:        2.95,
		Sensitivity:       0.85,
		MarginFactor:      2.4,
		MaxGoals:          4,
		LopsidedThreshold: 0.10,
		DefaultHome:       2,
		DefaultAway:       0,
	}
}

func DefaultSubmitConfig() SubmitConfig {
	return SubmitConfig{
		Retries: 1,
		Pause:   time.Second,
	}
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		ExpectedRows:      9,
		PredictorRetries:  2,
		RetryBackoff:      2 * time.Second,
		MatchdayRetries:   1,
		AllowOddsFallback: true,
	}
}

// === CONFIGURATION VALIDATION ===

func (c MatcherConfig) Validate() error {
	if c.HomeWeight < 0 || c.AwayWeight < 0 {
		return fmt.Errorf("matcher weights must not be negative, got: %f/%f", c.HomeWeight, c.AwayWeight)
	}
	if s := c.HomeWeight + c.AwayWeight; s < 0.999 || s > 1.001 {
		return fmt.Errorf("matcher weights must sum to 1.0, got: %f", s)
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("matcher threshold must be in (0,1], got: %f", c.Threshold)
	}
	if c.SecondPassThreshold <= 0 || c.SecondPassThreshold > c.Threshold {
		return fmt.Errorf("second pass threshold must be in (0,%f], got: %f", c.Threshold, c.SecondPassThreshold)
	}
	return nil
}

func (c ValidatorConfig) Validate() error {
	if c.MaxGoals < 1 {
		return fmt.Errorf("MaxGoals must be at least 1, got: %d", c.MaxGoals)
	}
	if c.MaxDrawShare < 0 || c.MaxDrawShare > 1 {
		return fmt.Errorf("MaxDrawShare must be between 0.0 and 1.0, got: %f", c.MaxDrawShare)
	}
	if c.MinDegeneracySet < 1 {
		return fmt.Errorf("MinDegeneracySet must be at least 1, got: %d", c.MinDegeneracySet)
	}
	return nil
}

func (c BackfillConfig) Validate() error {
	if c.TotalGoals <= 0 {
		return fmt.Errorf("TotalGoals must be positive, got: %f", c.TotalGoals)
	}
	if c.Sensitivity < 0 || c.MarginFactor < 0 {
		return fmt.Errorf("Sensitivity and MarginFactor must not be negative")
	}
	if c.MaxGoals < 1 {
		return fmt.Errorf("backfill MaxGoals must be at least 1, got: %d", c.MaxGoals)
	}
	if c.DefaultHome == c.DefaultAway {
		return fmt.Errorf("default backfill score must not be a draw, got: %d:%d", c.DefaultHome, c.DefaultAway)
	}
	if c.DefaultHome < 0 || c.DefaultAway < 0 || c.DefaultHome > c.MaxGoals || c.DefaultAway > c.MaxGoals {
		return fmt.Errorf("default backfill score out of range, got: %d:%d", c.DefaultHome, c.DefaultAway)
	}
	return nil
}

func (c SubmitConfig) Validate() error {
	if c.Retries < 0 {
		return fmt.Errorf("submit retries must not be negative, got: %d", c.Retries)
	}
	if c.Pause < 0 {
		return fmt.Errorf("submit pause must not be negative, got: %s", c.Pause)
	}
	return nil
}

func (c RunConfig) Validate() error {
	if c.PredictorRetries < 0 || c.MatchdayRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff must not be negative, got: %s", c.RetryBackoff)
	}
	return nil
}
