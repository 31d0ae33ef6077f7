package tipp

import (
	"strings"
	"unicode"

	"github.com/richard-senior/kicktipp/internal/logger"
	"github.com/richard-senior/kicktipp/pkg/util"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalise folds a team name to lowercase ascii-ish tokens:
// "1. FC Köln" becomes "1 fc koln", "Borussia M'gladbach" becomes "borussia m gladbach"
func Normalise(name string) string {
	name = strings.NewReplacer("ß", "ss", "ẞ", "ss").Replace(name)
	// a fresh chain per call, transformers are stateful
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}
	name = strings.ToLower(name)

	b := strings.Builder{}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// MatchResult is the outcome of TeamMatcher.Match. Index is the best row
// even when OK is false so callers can report near misses.
type MatchResult struct {
	Index int
	Score float64
	Pass  int
	OK    bool
}

// TeamMatcher resolves free text pairings onto form rows
type TeamMatcher struct {
	cfg      MatcherConfig
	base     map[string]string
	extended map[string]string
	affixes  map[string]struct{}
}

// NewTeamMatcher copies the synonym tables of cfg, later changes to cfg have no effect
func NewTeamMatcher(cfg MatcherConfig) *TeamMatcher {
	m := &TeamMatcher{
		cfg:      cfg,
		base:     make(map[string]string, len(cfg.Synonyms)),
		extended: make(map[string]string, len(cfg.Synonyms)+len(cfg.ExtendedSynonyms)),
		affixes:  make(map[string]struct{}, len(cfg.AffixTokens)),
	}
	for k, v := range cfg.Synonyms {
		m.base[Normalise(k)] = Normalise(v)
		m.extended[Normalise(k)] = Normalise(v)
	}
	for k, v := range cfg.ExtendedSynonyms {
		m.extended[Normalise(k)] = Normalise(v)
	}
	for _, a := range cfg.AffixTokens {
		m.affixes[Normalise(a)] = struct{}{}
	}
	m.cfg.Synonyms = nil
	m.cfg.ExtendedSynonyms = nil
	m.cfg.AffixTokens = nil
	return m
}

// Canonical returns the form of name that is compared in the given pass (1 or 2)
func (m *TeamMatcher) Canonical(name string, pass int) string {
	n := Normalise(name)
	if pass <= 1 {
		if v, ok := m.base[n]; ok {
			return v
		}
		return n
	}
	if v, ok := m.extended[n]; ok {
		return m.dropAffixes(v)
	}
	stripped := m.dropAffixes(n)
	if v, ok := m.extended[stripped]; ok {
		return m.dropAffixes(v)
	}
	return stripped
}

func (m *TeamMatcher) dropAffixes(n string) string {
	var kept []string
	for _, tok := range strings.Fields(n) {
		if _, ok := m.affixes[tok]; ok {
			continue
		}
		if isDigits(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		return n
	}
	return strings.Join(kept, " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Match finds the row whose teams best resemble query. The first pass uses
// the base synonyms and Threshold, the second pass the extended synonyms
// with affixes dropped and SecondPassThreshold.
func (m *TeamMatcher) Match(query Pairing, rows []Row) MatchResult {
	first := m.scan(query, rows, 1)
	if first.Index > 0 && first.Score >= m.cfg.Threshold {
		first.OK = true
		return first
	}
	second := m.scan(query, rows, 2)
	if second.Index > 0 && second.Score >= m.cfg.SecondPassThreshold {
		second.OK = true
		logger.Debug("Second pass matched", query.Home, query.Away, "to row", second.Index)
		return second
	}
	if second.Score > first.Score {
		return second
	}
	return first
}

func (m *TeamMatcher) scan(query Pairing, rows []Row, pass int) MatchResult {
	qh := m.Canonical(query.Home, pass)
	qa := m.Canonical(query.Away, pass)
	best := MatchResult{Score: -1, Pass: pass}
	for _, r := range rows {
		score := m.cfg.HomeWeight*util.Similarity(qh, m.Canonical(r.HomeTeam, pass)) +
			m.cfg.AwayWeight*util.Similarity(qa, m.Canonical(r.AwayTeam, pass))
		if score > best.Score || (score == best.Score && r.Index < best.Index) {
			best.Index = r.Index
			best.Score = score
		}
	}
	if best.Score < 0 {
		best.Score = 0
	}
	return best
}
