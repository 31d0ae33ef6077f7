package tipp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/richard-senior/kicktipp/internal/logger"
	"github.com/richard-senior/kicktipp/pkg/util"
	"golang.org/x/net/html"
)

// maxContainerDepth bounds the walk from an input up to its row container
const maxContainerDepth = 8

var (
	digitRun  = regexp.MustCompile(`\d+`)
	dateLike  = regexp.MustCompile(`\d{1,2}\.\d{1,2}\.(\d{2,4})?`)
	timeLike  = regexp.MustCompile(`\d{1,2}:\d{2}`)
	oddsTrio  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*/\s*(\d+(?:[.,]\d+)?)\s*/\s*(\d+(?:[.,]\d+)?)`)
	decimalRe = regexp.MustCompile(`\d+[.,]\d+`)
	splitters = []string{" vs. ", " vs ", " - ", " – ", " — ", " : "}

	scoreKeywords = []string{"tipp", "tor", "heim", "gast", "home", "away", "score"}
	placeholders  = map[string]struct{}{
		"heim": {}, "gast": {}, "home": {}, "away": {}, "tipp": {}, "joker": {},
		"punkte": {}, "quote": {}, "remis": {}, "vs": {},
	}

	nameAttributes     = []string{"data-team", "data-verein", "data-team-name", "data-name", "aria-label", "title", "placeholder"}
	homeClassSelectors = ".heim, .home, .team-heim, .teamhome, [data-home]"
	awayClassSelectors = ".gast, .away, .team-gast, .teamaway, [data-away]"

	// elements whose text continues the surrounding fragment
	inlineElements = map[string]struct{}{
		"b": {}, "strong": {}, "em": {}, "i": {}, "u": {}, "small": {}, "font": {}, "sup": {}, "sub": {}, "mark": {},
	}
)

// FormExtractor turns a matchday page into rows. It holds no state besides
// the expected row count and is safe for concurrent use.
type FormExtractor struct {
	expected int
}

// NewFormExtractor creates an extractor. expected <= 0 disables the row count check.
func NewFormExtractor(expected int) *FormExtractor {
	return &FormExtractor{expected: expected}
}

// Expected is the row count the extractor enforces
func (e *FormExtractor) Expected() int {
	return e.expected
}

// ExtractRows returns the rows of the page in document order
func (e *FormExtractor) ExtractRows(doc string) ([]Row, error) {
	page, err := e.ParsePage(doc, "", 0)
	if err != nil {
		return nil, err
	}
	return page.Rows, nil
}

// ParsePage extracts rows, rendered values and the writable form of a matchday page
func (e *FormExtractor) ParsePage(doc, pageURL string, matchday int) (*Page, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil, &ParseError{Matchday: matchday, Expected: e.expected, Reason: fmt.Sprintf("invalid html: %v", err)}
	}

	inputs := scoreInputs(d.Selection)
	formSel := findTippForm(d, inputs)
	if formSel.Length() > 0 {
		if scoped := scoreInputs(formSel); len(scoped) >= 2 {
			inputs = scoped
		}
	}

	pairs := pairInputs(inputs)
	rows := make([]Row, 0, len(pairs))
	values := make(map[string]string, len(inputs))
	for _, in := range inputs {
		values[attr(in, "name")] = strings.TrimSpace(attr(in, "value"))
	}
	for i, p := range pairs {
		rows = append(rows, buildRow(d, i+1, p))
	}

	if len(rows) == 0 {
		return nil, &ParseError{Matchday: matchday, Expected: e.expected, Reason: "no score input pairs found"}
	}
	if e.expected > 0 && len(rows) < e.expected {
		return nil, &ParseError{Matchday: matchday, Found: len(rows), Expected: e.expected, Reason: "fewer rows than the competition has"}
	}
	if e.expected > 0 && len(rows) > e.expected {
		logger.Warn(fmt.Sprintf("Matchday %d: found %d rows, truncating to %d", matchday, len(rows), e.expected))
		rows = rows[:e.expected]
	}

	page := &Page{
		Matchday: matchday,
		URL:      pageURL,
		Rows:     rows,
		Values:   values,
	}
	if formSel.Length() > 0 {
		page.Form = parseForm(formSel, pageURL)
	}
	return page, nil
}

//////////////////////////////////////////////////////////////////
////// Inputs and pairing
//////////////////////////////////////////////////////////////////

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return v
}

func hasAttr(s *goquery.Selection, name string) bool {
	_, ok := s.Attr(name)
	return ok
}

// isScoreInput accepts named text-like inputs that look like a goal field
func isScoreInput(s *goquery.Selection) bool {
	name := attr(s, "name")
	if name == "" {
		return false
	}
	typ := strings.ToLower(strings.TrimSpace(attr(s, "type")))
	switch typ {
	case "hidden", "submit", "button", "checkbox", "radio", "image", "reset", "file":
		return false
	}
	hay := strings.ToLower(name + " " + attr(s, "id") + " " + attr(s, "class"))
	for _, k := range scoreKeywords {
		if strings.Contains(hay, k) {
			return true
		}
	}
	if typ == "number" {
		return true
	}
	switch strings.ToLower(attr(s, "inputmode")) {
	case "numeric", "tel", "decimal":
		return true
	}
	if ml, err := strconv.Atoi(strings.TrimSpace(attr(s, "maxlength"))); err == nil && ml > 0 && ml <= 2 {
		return true
	}
	return false
}

func scoreInputs(scope *goquery.Selection) []*goquery.Selection {
	var out []*goquery.Selection
	scope.Find("input").Each(func(_ int, s *goquery.Selection) {
		if isScoreInput(s) {
			out = append(out, s)
		}
	})
	return out
}

// findTippForm prefers the form carrying the season/matchday hidden fields
func findTippForm(d *goquery.Document, inputs []*goquery.Selection) *goquery.Selection {
	forms := d.Find("form")
	marked := forms.FilterFunction(func(_ int, f *goquery.Selection) bool {
		return f.Find(`input[name="tippsaisonId"], input[name="spieltagIndex"]`).Length() > 0
	})
	if marked.Length() > 0 {
		return marked.First()
	}
	if len(inputs) > 0 {
		if f := inputs[0].Closest("form"); f.Length() > 0 {
			return f
		}
	}
	return forms.First()
}

type inputPair struct {
	home *goquery.Selection
	away *goquery.Selection
}

// pairInputs groups inputs on the first digit run of their name. Inputs
// without one are paired with their keyless neighbour in document order.
func pairInputs(inputs []*goquery.Selection) []inputPair {
	type group struct {
		key     string
		members []*goquery.Selection
	}
	var groups []*group
	byKey := make(map[string]*group)
	var pending *goquery.Selection

	for _, in := range inputs {
		name := attr(in, "name")
		key := digitRun.FindString(name)
		if key == "" {
			if pending == nil {
				pending = in
				continue
			}
			groups = append(groups, &group{members: []*goquery.Selection{pending, in}})
			pending = nil
			continue
		}
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, in)
	}
	if pending != nil {
		logger.Warn("Ignoring unpaired score input", attr(pending, "name"))
	}

	pairs := make([]inputPair, 0, len(groups))
	for _, g := range groups {
		if len(g.members) < 2 {
			logger.Warn("Ignoring unpaired score input", attr(g.members[0], "name"))
			continue
		}
		pairs = append(pairs, orient(g.members))
	}
	return pairs
}

func isHomeName(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "heim") || strings.Contains(n, "home")
}

func isAwayName(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "gast") || strings.Contains(n, "away")
}

func orient(members []*goquery.Selection) inputPair {
	var home, away *goquery.Selection
	for _, m := range members {
		name := attr(m, "name")
		if home == nil && isHomeName(name) {
			home = m
		} else if away == nil && isAwayName(name) {
			away = m
		}
	}
	if home != nil && away != nil {
		return inputPair{home: home, away: away}
	}
	a, b := members[0], members[1]
	if isHomeName(attr(b, "name")) || isAwayName(attr(a, "name")) {
		a, b = b, a
	}
	return inputPair{home: a, away: b}
}

//////////////////////////////////////////////////////////////////
////// Rows
//////////////////////////////////////////////////////////////////

func isClosed(s *goquery.Selection) bool {
	return hasAttr(s, "disabled") || hasAttr(s, "readonly")
}

// rowContainer is the enclosing <tr>, else the nearest ancestor holding both inputs
func rowContainer(p inputPair) *goquery.Selection {
	if tr := p.home.Closest("tr"); tr.Length() > 0 && tr.Contains(p.away.Get(0)) {
		return tr
	}
	parent := p.home.Parent()
	for depth := 0; parent.Length() > 0 && depth < maxContainerDepth; depth++ {
		if parent.Contains(p.away.Get(0)) {
			return parent
		}
		parent = parent.Parent()
	}
	return p.home.Parent()
}

func buildRow(d *goquery.Document, index int, p inputPair) Row {
	container := rowContainer(p)
	home, away := teamNames(d, container, p)
	return Row{
		Index:     index,
		HomeTeam:  home,
		AwayTeam:  away,
		HomeField: attr(p.home, "name"),
		AwayField: attr(p.away, "name"),
		Odds:      extractOdds(container),
		Open:      !isClosed(p.home) && !isClosed(p.away),
	}
}

//////////////////////////////////////////////////////////////////
////// Team names
//////////////////////////////////////////////////////////////////

// ValidTeamName rejects layout artifacts that sit next to team names:
// dates, kick off times, numbers, odds and placeholder words
func ValidTeamName(s string) bool {
	t := strings.TrimSpace(s)
	if len([]rune(t)) < 3 {
		return false
	}
	if dateLike.MatchString(t) || timeLike.MatchString(t) {
		return false
	}
	words := strings.FieldsFunc(strings.ToLower(t), func(r rune) bool { return !unicode.IsLetter(r) })
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if _, ok := placeholders[w]; !ok {
			return true
		}
	}
	return false
}

func firstValidAttr(s *goquery.Selection, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(attr(s, n)); ValidTeamName(v) {
			return v
		}
	}
	return ""
}

// byID avoids building css selectors from arbitrary id values
func byID(d *goquery.Document, id string) *goquery.Selection {
	return d.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return attr(s, "id") == id
	}).First()
}

func labelText(d *goquery.Document, in *goquery.Selection) string {
	if id := attr(in, "id"); id != "" {
		lab := d.Find("label[for]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return attr(s, "for") == id
		}).First()
		if t := collapse(lab.Text()); ValidTeamName(t) {
			return t
		}
	}
	if ids := strings.Fields(attr(in, "aria-labelledby")); len(ids) > 0 {
		var parts []string
		for _, id := range ids {
			if t := collapse(byID(d, id).Text()); t != "" {
				parts = append(parts, t)
			}
		}
		if t := strings.Join(parts, " "); ValidTeamName(t) {
			return t
		}
	}
	return ""
}

func firstValidText(sel *goquery.Selection) string {
	found := ""
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := collapse(s.Text()); ValidTeamName(t) {
			found = t
			return false
		}
		return true
	})
	return found
}

// teamNames walks the cascade attributes, labels, class selectors,
// img alt / title, free text, stopping at the first stage yielding both names
func teamNames(d *goquery.Document, container *goquery.Selection, p inputPair) (string, string) {
	h := firstValidAttr(p.home, append([]string{"data-home-team"}, nameAttributes...)...)
	a := firstValidAttr(p.away, append([]string{"data-away-team"}, nameAttributes...)...)
	if h == "" {
		h = firstValidAttr(container, "data-home-team")
	}
	if a == "" {
		a = firstValidAttr(container, "data-away-team")
	}
	if h != "" && a != "" {
		return h, a
	}

	if h, a := labelText(d, p.home), labelText(d, p.away); h != "" && a != "" {
		return h, a
	}

	if h, a := firstValidText(container.Find(homeClassSelectors)), firstValidText(container.Find(awayClassSelectors)); h != "" && a != "" {
		return h, a
	}

	tr := container.Closest("tr")
	if tr.Length() == 0 {
		tr = container
	}
	var texts []string
	tr.Find("img[alt]").Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, attr(s, "alt"))
	})
	tr.Find("a[title], abbr[title], span[title]").Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, attr(s, "title"))
	})
	texts = append(texts, textFragments(tr)...)
	if h, a := chooseTwo(texts); h != "" && a != "" {
		return h, a
	}

	h, a = chooseTwo(textFragments(container))
	if h == "" {
		h = "Heim"
	}
	if a == "" {
		a = "Gast"
	}
	return h, a
}

// splitPairing splits "A vs B", "A - B" or "A : B" when both halves are names
func splitPairing(s string) (string, string, bool) {
	for _, sep := range splitters {
		if i := strings.Index(s, sep); i > 0 {
			l := strings.TrimSpace(s[:i])
			r := strings.TrimSpace(s[i+len(sep):])
			if ValidTeamName(l) && ValidTeamName(r) {
				return l, r, true
			}
		}
	}
	return "", "", false
}

// chooseTwo returns the first two distinct valid names
func chooseTwo(texts []string) (string, string) {
	var names []string
	seen := make(map[string]struct{})
	add := func(t string) {
		if !ValidTeamName(t) {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		names = append(names, t)
	}
	for _, raw := range texts {
		t := collapse(raw)
		if l, r, ok := splitPairing(t); ok {
			add(l)
			add(r)
			continue
		}
		add(t)
	}
	switch len(names) {
	case 0:
		return "", ""
	case 1:
		return names[0], ""
	}
	return names[0], names[1]
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// textFragments returns the visible text of sel split at element boundaries.
// Inline formatting elements do not split a fragment.
func textFragments(sel *goquery.Selection) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		if t := collapse(buf.String()); t != "" {
			out = append(out, t)
		}
		buf.Reset()
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			buf.WriteString(n.Data)
			buf.WriteString(" ")
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "select", "textarea", "template":
				return
			}
		}
		_, inline := inlineElements[n.Data]
		if n.Type == html.ElementNode && !inline {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && !inline {
			flush()
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	flush()
	return out
}

//////////////////////////////////////////////////////////////////
////// Odds
//////////////////////////////////////////////////////////////////

func extractOdds(container *goquery.Selection) *Odds {
	text := strings.Join(textFragments(container), " ")
	if m := oddsTrio.FindStringSubmatch(text); m != nil {
		if o := oddsFrom(m[1], m[2], m[3]); o != nil {
			return o
		}
	}
	quoted := container.Find(`[class*="quote"], [class*="Quote"], [class*="odds"], [class*="Odds"]`)
	if quoted.Length() == 0 {
		return nil
	}
	nums := decimalRe.FindAllString(collapse(quoted.Text()), -1)
	if len(nums) < 3 {
		return nil
	}
	return oddsFrom(nums[0], nums[1], nums[2])
}

func oddsFrom(h, d, a string) *Odds {
	var vals [3]float64
	for i, s := range []string{h, d, a} {
		v, err := util.ParseDecimal(s)
		if err != nil {
			return nil
		}
		vals[i] = v
	}
	o := &Odds{Home: vals[0], Draw: vals[1], Away: vals[2]}
	if !o.Valid() {
		return nil
	}
	return o
}
