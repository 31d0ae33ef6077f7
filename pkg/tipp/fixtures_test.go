package tipp

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// fixtureRow is one fixture of a rendered test page
type fixtureRow struct {
	Home, Away string
	Odds       string
	HomeValue  string
	AwayValue  string
	Closed     bool
}

func bundesligaFixtures() []fixtureRow {
	return []fixtureRow{
		{Home: "FC Bayern München", Away: "Borussia Dortmund", Odds: "1.45 / 5.00 / 6.00"},
		{Home: "Bayer 04 Leverkusen", Away: "VfB Stuttgart", Odds: "1.80 / 3.90 / 4.20"},
		{Home: "RB Leipzig", Away: "SV Werder Bremen", Odds: "1.50 / 4.00 / 6.50"},
		{Home: "Eintracht Frankfurt", Away: "SC Freiburg", Odds: "2.10 / 3.50 / 3.30"},
		{Home: "VfL Wolfsburg", Away: "1. FSV Mainz 05", Odds: "2.40 / 3.30 / 2.90"},
		{Home: "Borussia Mönchengladbach", Away: "TSG Hoffenheim", Odds: "2.30 / 3.60 / 2.90"},
		{Home: "1. FC Union Berlin", Away: "FC Augsburg", Odds: "2.20 / 3.20 / 3.40"},
		{Home: "1. FC Köln", Away: "Hamburger SV", Odds: "2.50 / 3.40 / 2.70"},
		{Home: "FC St. Pauli", Away: "1. FC Heidenheim 1846", Odds: "2.30 / 3.30 / 3.10"},
	}
}

func fieldKey(i int) int {
	return 1001 + i
}

func homeFieldName(i int) string {
	return fmt.Sprintf("spieltippForms[%d].heimTipp", fieldKey(i))
}

func awayFieldName(i int) string {
	return fmt.Sprintf("spieltippForms[%d].gastTipp", fieldKey(i))
}

// renderTippPage renders a kicktipp-like tippabgabe page
func renderTippPage(matchday int, rows []fixtureRow) string {
	b := strings.Builder{}
	b.WriteString(`<html><head><title>Tippabgabe</title><script>var tippsaisonId = 4242;</script></head><body>`)
	b.WriteString(`<div class="navigation"><form id="spieltagForm" action="/testpool/tippabgabe" method="get"><select name="spieltagIndex">`)
	for md := 1; md <= 34; md++ {
		sel := ""
		if md == matchday {
			sel = ` selected="selected"`
		}
		fmt.Fprintf(&b, `<option value="%d"%s>%d. Spieltag</option>`, md, sel, md)
	}
	b.WriteString(`</select></form></div>`)
	fmt.Fprintf(&b, `<form id="tippabgabeForm" action="/testpool/tippabgabe?spieltagIndex=%d" method="post">`, matchday)
	b.WriteString(`<input type="hidden" name="tippsaisonId" value="4242"/>`)
	fmt.Fprintf(&b, `<input type="hidden" name="csrf" value="token-%d"/>`, matchday)
	b.WriteString(`<table id="tippabgabeSpiele"><thead><tr><th>Termin</th><th>Heim</th><th>Gast</th><th>Tipp</th><th>Quote</th></tr></thead><tbody>`)
	for i, r := range rows {
		dis := ""
		if r.Closed {
			dis = ` disabled="disabled"`
		}
		b.WriteString(`<tr class="datarow">`)
		fmt.Fprintf(&b, `<td class="nw kicktipp-time">%02d.10.25 15:30</td>`, 10+i%9)
		fmt.Fprintf(&b, `<td class="nw col1">%s</td><td class="nw col2">%s</td>`, r.Home, r.Away)
		b.WriteString(`<td class="kicktipp-tippabgabe">`)
		fmt.Fprintf(&b, `<input type="tel" inputmode="numeric" maxlength="2" name="%s" value="%s"%s/>`, homeFieldName(i), r.HomeValue, dis)
		fmt.Fprintf(&b, `<input type="tel" inputmode="numeric" maxlength="2" name="%s" value="%s"%s/>`, awayFieldName(i), r.AwayValue, dis)
		b.WriteString(`</td>`)
		fmt.Fprintf(&b, `<td class="kicktipp-wettquote">%s</td>`, r.Odds)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</tbody></table>`)
	b.WriteString(`<input type="submit" name="submitbutton" value="Tipps speichern"/></form></body></html>`)
	return b.String()
}

// fakeRemote serves rendered pages from in-memory state and applies writes
type fakeRemote struct {
	mu       sync.Mutex
	matchday int
	rows     []fixtureRow
	sends    []SubmitRequest
	loads    int
	// dropFields ignores the given field names on the next n sends
	dropFields map[string]int
	// closeAfterSend closes these row positions after the first send
	closeAfterSend []int
	loadErr        error
	sendErr        error
	// failLoads makes the next n loads fail with a NetworkError
	failLoads int
}

func newFakeRemote(matchday int, rows []fixtureRow) *fakeRemote {
	cp := append([]fixtureRow(nil), rows...)
	return &fakeRemote{matchday: matchday, rows: cp, dropFields: map[string]int{}}
}

func (f *fakeRemote) Load(ctx context.Context, matchday int) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.failLoads > 0 {
		f.failLoads--
		return nil, &NetworkError{Op: "GET", URL: "https://www.kicktipp.de/testpool/tippabgabe", Err: context.DeadlineExceeded}
	}
	return &Document{
		URL:  "https://www.kicktipp.de/testpool/tippabgabe?spieltagIndex=" + strconv.Itoa(matchday),
		HTML: renderTippPage(matchday, f.rows),
	}, nil
}

func (f *fakeRemote) Send(ctx context.Context, req SubmitRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, SubmitRequest{Method: req.Method, Action: req.Action, Referer: req.Referer, Values: cloneValues(req.Values)})
	for i := range f.rows {
		if f.rows[i].Closed {
			continue
		}
		f.rows[i].HomeValue = f.apply(homeFieldName(i), req.Values, f.rows[i].HomeValue)
		f.rows[i].AwayValue = f.apply(awayFieldName(i), req.Values, f.rows[i].AwayValue)
	}
	for _, pos := range f.closeAfterSend {
		f.rows[pos].Closed = true
	}
	f.closeAfterSend = nil
	return nil
}

func (f *fakeRemote) apply(name string, vals url.Values, current string) string {
	if n := f.dropFields[name]; n > 0 {
		f.dropFields[name] = n - 1
		return current
	}
	if v, ok := vals[name]; ok && len(v) > 0 {
		return v[0]
	}
	return current
}

func (f *fakeRemote) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func cloneValues(v url.Values) url.Values {
	out := url.Values{}
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
