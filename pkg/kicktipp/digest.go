package kicktipp

import (
	"net/url"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"github.com/richard-senior/kicktipp/internal/logger"
	"github.com/richard-senior/kicktipp/pkg/tipp"
)

// MaxDigestLength caps the markdown handed to the predictor
const MaxDigestLength = 10000

// Digest converts the tipp form of a matchday page to markdown, so that
// fixtures, kick-off times and odds can be read without the surrounding
// navigation. It falls back to the whole body and returns "" on failure.
func Digest(doc *tipp.Document) string {
	if doc == nil || doc.HTML == "" {
		return ""
	}
	fragment := doc.HTML
	if d, err := goquery.NewDocumentFromReader(strings.NewReader(doc.HTML)); err == nil {
		d.Find("script, style, noscript").Remove()
		sel := d.Find("#tippabgabeForm")
		if sel.Length() == 0 {
			sel = d.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
				return s.Find(`input[name="tippsaisonId"], select[name="spieltagIndex"]`).Length() > 0 && s.Find("table").Length() > 0
			}).First()
		}
		if sel.Length() == 0 {
			sel = d.Find("body")
		}
		if h, err := goquery.OuterHtml(sel); err == nil {
			fragment = h
		}
	}

	domain := ""
	if u, err := url.Parse(doc.URL); err == nil {
		domain = u.Host
	}
	markdown, err := htmltomarkdown.ConvertString(fragment, converter.WithDomain(domain))
	if err != nil {
		logger.Warn("Failed to convert matchday page to markdown", err)
		return ""
	}
	markdown = strings.TrimSpace(markdown)
	if len(markdown) > MaxDigestLength {
		cut := MaxDigestLength
		// do not split a multi byte rune
		for cut > 0 && !utf8.RuneStart(markdown[cut]) {
			cut--
		}
		markdown = markdown[:cut] + "\n\n... (gekürzt)"
	}
	return markdown
}
