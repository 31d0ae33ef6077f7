package kicktipp

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/richard-senior/kicktipp/pkg/tipp"
	"github.com/stretchr/testify/assert"
)

func TestDigestKeepsTheTippForm(t *testing.T) {
	md := Digest(&tipp.Document{URL: "https://www.kicktipp.de/testpool/tippabgabe?spieltagIndex=2", HTML: tippPage})
	assert.Contains(t, md, "FC Bayern München")
	assert.NotContains(t, md, "3912345", "scripts are dropped")
	assert.NotContains(t, md, "2. Spieltag", "navigation outside the form is dropped")
}

func TestDigestTruncates(t *testing.T) {
	html := "<html><body><p>" + strings.Repeat("Mönchengladbach ", 2000) + "</p></body></html>"
	md := Digest(&tipp.Document{URL: "https://www.kicktipp.de/", HTML: html})
	assert.True(t, strings.HasSuffix(md, "(gekürzt)"))
	assert.True(t, utf8.ValidString(md))
	assert.LessOrEqual(t, len(md), MaxDigestLength+32)
}

func TestDigestEmpty(t *testing.T) {
	assert.Empty(t, Digest(nil))
	assert.Empty(t, Digest(&tipp.Document{}))
}
