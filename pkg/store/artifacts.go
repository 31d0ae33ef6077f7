package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/richard-senior/kicktipp/internal/logger"
	"github.com/richard-senior/kicktipp/pkg/tipp"
)

// Artifacts writes human readable JSON and markdown files under one
// output directory:
//
//	forms/<season>_md<N>.json     extracted rows and form state
//	forms/<season>_md<N>.md       markdown digest of the page
//	predictions/<season>_md<N>.json
//	outcomes/<season>_md<N>.json
//	raw/<season>_md<N>_try<K>.txt raw predictor replies
type Artifacts struct {
	dir string
}

var _ tipp.Recorder = (*Artifacts)(nil)

func NewArtifacts(dir string) *Artifacts {
	return &Artifacts{dir: dir}
}

func (a *Artifacts) Dir() string {
	return a.dir
}

// safeName keeps season labels like "2025/2026" usable as file names
func safeName(s string) string {
	if s == "" {
		return "season"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, s)
}

func (a *Artifacts) path(kind, season string, matchday int, suffix string) string {
	return filepath.Join(a.dir, kind, fmt.Sprintf("%s_md%d%s", safeName(season), matchday, suffix))
}

func (a *Artifacts) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	logger.Debug("Wrote artifact", path)
	return nil
}

func (a *Artifacts) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", path, err)
	}
	return a.write(path, append(data, '\n'))
}

func (a *Artifacts) SaveRows(season string, page *tipp.Page) error {
	return a.writeJSON(a.path("forms", season, page.Matchday, ".json"), page)
}

func (a *Artifacts) SavePredictions(season string, matchday int, preds []tipp.Prediction) error {
	return a.writeJSON(a.path("predictions", season, matchday, ".json"), tipp.MatchDaySet{Matchday: matchday, Predictions: preds})
}

func (a *Artifacts) SaveOutcome(season string, outcome tipp.MatchdayOutcome) error {
	return a.writeJSON(a.path("outcomes", season, outcome.Matchday, ".json"), outcome)
}

// SaveDigest stores the markdown rendering of a matchday page
func (a *Artifacts) SaveDigest(season string, matchday int, markdown string) error {
	return a.write(a.path("forms", season, matchday, ".md"), []byte(markdown))
}

// SaveRaw stores an unparsed predictor reply
func (a *Artifacts) SaveRaw(season string, matchday, attempt int, body string) error {
	return a.write(a.path("raw", season, matchday, fmt.Sprintf("_try%d.txt", attempt)), []byte(body))
}
