package predictor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/richard-senior/kicktipp/pkg/tipp"
	"github.com/richard-senior/kicktipp/pkg/util"
)

// ErrNoJSON is returned when a reply contains neither an array nor an object
var ErrNoJSON = errors.New("no JSON found in model reply")

// ParseReply extracts candidate predictions from a model reply. It accepts
// a bare array, {"predictions": [...]} and both wrapped in code fences.
// Goals may be numbers or numeric strings.
func ParseReply(text string) ([]tipp.Prediction, error) {
	text = stripFences(text)
	if text == "" {
		return nil, fmt.Errorf("empty model reply: %w", ErrNoJSON)
	}

	items, err := decodeItems(text)
	if err != nil {
		return nil, err
	}
	preds := make([]tipp.Prediction, 0, len(items))
	for i, item := range items {
		p, err := toPrediction(item)
		if err != nil {
			return nil, fmt.Errorf("prediction %d: %w", i+1, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// language tag
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	if end := strings.LastIndex(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

func decodeItems(text string) ([]map[string]any, error) {
	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		raw = nil
		// first balanced looking span, array before object
		for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
			start, end := strings.Index(text, pair[0]), strings.LastIndex(text, pair[1])
			if start < 0 || end <= start {
				continue
			}
			if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err == nil {
				break
			}
			raw = nil
		}
		if raw == nil {
			return nil, ErrNoJSON
		}
	}

	switch v := raw.(type) {
	case []any:
		return asObjects(v)
	case map[string]any:
		for _, key := range []string{"predictions", "tipps", "tips"} {
			if list, ok := v[key].([]any); ok {
				return asObjects(list)
			}
		}
		return nil, fmt.Errorf("JSON object has no predictions array")
	}
	return nil, ErrNoJSON
}

func asObjects(list []any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(list))
	for i, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d is %T, not an object", i+1, e)
		}
		out = append(out, m)
	}
	return out, nil
}

func toPrediction(item map[string]any) (tipp.Prediction, error) {
	p := tipp.Prediction{Source: tipp.SourcePredictor}

	if v, ok := item["row_index"]; ok && v != nil {
		idx, err := util.GetAsInteger(v)
		if err != nil {
			return p, fmt.Errorf("row_index: %w", err)
		}
		p.RowIndex = idx
	}

	home, _ := util.GetAsString(first(item, "home_team", "home"))
	away, _ := util.GetAsString(first(item, "away_team", "away"))
	home, away = strings.TrimSpace(home), strings.TrimSpace(away)
	if home != "" || away != "" {
		p.Teams = &tipp.Pairing{Home: home, Away: away}
	}
	if p.RowIndex <= 0 && p.Teams == nil {
		return p, fmt.Errorf("neither row_index nor team names")
	}

	var err error
	if p.HomeGoals, err = goals(item, "predicted_home_goals", "home_goals"); err != nil {
		return p, err
	}
	if p.AwayGoals, err = goals(item, "predicted_away_goals", "away_goals"); err != nil {
		return p, err
	}
	if r, err := util.GetAsString(item["reason"]); err == nil {
		p.Reason = util.Truncate(strings.TrimSpace(r), 250)
	}
	return p, nil
}

func goals(item map[string]any, keys ...string) (int, error) {
	v := first(item, keys...)
	if v == nil {
		return 0, fmt.Errorf("missing %s", keys[0])
	}
	g, err := util.GetAsInteger(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", keys[0], err)
	}
	return g, nil
}

func first(item map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := item[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
