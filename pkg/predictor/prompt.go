package predictor

import (
	"fmt"
	"strings"

	"github.com/richard-senior/kicktipp/pkg/tipp"
)

const systemPrompt = "Du bist ein sachlicher Prognose-Assistent für Vereinsfußball. " +
	"Antworte ausschließlich in Deutsch und ausschließlich mit einem JSON-Array, ohne Text davor oder danach."

// BuildPrompt renders the user message for one matchday. Closed rows are
// listed for context but must not be tipped.
func BuildPrompt(req tipp.PredictRequest) string {
	open := countOpen(req.Rows)
	var sb strings.Builder
	sb.WriteString("Ziel: je offenem Spiel ein konkretes Ergebnis (Heim-/Auswärtstore) auf Basis der Quoten ")
	sb.WriteString("(overround-bereinigt), Form, Ausfällen und Heimvorteil.\n")
	sb.WriteString("AUSGABEFORMAT (zwingend):\n")
	sb.WriteString(`[ {"row_index": int, "home_team": str, "away_team": str, "predicted_home_goals": int, "predicted_away_goals": int, "reason": str(<=250)}, ... ]`)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Regeln: Nur JSON; genau %d Einträge, jeder row_index genau einmal; Teamnamen exakt wie unten; ", open)
	sb.WriteString("Tore 0 bis 9; keine Serien gleicher Ergebnisse; 1:1 nur bei klarer Remis-Tendenz.\n")
	if req.Season != "" {
		fmt.Fprintf(&sb, "\nSaison: %s", req.Season)
	}
	fmt.Fprintf(&sb, "\nSpieltag: %d\n", req.Matchday)
	sb.WriteString("Spiele (index) Heim - Auswärts | Quoten H/D/A | Status:\n")
	for _, r := range req.Rows {
		status := "offen"
		if !r.Open {
			status = "geschlossen"
		}
		fmt.Fprintf(&sb, "%d) %s vs %s | Quoten: %s | %s\n", r.Index, r.HomeTeam, r.AwayTeam, r.Odds.String(), status)
	}
	if req.Digest != "" {
		sb.WriteString("\nAuszug der Tippseite:\n")
		sb.WriteString(req.Digest)
		sb.WriteString("\n")
	}
	if req.Hint != "" {
		sb.WriteString("\n")
		sb.WriteString(req.Hint)
		sb.WriteString("\n")
	}
	sb.WriteString("\nGib ausschließlich das JSON-Array zurück.")
	return sb.String()
}
