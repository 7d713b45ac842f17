package types

import (
	"regexp"
	"strings"
)

// =============================================================================
// DOSAGE FORM NORMALIZATION
// =============================================================================

// formAliases maps loose form tokens seen in FDB extracts and user queries
// onto the closed vocabulary.
var formAliases = map[string]string{
	"TAB":        "TABLET",
	"TABS":       "TABLET",
	"CAPLET":     "TABLET",
	"CAP":        "CAPSULE",
	"CAPS":       "CAPSULE",
	"INJ":        "INJECTION",
	"INJECTABLE": "INJECTION",
	"AMPULE":     "VIAL",
	"AMPUL":      "VIAL",
	"PEN":        "SYRINGE",
	"SOL":        "SOLUTION",
	"SOLN":       "SOLUTION",
	"ELIXIR":     "SOLUTION",
	"SYRUP":      "SOLUTION",
	"LIQUID":     "SOLUTION",
	"SUSP":       "SUSPENSION",
	"OINT":       "OINTMENT",
	"SUPP":       "SUPPOSITORY",
	"AEROSOL":    "SPRAY",
	"AER":        "SPRAY",
	"INH":        "INHALER",
	"INHALATION": "INHALER",
	"DROP":       "DROPS",
	"PWDR":       "POWDER",
	"PWD":        "POWDER",
}

var parenthetical = regexp.MustCompile(`\([^)]*\)`)

// NormalizeDosageForm maps a free-text dosage form onto the closed
// vocabulary: "GEL PACKET" -> GEL, "CREAM (GRAM)" -> CREAM, "TABLET ER 24H"
// -> TABLET. The packaging and release qualifiers FDB appends never change
// the form, so the first recognizable token wins. Returns ok=false when no
// token maps; ingest stores such rows as OTHER, query filters drop them.
func NormalizeDosageForm(s string) (string, bool) {
	s = strings.ToUpper(parenthetical.ReplaceAllString(s, " "))
	s = strings.ReplaceAll(s, ",", " ")

	fields := strings.Fields(s)
	if joined := strings.Join(fields, " "); IsDosageForm(joined) {
		return joined, true
	}
	for _, tok := range fields {
		if IsDosageForm(tok) {
			return tok, true
		}
		if canonical, ok := formAliases[tok]; ok {
			return canonical, true
		}
	}
	return "", false
}
