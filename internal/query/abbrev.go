package query

import "strings"

// abbreviations is the curated expansion table applied after the LLM parse.
// The prompt teaches the model the same expansions, but the table guarantees
// coverage for the common clinical shorthands regardless of model drift.
// Keys are matched against whole lowercased terms.
var abbreviations = map[string][]string{
	"asa":  {"aspirin"},
	"apap": {"acetaminophen"},
	"hctz": {"hydrochlorothiazide"},
	"mtx":  {"methotrexate"},
	"ntg":  {"nitroglycerin"},
	"pcn":  {"penicillin"},
	"inh":  {"isoniazid"},
	"mom":  {"magnesium hydroxide"},
	"tcn":  {"tetracycline"},

	"acei":   {"lisinopril", "enalapril", "ramipril"},
	"arb":    {"losartan", "valsartan", "olmesartan"},
	"ccb":    {"amlodipine", "diltiazem", "verapamil"},
	"ppi":    {"omeprazole", "pantoprazole", "esomeprazole"},
	"ssri":   {"sertraline", "fluoxetine", "escitalopram"},
	"snri":   {"venlafaxine", "duloxetine"},
	"nsaid":  {"ibuprofen", "naproxen", "diclofenac"},
	"statin": {"atorvastatin", "rosuvastatin", "simvastatin", "pravastatin", "lovastatin"},
}

// expandTerms canonicalizes drug terms: lowercase, trim, expand abbreviation
// table entries, and deduplicate preserving first-seen order.
func expandTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		expanded, ok := abbreviations[t]
		if !ok {
			expanded = []string{t}
		}
		for _, e := range expanded {
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	return out
}
