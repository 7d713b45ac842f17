package types

import "strings"

// =============================================================================
// PARSED QUERY
// =============================================================================

// ParsedQuery is the query-understanding output for a single request.
// It is ephemeral: built per request, never persisted.
type ParsedQuery struct {
	// SearchText is DrugTerms joined by a single space; this is the string
	// embedded downstream.
	SearchText string `json:"search_text"`

	// DrugTerms holds canonical drug names (lowercase), deduplicated
	// preserving order. Condition words never appear here.
	DrugTerms []string `json:"drug_terms"`

	// Filters is the restricted filter set extracted from the query.
	Filters Filters `json:"filters"`

	// Corrections records spelling fixes the parser applied. Log only;
	// corrections never affect search.
	Corrections []string `json:"corrections,omitempty"`
}

// NewParsedQuery builds a ParsedQuery from already-canonical terms, joining
// SearchText and dropping empty entries.
func NewParsedQuery(terms []string, filters Filters) ParsedQuery {
	clean := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		clean = append(clean, t)
	}
	return ParsedQuery{
		SearchText: strings.Join(clean, " "),
		DrugTerms:  clean,
		Filters:    filters,
	}
}

// Filters is the closed set of filters recognized by the search engine.
// Unknown keys from the parser are discarded upstream, never carried here.
type Filters struct {
	DosageForm  string    `json:"dosage_form,omitempty"`
	Strength    *Strength `json:"strength,omitempty"`
	NDC         string    `json:"ndc,omitempty"`
	GCNSeqno    int64     `json:"gcn_seqno,omitempty"`
	DEASchedule string    `json:"dea_schedule,omitempty"`
	IsGeneric   *bool     `json:"is_generic,omitempty"`
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f.DosageForm == "" && f.Strength == nil && f.NDC == "" &&
		f.GCNSeqno == 0 && f.DEASchedule == "" && f.IsGeneric == nil
}

// Strength is a post-expansion numeric filter: candidates survive when their
// strength lies in [Value*(1-Tolerance), Value*(1+Tolerance)] and the unit
// matches case-insensitively.
type Strength struct {
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Tolerance float64 `json:"tolerance"`
}

// Bounds returns the inclusive [min, max] range the filter accepts.
func (s Strength) Bounds() (float64, float64) {
	return s.Value * (1 - s.Tolerance), s.Value * (1 + s.Tolerance)
}

// Matches reports whether a document strength satisfies the filter.
func (s Strength) Matches(value float64, unit string) bool {
	lo, hi := s.Bounds()
	if value < lo || value > hi {
		return false
	}
	return strings.EqualFold(unit, s.Unit)
}
