package types

// =============================================================================
// SEARCH RESULTS
// =============================================================================

// MatchType records the provenance of a result: a direct semantic hit, an
// expansion over the same ingredient class, or an expansion over the broader
// therapeutic class. The three values form a closed tagged variant.
type MatchType string

const (
	// MatchVector marks documents returned by the ANN vector search itself.
	MatchVector MatchType = "vector"
	// MatchPharmacological marks documents pulled in by drug_class expansion.
	MatchPharmacological MatchType = "pharmacological"
	// MatchTherapeutic marks documents pulled in by therapeutic_class expansion.
	MatchTherapeutic MatchType = "therapeutic"
)

// Priority orders match types for classification and result ordering:
// vector > pharmacological > therapeutic. Higher wins on conflict.
func (m MatchType) Priority() int {
	switch m {
	case MatchVector:
		return 3
	case MatchPharmacological:
		return 2
	case MatchTherapeutic:
		return 1
	default:
		return 0
	}
}

// Valid reports whether m is one of the three closed values.
func (m MatchType) Valid() bool {
	return m == MatchVector || m == MatchPharmacological || m == MatchTherapeutic
}

// SearchResult is one returned drug group (a "family"): a brand for brand
// drugs, an ingredient class for generics.
type SearchResult struct {
	FamilyKey      string         `json:"family_key"`
	MatchType      MatchType      `json:"match_type"`
	Similarity     float64        `json:"similarity"`
	Representative DrugDocument   `json:"representative"`
	Variants       []DrugDocument `json:"variants"`
	Indications    []string       `json:"indications,omitempty"`
}
