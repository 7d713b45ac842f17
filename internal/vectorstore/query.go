package vectorstore

import (
	"fmt"
	"strconv"
	"strings"

	"rxsearch/internal/types"
)

// =============================================================================
// QUERY EXPRESSION BUILDERS
// =============================================================================
//
// Pure functions assembling RediSearch (DIALECT 2) query strings. Filters
// always apply before KNN traversal: the filter expression is the left-hand
// side of the `=>` operator.

// tagEscaper escapes characters RediSearch treats as syntax inside TAG
// values. Values like "CREAM (GRAM)" or "C-II" must round-trip exactly.
var tagEscaper = strings.NewReplacer(
	",", "\\,", ".", "\\.", "<", "\\<", ">", "\\>",
	"{", "\\{", "}", "\\}", "[", "\\[", "]", "\\]",
	"\"", "\\\"", "'", "\\'", ":", "\\:", ";", "\\;",
	"!", "\\!", "@", "\\@", "#", "\\#", "$", "\\$",
	"%", "\\%", "^", "\\^", "&", "\\&", "*", "\\*",
	"(", "\\(", ")", "\\)", "-", "\\-", "+", "\\+",
	"=", "\\=", "~", "\\~", "|", "\\|", "/", "\\/",
	"\\", "\\\\", " ", "\\ ",
)

// EscapeTag escapes a TAG value for use inside `@field:{...}`.
func EscapeTag(s string) string {
	return tagEscaper.Replace(s)
}

// Tag builds an exact TAG predicate.
func Tag(field, value string) string {
	return fmt.Sprintf("@%s:{%s}", field, EscapeTag(value))
}

// NotTag builds a negated TAG predicate (documents whose field does not
// hold value).
func NotTag(field, value string) string {
	return "-" + Tag(field, value)
}

// TagUnion builds a TAG predicate matching any of values.
func TagUnion(field string, values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = EscapeTag(v)
	}
	return fmt.Sprintf("@%s:{%s}", field, strings.Join(escaped, "|"))
}

// NumericEquals builds a degenerate numeric range matching exactly v.
func NumericEquals(field string, v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	return fmt.Sprintf("@%s:[%s %s]", field, s, s)
}

// NumericRange builds an inclusive numeric range predicate.
func NumericRange(field string, min, max float64) string {
	return fmt.Sprintf("@%s:[%s %s]",
		field,
		strconv.FormatFloat(min, 'f', -1, 64),
		strconv.FormatFloat(max, 'f', -1, 64))
}

// TextPhrase builds an exact phrase predicate over a TEXT field.
func TextPhrase(field, phrase string) string {
	return fmt.Sprintf("@%s:(%q)", field, phrase)
}

// minPrefixLen disables the lexical prefilter for very short terms, which
// would otherwise wildcard-match half the catalog.
const minPrefixLen = 4

// LexicalPrefix builds a per-word prefix match over the three name fields,
// or "" when the term is too short. Words are sanitized down to word
// characters so user text can never inject query syntax; one-letter words
// are dropped (below the index MINPREFIX).
func LexicalPrefix(term string) string {
	var words []string
	total := 0
	for _, w := range strings.Fields(term) {
		var b strings.Builder
		for _, r := range w {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				b.WriteRune(r)
			}
		}
		if b.Len() < 2 {
			continue
		}
		total += b.Len()
		words = append(words, b.String()+"*")
	}
	if total < minPrefixLen {
		return ""
	}
	return fmt.Sprintf("@%s|%s|%s:(%s)", fieldDrugName, fieldBrandName, fieldGenericName, strings.Join(words, " "))
}

// And joins predicates with RediSearch's implicit conjunction, skipping
// empties. No predicates yields the match-all query.
func And(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return "*"
	}
	return strings.Join(kept, " ")
}

// KNN wraps a filter expression with the KNN vector clause. k and efRuntime
// are inlined (only the vector binds as a param); efRuntime 0 uses the
// index default.
func KNN(filter string, k, efRuntime int) string {
	if filter == "" {
		filter = "*"
	}
	if efRuntime > 0 {
		return fmt.Sprintf("(%s)=>[KNN %d @%s $vec EF_RUNTIME %d AS %s]",
			filter, k, fieldEmbedding, efRuntime, fieldScore)
	}
	return fmt.Sprintf("(%s)=>[KNN %d @%s $vec AS %s]", filter, k, fieldEmbedding, fieldScore)
}

// BuildFilters converts parsed filters into predicate strings, honoring the
// auto-apply whitelist. Strength is deliberately absent: the orchestrator
// applies it after class expansion.
func BuildFilters(f types.Filters, allow map[string]bool, synonyms map[string][]string) []string {
	var parts []string

	if f.NDC != "" && allow["ndc"] {
		parts = append(parts, Tag(fieldNDC, f.NDC))
	}
	if f.GCNSeqno != 0 && allow["gcn_seqno"] {
		parts = append(parts, NumericEquals(fieldGCNSeqno, float64(f.GCNSeqno)))
	}
	if f.DosageForm != "" && allow["dosage_form"] {
		forms := append([]string{f.DosageForm}, synonyms[f.DosageForm]...)
		parts = append(parts, TagUnion(fieldDosageForm, forms))
	}
	if f.DEASchedule != "" && allow["dea_schedule"] {
		parts = append(parts, Tag(fieldDEASchedule, f.DEASchedule))
	}
	if f.IsGeneric != nil && allow["is_generic"] {
		parts = append(parts, Tag(fieldIsGeneric, boolTag(*f.IsGeneric)))
	}

	return parts
}

// ByDrugClass builds the ingredient-class expansion predicate.
func ByDrugClass(class string) string {
	return Tag(fieldDrugClass, class)
}

// ByTherapeuticClass builds the therapeutic-class expansion predicate.
// The field is TEXT, so this is an exact phrase match.
func ByTherapeuticClass(class string) string {
	return TextPhrase(fieldTherapeuticClass, class)
}

// ByGCN builds the generic-equivalence predicate.
func ByGCN(gcn int64) string {
	return NumericEquals(fieldGCNSeqno, float64(gcn))
}

// ExcludeNDC builds a predicate rejecting one NDC.
func ExcludeNDC(ndc string) string {
	return NotTag(fieldNDC, ndc)
}

// =============================================================================
// FT.CREATE ARGUMENT BUILDER
// =============================================================================

// IndexSpec parameterizes the drug index.
type IndexSpec struct {
	Name           string
	Prefix         string
	Dim            int
	M              int
	EFConstruction int
	EFRuntime      int
	Quantization   string
}

// BuildCreateIndexArgs assembles the raw FT.CREATE argument vector. The
// typed FTCreate builder cannot express the vector COMPRESSION attribute,
// so index creation goes through client.Do with these args.
func BuildCreateIndexArgs(spec IndexSpec) []interface{} {
	args := []interface{}{
		"FT.CREATE", spec.Name,
		"ON", "HASH",
		"PREFIX", "1", spec.Prefix,
		"SCHEMA",

		fieldNDC, "TAG",
		fieldDrugClass, "TAG",
		fieldDosageForm, "TAG",
		fieldStrengthUnit, "TAG",
		fieldDEASchedule, "TAG",
		fieldIsBrand, "TAG",
		fieldIsGeneric, "TAG",
		fieldIndicationKey, "TAG",
		fieldManufacturer, "TAG",

		fieldDrugName, "TEXT", "PHONETIC", "dm:en", "SORTABLE",
		fieldBrandName, "TEXT", "PHONETIC", "dm:en",
		fieldGenericName, "TEXT", "PHONETIC", "dm:en",
		fieldTherapeuticClass, "TEXT", "PHONETIC", "dm:en",

		fieldGCNSeqno, "NUMERIC", "SORTABLE",
		fieldStrengthValue, "NUMERIC", "SORTABLE",
	}

	vectorAttrs := []interface{}{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(spec.Dim),
		"DISTANCE_METRIC", "COSINE",
		"M", strconv.Itoa(spec.M),
		"EF_CONSTRUCTION", strconv.Itoa(spec.EFConstruction),
		"EF_RUNTIME", strconv.Itoa(spec.EFRuntime),
	}
	if spec.Quantization != "" {
		vectorAttrs = append(vectorAttrs, "COMPRESSION", spec.Quantization)
	}

	args = append(args, fieldEmbedding, "VECTOR", "HNSW", strconv.Itoa(len(vectorAttrs)))
	args = append(args, vectorAttrs...)

	return args
}
