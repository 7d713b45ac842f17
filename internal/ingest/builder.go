package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"rxsearch/internal/catalog"
	"rxsearch/internal/fault"
	"rxsearch/internal/types"
)

// =============================================================================
// ROW -> DOCUMENT NORMALIZATION
// =============================================================================
//
// Deterministic by construction: the same catalog row always yields the same
// document (modulo IndexedAt), which is what makes re-ingestion idempotent.

// BuildDocument normalizes one catalog row into a DrugDocument. The embedding
// is left empty; the pipeline fills it after the provider call. Rows that
// cannot produce a valid document return invalid_input and go to the
// dead-letter list.
func BuildDocument(row catalog.Row, now time.Time) (types.DrugDocument, error) {
	ndc, ok := normalizeNDC(row.NDC)
	if !ok {
		return types.DrugDocument{}, fault.Errorf(fault.InvalidInput, "ingest.build", "row has malformed ndc %q", row.NDC)
	}

	form, ok := types.NormalizeDosageForm(row.DosageForm)
	if !ok {
		// FDB ships a long tail of packaging-only form strings; they index
		// as OTHER rather than being dropped.
		form = "OTHER"
	}

	value, unit := ParseStrength(row.Strength)

	// innov "1" is the innovator (brand) product; "0" and the rare
	// co-licensed codes index as generic so the brand/generic split stays
	// exhaustive.
	isBrand := strings.TrimSpace(row.Innov) == "1"

	doc := types.DrugDocument{
		NDC:              ndc,
		DrugName:         collapseUpper(row.DrugName),
		BrandName:        collapseUpper(row.BrandName),
		GenericName:      strings.ToLower(collapse(row.Ingredient)),
		GCNSeqno:         row.GCNSeqno,
		DrugClass:        ClassTag(row.Ingredient),
		TherapeuticClass: collapse(row.TherapeuticClass),
		DosageForm:       form,
		StrengthValue:    value,
		StrengthUnit:     unit,
		Manufacturer:     strings.TrimSpace(row.Labeler),
		IsBrand:          isBrand,
		IsGeneric:        !isBrand,
		DEASchedule:      normalizeDEA(row.DEA),
		IndexedAt:        now.UTC().Truncate(time.Second),
	}
	doc.IndicationKey = indicationKey(doc)

	if err := doc.Validate(); err != nil {
		return types.DrugDocument{}, fault.E(fault.InvalidInput, "ingest.build", err)
	}
	return doc, nil
}

// EmbedText composes the text embedded for a document: the ingredient-level
// name, the brand name, and the therapeutic class, lowercased. Strengths,
// forms, and package words are deliberately absent; those are filter fields,
// not semantics.
func EmbedText(doc types.DrugDocument) string {
	parts := make([]string, 0, 3)
	seen := make(map[string]bool, 3)
	add := func(s string) {
		s = strings.ToLower(collapse(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		parts = append(parts, s)
	}

	add(doc.GenericName)
	add(doc.BrandName)
	if len(parts) == 0 {
		add(doc.DrugName)
	}
	add(doc.TherapeuticClass)
	return strings.Join(parts, " ")
}

// ClassTag turns an ingredient description into the drug_class tag:
// uppercase with every non-alphanumeric run collapsed to one underscore
// ("Rosuvastatin Calcium" -> "ROSUVASTATIN_CALCIUM").
func ClassTag(ingredient string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToUpper(strings.TrimSpace(ingredient)) {
		alnum := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !alnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// indicationKey derives the Indication Store pointer: brand products share
// indications under their brand name, generics under their ingredient class.
func indicationKey(doc types.DrugDocument) string {
	if doc.IsBrand && doc.BrandName != "" {
		return "brand:" + strings.ReplaceAll(doc.BrandName, " ", "_")
	}
	if doc.DrugClass != "" {
		return "class:" + doc.DrugClass
	}
	return ""
}

// =============================================================================
// FIELD NORMALIZERS
// =============================================================================

// normalizeNDC reduces a raw catalog NDC to 11 digits, left-padding the
// 10-digit spelling.
func normalizeNDC(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch len(digits) {
	case 11:
		return digits, true
	case 10:
		return "0" + digits, true
	default:
		return "", false
	}
}

// collapse trims s and collapses internal whitespace runs to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func collapseUpper(s string) string {
	return strings.ToUpper(collapse(s))
}

// normalizeDEA keeps only the controlled schedules 2-5; "0", blanks, and
// anything else mean "not controlled".
func normalizeDEA(s string) string {
	s = strings.TrimSpace(s)
	switch s {
	case "2", "3", "4", "5":
		return s
	default:
		return ""
	}
}

// strengthPattern captures a numeric strength and the token that follows it.
// The token is validated against strengthUnits afterwards, so trailing words
// that merely start with a unit letter never parse as one.
var strengthPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([A-Z%]+)?`)

// strengthUnits maps unit spellings seen in FDB extracts onto the closed
// vocabulary.
var strengthUnits = map[string]string{
	"MG":    "MG",
	"ML":    "ML",
	"MCG":   "MCG",
	"UG":    "MCG",
	"G":     "G",
	"GM":    "G",
	"GRAM":  "G",
	"%":     "%",
	"UNIT":  "UNIT",
	"UNITS": "UNIT",
	"IU":    "UNIT",
}

// ParseStrength extracts the numeric strength and canonical unit from a
// free-text strength string: "10 MG", "80MG", "0.5 %", "1000 UNITS/ML".
// The first number carrying a recognized unit wins, so per-volume strengths
// ("200 MG/ML") keep the numerator and combination strengths ("20-12.5 MG")
// keep the component the unit binds to. Unparseable input yields (0, ""),
// a valid "no strength" document state.
func ParseStrength(s string) (float64, string) {
	for _, m := range strengthPattern.FindAllStringSubmatch(strings.ToUpper(strings.TrimSpace(s)), -1) {
		unit := strengthUnits[m[2]]
		if unit == "" {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil || value <= 0 {
			continue
		}
		return value, unit
	}
	return 0, ""
}
