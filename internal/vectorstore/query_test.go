package vectorstore

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxsearch/internal/types"
)

func TestEscapeTag(t *testing.T) {
	assert.Equal(t, "TABLET", EscapeTag("TABLET"))
	assert.Equal(t, `CREAM\ \(GRAM\)`, EscapeTag("CREAM (GRAM)"))
	assert.Equal(t, `C\-II`, EscapeTag("C-II"))
	assert.Equal(t, `50\%`, EscapeTag("50%"))
}

func TestTagBuilders(t *testing.T) {
	assert.Equal(t, "@dosage_form:{TABLET}", Tag("dosage_form", "TABLET"))
	assert.Equal(t, "-@ndc:{00071015523}", NotTag("ndc", "00071015523"))
	assert.Equal(t, "@dosage_form:{INJECTION|VIAL}", TagUnion("dosage_form", []string{"INJECTION", "VIAL"}))
	assert.Equal(t, `@drug_class:{HMG\ COA\ REDUCTASE\ INHIBITORS}`, ByDrugClass("HMG COA REDUCTASE INHIBITORS"))
}

func TestNumericBuilders(t *testing.T) {
	assert.Equal(t, "@gcn_seqno:[49225 49225]", NumericEquals("gcn_seqno", 49225))
	assert.Equal(t, "@strength_value:[9.5 10.5]", NumericRange("strength_value", 9.5, 10.5))
	assert.Equal(t, "@gcn_seqno:[49225 49225]", ByGCN(49225))
}

func TestTextPhrase(t *testing.T) {
	assert.Equal(t, `@therapeutic_class:("CARDIOVASCULAR AGENTS")`,
		ByTherapeuticClass("CARDIOVASCULAR AGENTS"))
}

func TestLexicalPrefix(t *testing.T) {
	assert.Equal(t, "@drug_name|brand_name|generic_name:(lipitor*)", LexicalPrefix("lipitor"))
	assert.Equal(t, "@drug_name|brand_name|generic_name:(amoxclav* 875*)", LexicalPrefix("amox/clav 875"))

	// Too short to prefix-match without flooding the candidate set.
	assert.Empty(t, LexicalPrefix("ab"))
	assert.Empty(t, LexicalPrefix("a b"))
	assert.Empty(t, LexicalPrefix(""))

	// Query syntax cannot survive sanitization.
	out := LexicalPrefix(`@ndc:{123} =>[KNN 100]`)
	assert.NotContains(t, out, "{")
	assert.NotContains(t, out, "=>")
	assert.NotContains(t, out, "[")
}

func TestAnd(t *testing.T) {
	assert.Equal(t, "*", And())
	assert.Equal(t, "*", And("", ""))
	assert.Equal(t, "@a:{x}", And("", "@a:{x}"))
	assert.Equal(t, "@a:{x} @b:{y}", And("@a:{x}", "", "@b:{y}"))
}

func TestKNN(t *testing.T) {
	assert.Equal(t,
		"(@drug_class:{STATINS})=>[KNN 20 @embedding $vec EF_RUNTIME 50 AS __score]",
		KNN("@drug_class:{STATINS}", 20, 50))
	assert.Equal(t,
		"(*)=>[KNN 5 @embedding $vec AS __score]",
		KNN("", 5, 0))
}

func TestBuildFilters(t *testing.T) {
	generic := true
	f := types.Filters{
		DosageForm:  "INJECTION",
		Strength:    &types.Strength{Value: 10, Unit: "MG", Tolerance: 0.05},
		NDC:         "00071015523",
		GCNSeqno:    49225,
		DEASchedule: "2",
		IsGeneric:   &generic,
	}
	allowAll := map[string]bool{
		"ndc": true, "gcn_seqno": true, "dosage_form": true,
		"dea_schedule": true, "is_generic": true,
	}
	synonyms := map[string][]string{"INJECTION": {"VIAL", "SYRINGE", "SOLUTION"}}

	parts := BuildFilters(f, allowAll, synonyms)
	require.Len(t, parts, 5)
	assert.Contains(t, parts, "@ndc:{00071015523}")
	assert.Contains(t, parts, "@gcn_seqno:[49225 49225]")
	assert.Contains(t, parts, "@dosage_form:{INJECTION|VIAL|SYRINGE|SOLUTION}")
	assert.Contains(t, parts, "@dea_schedule:{2}")
	assert.Contains(t, parts, "@is_generic:{1}")

	// Strength filters after expansion, never at retrieval.
	for _, p := range parts {
		assert.NotContains(t, p, "strength")
	}
}

func TestBuildFilters_Whitelist(t *testing.T) {
	f := types.Filters{DosageForm: "TABLET", DEASchedule: "2"}

	parts := BuildFilters(f, map[string]bool{"dea_schedule": true}, nil)
	require.Len(t, parts, 1)
	assert.Equal(t, "@dea_schedule:{2}", parts[0])

	assert.Empty(t, BuildFilters(types.Filters{}, map[string]bool{"ndc": true}, nil))
}

func TestBuildCreateIndexArgs(t *testing.T) {
	spec := IndexSpec{
		Name: "idx:drugs", Prefix: "drug:", Dim: 1024,
		M: 40, EFConstruction: 200, EFRuntime: 10,
		Quantization: "LeanVec4x8",
	}
	args := BuildCreateIndexArgs(spec)

	strs := make([]string, 0, len(args))
	for _, a := range args {
		s, ok := a.(string)
		require.True(t, ok, "non-string arg %v", a)
		strs = append(strs, s)
	}

	assert.Equal(t, []string{"FT.CREATE", "idx:drugs", "ON", "HASH", "PREFIX", "1", "drug:"}, strs[:7])

	joined := strings.Join(strs, " ")
	assert.Contains(t, joined, "embedding VECTOR HNSW")
	assert.Contains(t, joined, "DIM 1024")
	assert.Contains(t, joined, "DISTANCE_METRIC COSINE")
	assert.Contains(t, joined, "EF_CONSTRUCTION 200")
	assert.Contains(t, joined, "COMPRESSION LeanVec4x8")
	assert.Contains(t, joined, "drug_name TEXT PHONETIC dm:en")

	// The HNSW attribute count must agree with the attributes after it.
	for i, s := range strs {
		if s == "HNSW" {
			n, err := strconv.Atoi(strs[i+1])
			require.NoError(t, err)
			assert.Equal(t, len(strs)-(i+2), n)
		}
	}
}

func TestBuildCreateIndexArgs_NoQuantization(t *testing.T) {
	args := BuildCreateIndexArgs(IndexSpec{
		Name: "idx:plain", Prefix: "drug:", Dim: 8, M: 16, EFConstruction: 100, EFRuntime: 10,
	})
	for _, a := range args {
		assert.NotEqual(t, "COMPRESSION", a)
	}
}
