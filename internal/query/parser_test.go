package query

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxsearch/internal/fault"
	"rxsearch/internal/llm"
	"rxsearch/internal/types"
)

// fakeChatter returns a canned response or error and records the exchange.
type fakeChatter struct {
	response string
	err      error
	system   string
	user     string
}

func (f *fakeChatter) Chat(_ context.Context, system, user string, _ llm.Schema) (json.RawMessage, error) {
	f.system, f.user = system, user
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.response), nil
}

func parseWith(t *testing.T, response string, input string) (types.ParsedQuery, Meta) {
	t.Helper()
	p := New(&fakeChatter{response: response}, 0, nil)
	pq, meta, err := p.Parse(context.Background(), input)
	require.NoError(t, err)
	return pq, meta
}

func TestParse_MisspelledDrugWithFilters(t *testing.T) {
	pq, meta := parseWith(t, `{
		"drug_terms": ["testosterone"],
		"filters": {"strength": {"value": 200, "unit": "MG"}, "dosage_form": "VIAL"},
		"corrections": ["tastosterne -> testosterone"]
	}`, "tastosterne 200 mg vial")

	assert.Equal(t, ParserLLM, meta.Parser)
	assert.Empty(t, meta.DroppedFilters)
	assert.Equal(t, []string{"testosterone"}, pq.DrugTerms)
	assert.Equal(t, "testosterone", pq.SearchText)
	assert.Equal(t, "VIAL", pq.Filters.DosageForm)
	require.NotNil(t, pq.Filters.Strength)
	assert.Equal(t, 200.0, pq.Filters.Strength.Value)
	assert.Equal(t, "MG", pq.Filters.Strength.Unit)
	assert.Equal(t, 0.05, pq.Filters.Strength.Tolerance, "tolerance defaults to 5%")
	assert.Equal(t, []string{"tastosterne -> testosterone"}, pq.Corrections)
}

func TestParse_TermsDedupedPreservingOrder(t *testing.T) {
	pq, _ := parseWith(t, `{
		"drug_terms": ["Atorvastatin", "rosuvastatin", "atorvastatin", "  "]
	}`, "statins")

	assert.Equal(t, []string{"atorvastatin", "rosuvastatin"}, pq.DrugTerms)
	assert.Equal(t, "atorvastatin rosuvastatin", pq.SearchText)
}

func TestParse_AbbreviationExpansion(t *testing.T) {
	t.Run("single drug shorthand", func(t *testing.T) {
		pq, _ := parseWith(t, `{"drug_terms": ["ASA"]}`, "asa")
		assert.Equal(t, []string{"aspirin"}, pq.DrugTerms)
	})

	t.Run("class shorthand expands to members", func(t *testing.T) {
		pq, _ := parseWith(t, `{"drug_terms": ["acei", "lisinopril"]}`, "ACEI")
		assert.Equal(t, []string{"lisinopril", "enalapril", "ramipril"}, pq.DrugTerms,
			"expansion dedupes against later duplicates")
	})
}

func TestParse_FilterNormalization(t *testing.T) {
	tests := []struct {
		name    string
		filters string
		check   func(t *testing.T, f types.Filters, dropped []string)
	}{
		{
			name:    "unknown keys dropped not errored",
			filters: `{"route": "oral", "is_generic": true}`,
			check: func(t *testing.T, f types.Filters, dropped []string) {
				assert.Equal(t, []string{"route"}, dropped)
				require.NotNil(t, f.IsGeneric)
				assert.True(t, *f.IsGeneric)
			},
		},
		{
			name:    "out of vocabulary dosage form dropped",
			filters: `{"dosage_form": "LOTION"}`,
			check: func(t *testing.T, f types.Filters, dropped []string) {
				assert.Equal(t, []string{"dosage_form"}, dropped)
				assert.Empty(t, f.DosageForm)
			},
		},
		{
			name:    "loose dosage form normalized",
			filters: `{"dosage_form": "gel packet"}`,
			check: func(t *testing.T, f types.Filters, dropped []string) {
				assert.Empty(t, dropped)
				assert.Equal(t, "GEL", f.DosageForm)
			},
		},
		{
			name:    "explicit zero tolerance preserved",
			filters: `{"strength": {"value": 10, "unit": "mg", "tolerance": 0}}`,
			check: func(t *testing.T, f types.Filters, dropped []string) {
				require.NotNil(t, f.Strength)
				assert.Equal(t, 0.0, f.Strength.Tolerance)
				assert.Equal(t, "MG", f.Strength.Unit)
			},
		},
		{
			name:    "strength with bad unit dropped",
			filters: `{"strength": {"value": 10, "unit": "TABLESPOON"}}`,
			check: func(t *testing.T, f types.Filters, dropped []string) {
				assert.Equal(t, []string{"strength"}, dropped)
				assert.Nil(t, f.Strength)
			},
		},
		{
			name:    "strength without value dropped",
			filters: `{"strength": {"unit": "MG"}}`,
			check: func(t *testing.T, f types.Filters, dropped []string) {
				assert.Equal(t, []string{"strength"}, dropped)
			},
		},
		{
			name:    "ten digit ndc left padded",
			filters: `{"ndc": "0310-7570-90"}`,
			check: func(t *testing.T, f types.Filters, dropped []string) {
				assert.Empty(t, dropped)
				assert.Equal(t, "00310757090", f.NDC)
			},
		},
		{
			name:    "short ndc dropped",
			filters: `{"ndc": "1234"}`,
			check: func(t *testing.T, f types.Filters, dropped []string) {
				assert.Equal(t, []string{"ndc"}, dropped)
			},
		},
		{
			name:    "roman numeral schedule tolerated",
			filters: `{"dea_schedule": "II"}`,
			check: func(t *testing.T, f types.Filters, dropped []string) {
				assert.Empty(t, dropped)
				assert.Equal(t, "2", f.DEASchedule)
			},
		},
		{
			name:    "schedule one rejected",
			filters: `{"dea_schedule": "1"}`,
			check: func(t *testing.T, f types.Filters, dropped []string) {
				assert.Equal(t, []string{"dea_schedule"}, dropped)
			},
		},
		{
			name:    "gcn_seqno numeric",
			filters: `{"gcn_seqno": 49460}`,
			check: func(t *testing.T, f types.Filters, dropped []string) {
				assert.Empty(t, dropped)
				assert.Equal(t, int64(49460), f.GCNSeqno)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pq, meta := parseWith(t, `{"drug_terms": ["x-ray-drug"], "filters": `+tt.filters+`}`, "q")
			tt.check(t, pq.Filters, meta.DroppedFilters)
		})
	}
}

func TestParse_NDCOnlyQueryHasNoTerms(t *testing.T) {
	pq, meta := parseWith(t, `{"drug_terms": [], "filters": {"ndc": "00310757090"}}`, "ndc 00310757090")

	assert.Equal(t, ParserLLM, meta.Parser)
	assert.Empty(t, pq.DrugTerms)
	assert.Equal(t, "00310757090", pq.Filters.NDC)
}

func TestParse_FallbackOnLLMFailure(t *testing.T) {
	p := New(&fakeChatter{err: fault.E(fault.UpstreamUnavailable, "llm.chat", errors.New("down"))}, 0, nil)

	pq, meta, err := p.Parse(context.Background(), "Lipitor 20mg")
	require.NoError(t, err, "search must proceed on LLM failure")
	assert.Equal(t, ParserFallback, meta.Parser)
	assert.Equal(t, []string{"lipitor 20mg"}, pq.DrugTerms)
	assert.True(t, pq.Filters.Empty())
}

func TestParse_FallbackOnUndecodableResponse(t *testing.T) {
	// Schema validation passed upstream but the strict decode cannot use it.
	p := New(&fakeChatter{response: `{"drug_terms": [42]}`}, 0, nil)

	pq, meta, err := p.Parse(context.Background(), "aspirin")
	require.NoError(t, err)
	assert.Equal(t, ParserFallback, meta.Parser)
	assert.Equal(t, []string{"aspirin"}, pq.DrugTerms)
}

func TestParse_EmptyInputRejected(t *testing.T) {
	p := New(&fakeChatter{response: `{}`}, 0, nil)
	_, _, err := p.Parse(context.Background(), "   ")
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
}

func TestParse_SendsStaticSystemPrompt(t *testing.T) {
	fc := &fakeChatter{response: `{"drug_terms": ["aspirin"]}`}
	p := New(fc, 0, nil)

	_, _, err := p.Parse(context.Background(), "aspirin please")
	require.NoError(t, err)
	assert.Equal(t, systemPrompt, fc.system, "system prompt must stay byte-identical for provider caching")
	assert.Equal(t, "aspirin please", fc.user)
}
