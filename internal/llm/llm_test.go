package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{
			name: "bare object",
			in:   `{"drug_terms":["lipitor"]}`,
			want: `{"drug_terms":["lipitor"]}`,
			ok:   true,
		},
		{
			name: "code fence",
			in:   "Here you go:\n```json\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
			ok:   true,
		},
		{
			name: "prose around object",
			in:   `The parse is {"a": {"b": 2}} as requested.`,
			want: `{"a": {"b": 2}}`,
			ok:   true,
		},
		{
			name: "brace in string handled",
			in:   `{"note": "contains } brace"}`,
			want: `{"note": "contains } brace"}`,
			ok:   true,
		},
		{
			name: "no json",
			in:   "I cannot help with that.",
			ok:   false,
		},
		{
			name: "unclosed object",
			in:   `{"a": 1`,
			ok:   false,
		},
		{
			name: "skips broken then finds valid",
			in:   `{oops} then {"a":1}`,
			want: `{"a":1}`,
			ok:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, ok := ExtractJSON(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.JSONEq(t, tt.want, string(raw))
			}
		})
	}
}

func TestSchemaValidate(t *testing.T) {
	schema := Schema{
		"drug_terms":  {Type: TypeArray, Required: true},
		"search_text": {Type: TypeString, Required: true},
		"filters":     {Type: TypeObject},
		"corrections": {Type: TypeArray},
	}

	t.Run("conforming", func(t *testing.T) {
		raw := json.RawMessage(`{
			"drug_terms": ["lipitor"],
			"search_text": "lipitor",
			"filters": {"dosage_form": "TABLET"},
			"corrections": []
		}`)
		assert.NoError(t, schema.Validate(raw))
	})

	t.Run("optional field absent", func(t *testing.T) {
		raw := json.RawMessage(`{"drug_terms": [], "search_text": ""}`)
		assert.NoError(t, schema.Validate(raw))
	})

	t.Run("unknown fields tolerated", func(t *testing.T) {
		raw := json.RawMessage(`{"drug_terms": [], "search_text": "", "confidence": 0.9}`)
		assert.NoError(t, schema.Validate(raw))
	})

	t.Run("missing required field", func(t *testing.T) {
		raw := json.RawMessage(`{"search_text": "x"}`)
		err := schema.Validate(raw)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "drug_terms")
	})

	t.Run("wrong type", func(t *testing.T) {
		raw := json.RawMessage(`{"drug_terms": "lipitor", "search_text": "lipitor"}`)
		err := schema.Validate(raw)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wrong type")
	})

	t.Run("null does not satisfy typed field", func(t *testing.T) {
		raw := json.RawMessage(`{"drug_terms": null, "search_text": "x"}`)
		assert.Error(t, schema.Validate(raw))
	})

	t.Run("not an object", func(t *testing.T) {
		assert.Error(t, schema.Validate(json.RawMessage(`["a"]`)))
	})
}

func TestNewAnthropic(t *testing.T) {
	t.Run("requires key", func(t *testing.T) {
		_, err := NewAnthropic("", "claude-sonnet-4-20250514", 0, nil)
		require.Error(t, err)
	})
}
