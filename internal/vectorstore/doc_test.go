package vectorstore

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxsearch/internal/types"
)

func TestDocCodecRoundTrip(t *testing.T) {
	emb := make([]float32, types.EmbeddingDim)
	emb[0], emb[1], emb[types.EmbeddingDim-1] = 0.25, -1, 0.5

	want := types.DrugDocument{
		NDC: "00071015523", DrugName: "LIPITOR 10 MG TABLET", BrandName: "LIPITOR",
		GenericName: "ATORVASTATIN CALCIUM", GCNSeqno: 49225, DrugClass: "STATINS",
		TherapeuticClass: "CARDIOVASCULAR AGENTS", DosageForm: "TABLET",
		StrengthValue: 10, StrengthUnit: "MG", Manufacturer: "PFIZER US",
		IsBrand: true, DEASchedule: "2", IndicationKey: "brand:LIPITOR",
		Embedding: emb,
		IndexedAt: time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC),
	}

	fields := encodeDoc(want)
	assert.Equal(t, "1", fields[fieldIsBrand])
	assert.Equal(t, "0", fields[fieldIsGeneric])

	strFields := make(map[string]string, len(fields))
	for k, v := range fields {
		strFields[k] = v.(string)
	}

	got, err := decodeDoc(strFields)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("document changed across codec (-want +got):\n%s", diff)
	}
}

func TestEncodeDoc_OmitsEmptyEmbedding(t *testing.T) {
	fields := encodeDoc(types.DrugDocument{NDC: "00071015523"})
	_, ok := fields[fieldEmbedding]
	assert.False(t, ok)
}

func TestDecodeDoc_MissingFieldsAreZero(t *testing.T) {
	doc, err := decodeDoc(map[string]string{fieldNDC: "00071015523"})
	require.NoError(t, err)
	assert.Equal(t, "00071015523", doc.NDC)
	assert.Zero(t, doc.GCNSeqno)
	assert.False(t, doc.IsBrand)
	assert.False(t, doc.IsGeneric)
	assert.Nil(t, doc.Embedding)
	assert.True(t, doc.IndexedAt.IsZero())
}

func TestDecodeDoc_BadFields(t *testing.T) {
	_, err := decodeDoc(map[string]string{fieldGCNSeqno: "not-a-number"})
	assert.Error(t, err)

	_, err = decodeDoc(map[string]string{fieldStrengthValue: "ten"})
	assert.Error(t, err)

	// Embedding bytes must be whole float32s.
	_, err = decodeDoc(map[string]string{fieldEmbedding: "abc"})
	assert.Error(t, err)
}
