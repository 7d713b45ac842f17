package vectorstore

import (
	"strconv"
	"time"

	"rxsearch/internal/types"
	"rxsearch/internal/vec32"
)

// =============================================================================
// HASH CODEC
// =============================================================================

// Field names of the drug hash. The index schema, the encoder, and the
// decoder must agree on these.
const (
	fieldNDC              = "ndc"
	fieldDrugName         = "drug_name"
	fieldBrandName        = "brand_name"
	fieldGenericName      = "generic_name"
	fieldGCNSeqno         = "gcn_seqno"
	fieldDrugClass        = "drug_class"
	fieldTherapeuticClass = "therapeutic_class"
	fieldDosageForm       = "dosage_form"
	fieldStrengthValue    = "strength_value"
	fieldStrengthUnit     = "strength_unit"
	fieldManufacturer     = "manufacturer"
	fieldIsBrand          = "is_brand"
	fieldIsGeneric        = "is_generic"
	fieldDEASchedule      = "dea_schedule"
	fieldIndicationKey    = "indication_key"
	fieldEmbedding        = "embedding"
	fieldIndexedAt        = "indexed_at"
	fieldScore            = "__score"
)

// scalarFields is the default RETURN projection: everything except the
// embedding blob, which queries never need back.
var scalarFields = []string{
	fieldNDC, fieldDrugName, fieldBrandName, fieldGenericName,
	fieldGCNSeqno, fieldDrugClass, fieldTherapeuticClass,
	fieldDosageForm, fieldStrengthValue, fieldStrengthUnit,
	fieldManufacturer, fieldIsBrand, fieldIsGeneric,
	fieldDEASchedule, fieldIndicationKey, fieldIndexedAt,
}

// boolTag encodes a boolean as the "1"/"0" TAG value used in the hash.
func boolTag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// encodeDoc flattens a DrugDocument into the HSET field map. The embedding
// is stored as little-endian float32 bytes.
func encodeDoc(doc types.DrugDocument) map[string]interface{} {
	m := map[string]interface{}{
		fieldNDC:              doc.NDC,
		fieldDrugName:         doc.DrugName,
		fieldBrandName:        doc.BrandName,
		fieldGenericName:      doc.GenericName,
		fieldGCNSeqno:         strconv.FormatInt(doc.GCNSeqno, 10),
		fieldDrugClass:        doc.DrugClass,
		fieldTherapeuticClass: doc.TherapeuticClass,
		fieldDosageForm:       doc.DosageForm,
		fieldStrengthValue:    strconv.FormatFloat(doc.StrengthValue, 'f', -1, 64),
		fieldStrengthUnit:     doc.StrengthUnit,
		fieldManufacturer:     doc.Manufacturer,
		fieldIsBrand:          boolTag(doc.IsBrand),
		fieldIsGeneric:        boolTag(doc.IsGeneric),
		fieldDEASchedule:      doc.DEASchedule,
		fieldIndicationKey:    doc.IndicationKey,
		fieldIndexedAt:        doc.IndexedAt.UTC().Format(time.RFC3339),
	}
	if len(doc.Embedding) > 0 {
		m[fieldEmbedding] = string(vec32.Encode(doc.Embedding))
	}
	return m
}

// decodeDoc rebuilds a DrugDocument from hash fields. Missing fields decode
// to zero values; the embedding is decoded only when present.
func decodeDoc(fields map[string]string) (types.DrugDocument, error) {
	doc := types.DrugDocument{
		NDC:              fields[fieldNDC],
		DrugName:         fields[fieldDrugName],
		BrandName:        fields[fieldBrandName],
		GenericName:      fields[fieldGenericName],
		DrugClass:        fields[fieldDrugClass],
		TherapeuticClass: fields[fieldTherapeuticClass],
		DosageForm:       fields[fieldDosageForm],
		StrengthUnit:     fields[fieldStrengthUnit],
		Manufacturer:     fields[fieldManufacturer],
		DEASchedule:      fields[fieldDEASchedule],
		IndicationKey:    fields[fieldIndicationKey],
	}

	if v := fields[fieldGCNSeqno]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return doc, err
		}
		doc.GCNSeqno = n
	}
	if v := fields[fieldStrengthValue]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return doc, err
		}
		doc.StrengthValue = f
	}
	doc.IsBrand = fields[fieldIsBrand] == "1"
	doc.IsGeneric = fields[fieldIsGeneric] == "1"

	if v := fields[fieldIndexedAt]; v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return doc, err
		}
		doc.IndexedAt = t
	}
	if v := fields[fieldEmbedding]; v != "" {
		vec, err := vec32.Decode([]byte(v))
		if err != nil {
			return doc, err
		}
		doc.Embedding = vec
	}

	return doc, nil
}
