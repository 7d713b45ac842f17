// Package types provides shared type definitions used across rxsearch packages.
// This package exists to break import cycles between the search, ingest, and
// store gateways. Types in this package are foundational data structures with
// no dependencies outside the standard library.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CLOSED VOCABULARIES
// =============================================================================

// EmbeddingDim is the fixed dimensionality of every stored drug embedding.
const EmbeddingDim = 1024

// DosageForms is the closed vocabulary for DrugDocument.DosageForm.
var DosageForms = []string{
	"TABLET", "CAPSULE", "CREAM", "GEL", "OINTMENT", "SOLUTION",
	"SUSPENSION", "INJECTION", "VIAL", "SYRINGE", "POWDER", "PATCH",
	"SPRAY", "INHALER", "DROPS", "SUPPOSITORY", "OTHER",
}

// StrengthUnits is the closed vocabulary for DrugDocument.StrengthUnit.
// The empty string is valid and means "no parseable strength".
var StrengthUnits = []string{"MG", "ML", "MCG", "G", "%", "UNIT", ""}

// DEASchedules is the closed vocabulary for DrugDocument.DEASchedule.
// The empty string means "not a controlled substance".
var DEASchedules = []string{"", "2", "3", "4", "5"}

// IsDosageForm reports whether tag is a member of the dosage form vocabulary.
func IsDosageForm(tag string) bool {
	for _, f := range DosageForms {
		if tag == f {
			return true
		}
	}
	return false
}

// IsStrengthUnit reports whether tag is a member of the strength unit vocabulary.
func IsStrengthUnit(tag string) bool {
	for _, u := range StrengthUnits {
		if tag == u {
			return true
		}
	}
	return false
}

// IsDEASchedule reports whether tag is a member of the DEA schedule vocabulary.
func IsDEASchedule(tag string) bool {
	for _, s := range DEASchedules {
		if tag == s {
			return true
		}
	}
	return false
}

// =============================================================================
// DRUG DOCUMENT
// =============================================================================

// DrugDocument is the denormalized search document for a single NDC.
// It is created by the ingestion pipeline, stored in the vector store under
// key "drug:{ndc}", and immutable between ingests.
//
// ManufacturerName, Route, PackageSize, and PackageDescription are enrichment
// fields owned by the catalog store; they are empty on documents read back
// from the vector store and populated during result enrichment.
type DrugDocument struct {
	NDC              string  `json:"ndc"`
	DrugName         string  `json:"drug_name"`
	BrandName        string  `json:"brand_name,omitempty"`
	GenericName      string  `json:"generic_name,omitempty"`
	GCNSeqno         int64   `json:"gcn_seqno"`
	DrugClass        string  `json:"drug_class,omitempty"`
	TherapeuticClass string  `json:"therapeutic_class,omitempty"`
	DosageForm       string  `json:"dosage_form"`
	StrengthValue    float64 `json:"strength_value,omitempty"`
	StrengthUnit     string  `json:"strength_unit,omitempty"`
	Manufacturer     string  `json:"manufacturer,omitempty"`
	IsBrand          bool    `json:"is_brand"`
	IsGeneric        bool    `json:"is_generic"`
	DEASchedule      string  `json:"dea_schedule,omitempty"`
	IndicationKey    string  `json:"indication_key,omitempty"`

	// Embedding is the 1024-dim unit-norm vector. Never serialized to JSON;
	// the vector store persists it in binary form.
	Embedding []float32 `json:"-"`

	IndexedAt time.Time `json:"indexed_at,omitempty"`

	// Enrichment fields (catalog-owned, populated on demand).
	ManufacturerName   string  `json:"manufacturer_name,omitempty"`
	Route              string  `json:"route,omitempty"`
	PackageSize        float64 `json:"package_size,omitempty"`
	PackageDescription string  `json:"package_description,omitempty"`
}

// Key returns the vector store key for the document.
func (d *DrugDocument) Key() string {
	return "drug:" + d.NDC
}

// Validate checks the document invariants: an 11-digit NDC, embedding
// dimension, closed vocabularies, and brand/generic exclusivity.
func (d *DrugDocument) Validate() error {
	if len(d.NDC) != 11 {
		return fmt.Errorf("ndc must be 11 digits, got %q", d.NDC)
	}
	for _, r := range d.NDC {
		if r < '0' || r > '9' {
			return fmt.Errorf("ndc must be numeric, got %q", d.NDC)
		}
	}
	if strings.TrimSpace(d.DrugName) == "" {
		return fmt.Errorf("drug_name is empty for ndc %s", d.NDC)
	}
	if len(d.Embedding) != 0 && len(d.Embedding) != EmbeddingDim {
		return fmt.Errorf("embedding dimension %d, want %d", len(d.Embedding), EmbeddingDim)
	}
	if !IsDosageForm(d.DosageForm) {
		return fmt.Errorf("dosage_form %q not in vocabulary", d.DosageForm)
	}
	if !IsStrengthUnit(d.StrengthUnit) {
		return fmt.Errorf("strength_unit %q not in vocabulary", d.StrengthUnit)
	}
	if !IsDEASchedule(d.DEASchedule) {
		return fmt.Errorf("dea_schedule %q not in vocabulary", d.DEASchedule)
	}
	if d.IsBrand == d.IsGeneric {
		return fmt.Errorf("ndc %s: exactly one of is_brand/is_generic must be set", d.NDC)
	}
	return nil
}

// FamilyKey returns the result grouping key: the brand name for brand drugs,
// otherwise the ingredient class, falling back to the generic name and
// finally the label name so no document groups under an empty key.
func (d *DrugDocument) FamilyKey() string {
	if d.IsBrand && d.BrandName != "" {
		return d.BrandName
	}
	if d.DrugClass != "" {
		return d.DrugClass
	}
	if d.GenericName != "" {
		return d.GenericName
	}
	return d.DrugName
}

// VariantKey identifies a presentation within a family: same manufacturer,
// strength, and dosage form collapse into one variant bucket.
func (d *DrugDocument) VariantKey() string {
	return fmt.Sprintf("%s|%g|%s|%s", d.Manufacturer, d.StrengthValue, d.StrengthUnit, d.DosageForm)
}

// =============================================================================
// INDICATION RECORD
// =============================================================================

// IndicationRecord is the per-class indication list referenced by
// DrugDocument.IndicationKey. Many documents share one record.
type IndicationRecord struct {
	Key         string   `json:"key"`
	Indications []string `json:"indications"`
}
