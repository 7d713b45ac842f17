package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxsearch/internal/catalog"
	"rxsearch/internal/fault"
	"rxsearch/internal/types"
	"rxsearch/internal/vectorstore"
)

// =============================================================================
// GET DRUG
// =============================================================================

func TestGetDrug_AcceptsDashedNDC(t *testing.T) {
	d := newTestDeps()
	var got string
	d.index.getFn = func(ndc string) (types.DrugDocument, error) {
		got = ndc
		return lipitor10, nil
	}
	d.index.countFn = func(filter string) (int64, error) {
		assert.Contains(t, filter, "@gcn_seqno:[49225 49225]")
		assert.Contains(t, filter, "-@ndc:{00071015523}")
		return 4, nil
	}
	d.enr.enr = map[string]catalog.Enrichment{
		lipitor10.NDC: {ManufacturerName: "PFIZER LABORATORIES DIV PFIZER INC", Route: "ORAL", PackageSize: 90},
	}
	d.inds.data = map[string][]string{"brand:LIPITOR": {"hyperlipidemia"}}

	detail, err := d.orchestrator(Config{}).GetDrug(context.Background(), "0071-0155-23")
	require.NoError(t, err)

	assert.Equal(t, "00071015523", got)
	assert.Equal(t, "LIPITOR 10 MG TABLET", detail.DrugName)
	assert.Equal(t, int64(4), detail.AlternativesCount)
	assert.Equal(t, "PFIZER LABORATORIES DIV PFIZER INC", detail.ManufacturerName)
	assert.Equal(t, "ORAL", detail.Route)
	assert.Equal(t, []string{"hyperlipidemia"}, detail.Indications)
}

func TestGetDrug_MalformedNDC(t *testing.T) {
	d := newTestDeps()
	called := false
	d.index.getFn = func(string) (types.DrugDocument, error) {
		called = true
		return types.DrugDocument{}, nil
	}

	detail, err := d.orchestrator(Config{}).GetDrug(context.Background(), "not-an-ndc")
	require.Error(t, err)
	assert.Nil(t, detail)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
	assert.False(t, called)
}

func TestGetDrug_NotFoundPassesThrough(t *testing.T) {
	d := newTestDeps()

	detail, err := d.orchestrator(Config{}).GetDrug(context.Background(), "00071015523")
	require.Error(t, err)
	assert.Nil(t, detail)
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
}

func TestGetDrug_SideLookupsAreBestEffort(t *testing.T) {
	d := newTestDeps()
	d.index.getFn = func(string) (types.DrugDocument, error) { return lipitor10, nil }
	d.index.countFn = func(string) (int64, error) {
		return 0, fault.Errorf(fault.UpstreamTransient, "vectorstore.count", "timeout")
	}
	d.enr.err = fault.Errorf(fault.UpstreamTransient, "catalog.enrich", "db down")
	d.inds.err = fault.Errorf(fault.UpstreamTransient, "indication.get", "redis down")

	detail, err := d.orchestrator(Config{}).GetDrug(context.Background(), "00071015523")
	require.NoError(t, err)

	assert.Equal(t, lipitor10.NDC, detail.NDC)
	assert.Zero(t, detail.AlternativesCount)
	assert.Empty(t, detail.ManufacturerName)
	assert.Empty(t, detail.Indications)
}

func TestGetDrug_SkipsCountWithoutGCN(t *testing.T) {
	orphan := plainDoc("00000000009", "COMPOUNDING POWDER")
	orphan.GCNSeqno = 0

	d := newTestDeps()
	d.index.getFn = func(string) (types.DrugDocument, error) { return orphan, nil }
	d.index.countFn = func(string) (int64, error) {
		t.Error("count should not run for a document without a gcn_seqno")
		return 0, nil
	}

	detail, err := d.orchestrator(Config{}).GetDrug(context.Background(), "00000000009")
	require.NoError(t, err)
	assert.Zero(t, detail.AlternativesCount)
	assert.Empty(t, d.inds.batches)
}

// =============================================================================
// ALTERNATIVES
// =============================================================================

func TestAlternatives_SplitsBrandAndGeneric(t *testing.T) {
	genericA := atorvastatin10
	genericB := atorvastatin10
	genericB.NDC = "00591376710"
	genericB.Manufacturer = "ACTAVIS"
	brandAlt := lipitor20
	brandAlt.GCNSeqno = lipitor10.GCNSeqno

	d := newTestDeps()
	d.index.getFn = func(string) (types.DrugDocument, error) { return lipitor10, nil }
	d.index.hybrid = func(spec vectorstore.QuerySpec) ([]vectorstore.Hit, error) {
		assert.Nil(t, spec.Vector)
		assert.Equal(t, 100, spec.Limit)
		assert.Contains(t, spec.Filter, "@gcn_seqno:[49225 49225]")
		assert.Contains(t, spec.Filter, "-@ndc:{00071015523}")
		return []vectorstore.Hit{{Doc: genericA}, {Doc: brandAlt}, {Doc: genericB}}, nil
	}
	d.enr.enr = map[string]catalog.Enrichment{genericA.NDC: {ManufacturerName: "TEVA PHARMACEUTICALS USA"}}

	set, err := d.orchestrator(Config{}).Alternatives(context.Background(), "00071015523")
	require.NoError(t, err)

	require.Len(t, set.Generic, 2)
	assert.Equal(t, genericA.NDC, set.Generic[0].NDC)
	assert.Equal(t, genericB.NDC, set.Generic[1].NDC)
	require.Len(t, set.Brand, 1)
	assert.Equal(t, brandAlt.NDC, set.Brand[0].NDC)

	assert.Equal(t, "TEVA PHARMACEUTICALS USA", set.Generic[0].ManufacturerName)
}

func TestAlternatives_NoGCNMeansEmptySets(t *testing.T) {
	orphan := plainDoc("00000000009", "COMPOUNDING POWDER")
	orphan.GCNSeqno = 0

	d := newTestDeps()
	d.index.getFn = func(string) (types.DrugDocument, error) { return orphan, nil }

	set, err := d.orchestrator(Config{}).Alternatives(context.Background(), "00000000009")
	require.NoError(t, err)

	// Empty but non-nil so the API renders [] rather than null.
	require.NotNil(t, set.Generic)
	require.NotNil(t, set.Brand)
	assert.Empty(t, set.Generic)
	assert.Empty(t, set.Brand)
	assert.Empty(t, d.index.scanSpecs())
}

func TestAlternatives_MalformedNDC(t *testing.T) {
	d := newTestDeps()

	set, err := d.orchestrator(Config{}).Alternatives(context.Background(), "12")
	require.Error(t, err)
	assert.Nil(t, set)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
}

func TestAlternatives_QueryErrorSurfaces(t *testing.T) {
	d := newTestDeps()
	d.index.getFn = func(string) (types.DrugDocument, error) { return lipitor10, nil }
	d.index.hybrid = func(vectorstore.QuerySpec) ([]vectorstore.Hit, error) {
		return nil, fault.Errorf(fault.UpstreamUnavailable, "vectorstore.query", "connection refused")
	}

	set, err := d.orchestrator(Config{}).Alternatives(context.Background(), "00071015523")
	require.Error(t, err)
	assert.Nil(t, set)
	assert.Equal(t, fault.UpstreamUnavailable, fault.KindOf(err))
}

func TestAlternatives_EnrichmentFailureSoft(t *testing.T) {
	d := newTestDeps()
	d.index.getFn = func(string) (types.DrugDocument, error) { return lipitor10, nil }
	d.index.hybrid = func(vectorstore.QuerySpec) ([]vectorstore.Hit, error) {
		return []vectorstore.Hit{{Doc: atorvastatin10}}, nil
	}
	d.enr.err = fault.Errorf(fault.UpstreamTransient, "catalog.enrich", "db down")

	set, err := d.orchestrator(Config{}).Alternatives(context.Background(), "00071015523")
	require.NoError(t, err)
	require.Len(t, set.Generic, 1)
	assert.Empty(t, set.Generic[0].ManufacturerName)
}
