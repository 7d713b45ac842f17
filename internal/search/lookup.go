package search

import (
	"context"

	"go.uber.org/zap"

	"rxsearch/internal/fault"
	"rxsearch/internal/query"
	"rxsearch/internal/types"
	"rxsearch/internal/vectorstore"
)

// Detail is the single-document lookup payload: the indexed document plus
// how many same-GCN products exist and the family's indications.
type Detail struct {
	types.DrugDocument
	AlternativesCount int64    `json:"alternatives_count"`
	Indications       []string `json:"indications,omitempty"`
}

// AlternativeSet holds same-GCN products split by the brand/generic flag.
type AlternativeSet struct {
	Generic []types.DrugDocument `json:"generic"`
	Brand   []types.DrugDocument `json:"brand"`
}

// GetDrug looks one NDC up in the index, accepting the dashed 10-digit
// retail spelling. The alternatives count, catalog enrichment, and
// indications are best effort: their failures are logged, not surfaced.
func (o *Orchestrator) GetDrug(ctx context.Context, ndc string) (*Detail, error) {
	canonical, ok := query.NormalizeNDC(ndc)
	if !ok {
		return nil, fault.Errorf(fault.InvalidInput, "search.get_drug", "malformed ndc %q", ndc)
	}

	vctx, cancel := context.WithTimeout(ctx, o.cfg.VectorTimeout)
	doc, err := o.index.Get(vctx, canonical)
	cancel()
	if err != nil {
		return nil, err
	}

	detail := &Detail{DrugDocument: doc}

	if doc.GCNSeqno != 0 {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.VectorTimeout)
		n, err := o.index.Count(cctx, vectorstore.And(
			vectorstore.ByGCN(doc.GCNSeqno),
			vectorstore.ExcludeNDC(doc.NDC),
		))
		cancel()
		if err != nil {
			o.logger.Warn("alternatives count failed", zap.String("ndc", doc.NDC), zap.Error(err))
		} else {
			detail.AlternativesCount = n
		}
	}

	ectx, cancel := context.WithTimeout(ctx, o.cfg.EnrichTimeout)
	enr, err := o.enricher.EnrichByNDC(ectx, []string{doc.NDC})
	cancel()
	if err != nil {
		o.logger.Warn("lookup enrichment failed", zap.String("ndc", doc.NDC), zap.Error(err))
	} else {
		applyEnrichment(&detail.DrugDocument, enr)
	}

	if doc.IndicationKey != "" {
		ictx, cancel := context.WithTimeout(ctx, o.cfg.EnrichTimeout)
		inds, err := o.indications.GetBatch(ictx, []string{doc.IndicationKey})
		cancel()
		if err != nil {
			o.logger.Warn("lookup indications failed", zap.String("key", doc.IndicationKey), zap.Error(err))
		} else {
			detail.Indications = inds[doc.IndicationKey]
		}
	}

	return detail, nil
}

// Alternatives returns the other products sharing the seed's gcn_seqno,
// split into generic and brand sides. A seed without a GCN has none.
func (o *Orchestrator) Alternatives(ctx context.Context, ndc string) (*AlternativeSet, error) {
	canonical, ok := query.NormalizeNDC(ndc)
	if !ok {
		return nil, fault.Errorf(fault.InvalidInput, "search.alternatives", "malformed ndc %q", ndc)
	}

	vctx, cancel := context.WithTimeout(ctx, o.cfg.VectorTimeout)
	seed, err := o.index.Get(vctx, canonical)
	cancel()
	if err != nil {
		return nil, err
	}

	// Empty slices, not nil: the API renders them as [].
	set := &AlternativeSet{
		Generic: []types.DrugDocument{},
		Brand:   []types.DrugDocument{},
	}
	if seed.GCNSeqno == 0 {
		return set, nil
	}

	qctx, cancel := context.WithTimeout(ctx, o.cfg.VectorTimeout)
	hits, err := o.index.HybridQuery(qctx, vectorstore.QuerySpec{
		Filter: vectorstore.And(
			vectorstore.ByGCN(seed.GCNSeqno),
			vectorstore.ExcludeNDC(seed.NDC),
		),
		Limit: o.cfg.K2Expansion,
	})
	cancel()
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return set, nil
	}

	ndcs := make([]string, 0, len(hits))
	for _, h := range hits {
		ndcs = append(ndcs, h.Doc.NDC)
	}
	ectx, cancel := context.WithTimeout(ctx, o.cfg.EnrichTimeout)
	enr, err := o.enricher.EnrichByNDC(ectx, ndcs)
	cancel()
	if err != nil {
		o.logger.Warn("alternatives enrichment failed", zap.Int("ndcs", len(ndcs)), zap.Error(err))
		enr = nil
	}

	for _, h := range hits {
		doc := h.Doc
		applyEnrichment(&doc, enr)
		if doc.IsGeneric {
			set.Generic = append(set.Generic, doc)
		} else {
			set.Brand = append(set.Brand, doc)
		}
	}
	return set, nil
}
