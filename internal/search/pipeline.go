package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rxsearch/internal/catalog"
	"rxsearch/internal/fault"
	"rxsearch/internal/metrics"
	"rxsearch/internal/query"
	"rxsearch/internal/types"
	"rxsearch/internal/vectorstore"
)

// Stage names used in latency metadata and Prometheus labels.
const (
	stageParsing      = "parsing"
	stageEmbedding    = "embedding"
	stageVectorSearch = "vector_search"
	stageExpansion    = "expansion"
	stageFiltering    = "filtering"
	stageGrouping     = "grouping"
	stageEnrichment   = "enrichment"
	stageTotal        = "total"
)

// candidate is one NDC moving through the pipeline with its provenance.
type candidate struct {
	doc       types.DrugDocument
	matchType types.MatchType
	score     float64
}

// Run executes the full pipeline for one raw user query: parse, Phase 1
// vector search, Phase 2 class expansion, post-expansion filters, grouping,
// ordering, and enrichment.
func (o *Orchestrator) Run(ctx context.Context, rawQuery string, opts Options) (*Response, error) {
	start := time.Now()
	sw := newStopwatch()

	parseStart := time.Now()
	parsed, pmeta, err := o.parser.Parse(ctx, rawQuery)
	sw.observe(stageParsing, parseStart)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	resp, err := o.pipeline(ctx, rawQuery, parsed, opts, sw)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	resp.Metadata.Parsed = parsed
	if pmeta.Parser != "" && pmeta.Parser != query.ParserLLM {
		resp.Metadata.Parser = pmeta.Parser
	}
	resp.Metadata.DroppedFilters = pmeta.DroppedFilters

	sw.lat[stageTotal] = time.Since(start).Milliseconds()
	resp.Metadata.LatencyMS = sw.lat

	status := "ok"
	if resp.Metadata.Degraded {
		status = "degraded"
	}
	metrics.SearchesTotal.WithLabelValues(status).Inc()

	o.logger.Info("search completed",
		zap.Strings("terms", parsed.DrugTerms),
		zap.String("status", status),
		zap.Int("families", len(resp.Results)),
		zap.Int64("total_ms", sw.lat[stageTotal]),
	)
	return resp, nil
}

// pipeline runs every stage after parsing.
func (o *Orchestrator) pipeline(ctx context.Context, rawQuery string, parsed types.ParsedQuery, opts Options, sw *stopwatch) (*Response, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = o.cfg.DefaultLimit
	}
	if limit > o.cfg.MaxLimit {
		limit = o.cfg.MaxLimit
	}
	ef := opts.EFRuntime
	if ef <= 0 {
		ef = o.cfg.EFRuntime
	}
	threshold := opts.MultiDrugThreshold
	if threshold <= 0 {
		threshold = o.cfg.MultiDrugThreshold
	}

	auto := vectorstore.BuildFilters(parsed.Filters, o.cfg.AutoApply, o.cfg.FormSynonyms)

	terms := parsed.DrugTerms
	k := o.cfg.K1Single
	lexical := true
	expansion := true

	switch {
	case len(terms) == 0:
		// Fallback: embed the raw text. There is no canonical term to
		// prefilter or expand on, so neither happens.
		terms = []string{strings.ToLower(strings.TrimSpace(rawQuery))}
		lexical = false
		expansion = false
	case len(terms) >= threshold:
		k = o.cfg.K1Multi
	}

	cands, failedTerms, err := o.phase1(ctx, terms, auto, k, ef, lexical, sw)
	if err != nil {
		return nil, err
	}
	degraded := failedTerms > 0
	counts := Counts{VectorHits: len(cands)}

	skip, err := o.cancelGate(ctx, &degraded)
	if err != nil {
		return nil, err
	}

	if !skip && expansion && len(cands) > 0 {
		pharma, thera, expFailed := o.expand(ctx, cands, auto, sw)
		if expFailed {
			degraded = true
		}
		counts.PharmacologicalHits = classify(cands, pharma, types.MatchPharmacological)
		counts.TherapeuticHits = classify(cands, thera, types.MatchTherapeutic)
	}

	filterStart := time.Now()
	counts.FilteredOut = o.applyPostFilters(cands, parsed.Filters)
	counts.Candidates = len(cands)
	sw.observe(stageFiltering, filterStart)

	groupStart := time.Now()
	results := buildFamilies(cands)
	orderFamilies(results)
	counts.Families = len(results)
	if len(results) > limit {
		results = results[:limit]
	}
	counts.Returned = len(results)
	sw.observe(stageGrouping, groupStart)

	skip, err = o.cancelGate(ctx, &degraded)
	if err != nil {
		return nil, err
	}
	if !skip && len(results) > 0 {
		enrichStart := time.Now()
		if !o.enrich(ctx, results) {
			degraded = true
		}
		sw.observe(stageEnrichment, enrichStart)
	}

	return &Response{
		Results:  results,
		Metadata: Metadata{Degraded: degraded, Counts: counts},
	}, nil
}

// cancelGate inspects the request context between I/O stages. A cancelled
// request either fails here or, with PartialOnCancel, skips the remaining
// I/O and serves what it has as degraded.
func (o *Orchestrator) cancelGate(ctx context.Context, degraded *bool) (skip bool, err error) {
	if ctx.Err() == nil {
		return false, nil
	}
	if o.cfg.PartialOnCancel {
		*degraded = true
		return true, nil
	}
	return true, ctx.Err()
}

// =============================================================================
// PHASE 1 — PER-TERM VECTOR SEARCH
// =============================================================================

// phase1 embeds every term and runs the filtered KNN queries in parallel,
// then merges per-term hits into one candidate set: the document from the
// earliest term wins, keeping the maximum score seen for its NDC. The merge
// runs over completed slices in term order, so results do not depend on
// completion order. A failed term is logged and skipped; the error is
// returned only when every term failed.
func (o *Orchestrator) phase1(ctx context.Context, terms []string, auto []string, k, ef int, lexical bool, sw *stopwatch) (map[string]*candidate, int, error) {
	perTerm := make([][]vectorstore.Hit, len(terms))
	errs := make([]error, len(terms))
	embedMS := make([]int64, len(terms))
	searchMS := make([]int64, len(terms))

	g, gctx := errgroup.WithContext(ctx)
	for i, term := range terms {
		g.Go(func() error {
			start := time.Now()
			ectx, cancel := context.WithTimeout(gctx, o.cfg.EmbedTimeout)
			vec, err := o.embedder.Embed(ectx, term)
			cancel()
			embedMS[i] = time.Since(start).Milliseconds()
			if err != nil {
				errs[i] = err
				return nil
			}

			filter := auto
			if lexical {
				if lp := vectorstore.LexicalPrefix(term); lp != "" {
					filter = append(append([]string{}, auto...), lp)
				}
			}

			start = time.Now()
			qctx, cancel := context.WithTimeout(gctx, o.cfg.VectorTimeout)
			hits, err := o.index.HybridQuery(qctx, vectorstore.QuerySpec{
				Filter:    vectorstore.And(filter...),
				Vector:    vec,
				K:         k,
				EFRuntime: ef,
			})
			cancel()
			searchMS[i] = time.Since(start).Milliseconds()
			if err != nil {
				errs[i] = err
				return nil
			}
			perTerm[i] = hits
			return nil
		})
	}
	// Workers record failures instead of returning them, so one bad term
	// never cancels its siblings.
	_ = g.Wait()

	sw.record(stageEmbedding, maxOf(embedMS))
	sw.record(stageVectorSearch, maxOf(searchMS))

	cands := make(map[string]*candidate)
	failed := 0
	var firstErr error
	for i := range terms {
		if errs[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = errs[i]
			}
			o.logger.Warn("term search failed",
				zap.String("term", terms[i]),
				zap.String("kind", string(fault.KindOf(errs[i]))),
				zap.Error(errs[i]))
			continue
		}
		for _, h := range perTerm[i] {
			c, ok := cands[h.Doc.NDC]
			if !ok {
				cands[h.Doc.NDC] = &candidate{doc: h.Doc, matchType: types.MatchVector, score: h.Score}
				continue
			}
			if h.Score > c.score {
				c.score = h.Score
			}
		}
	}
	if failed == len(terms) {
		return nil, failed, firstErr
	}
	return cands, failed, nil
}

// =============================================================================
// PHASE 2 — CLASS EXPANSION
// =============================================================================

// expand runs one non-vector query per distinct class observed in the vector
// hits — never per drug — and returns the two tiers. Per-class failures
// degrade the expansion rather than failing it.
func (o *Orchestrator) expand(ctx context.Context, vector map[string]*candidate, auto []string, sw *stopwatch) (pharma, thera []vectorstore.Hit, failed bool) {
	start := time.Now()
	defer sw.observe(stageExpansion, start)

	drugClasses, theraClasses := o.expansionClasses(vector)
	if len(drugClasses)+len(theraClasses) == 0 {
		return nil, nil, false
	}

	filters := make([]string, 0, len(drugClasses)+len(theraClasses))
	for _, c := range drugClasses {
		filters = append(filters, vectorstore.ByDrugClass(c))
	}
	split := len(filters)
	for _, c := range theraClasses {
		filters = append(filters, vectorstore.ByTherapeuticClass(c))
	}

	results := make([][]vectorstore.Hit, len(filters))
	errs := make([]error, len(filters))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range filters {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, o.cfg.VectorTimeout)
			defer cancel()
			hits, err := o.index.HybridQuery(qctx, vectorstore.QuerySpec{
				Filter: vectorstore.And(append(append([]string{}, auto...), f)...),
				Limit:  o.cfg.K2Expansion,
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	for i := range filters {
		if errs[i] != nil {
			failed = true
			o.logger.Warn("class expansion failed",
				zap.String("filter", filters[i]), zap.Error(errs[i]))
			continue
		}
		if i < split {
			pharma = append(pharma, results[i]...)
		} else {
			thera = append(thera, results[i]...)
		}
	}
	return pharma, thera, failed
}

// expansionClasses collects the distinct classes seen in the vector hits,
// minus the blacklist, sorted so expansion never depends on map order.
func (o *Orchestrator) expansionClasses(vector map[string]*candidate) (drug, thera []string) {
	drugSet := make(map[string]bool)
	theraSet := make(map[string]bool)
	for _, c := range vector {
		if dc := c.doc.DrugClass; dc != "" && !o.blacklisted(dc) {
			drugSet[dc] = true
		}
		if tc := c.doc.TherapeuticClass; tc != "" && !o.blacklisted(tc) {
			theraSet[tc] = true
		}
	}
	return sortedKeys(drugSet), sortedKeys(theraSet)
}

// classify folds one expansion tier into the candidate set. Vector hits and
// earlier tiers keep their NDCs; only new ones join with the tier's match
// type. Returns how many the tier added.
func classify(cands map[string]*candidate, hits []vectorstore.Hit, mt types.MatchType) int {
	added := 0
	for _, h := range hits {
		if _, ok := cands[h.Doc.NDC]; ok {
			continue
		}
		cands[h.Doc.NDC] = &candidate{doc: h.Doc, matchType: mt}
		added++
	}
	return added
}

// =============================================================================
// POST-EXPANSION FILTERS
// =============================================================================

// applyPostFilters drops candidates failing the strength window or the
// synonym-widened dosage form. These run after expansion on purpose:
// filtering before it would cut the class recall expansion exists for.
func (o *Orchestrator) applyPostFilters(cands map[string]*candidate, f types.Filters) int {
	removed := 0
	if f.Strength != nil {
		for ndc, c := range cands {
			if !f.Strength.Matches(c.doc.StrengthValue, c.doc.StrengthUnit) {
				delete(cands, ndc)
				removed++
			}
		}
	}
	if f.DosageForm != "" {
		allowed := map[string]bool{f.DosageForm: true}
		for _, syn := range o.cfg.FormSynonyms[f.DosageForm] {
			allowed[syn] = true
		}
		for ndc, c := range cands {
			if !allowed[c.doc.DosageForm] {
				delete(cands, ndc)
				removed++
			}
		}
	}
	return removed
}

// =============================================================================
// GROUPING & ORDERING
// =============================================================================

// buildFamilies groups candidates by family key. The representative is the
// lowest NDC among the family's highest-priority members; variants carry one
// document per distinct presentation, the representative's own excluded.
func buildFamilies(cands map[string]*candidate) []types.SearchResult {
	fams := make(map[string][]*candidate)
	for _, c := range cands {
		key := c.doc.FamilyKey()
		fams[key] = append(fams[key], c)
	}

	results := make([]types.SearchResult, 0, len(fams))
	for key, members := range fams {
		sort.Slice(members, func(i, j int) bool { return members[i].doc.NDC < members[j].doc.NDC })

		// Iterating in NDC order and replacing only on strictly higher
		// priority leaves the lowest NDC within the top priority.
		best := members[0]
		similarity := 0.0
		for _, m := range members {
			if m.matchType.Priority() > best.matchType.Priority() {
				best = m
			}
			if m.matchType == types.MatchVector && m.score > similarity {
				similarity = m.score
			}
		}
		rep := best.doc

		variants := make([]types.DrugDocument, 0, len(members))
		seen := map[string]bool{rep.VariantKey(): true}
		for _, m := range members {
			vk := m.doc.VariantKey()
			if seen[vk] {
				continue
			}
			seen[vk] = true
			variants = append(variants, m.doc)
		}
		sortVariants(variants)

		results = append(results, types.SearchResult{
			FamilyKey:      key,
			MatchType:      best.matchType,
			Similarity:     similarity,
			Representative: rep,
			Variants:       variants,
		})
	}
	return results
}

func sortVariants(v []types.DrugDocument) {
	sort.Slice(v, func(i, j int) bool {
		if v[i].StrengthValue != v[j].StrengthValue {
			return v[i].StrengthValue < v[j].StrengthValue
		}
		if v[i].DosageForm != v[j].DosageForm {
			return v[i].DosageForm < v[j].DosageForm
		}
		if v[i].Manufacturer != v[j].Manufacturer {
			return v[i].Manufacturer < v[j].Manufacturer
		}
		return v[i].NDC < v[j].NDC
	})
}

// orderFamilies sorts results: match-type priority first, similarity within
// the vector tier, representative name within expansion tiers, then
// family_key and representative NDC as total-order tiebreaks.
func orderFamilies(results []types.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if pa, pb := a.MatchType.Priority(), b.MatchType.Priority(); pa != pb {
			return pa > pb
		}
		if a.MatchType == types.MatchVector {
			if a.Similarity != b.Similarity {
				return a.Similarity > b.Similarity
			}
		} else if a.Representative.DrugName != b.Representative.DrugName {
			return a.Representative.DrugName < b.Representative.DrugName
		}
		if a.FamilyKey != b.FamilyKey {
			return a.FamilyKey < b.FamilyKey
		}
		return a.Representative.NDC < b.Representative.NDC
	})
}

// =============================================================================
// ENRICHMENT
// =============================================================================

// enrich attaches catalog presentation fields and family indications to the
// final results in two batched reads. Failures degrade, never fail.
func (o *Orchestrator) enrich(ctx context.Context, results []types.SearchResult) bool {
	ok := true

	ndcs := make([]string, 0, len(results)*2)
	for i := range results {
		ndcs = append(ndcs, results[i].Representative.NDC)
		for j := range results[i].Variants {
			ndcs = append(ndcs, results[i].Variants[j].NDC)
		}
	}

	ectx, cancel := context.WithTimeout(ctx, o.cfg.EnrichTimeout)
	enr, err := o.enricher.EnrichByNDC(ectx, ndcs)
	cancel()
	if err != nil {
		ok = false
		o.logger.Warn("catalog enrichment failed", zap.Int("ndcs", len(ndcs)), zap.Error(err))
	} else {
		for i := range results {
			applyEnrichment(&results[i].Representative, enr)
			for j := range results[i].Variants {
				applyEnrichment(&results[i].Variants[j], enr)
			}
		}
	}

	keySet := make(map[string]bool, len(results))
	for i := range results {
		if k := results[i].Representative.IndicationKey; k != "" {
			keySet[k] = true
		}
	}
	if len(keySet) == 0 {
		return ok
	}

	ictx, cancel := context.WithTimeout(ctx, o.cfg.EnrichTimeout)
	inds, err := o.indications.GetBatch(ictx, sortedKeys(keySet))
	cancel()
	if err != nil {
		o.logger.Warn("indication read failed", zap.Error(err))
		return false
	}
	for i := range results {
		results[i].Indications = inds[results[i].Representative.IndicationKey]
	}
	return ok
}

func applyEnrichment(doc *types.DrugDocument, enr map[string]catalog.Enrichment) {
	e, ok := enr[doc.NDC]
	if !ok {
		return
	}
	doc.ManufacturerName = e.ManufacturerName
	doc.Route = e.Route
	doc.PackageSize = e.PackageSize
	doc.PackageDescription = e.PackageDescription
}

// =============================================================================
// SMALL HELPERS
// =============================================================================

// stopwatch accumulates per-stage latency for response metadata, mirroring
// each observation into the Prometheus stage histogram.
type stopwatch struct {
	lat map[string]int64
}

func newStopwatch() *stopwatch {
	return &stopwatch{lat: make(map[string]int64, 8)}
}

func (s *stopwatch) observe(stage string, start time.Time) {
	d := time.Since(start)
	s.lat[stage] = d.Milliseconds()
	metrics.ObserveStage(stage, d)
}

func (s *stopwatch) record(stage string, ms int64) {
	s.lat[stage] = ms
	metrics.ObserveStage(stage, time.Duration(ms)*time.Millisecond)
}

func maxOf(xs []int64) int64 {
	var m int64
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
