// Package search holds the hybrid search orchestrator: it turns a raw user
// query into ordered drug families by chaining query understanding, Phase 1
// filtered vector search, Phase 2 class expansion, post-expansion filtering,
// family grouping, and catalog enrichment. Dependencies enter as narrow
// interfaces so the pipeline is testable with hand fakes.
package search

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"rxsearch/internal/catalog"
	"rxsearch/internal/query"
	"rxsearch/internal/types"
	"rxsearch/internal/vectorstore"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// QueryParser turns raw user text into a ParsedQuery.
type QueryParser interface {
	Parse(ctx context.Context, input string) (types.ParsedQuery, query.Meta, error)
}

// Embedder produces the query embedding for one term.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the vector store surface the orchestrator consumes.
type Index interface {
	HybridQuery(ctx context.Context, spec vectorstore.QuerySpec) ([]vectorstore.Hit, error)
	Get(ctx context.Context, ndc string) (types.DrugDocument, error)
	Count(ctx context.Context, filter string) (int64, error)
}

// Enricher attaches catalog-owned presentation fields to result documents.
type Enricher interface {
	EnrichByNDC(ctx context.Context, ndcs []string) (map[string]catalog.Enrichment, error)
}

// IndicationReader resolves indication lists for a batch of keys.
type IndicationReader interface {
	GetBatch(ctx context.Context, keys []string) (map[string][]string, error)
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Parser      QueryParser
	Embedder    Embedder
	Index       Index
	Enricher    Enricher
	Indications IndicationReader
	Logger      *zap.Logger
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config tunes the pipeline. Zero values fall back to production defaults,
// so tests can set only what they exercise.
type Config struct {
	// MultiDrugThreshold is the term count at which the multi-drug path
	// (smaller per-term k) takes over.
	MultiDrugThreshold int

	// K1Single and K1Multi are the per-term KNN sizes for the single- and
	// multi-drug paths. K2Expansion bounds each Phase 2 class query.
	K1Single    int
	K1Multi     int
	K2Expansion int

	// EFRuntime is the HNSW search beam width unless the request overrides it.
	EFRuntime int

	// DefaultLimit and MaxLimit bound the number of families returned.
	DefaultLimit int
	MaxLimit     int

	// AutoApply gates which parsed filters reach the retrieval queries.
	AutoApply map[string]bool

	// ClassBlacklist names catch-all classes excluded from expansion.
	ClassBlacklist []string

	// FormSynonyms widens a dosage-form filter to clinically equivalent tags.
	FormSynonyms map[string][]string

	EmbedTimeout  time.Duration
	VectorTimeout time.Duration
	EnrichTimeout time.Duration

	// PartialOnCancel serves the vector hits gathered so far (flagged
	// degraded) when the request is cancelled after Phase 1, instead of
	// surfacing the cancellation.
	PartialOnCancel bool
}

func (c *Config) setDefaults() {
	if c.MultiDrugThreshold < 1 {
		c.MultiDrugThreshold = 3
	}
	if c.K1Single < 1 {
		c.K1Single = 20
	}
	if c.K1Multi < 1 {
		c.K1Multi = 8
	}
	if c.K2Expansion < 1 {
		c.K2Expansion = 100
	}
	if c.EFRuntime < 1 {
		c.EFRuntime = 10
	}
	if c.DefaultLimit < 1 {
		c.DefaultLimit = 20
	}
	if c.MaxLimit < 1 {
		c.MaxLimit = 50
	}
	if c.AutoApply == nil {
		c.AutoApply = map[string]bool{
			"dosage_form": true, "dea_schedule": true,
			"is_generic": true, "ndc": true, "gcn_seqno": true,
		}
	}
	if c.ClassBlacklist == nil {
		c.ClassBlacklist = []string{
			"Bulk Chemicals", "Miscellaneous", "Uncategorized", "Not Specified",
		}
	}
	if c.FormSynonyms == nil {
		c.FormSynonyms = map[string][]string{
			"INJECTION": {"VIAL", "SYRINGE", "SOLUTION"},
		}
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 5 * time.Second
	}
	if c.VectorTimeout <= 0 {
		c.VectorTimeout = 2 * time.Second
	}
	if c.EnrichTimeout <= 0 {
		c.EnrichTimeout = 3 * time.Second
	}
}

// Options are per-request overrides accepted by the API surface. Zero values
// defer to the configuration.
type Options struct {
	Limit              int
	EFRuntime          int
	MultiDrugThreshold int
}

// =============================================================================
// RESPONSE
// =============================================================================

// Response is a completed search: ordered families plus diagnostics.
type Response struct {
	Results  []types.SearchResult `json:"results"`
	Metadata Metadata             `json:"metadata"`
}

// Metadata is the diagnostic block accompanying results.
type Metadata struct {
	Parsed types.ParsedQuery `json:"parsed"`

	// Parser is set to "fallback" when the minimal parse stood in for the
	// structured one; omitted on the happy path.
	Parser string `json:"parser,omitempty"`

	// DroppedFilters lists filter keys the parser discarded.
	DroppedFilters []string `json:"dropped_filters,omitempty"`

	// Degraded marks partial results: an expansion or enrichment failure
	// that did not empty the vector hits.
	Degraded bool `json:"degraded,omitempty"`

	Counts    Counts           `json:"counts"`
	LatencyMS map[string]int64 `json:"latency_ms"`
}

// Counts reports pipeline volume after each narrowing step.
type Counts struct {
	VectorHits           int `json:"vector_hits"`
	PharmacologicalHits  int `json:"pharmacological_hits"`
	TherapeuticHits      int `json:"therapeutic_hits"`
	FilteredOut          int `json:"filtered_out"`
	Candidates           int `json:"candidates"`
	Families             int `json:"families"`
	Returned             int `json:"returned"`
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs the hybrid search pipeline.
type Orchestrator struct {
	parser      QueryParser
	embedder    Embedder
	index       Index
	enricher    Enricher
	indications IndicationReader
	cfg         Config
	logger      *zap.Logger

	blacklist map[string]bool
}

// New builds an Orchestrator over deps. Missing config fields take defaults.
func New(deps Deps, cfg Config) *Orchestrator {
	cfg.setDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	blacklist := make(map[string]bool, len(cfg.ClassBlacklist))
	for _, c := range cfg.ClassBlacklist {
		blacklist[classKey(c)] = true
	}

	return &Orchestrator{
		parser:      deps.Parser,
		embedder:    deps.Embedder,
		index:       deps.Index,
		enricher:    deps.Enricher,
		indications: deps.Indications,
		cfg:         cfg,
		logger:      logger,
		blacklist:   blacklist,
	}
}

// classKey folds case and the underscore/space difference between
// drug_class and therapeutic_class spellings, so one blacklist covers both.
func classKey(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "_", " "))
}

func (o *Orchestrator) blacklisted(class string) bool {
	return o.blacklist[classKey(class)]
}
