package main

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rxsearch/internal/catalog"
	"rxsearch/internal/config"
	"rxsearch/internal/embedding"
	"rxsearch/internal/indication"
	"rxsearch/internal/llm"
	"rxsearch/internal/metrics"
	"rxsearch/internal/query"
	"rxsearch/internal/search"
	"rxsearch/internal/vectorstore"
)

// The builders below are the composition root: every subcommand assembles its
// dependency graph from these, so serve, ingest, and the one-off search wire
// identical stacks.

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func newVectorStore(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) *vectorstore.Store {
	return vectorstore.New(rdb, vectorstore.IndexSpec{
		Name:           cfg.Vector.IndexName,
		Prefix:         cfg.Vector.Prefix,
		Dim:            cfg.Vector.Dim,
		M:              cfg.Vector.M,
		EFConstruction: cfg.Vector.EFConstruction,
		EFRuntime:      cfg.Search.EFRuntimeDefault,
		Quantization:   cfg.Vector.Quantization,
	}, logger)
}

func newCatalog(cfg *config.Config) (*catalog.Gateway, error) {
	return catalog.Open(cfg.Catalog.DSN, cfg.Catalog.MaxConns, cfg.CatalogIdleTimeout())
}

// newEmbedder builds the provider -> breaker -> cache decorator chain. cached
// controls the outer read-through layer: document ingestion always wants it
// (resumed runs re-embed the same rows), the query path honors
// embedding.cache_queries.
func newEmbedder(cfg *config.Config, rdb *redis.Client, logger *zap.Logger, cached bool) (embedding.Embedder, error) {
	base, err := embedding.NewEngine(embedding.Config{
		Provider:     cfg.Embedding.Provider,
		Model:        cfg.Search.EmbeddingModel,
		Dimensions:   cfg.Vector.Dim,
		OpenAIAPIKey: cfg.Embedding.OpenAIAPIKey,
		GeminiAPIKey: cfg.Embedding.GeminiAPIKey,
		TaskType:     "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, err
	}

	var emb embedding.Embedder = embedding.NewBreaker(base, logger)
	if cached {
		emb = embedding.NewCached(emb, rdb, cfg.EmbedCacheTTL(), metrics.EmbeddingCacheTotal, logger)
	}
	return emb, nil
}

func newQueryParser(cfg *config.Config, logger *zap.Logger) (*query.Parser, error) {
	chatter, err := llm.NewAnthropic(cfg.LLM.APIKey, cfg.Search.LLMModel, cfg.LLMTimeout(), logger)
	if err != nil {
		return nil, err
	}
	return query.New(chatter, cfg.LLMTimeout(), logger), nil
}

func newOrchestrator(
	cfg *config.Config,
	parser *query.Parser,
	emb embedding.Embedder,
	store *vectorstore.Store,
	gw *catalog.Gateway,
	inds *indication.Store,
	logger *zap.Logger,
) *search.Orchestrator {
	return search.New(search.Deps{
		Parser:      parser,
		Embedder:    emb,
		Index:       store,
		Enricher:    gw,
		Indications: inds,
		Logger:      logger,
	}, search.Config{
		MultiDrugThreshold: cfg.Search.MultiDrugThreshold,
		K1Single:           cfg.Search.K1Single,
		K1Multi:            cfg.Search.K1Multi,
		K2Expansion:        cfg.Search.K2Expansion,
		EFRuntime:          cfg.Search.EFRuntimeDefault,
		AutoApply:          cfg.Search.AutoApplySet(),
		ClassBlacklist:     cfg.Search.TherapeuticClassBlacklist,
		FormSynonyms:       cfg.Search.DosageFormSynonyms,
		EmbedTimeout:       cfg.EmbedTimeout(),
		VectorTimeout:      cfg.VectorTimeout(),
		EnrichTimeout:      cfg.EnrichTimeout(),
		PartialOnCancel:    true,
	})
}
