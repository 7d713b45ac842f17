package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rxsearch/internal/embedding"
	"rxsearch/internal/indication"
	"rxsearch/internal/metrics"
	"rxsearch/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rxsearch HTTP API",
	Long: `Starts the search API on server.addr:

  POST /search                   hybrid drug search
  GET  /drugs/{ndc}              single document lookup
  GET  /drugs/{ndc}/alternatives same-GCN alternatives
  GET  /healthz                  liveness + dependency pings
  GET  /metrics                  Prometheus metrics

Requires Redis (vector index), the catalog database, and API keys for the
configured embedding and LLM providers.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.RegisterDefault()

	rdb := newRedisClient(cfg)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	gw, err := newCatalog(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()
	if err := gw.Ping(ctx); err != nil {
		return err
	}

	emb, err := newEmbedder(cfg, rdb, logger, cfg.Embedding.CacheQueries)
	if err != nil {
		return err
	}
	parser, err := newQueryParser(cfg, logger)
	if err != nil {
		return err
	}

	store := newVectorStore(cfg, rdb, logger)
	inds := indication.New(rdb)
	orch := newOrchestrator(cfg, parser, emb, store, gw, inds, logger)

	checks := []server.HealthCheck{
		{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		{Name: "catalog", Ping: gw.Ping},
	}

	// One probe against the provider before taking traffic; /healthz never
	// spends provider quota.
	if hc, ok := emb.(embedding.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			logger.Warn("embedding provider probe failed", zap.Error(err))
		}
	}

	srv := server.New(orch, checks, logger, server.Config{
		Addr:           cfg.Server.Addr,
		RequestTimeout: cfg.RequestTimeout(),
	})

	logger.Info("starting rxsearch",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("index", cfg.Vector.IndexName),
		zap.String("embedding_model", cfg.Search.EmbeddingModel),
		zap.String("llm_model", cfg.Search.LLMModel),
	)
	return srv.Run(ctx)
}
