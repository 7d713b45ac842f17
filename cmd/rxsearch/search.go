package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"rxsearch/internal/indication"
	"rxsearch/internal/metrics"
	"rxsearch/internal/search"
)

var (
	searchLimit     int
	searchEFRuntime int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run one search and print the response as JSON",
	Long: `Runs a single query through the full pipeline (LLM parse, vector search,
class expansion, grouping, enrichment) and prints the response. Useful for
smoke tests and relevance debugging without the HTTP server.

Example:
  rxsearch search "lipitor 20mg tablet"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum families to return (default from config)")
	searchCmd.Flags().IntVar(&searchEFRuntime, "ef-runtime", 0, "HNSW beam width override")
}

func runSearch(cmd *cobra.Command, args []string) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, cfg.RequestTimeout())
	defer cancel()

	metrics.RegisterDefault()

	rdb := newRedisClient(cfg)
	defer func() { _ = rdb.Close() }()

	gw, err := newCatalog(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()

	emb, err := newEmbedder(cfg, rdb, logger, cfg.Embedding.CacheQueries)
	if err != nil {
		return err
	}
	parser, err := newQueryParser(cfg, logger)
	if err != nil {
		return err
	}

	store := newVectorStore(cfg, rdb, logger)
	orch := newOrchestrator(cfg, parser, emb, store, gw, indication.New(rdb), logger)

	resp, err := orch.Run(ctx, strings.Join(args, " "), search.Options{
		Limit:     searchLimit,
		EFRuntime: searchEFRuntime,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
