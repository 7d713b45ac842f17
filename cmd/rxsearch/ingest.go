package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rxsearch/internal/indication"
	"rxsearch/internal/ingest"
	"rxsearch/internal/metrics"
)

var (
	ingestOffset      int
	ingestBatchSize   int
	ingestMaxRows     int
	ingestResume      bool
	ingestCreateIndex bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the drug catalog into the vector index",
	Long: `Scans active NDCs out of the catalog database, embeds them, and upserts
them into the Redis vector index. The run is resumable: a checkpoint is
written after every batch, and --resume continues from the last one.

Examples:
  rxsearch ingest --create-index      # first full load
  rxsearch ingest --resume            # continue an interrupted run
  rxsearch ingest --offset 4200 --max-rows 1000`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestOffset, "offset", 0, "Catalog scan offset to start at")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "Rows per batch (default from config)")
	ingestCmd.Flags().IntVar(&ingestMaxRows, "max-rows", 0, "Stop after this many rows (0 = scan to the end)")
	ingestCmd.Flags().BoolVar(&ingestResume, "resume", false, "Start from the stored checkpoint")
	ingestCmd.Flags().BoolVar(&ingestCreateIndex, "create-index", false, "Create the vector index before ingesting")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestResume && cmd.Flags().Changed("offset") {
		return fmt.Errorf("--resume and --offset are mutually exclusive")
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, cfg.IngestTimeout())
	defer cancel()

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

	// Document embeddings are always cached: an aborted batch re-runs its
	// rows on resume, and cached vectors make that replay free.
	emb, err := newEmbedder(cfg, rdb, logger, true)
	if err != nil {
		return err
	}

	store := newVectorStore(cfg, rdb, logger)
	if ingestCreateIndex {
		if err := store.CreateIndex(ctx); err != nil {
			return err
		}
		logger.Info("vector index ready", zap.String("index", cfg.Vector.IndexName))
	}

	checkpoints := ingest.NewCheckpointStore(rdb)

	offset := ingestOffset
	if ingestResume {
		cp, ok, err := checkpoints.Load(ctx)
		if err != nil {
			return err
		}
		if !ok {
			logger.Info("no checkpoint stored, starting from the beginning")
		} else {
			offset = cp.Offset
			logger.Info("resuming from checkpoint",
				zap.Int("offset", cp.Offset),
				zap.Time("last_completed_at", cp.LastCompletedAt),
				zap.Int("dead_letter", len(cp.DeadLetter)),
			)
		}
	}

	batchSize := cfg.Ingest.BatchSize
	if ingestBatchSize > 0 {
		batchSize = ingestBatchSize
	}

	pipeline := ingest.New(ingest.Deps{
		Scanner:     gw,
		Embedder:    emb,
		Docs:        store,
		Indications: indication.New(rdb),
		Checkpoints: checkpoints,
		Logger:      logger,
	}, ingest.Config{
		BatchSize:    batchSize,
		Concurrency:  cfg.Ingest.Concurrency,
		MaxRows:      ingestMaxRows,
		SafetyMargin: cfg.IngestSafetyMargin(),
	})

	sum, err := pipeline.Run(ctx, offset)
	if sum != nil {
		out, merr := json.MarshalIndent(sum, "", "  ")
		if merr == nil {
			fmt.Println(string(out))
		}
	}
	return err
}
