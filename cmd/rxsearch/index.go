package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Vector index administration",
}

var indexCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the drug vector index (idempotent)",
	RunE:  runIndexCreate,
}

var indexInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show index attributes and document count",
	RunE:  runIndexInfo,
}

var indexDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop the index definition (documents are kept)",
	RunE:  runIndexDrop,
}

func init() {
	indexCmd.AddCommand(indexCreateCmd)
	indexCmd.AddCommand(indexInfoCmd)
	indexCmd.AddCommand(indexDropCmd)
}

func runIndexCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rdb := newRedisClient(cfg)
	defer func() { _ = rdb.Close() }()

	store := newVectorStore(cfg, rdb, logger)
	if err := store.CreateIndex(ctx); err != nil {
		return err
	}
	logger.Info("vector index ready",
		zap.String("index", cfg.Vector.IndexName),
		zap.Int("dim", cfg.Vector.Dim),
		zap.String("quantization", cfg.Vector.Quantization),
	)
	return nil
}

func runIndexInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rdb := newRedisClient(cfg)
	defer func() { _ = rdb.Close() }()

	store := newVectorStore(cfg, rdb, logger)
	info, err := store.Info(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runIndexDrop(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rdb := newRedisClient(cfg)
	defer func() { _ = rdb.Close() }()

	store := newVectorStore(cfg, rdb, logger)
	if err := store.DropIndex(ctx); err != nil {
		return err
	}
	logger.Info("index dropped", zap.String("index", cfg.Vector.IndexName))
	return nil
}
