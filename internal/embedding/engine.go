// Package embedding generates vector embeddings for drug search text.
// Supports multiple backends: OpenAI (primary) and Google GenAI (cloud).
// Decorators add Redis caching and circuit breaking; main composes the chain
// OpenAI -> Breaker -> Cached so a hot cache keeps serving while the provider
// is tripped.
package embedding

import (
	"context"
	"fmt"
)

// MaxInputBytes caps embedding input length. Longer inputs are truncated at a
// rune boundary before the provider call so the cache key and the provider
// see the same text.
const MaxInputBytes = 2048

// =============================================================================
// EMBEDDER INTERFACE
// =============================================================================

// Embedder generates unit-normalized vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the provider name, used to namespace cache keys
	Name() string
}

// HealthChecker is an optional interface for embedders that support health
// checks, verified at startup before serving traffic.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds embedding provider configuration.
type Config struct {
	// Provider: "openai" or "gemini"
	Provider string

	// Model identifier; namespaces the embedding cache.
	Model string

	// Dimensions every returned vector must have.
	Dimensions int

	// OpenAI configuration
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// GenAI configuration
	GeminiAPIKey string

	// TaskType for GenAI: "SEMANTIC_SIMILARITY", "RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT"
	TaskType string
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedder based on configuration.
func NewEngine(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.Dimensions)
	case "gemini":
		return NewGenAIEngine(cfg.GeminiAPIKey, cfg.Model, cfg.TaskType, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'openai' or 'gemini')", cfg.Provider)
	}
}

// truncate caps text at MaxInputBytes without splitting a rune.
func truncate(text string) string {
	if len(text) <= MaxInputBytes {
		return text
	}
	cut := MaxInputBytes
	for cut > 0 && (text[cut]&0xC0) == 0x80 {
		cut--
	}
	return text[:cut]
}
