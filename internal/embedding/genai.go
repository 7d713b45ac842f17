package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"rxsearch/internal/fault"
	"rxsearch/internal/metrics"
	"rxsearch/internal/retry"
	"rxsearch/internal/vec32"
)

// =============================================================================
// GOOGLE GENAI EMBEDDING ENGINE
// =============================================================================

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
	dims     int
	policy   retry.Policy
}

// NewGenAIEngine creates a new GenAI embedding engine.
func NewGenAIEngine(apiKey, model, taskType string, dims int) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	if model == "" {
		model = "gemini-embedding-001"
	}
	if dims <= 0 {
		dims = 1024
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	var task string
	switch taskType {
	case "SEMANTIC_SIMILARITY", "":
		task = "SEMANTIC_SIMILARITY"
	case "RETRIEVAL_DOCUMENT":
		task = "RETRIEVAL_DOCUMENT"
	case "RETRIEVAL_QUERY":
		task = "RETRIEVAL_QUERY"
	default:
		task = "SEMANTIC_SIMILARITY"
	}

	return &GenAIEngine{
		client:   client,
		model:    model,
		taskType: task,
		dims:     dims,
		policy:   retry.Default(),
	}, nil
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
// GenAI has native batch support.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(truncate(text), genai.RoleUser)
	}

	var result *genai.EmbedContentResponse
	err := retry.Do(ctx, e.policy, "embedding.gemini", func(ctx context.Context) error {
		var err error
		result, err = e.client.Models.EmbedContent(ctx,
			e.model,
			contents,
			&genai.EmbedContentConfig{
				TaskType: e.taskType,
			},
		)
		if err != nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues("gemini", "error").Inc()
			return fault.E(fault.UpstreamTransient, "embedding.gemini", err)
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues("gemini", "ok").Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fault.Errorf(fault.Internal, "embedding.gemini",
			"expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec, err := e.fit(emb.Values)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}

	return embeddings, nil
}

// fit trims a Matryoshka embedding down to the configured dimensionality and
// re-normalizes. Gemini embedding models return vectors whose leading dims
// preserve similarity under truncation; shorter vectors cannot be fixed up.
func (e *GenAIEngine) fit(values []float32) ([]float32, error) {
	if len(values) < e.dims {
		return nil, fault.Errorf(fault.Internal, "embedding.gemini",
			"expected at least %d dimensions, got %d", e.dims, len(values))
	}
	vec := make([]float32, e.dims)
	copy(vec, values[:e.dims])
	return vec32.Normalize(vec), nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *GenAIEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("gemini:%s", e.model)
}

// HealthCheck embeds a one-word probe to verify the API key and model before
// serving traffic.
func (e *GenAIEngine) HealthCheck(ctx context.Context) error {
	if _, err := e.Embed(ctx, "ping"); err != nil {
		return fmt.Errorf("gemini health check: %w", err)
	}
	return nil
}

// Close closes the GenAI client. The genai HTTP client holds no resources
// that need explicit release, so there is nothing to do.
func (e *GenAIEngine) Close() error {
	return nil
}
