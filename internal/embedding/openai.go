package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"rxsearch/internal/fault"
	"rxsearch/internal/metrics"
	"rxsearch/internal/retry"
	"rxsearch/internal/vec32"
)

// =============================================================================
// OPENAI EMBEDDING ENGINE
// =============================================================================

// OpenAIEngine generates embeddings using the OpenAI embeddings API.
type OpenAIEngine struct {
	client openai.Client
	model  string
	dims   int
	policy retry.Policy
}

// NewOpenAIEngine creates a new OpenAI embedding engine.
func NewOpenAIEngine(apiKey, baseURL, model string, dims int) (*OpenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims <= 0 {
		dims = 1024
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIEngine{
		client: openai.NewClient(opts...),
		model:  model,
		dims:   dims,
		policy: retry.Default(),
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call.
func (e *OpenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = truncate(t)
	}

	var resp *openai.CreateEmbeddingResponse
	err := retry.Do(ctx, e.policy, "embedding.openai", func(ctx context.Context) error {
		var err error
		resp, err = e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
			Model:          openai.EmbeddingModel(e.model),
			Dimensions:     openai.Int(int64(e.dims)),
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		})
		if err != nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues("openai", "error").Inc()
			return classifyOpenAI(err)
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues("openai", "ok").Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fault.Errorf(fault.Internal, "embedding.openai",
			"expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if int(d.Index) >= len(out) {
			return nil, fault.Errorf(fault.Internal, "embedding.openai",
				"embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if len(vec) != e.dims {
			return nil, fault.Errorf(fault.Internal, "embedding.openai",
				"expected %d dimensions, got %d", e.dims, len(vec))
		}
		out[d.Index] = vec32.Normalize(vec)
	}
	return out, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *OpenAIEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *OpenAIEngine) Name() string {
	return fmt.Sprintf("openai:%s", e.model)
}

// HealthCheck embeds a one-word probe to verify the API key and model before
// serving traffic.
func (e *OpenAIEngine) HealthCheck(ctx context.Context) error {
	if _, err := e.Embed(ctx, "ping"); err != nil {
		return fmt.Errorf("openai health check: %w", err)
	}
	return nil
}

// classifyOpenAI maps SDK errors onto fault kinds so the retry layer knows
// what to do with them. Rate limits and 5xx are transient; everything else
// from the API is a bug on our side of the contract.
func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return fault.E(fault.UpstreamTransient, "embedding.openai", err)
		}
		return fault.E(fault.Internal, "embedding.openai", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Transport-level failures (connection reset, DNS) are retryable.
	return fault.E(fault.UpstreamTransient, "embedding.openai", err)
}
