package embedding

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxsearch/internal/vec32"
)

// fakeEmbedder is a deterministic in-memory Embedder for decorator tests.
type fakeEmbedder struct {
	dims  int
	calls int
	err   error
	last  []string
}

func (f *fakeEmbedder) vec(text string) []float32 {
	v := make([]float32, f.dims)
	for i := range v {
		v[i] = float32(len(text) + i + 1)
	}
	return vec32.Normalize(v)
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	f.last = []string{text}
	if f.err != nil {
		return nil, f.err
	}
	return f.vec(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.last = texts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vec(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }
func (f *fakeEmbedder) Name() string    { return "fake:test" }

func TestNewEngine(t *testing.T) {
	t.Run("openai", func(t *testing.T) {
		eng, err := NewEngine(Config{
			Provider:     "openai",
			OpenAIAPIKey: "sk-test",
			Model:        "text-embedding-3-small",
			Dimensions:   1024,
		})
		require.NoError(t, err)
		assert.Equal(t, 1024, eng.Dimensions())
		assert.Equal(t, "openai:text-embedding-3-small", eng.Name())
	})

	t.Run("openai requires key", func(t *testing.T) {
		_, err := NewEngine(Config{Provider: "openai"})
		require.Error(t, err)
	})

	t.Run("gemini requires key", func(t *testing.T) {
		_, err := NewEngine(Config{Provider: "gemini"})
		require.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewEngine(Config{Provider: "word2vec"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported embedding provider")
	})
}

func TestTruncate(t *testing.T) {
	t.Run("short input untouched", func(t *testing.T) {
		assert.Equal(t, "lipitor 20mg", truncate("lipitor 20mg"))
	})

	t.Run("caps at limit", func(t *testing.T) {
		long := strings.Repeat("a", MaxInputBytes+100)
		got := truncate(long)
		assert.Len(t, got, MaxInputBytes)
	})

	t.Run("never splits a rune", func(t *testing.T) {
		long := strings.Repeat("é", MaxInputBytes) // 2 bytes each
		got := truncate(long)
		assert.LessOrEqual(t, len(got), MaxInputBytes)
		assert.True(t, utf8.ValidString(got))
	})
}
