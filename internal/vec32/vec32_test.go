package vec32

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.1415927, 0, 1e-9}

	buf := Encode(in)
	require.Len(t, buf, 4*len(in))

	out, err := Decode(buf)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(in, out))
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01, 0x02})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple of 4")
}

func TestNormalize(t *testing.T) {
	t.Run("scales to unit length", func(t *testing.T) {
		v := Normalize([]float32{3, 4})
		assert.InDelta(t, 1.0, Norm(v), 1e-6)
		assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
		assert.InDelta(t, 0.8, float64(v[1]), 1e-6)
	})

	t.Run("zero vector unchanged", func(t *testing.T) {
		v := Normalize([]float32{0, 0, 0})
		assert.Equal(t, []float32{0, 0, 0}, v)
	})
}

func TestCosine(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		sim, err := Cosine([]float32{1, 2, 3}, []float32{1, 2, 3})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sim, 1e-9)
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		sim, err := Cosine([]float32{1, 0}, []float32{0, 1})
		require.NoError(t, err)
		assert.InDelta(t, 0.0, sim, 1e-9)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		sim, err := Cosine([]float32{1, 0}, []float32{-1, 0})
		require.NoError(t, err)
		assert.InDelta(t, -1.0, sim, 1e-9)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := Cosine([]float32{1}, []float32{1, 2})
		require.Error(t, err)
	})

	t.Run("zero vector yields zero", func(t *testing.T) {
		sim, err := Cosine([]float32{0, 0}, []float32{1, 2})
		require.NoError(t, err)
		assert.Equal(t, 0.0, sim)
	})
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, 5.0, Norm([]float32{3, 4}), 1e-9)
	assert.InDelta(t, math.Sqrt(3), Norm([]float32{1, 1, 1}), 1e-9)
}
