package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, Normalize([]float32{3, 4}), 1e-6)
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
	assert.Empty(t, Normalize(nil))

	in := []float32{3, 4}
	Normalize(in)
	assert.Equal(t, []float32{3, 4}, in, "input is not modified")
}

func TestCosineAndDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"same direction", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 5}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"45 degrees", []float32{1, 0}, []float32{1, 1}, 1 / math.Sqrt2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, err := Cosine(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, sim, 1e-6)

			dist, err := Distance(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, 1-tt.want, dist, 1e-6)
		})
	}

	_, err := Cosine([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimension)
	_, err = Distance(nil, nil)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestSimilarities(t *testing.T) {
	sim, err := Similarities([][]float32{{1, 0}, {0, 2}, {3, 3}})
	require.NoError(t, err)

	r, c := sim.Dims()
	require.Equal(t, 3, r)
	require.Equal(t, 3, c)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1, sim.At(i, i), 1e-9)
	}
	assert.InDelta(t, 0, sim.At(0, 1), 1e-9)
	assert.InDelta(t, 1/math.Sqrt2, sim.At(0, 2), 1e-6)
	assert.InDelta(t, sim.At(1, 2), sim.At(2, 1), 1e-12)

	_, err = Similarities([][]float32{{1, 0}, {1}})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestCluster(t *testing.T) {
	embeddings := [][]float32{
		{1, 0, 0}, {0.99, 0.05, 0}, {0.98, 0, 0.05}, // person A
		{0, 1, 0}, {0.02, 0.97, 0}, // person B
		{0, 0, -1}, // stranger
	}

	labels, err := Cluster(embeddings, 0.1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, Noise}, labels)

	// With minPoints 1 every point forms at least its own cluster.
	labels, err = Cluster(embeddings, 0.1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 2}, labels)

	// Orthogonal vectors are exactly 1 apart, so eps=1 joins them all.
	labels, err = Cluster(embeddings, 1.0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 0}, labels)
}

func TestCluster_Errors(t *testing.T) {
	labels, err := Cluster(nil, 0.5, 2)
	require.NoError(t, err)
	assert.Empty(t, labels)

	_, err = Cluster([][]float32{{1}}, -1, 2)
	assert.ErrorContains(t, err, "invalid cluster parameters")
	_, err = Cluster([][]float32{{1}}, 0.5, 0)
	assert.ErrorContains(t, err, "invalid cluster parameters")
	_, err = Cluster([][]float32{{1, 2}, {1}}, 0.5, 1)
	assert.ErrorIs(t, err, ErrDimension)
}
