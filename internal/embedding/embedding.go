// Package embedding compares and groups face embeddings.
//
// Embeddings are compared by cosine similarity. Distance is 1 - similarity,
// so identical directions are 0 apart and opposite ones 2.
package embedding

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDimension is returned when embeddings differ in length or are empty.
var ErrDimension = errors.New("embedding: dimension mismatch")

// Noise is the Cluster label of points that belong to no cluster.
const Noise = -1

// Normalize returns v scaled to unit Euclidean length. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	if len(v) == 0 {
		return []float32{}
	}
	vec := toVec(v)
	norm := mat.Norm(vec, 2)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	vec.ScaleVec(1/norm, vec)
	for i := range out {
		out[i] = float32(vec.AtVec(i))
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 if either is zero.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimension, len(a), len(b))
	}
	va, vb := toVec(a), toVec(b)
	na, nb := mat.Norm(va, 2), mat.Norm(vb, 2)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return clamp(mat.Dot(va, vb) / (na * nb)), nil
}

// Distance returns the cosine distance 1 - Cosine(a, b).
func Distance(a, b []float32) (float64, error) {
	sim, err := Cosine(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

// Similarities returns the n x n cosine similarity matrix of embeddings.
func Similarities(embeddings [][]float32) (*mat.Dense, error) {
	rows, err := normalizedRows(embeddings)
	if err != nil {
		return nil, err
	}
	var sim mat.Dense
	sim.Mul(rows, rows.T())
	return &sim, nil
}

// Cluster groups embeddings with DBSCAN over cosine distance.
//
// A point with at least minPoints neighbours within eps (itself included)
// is a core point. Labels start at 0; unclustered points are Noise.
func Cluster(embeddings [][]float32, eps float64, minPoints int) ([]int, error) {
	if len(embeddings) == 0 {
		return nil, nil
	}
	if eps < 0 || minPoints < 1 {
		return nil, fmt.Errorf("embedding: invalid cluster parameters eps=%g minPoints=%d", eps, minPoints)
	}
	sim, err := Similarities(embeddings)
	if err != nil {
		return nil, err
	}

	n := len(embeddings)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}

	current := 0
	for i := 0; i < n; i++ {
		if labels[i] != Noise {
			continue
		}
		neighbors := neighborsOf(sim, i, eps)
		if len(neighbors) < minPoints {
			continue
		}
		labels[i] = current
		expand(sim, labels, neighbors, current, eps, minPoints)
		current++
	}
	return labels, nil
}

func neighborsOf(sim *mat.Dense, p int, eps float64) []int {
	n, _ := sim.Dims()
	var out []int
	for q := 0; q < n; q++ {
		if 1-sim.At(p, q) <= eps {
			out = append(out, q)
		}
	}
	return out
}

func expand(sim *mat.Dense, labels, neighbors []int, cluster int, eps float64, minPoints int) {
	for i := 0; i < len(neighbors); i++ {
		p := neighbors[i]
		if labels[p] != Noise {
			continue
		}
		labels[p] = cluster
		if next := neighborsOf(sim, p, eps); len(next) >= minPoints {
			neighbors = append(neighbors, next...)
		}
	}
}

func normalizedRows(embeddings [][]float32) (*mat.Dense, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings", ErrDimension)
	}
	dim := len(embeddings[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrDimension)
	}
	rows := mat.NewDense(len(embeddings), dim, nil)
	for i, e := range embeddings {
		if len(e) != dim {
			return nil, fmt.Errorf("%w: embedding %d has %d values, expected %d", ErrDimension, i, len(e), dim)
		}
		norm := mat.Norm(toVec(e), 2)
		if norm == 0 {
			norm = 1
		}
		for j, v := range e {
			rows.Set(i, j, float64(v)/norm)
		}
	}
	return rows, nil
}

func toVec(v []float32) *mat.VecDense {
	data := make([]float64, len(v))
	for i, x := range v {
		data[i] = float64(x)
	}
	return mat.NewVecDense(len(data), data)
}

// clamp keeps rounding from pushing a similarity outside [-1, 1].
func clamp(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}
