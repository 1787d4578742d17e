package similarity

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Cosine returns the cosine similarity of a and b in [-1, 1]. Empty, zero-norm
// or differently sized vectors compare as 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 || math.IsNaN(normA) || math.IsNaN(normB) {
		return 0
	}
	return clamp(floats.Dot(a, b) / (normA * normB))
}

// Matrix holds the pairwise cosine similarities of a fixed vector set.
type Matrix struct {
	n    int
	sims *mat.SymDense
}

// NewMatrix computes every pairwise similarity once. All vectors must share
// one dimension; zero-norm rows compare as 0 against everything.
func NewMatrix(vectors [][]float64) (*Matrix, error) {
	n := len(vectors)
	if n == 0 {
		return &Matrix{}, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("vector 0 is empty: %w", ErrDimensionMismatch)
	}

	normalized := mat.NewDense(n, dim, nil)
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("vector %d has %d dims, want %d: %w", i, len(vec), dim, ErrDimensionMismatch)
		}
		norm := floats.Norm(vec, 2)
		if norm == 0 {
			continue
		}
		row := make([]float64, dim)
		floats.ScaleTo(row, 1/norm, vec)
		normalized.SetRow(i, row)
	}

	sims := mat.NewSymDense(n, nil)
	sims.SymOuterK(1, normalized)
	return &Matrix{n: n, sims: sims}, nil
}

func (m *Matrix) Len() int {
	if m == nil {
		return 0
	}
	return m.n
}

func (m *Matrix) At(i, j int) float64 {
	return clamp(m.sims.At(i, j))
}

// Mean returns the arithmetic mean of vectors.
func Mean(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("mean of zero vectors")
	}
	dim := len(vectors[0])
	out := make([]float64, dim)
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("vector %d has %d dims, want %d: %w", i, len(vec), dim, ErrDimensionMismatch)
		}
		floats.Add(out, vec)
	}
	floats.Scale(1/float64(len(vectors)), out)
	return out, nil
}

// WeightedMean returns sum(w_i * v_i) / sum(w_i). Weights must be non-negative
// with a positive sum.
func WeightedMean(vectors [][]float64, weights []int) ([]float64, error) {
	if len(vectors) == 0 || len(vectors) != len(weights) {
		return nil, fmt.Errorf("weighted mean needs one weight per vector, got %d vectors and %d weights", len(vectors), len(weights))
	}
	dim := len(vectors[0])
	out := make([]float64, dim)
	total := 0
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("vector %d has %d dims, want %d: %w", i, len(vec), dim, ErrDimensionMismatch)
		}
		if weights[i] < 0 {
			return nil, fmt.Errorf("weight %d is negative", i)
		}
		floats.AddScaled(out, float64(weights[i]), vec)
		total += weights[i]
	}
	if total == 0 {
		return nil, fmt.Errorf("weighted mean weights sum to zero")
	}
	floats.Scale(1/float64(total), out)
	return out, nil
}

// Blend returns the count-weighted mean (nOld*cOld + nNew*cNew) / (nOld + nNew).
func Blend(cOld []float64, nOld int, cNew []float64, nNew int) ([]float64, error) {
	if len(cOld) != len(cNew) {
		return nil, fmt.Errorf("blend %d with %d dims: %w", len(cOld), len(cNew), ErrDimensionMismatch)
	}
	if nOld < 0 || nNew < 0 || nOld+nNew <= 0 {
		return nil, fmt.Errorf("blend weights must be non-negative with a positive sum, got %d and %d", nOld, nNew)
	}
	out := make([]float64, len(cOld))
	floats.AddScaledTo(out, out, float64(nOld), cOld)
	floats.AddScaledTo(out, out, float64(nNew), cNew)
	floats.Scale(1/float64(nOld+nNew), out)
	return out, nil
}

// Usable reports whether vec can take part in similarity math at dim.
// dim <= 0 accepts any non-empty length.
func Usable(vec []float64, dim int) bool {
	if len(vec) == 0 {
		return false
	}
	if dim > 0 && len(vec) != dim {
		return false
	}
	for _, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
