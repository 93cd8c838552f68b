package ml

import (
	"gonum.org/v1/gonum/floats"
)

// CosineSimilarity returns the cosine of the angle between a and b in [-1, 1].
// Mismatched lengths and zero vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	dot := floats.Dot(a, b)
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (normA * normB)
}

// CosineDistance is 1 - CosineSimilarity, in [0, 2].
func CosineDistance(a, b []float64) float64 {
	return 1 - CosineSimilarity(a, b)
}

// L2Normalize scales v to unit length in place. Zero vectors are left as is.
func L2Normalize(v []float64) {
	if n := floats.Norm(v, 2); n > 0 {
		floats.Scale(1/n, v)
	}
}
