package vector

import "math"

// Dot computes the dot product of two vectors.
func Dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm computes the L2 norm (magnitude) of a vector.
func Norm(v []float64) float64 {
	return math.Sqrt(Dot(v, v))
}

// CosineSimilarity computes cosine similarity between two vectors.
// Returns 1 for identical directions, 0 for perpendicular, -1 for
// opposite. Zero-length or mismatched inputs yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	dot := Dot(a, b)
	normA := Norm(a)
	normB := Norm(b)
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (normA * normB)
}

// CosineDistance converts cosine similarity to a distance metric.
// Returns 0 for identical vectors, 2 for opposite vectors.
func CosineDistance(a, b []float64) float64 {
	return 1 - CosineSimilarity(a, b)
}
