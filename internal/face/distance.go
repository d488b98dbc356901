package face

import (
	"fmt"
	"math"
)

// DistanceFunc measures how far apart two embeddings are; smaller is closer.
type DistanceFunc func(a, b []float32) float64

// CosineDistance returns 1 - cosine similarity, in [0, 2]. Mismatched or zero
// vectors yield the maximum distance.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return 1 - similarity
}

// EuclideanDistance returns the L2 norm of a-b. Mismatched vectors yield +Inf.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// DistanceByName maps a metric name to its function and the verification
// threshold conventionally used with it.
func DistanceByName(name string) (DistanceFunc, float64, error) {
	switch name {
	case "", "cosine":
		return CosineDistance, 0.593, nil
	case "euclidean":
		return EuclideanDistance, 0.6, nil
	default:
		return nil, 0, fmt.Errorf("unknown distance metric %q", name)
	}
}
